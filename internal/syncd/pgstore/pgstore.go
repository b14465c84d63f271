// Package pgstore is the Postgres implementation of the sync engine's
// persistence seams, built on pgx. Schema lives in internal/db/migrations.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

// PG implements syncd.Backend over a pgx connection pool.
type PG struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed store.
func New(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// infra wraps a driver failure as ErrStoreUnavailable so the push handler can
// surface it as a batch-level failure.
func infra(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", syncd.ErrStoreUnavailable, op, err)
}

// Get implements syncd.Store.
func (p *PG) Get(ctx context.Context, tenantID string, et syncd.EntityType, entityID string) (*syncd.VersionedRecord, error) {
	rec := syncd.VersionedRecord{EntityID: entityID, EntityType: et}
	err := p.pool.QueryRow(ctx, `
		SELECT version, seq, updated_at, deleted, fields
		FROM record
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, tenantID, et, entityID).Scan(&rec.Version, &rec.Seq, &rec.UpdatedAt, &rec.Deleted, &rec.Fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, syncd.ErrNotFound
	}
	if err != nil {
		return nil, infra("get record", err)
	}
	return &rec, nil
}

// Apply implements syncd.Store. The row lock on the record and the tenant
// clock bump share one transaction, so the read-version-then-write sequence
// and the seq increment are a single atomicity unit.
func (p *PG) Apply(ctx context.Context, tenantID string, w syncd.Write) (*syncd.VersionedRecord, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, infra("begin", err)
	}
	defer tx.Rollback(ctx)

	rec, err := p.applyInTx(ctx, tx, tenantID, w)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, infra("commit", err)
	}
	return rec, nil
}

func (p *PG) applyInTx(ctx context.Context, tx pgx.Tx, tenantID string, w syncd.Write) (*syncd.VersionedRecord, error) {
	now := time.Now().UTC()

	if w.ExpectedVersion == 0 && !w.Force {
		entityID := w.EntityID
		if entityID == "" {
			entityID = uuid.New().String()
		}
		seq, err := p.nextSeq(ctx, tx, tenantID)
		if err != nil {
			return nil, err
		}
		ct, err := tx.Exec(ctx, `
			INSERT INTO record (tenant_id, entity_type, entity_id, version, seq, updated_at, deleted, fields)
			VALUES ($1, $2, $3, 1, $4, $5, FALSE, $6)
			ON CONFLICT (tenant_id, entity_type, entity_id) DO NOTHING
		`, tenantID, w.EntityType, entityID, seq, now, w.Fields)
		if err != nil {
			return nil, infra("insert record", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, syncd.ErrVersionMismatch
		}
		return &syncd.VersionedRecord{
			EntityID:   entityID,
			EntityType: w.EntityType,
			Version:    1,
			Seq:        seq,
			UpdatedAt:  now,
			Fields:     w.Fields,
		}, nil
	}

	var (
		version int64
		deleted bool
	)
	err := tx.QueryRow(ctx, `
		SELECT version, deleted FROM record
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		FOR UPDATE
	`, tenantID, w.EntityType, w.EntityID).Scan(&version, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, syncd.ErrNotFound
	}
	if err != nil {
		return nil, infra("lock record", err)
	}
	if deleted && !w.Delete {
		return nil, syncd.ErrDeleted
	}
	if !w.Force && version != w.ExpectedVersion {
		return nil, syncd.ErrVersionMismatch
	}

	seq, err := p.nextSeq(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	fields := w.Fields
	if w.Delete {
		fields = nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE record
		SET version = version + 1, seq = $4, updated_at = $5, deleted = $6, fields = $7
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, tenantID, w.EntityType, w.EntityID, seq, now, w.Delete, fields)
	if err != nil {
		return nil, infra("update record", err)
	}

	return &syncd.VersionedRecord{
		EntityID:   w.EntityID,
		EntityType: w.EntityType,
		Version:    version + 1,
		Seq:        seq,
		UpdatedAt:  now,
		Deleted:    w.Delete,
		Fields:     fields,
	}, nil
}

// nextSeq advances the tenant's logical clock inside the caller's transaction.
func (p *PG) nextSeq(ctx context.Context, tx pgx.Tx, tenantID string) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx, `
		INSERT INTO tenant_clock (tenant_id, seq) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET seq = tenant_clock.seq + 1
		RETURNING seq
	`, tenantID).Scan(&seq)
	if err != nil {
		return 0, infra("advance clock", err)
	}
	return seq, nil
}

// LastSeq implements syncd.Store.
func (p *PG) LastSeq(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx,
		`SELECT seq FROM tenant_clock WHERE tenant_id = $1`, tenantID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, infra("read clock", err)
	}
	return seq, nil
}

// Changes implements syncd.ChangeFeed. The records and the snapshot cursor
// are read inside one repeatable-read transaction so the returned cursor is
// consistent with the returned set.
func (p *PG) Changes(ctx context.Context, tenantID string, types []syncd.EntityType, since int64) ([]syncd.VersionedRecord, int64, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, infra("begin feed", err)
	}
	defer tx.Rollback(ctx)

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	rows, err := tx.Query(ctx, `
		SELECT entity_id, entity_type, version, seq, updated_at, deleted, fields
		FROM record
		WHERE tenant_id = $1 AND seq > $2 AND entity_type = ANY($3)
		ORDER BY entity_type, seq
	`, tenantID, since, names)
	if err != nil {
		return nil, 0, infra("query feed", err)
	}
	defer rows.Close()

	var out []syncd.VersionedRecord
	for rows.Next() {
		var rec syncd.VersionedRecord
		if err := rows.Scan(&rec.EntityID, &rec.EntityType, &rec.Version, &rec.Seq,
			&rec.UpdatedAt, &rec.Deleted, &rec.Fields); err != nil {
			return nil, 0, infra("scan feed", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, infra("iterate feed", err)
	}

	var cursor int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(seq, 0) FROM tenant_clock WHERE tenant_id = $1`, tenantID).Scan(&cursor)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, infra("read cursor", err)
	}
	return out, cursor, nil
}

// Append implements syncd.Queue.
func (p *PG) Append(ctx context.Context, tenantID string, e *syncd.QueueEntry) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO sync_queue (tenant_id, local_id, entity_type, action, payload,
			base_version, client_ts, outcome, entity_id, result_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, tenantID, e.LocalID, e.EntityType, e.Action, e.Payload,
		e.BaseVersion, e.ClientTS, e.Outcome, nullable(e.EntityID), e.ResultVersion, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, infra("append queue", err)
	}
	return id, nil
}

// FindByLocalID implements syncd.Queue.
func (p *PG) FindByLocalID(ctx context.Context, tenantID, localID string) (*syncd.QueueEntry, error) {
	var (
		e        syncd.QueueEntry
		entityID *string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, local_id, entity_type, action, payload, base_version,
			client_ts, outcome, entity_id, result_version, created_at
		FROM sync_queue
		WHERE tenant_id = $1 AND local_id = $2
		ORDER BY id DESC
		LIMIT 1
	`, tenantID, localID).Scan(&e.ID, &e.LocalID, &e.EntityType, &e.Action, &e.Payload,
		&e.BaseVersion, &e.ClientTS, &e.Outcome, &entityID, &e.ResultVersion, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, syncd.ErrNotFound
	}
	if err != nil {
		return nil, infra("find queue entry", err)
	}
	if entityID != nil {
		e.EntityID = *entityID
	}
	return &e, nil
}

// Create implements syncd.Conflicts.
func (p *PG) Create(ctx context.Context, tenantID string, c *syncd.ConflictRecord) error {
	server, err := json.Marshal(c.ServerRecord)
	if err != nil {
		return fmt.Errorf("marshal server record: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO conflict (sync_queue_id, tenant_id, entity_type, entity_id,
			action, local_payload, server_record, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.SyncQueueID, tenantID, c.EntityType, c.EntityID, c.Action,
		c.LocalPayload, server, c.Status, c.CreatedAt)
	if err != nil {
		return infra("insert conflict", err)
	}
	return nil
}

const conflictColumns = `sync_queue_id, entity_type, entity_id, action,
	local_payload, server_record, status, resolution, resolved_payload,
	created_at, resolved_at`

func scanConflict(row pgx.Row) (*syncd.ConflictRecord, error) {
	var (
		c          syncd.ConflictRecord
		server     []byte
		resolution *string
	)
	err := row.Scan(&c.SyncQueueID, &c.EntityType, &c.EntityID, &c.Action,
		&c.LocalPayload, &server, &c.Status, &resolution, &c.ResolvedPayload,
		&c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(server, &c.ServerRecord); err != nil {
		return nil, fmt.Errorf("unmarshal server record: %w", err)
	}
	if resolution != nil {
		c.Resolution = syncd.Resolution(*resolution)
	}
	return &c, nil
}

// GetConflict implements syncd.Conflicts.
func (p *PG) GetConflict(ctx context.Context, tenantID string, syncQueueID int64) (*syncd.ConflictRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM conflict
		WHERE tenant_id = $1 AND sync_queue_id = $2
	`, tenantID, syncQueueID)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, syncd.ErrConflictNotFound
	}
	if err != nil {
		return nil, infra("get conflict", err)
	}
	return c, nil
}

// ListPending implements syncd.Conflicts.
func (p *PG) ListPending(ctx context.Context, tenantID string) ([]syncd.ConflictRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+conflictColumns+`
		FROM conflict
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY sync_queue_id
	`, tenantID)
	if err != nil {
		return nil, infra("list conflicts", err)
	}
	defer rows.Close()

	out := make([]syncd.ConflictRecord, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, infra("scan conflict", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("iterate conflicts", err)
	}
	return out, nil
}

// CountPending implements syncd.Conflicts.
func (p *PG) CountPending(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conflict WHERE tenant_id = $1 AND status = 'pending'`,
		tenantID).Scan(&n)
	if err != nil {
		return 0, infra("count conflicts", err)
	}
	return n, nil
}

// MarkResolved implements syncd.Conflicts. The status guard in the WHERE
// clause makes the pending->resolved transition atomic.
func (p *PG) MarkResolved(ctx context.Context, tenantID string, syncQueueID int64, res syncd.Resolution, resolvedPayload map[string]any) (*syncd.ConflictRecord, error) {
	ct, err := p.pool.Exec(ctx, `
		UPDATE conflict
		SET status = 'resolved', resolution = $3, resolved_payload = $4, resolved_at = NOW()
		WHERE tenant_id = $1 AND sync_queue_id = $2 AND status = 'pending'
	`, tenantID, syncQueueID, res, resolvedPayload)
	if err != nil {
		return nil, infra("resolve conflict", err)
	}
	if ct.RowsAffected() == 0 {
		// Either it never existed or someone resolved it first.
		existing, err := p.GetConflict(ctx, tenantID, syncQueueID)
		if err != nil {
			return nil, err
		}
		if existing.Status == syncd.ConflictResolved {
			return nil, syncd.ErrAlreadyResolved
		}
		return nil, syncd.ErrConflictNotFound
	}
	return p.GetConflict(ctx, tenantID, syncQueueID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
