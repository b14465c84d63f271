// Package memstore is an in-process implementation of the sync engine's
// persistence seams. It backs handler tests and local development without a
// database; the Postgres implementation in pgstore is the durable one.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

// Mem implements syncd.Backend over tenant-partitioned maps guarded by a
// single mutex. Each Apply runs under the lock, which makes the
// read-version-then-write sequence an isolated unit by construction.
type Mem struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

type tenantState struct {
	seq         int64
	records     map[syncd.EntityType]map[string]*syncd.VersionedRecord
	queue       []*syncd.QueueEntry
	nextQueueID int64
	conflicts   map[int64]*syncd.ConflictRecord
}

// New creates an empty in-memory backend.
func New() *Mem {
	return &Mem{tenants: make(map[string]*tenantState)}
}

func (m *Mem) tenant(tenantID string) *tenantState {
	ts, ok := m.tenants[tenantID]
	if !ok {
		ts = &tenantState{
			records:     make(map[syncd.EntityType]map[string]*syncd.VersionedRecord),
			nextQueueID: 1,
			conflicts:   make(map[int64]*syncd.ConflictRecord),
		}
		m.tenants[tenantID] = ts
	}
	return ts
}

func (ts *tenantState) bucket(et syncd.EntityType) map[string]*syncd.VersionedRecord {
	b, ok := ts.records[et]
	if !ok {
		b = make(map[string]*syncd.VersionedRecord)
		ts.records[et] = b
	}
	return b
}

// Get implements syncd.Store.
func (m *Mem) Get(ctx context.Context, tenantID string, et syncd.EntityType, entityID string) (*syncd.VersionedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tenant(tenantID).bucket(et)[entityID]
	if !ok {
		return nil, syncd.ErrNotFound
	}
	return rec.Clone(), nil
}

// Apply implements syncd.Store.
func (m *Mem) Apply(ctx context.Context, tenantID string, w syncd.Write) (*syncd.VersionedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenant(tenantID)
	bucket := ts.bucket(w.EntityType)

	if w.ExpectedVersion == 0 && !w.Force {
		// Create: the record must not exist yet.
		entityID := w.EntityID
		if entityID == "" {
			entityID = uuid.New().String()
		}
		if _, exists := bucket[entityID]; exists {
			return nil, syncd.ErrVersionMismatch
		}
		ts.seq++
		rec := &syncd.VersionedRecord{
			EntityID:   entityID,
			EntityType: w.EntityType,
			Version:    1,
			Seq:        ts.seq,
			UpdatedAt:  time.Now().UTC(),
			Fields:     copyMap(w.Fields),
		}
		bucket[entityID] = rec
		return rec.Clone(), nil
	}

	current, exists := bucket[w.EntityID]
	if !exists {
		return nil, syncd.ErrNotFound
	}
	if current.Deleted && !w.Delete {
		return nil, syncd.ErrDeleted
	}
	if !w.Force && current.Version != w.ExpectedVersion {
		return nil, syncd.ErrVersionMismatch
	}

	ts.seq++
	next := &syncd.VersionedRecord{
		EntityID:   current.EntityID,
		EntityType: current.EntityType,
		Version:    current.Version + 1,
		Seq:        ts.seq,
		UpdatedAt:  time.Now().UTC(),
	}
	if w.Delete {
		next.Deleted = true
	} else {
		next.Fields = copyMap(w.Fields)
	}
	bucket[w.EntityID] = next
	return next.Clone(), nil
}

// LastSeq implements syncd.Store.
func (m *Mem) LastSeq(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenant(tenantID).seq, nil
}

// Changes implements syncd.ChangeFeed.
func (m *Mem) Changes(ctx context.Context, tenantID string, types []syncd.EntityType, since int64) ([]syncd.VersionedRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenant(tenantID)
	var out []syncd.VersionedRecord
	for _, et := range types {
		var perType []syncd.VersionedRecord
		for _, rec := range ts.bucket(et) {
			if rec.Seq > since {
				perType = append(perType, *rec.Clone())
			}
		}
		sort.Slice(perType, func(i, j int) bool { return perType[i].Seq < perType[j].Seq })
		out = append(out, perType...)
	}
	return out, ts.seq, nil
}

// Append implements syncd.Queue.
func (m *Mem) Append(ctx context.Context, tenantID string, e *syncd.QueueEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenant(tenantID)
	stored := *e
	stored.ID = ts.nextQueueID
	stored.Payload = copyMap(e.Payload)
	ts.nextQueueID++
	ts.queue = append(ts.queue, &stored)
	return stored.ID, nil
}

// FindByLocalID implements syncd.Queue.
func (m *Mem) FindByLocalID(ctx context.Context, tenantID, localID string) (*syncd.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenant(tenantID)
	for i := len(ts.queue) - 1; i >= 0; i-- {
		if ts.queue[i].LocalID == localID {
			entry := *ts.queue[i]
			return &entry, nil
		}
	}
	return nil, syncd.ErrNotFound
}

// Create implements syncd.Conflicts.
func (m *Mem) Create(ctx context.Context, tenantID string, c *syncd.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *c
	stored.LocalPayload = copyMap(c.LocalPayload)
	m.tenant(tenantID).conflicts[c.SyncQueueID] = &stored
	return nil
}

// GetConflict implements syncd.Conflicts.
func (m *Mem) GetConflict(ctx context.Context, tenantID string, syncQueueID int64) (*syncd.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflictLocked(tenantID, syncQueueID)
}

func (m *Mem) conflictLocked(tenantID string, syncQueueID int64) (*syncd.ConflictRecord, error) {
	c, ok := m.tenant(tenantID).conflicts[syncQueueID]
	if !ok {
		return nil, syncd.ErrConflictNotFound
	}
	out := *c
	return &out, nil
}

// ListPending implements syncd.Conflicts.
func (m *Mem) ListPending(ctx context.Context, tenantID string) ([]syncd.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenant(tenantID)
	out := make([]syncd.ConflictRecord, 0)
	for _, c := range ts.conflicts {
		if c.Status == syncd.ConflictPending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncQueueID < out[j].SyncQueueID })
	return out, nil
}

// CountPending implements syncd.Conflicts.
func (m *Mem) CountPending(ctx context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.tenant(tenantID).conflicts {
		if c.Status == syncd.ConflictPending {
			n++
		}
	}
	return n, nil
}

// MarkResolved implements syncd.Conflicts.
func (m *Mem) MarkResolved(ctx context.Context, tenantID string, syncQueueID int64, res syncd.Resolution, resolvedPayload map[string]any) (*syncd.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.tenant(tenantID).conflicts[syncQueueID]
	if !ok {
		return nil, syncd.ErrConflictNotFound
	}
	if c.Status == syncd.ConflictResolved {
		return nil, syncd.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	c.Status = syncd.ConflictResolved
	c.Resolution = res
	c.ResolvedPayload = copyMap(resolvedPayload)
	c.ResolvedAt = &now

	out := *c
	return &out, nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
