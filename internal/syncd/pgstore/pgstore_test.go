package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerkeep/ledgerkeep-api/internal/db"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean up all tables before each test
	_, err = pool.Exec(context.Background(), `
		DELETE FROM conflict;
		DELETE FROM sync_queue;
		DELETE FROM record;
		DELETE FROM tenant_clock;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

func TestApplyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	store := New(pool)
	ctx := context.Background()

	created, err := store.Apply(ctx, "tenant-a", syncd.Write{
		EntityType: syncd.EntityVendor,
		Fields:     map[string]any{"name": "Supplies Inc"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 || created.Seq != 1 {
		t.Fatalf("created version=%d seq=%d, want 1/1", created.Version, created.Seq)
	}

	got, err := store.Get(ctx, "tenant-a", syncd.EntityVendor, created.EntityID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fields["name"] != "Supplies Inc" {
		t.Errorf("fields did not round-trip: %v", got.Fields)
	}

	updated, err := store.Apply(ctx, "tenant-a", syncd.Write{
		EntityType:      syncd.EntityVendor,
		EntityID:        created.EntityID,
		Fields:          map[string]any{"name": "Supplies LLC"},
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("updated version = %d, want 2", updated.Version)
	}

	// Stale compare-and-write must fail.
	_, err = store.Apply(ctx, "tenant-a", syncd.Write{
		EntityType:      syncd.EntityVendor,
		EntityID:        created.EntityID,
		Fields:          map[string]any{"name": "stale"},
		ExpectedVersion: 1,
	})
	if !errors.Is(err, syncd.ErrVersionMismatch) {
		t.Errorf("stale write error = %v, want ErrVersionMismatch", err)
	}
}

func TestTombstoneAndChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	store := New(pool)
	ctx := context.Background()
	types := []syncd.EntityType{syncd.EntityVendor}

	created, err := store.Apply(ctx, "tenant-a", syncd.Write{
		EntityType: syncd.EntityVendor,
		Fields:     map[string]any{"name": "short-lived"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dead, err := store.Apply(ctx, "tenant-a", syncd.Write{
		EntityType:      syncd.EntityVendor,
		EntityID:        created.EntityID,
		Delete:          true,
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !dead.Deleted || dead.Version != 2 {
		t.Fatalf("tombstone = %+v", dead)
	}

	changes, cursor, err := store.Changes(ctx, "tenant-a", types, 0)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want the single current record", len(changes))
	}
	if !changes[0].Deleted {
		t.Error("current record is not the tombstone")
	}
	if cursor != 2 {
		t.Errorf("cursor = %d, want 2", cursor)
	}

	delta, _, err := store.Changes(ctx, "tenant-a", types, cursor)
	if err != nil {
		t.Fatalf("changes after cursor: %v", err)
	}
	if len(delta) != 0 {
		t.Errorf("delta past cursor = %d changes, want 0", len(delta))
	}
}

func TestQueueAndConflictPersistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	store := New(pool)
	ctx := context.Background()

	qid, err := store.Append(ctx, "tenant-a", &syncd.QueueEntry{
		LocalID:     "l1",
		EntityType:  syncd.EntityInvoice,
		Action:      syncd.ActionUpdate,
		Payload:     map[string]any{"totalCents": float64(500)},
		BaseVersion: 1,
		Outcome:     syncd.OutcomeConflict,
		EntityID:    "e1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entry, err := store.FindByLocalID(ctx, "tenant-a", "l1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if entry.ID != qid || entry.Outcome != syncd.OutcomeConflict {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Payload["totalCents"] != float64(500) {
		t.Errorf("payload did not round-trip: %v", entry.Payload)
	}

	conflict := &syncd.ConflictRecord{
		SyncQueueID:  qid,
		EntityType:   syncd.EntityInvoice,
		EntityID:     "e1",
		Action:       syncd.ActionUpdate,
		LocalPayload: map[string]any{"totalCents": float64(500)},
		ServerRecord: syncd.VersionedRecord{EntityID: "e1", EntityType: syncd.EntityInvoice, Version: 3},
		Status:       syncd.ConflictPending,
	}
	if err := store.Create(ctx, "tenant-a", conflict); err != nil {
		t.Fatalf("create conflict: %v", err)
	}

	pending, err := store.ListPending(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ServerRecord.Version != 3 {
		t.Fatalf("pending = %+v", pending)
	}

	resolved, err := store.MarkResolved(ctx, "tenant-a", qid, syncd.ResolutionKeepLocal, nil)
	if err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
	if resolved.Status != syncd.ConflictResolved || resolved.ResolvedAt == nil {
		t.Fatalf("resolved = %+v", resolved)
	}

	if _, err := store.MarkResolved(ctx, "tenant-a", qid, syncd.ResolutionKeepLocal, nil); !errors.Is(err, syncd.ErrAlreadyResolved) {
		t.Errorf("second resolve error = %v, want ErrAlreadyResolved", err)
	}

	n, err := store.CountPending(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("pending count = %d, want 0", n)
	}
}

func TestEngineOverPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()

	engine := syncd.New(New(pool))
	ctx := context.Background()

	results, err := engine.Push(ctx, "tenant-a", []syncd.SyncItem{{
		LocalID:    "l1",
		EntityType: syncd.EntityCustomer,
		Action:     syncd.ActionCreate,
		Payload:    map[string]any{"name": "Durable Customer"},
	}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if results[0].Outcome != syncd.OutcomeApplied {
		t.Fatalf("outcome = %s (%s)", results[0].Outcome, results[0].Error)
	}

	resp, err := engine.Pull(ctx, "tenant-a", syncd.PullRequest{})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(resp.Changes) != 1 || resp.Changes[0].Fields["name"] != "Durable Customer" {
		t.Fatalf("pull = %+v", resp)
	}
}
