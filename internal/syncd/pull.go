package syncd

import (
	"context"
	"fmt"
)

// PullRequest bounds a delta query: entity types (nil means all known types),
// the cursor the client last saw, and whether tombstones are wanted.
type PullRequest struct {
	Types          []EntityType
	Since          int64
	IncludeDeleted bool
}

// PullResponse carries the delta plus the logical time of the snapshot, to be
// used as the next since value.
type PullResponse struct {
	Changes []VersionedRecord `json:"changes"`
	Cursor  int64             `json:"cursor"`
}

// Pull computes the server-side changes since a cursor. A client that applies
// every returned record converges to the server's state for the requested
// types: the feed returns each entity's current record, and tombstones are
// reduced to their minimal form so deleted content is never exposed.
func (e *Engine) Pull(ctx context.Context, tenantID string, req PullRequest) (*PullResponse, error) {
	if tenantID == "" {
		return nil, validationf("missing tenant")
	}
	if req.Since < 0 {
		return nil, validationf("negative cursor")
	}

	types := req.Types
	if len(types) == 0 {
		types = AllEntityTypes()
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, validationf("unknown entityType %q", string(t))
		}
	}

	records, cursor, err := e.feed.Changes(ctx, tenantID, types, req.Since)
	if err != nil {
		return nil, fmt.Errorf("change feed: %w", err)
	}

	changes := make([]VersionedRecord, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Deleted {
			if !req.IncludeDeleted {
				continue
			}
			changes = append(changes, rec.Tombstone())
			continue
		}
		changes = append(changes, *rec)
	}

	return &PullResponse{Changes: changes, Cursor: cursor}, nil
}

// StatusInfo summarizes a tenant's sync state.
type StatusInfo struct {
	PendingConflicts int   `json:"pendingConflicts"`
	LastCursor       int64 `json:"lastCursor"`
}

// Status reports the pending conflict count and the tenant's current logical
// clock value.
func (e *Engine) Status(ctx context.Context, tenantID string) (*StatusInfo, error) {
	pending, err := e.conflicts.CountPending(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count conflicts: %w", err)
	}
	seq, err := e.store.LastSeq(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}
	return &StatusInfo{PendingConflicts: pending, LastCursor: seq}, nil
}
