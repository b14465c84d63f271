package syncd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Resolve applies one of the three resolution strategies to a pending
// conflict. Resolving an already-resolved conflict fails with
// ErrAlreadyResolved: a re-resolution with a different strategy would be
// silently wrong, so callers must check status first.
//
// The pending->resolved transition is claimed before the write is applied, so
// a racing second resolver loses cleanly rather than double-applying.
func (e *Engine) Resolve(ctx context.Context, tenantID string, syncQueueID int64, res Resolution, mergedPayload map[string]any) (*ConflictRecord, error) {
	if !res.Valid() {
		return nil, validationf("unknown resolution %q", string(res))
	}

	c, err := e.conflicts.GetConflict(ctx, tenantID, syncQueueID)
	if err != nil {
		return nil, err
	}
	if c.Status == ConflictResolved {
		return nil, ErrAlreadyResolved
	}

	var (
		finalPayload map[string]any
		write        *Write
	)
	switch res {
	case ResolutionKeepServer:
		// The server's version stands; no write. Recording the resolution
		// tells the client to discard its pending local copy.
		finalPayload = cloneFields(c.ServerRecord.Fields)

	case ResolutionKeepLocal:
		finalPayload = cloneFields(c.LocalPayload)
		w, err := e.resolutionWrite(c, finalPayload, c.Action == ActionDelete)
		if err != nil {
			return nil, err
		}
		write = w

	case ResolutionMerge:
		if mergedPayload == nil {
			return nil, validationf("merge resolution requires mergedPayload")
		}
		// No automatic field-level merging happens here; the caller owns
		// the merged shape, we only validate it like any other payload.
		if err := ValidatePayload(c.EntityType, mergedPayload); err != nil {
			return nil, err
		}
		finalPayload = cloneFields(mergedPayload)
		w, err := e.resolutionWrite(c, finalPayload, false)
		if err != nil {
			return nil, err
		}
		write = w
	}

	resolved, err := e.conflicts.MarkResolved(ctx, tenantID, syncQueueID, res, finalPayload)
	if err != nil {
		return nil, err
	}

	if write != nil {
		rec, err := e.store.Apply(ctx, tenantID, *write)
		if err != nil {
			// The resolution is claimed but the write failed; report it
			// loudly, the client will see the divergence on its next pull.
			log.Ctx(ctx).Error().Err(err).
				Int64("syncQueueId", syncQueueID).
				Str("resolution", string(res)).
				Msg("resolution write failed after claim")
			return nil, fmt.Errorf("resolution write: %w", err)
		}
		log.Ctx(ctx).Info().
			Int64("syncQueueId", syncQueueID).
			Str("resolution", string(res)).
			Str("entityId", rec.EntityID).
			Int64("version", rec.Version).
			Msg("conflict resolved")
	} else {
		log.Ctx(ctx).Info().
			Int64("syncQueueId", syncQueueID).
			Str("resolution", string(res)).
			Msg("conflict resolved, server version kept")
	}

	return resolved, nil
}

// resolutionWrite builds the forced versioned write that lands a keep_local or
// merge decision as the new latest version.
func (e *Engine) resolutionWrite(c *ConflictRecord, payload map[string]any, tombstone bool) (*Write, error) {
	if c.ServerRecord.Deleted && !tombstone {
		// A tombstone is terminal; resolving in favor of the offline edit
		// cannot un-delete. The client must recreate under a new id.
		return nil, validationf("entity was deleted; recreation requires a new entity id")
	}
	w := &Write{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Force:      true,
	}
	if tombstone {
		w.Delete = true
	} else {
		w.Fields = payloadFields(payload)
	}
	return w, nil
}

// PendingConflicts lists the tenant's unresolved conflicts.
func (e *Engine) PendingConflicts(ctx context.Context, tenantID string) ([]ConflictRecord, error) {
	return e.conflicts.ListPending(ctx, tenantID)
}

// Conflict returns a single conflict by its sync queue id.
func (e *Engine) Conflict(ctx context.Context, tenantID string, syncQueueID int64) (*ConflictRecord, error) {
	c, err := e.conflicts.GetConflict(ctx, tenantID, syncQueueID)
	if err != nil && !errors.Is(err, ErrConflictNotFound) {
		return nil, fmt.Errorf("load conflict: %w", err)
	}
	return c, err
}
