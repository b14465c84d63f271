package syncd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Push processes an ordered batch of client mutations for one tenant.
//
// Items are handled strictly in submission order, each yielding its own
// outcome; one bad item never aborts the batch. Only infrastructure failure
// (the store unreachable) fails the request as a whole, since no item in the
// batch could be safely evaluated.
func (e *Engine) Push(ctx context.Context, tenantID string, items []SyncItem) ([]ItemResult, error) {
	if tenantID == "" {
		return nil, validationf("missing tenant")
	}
	if len(items) == 0 {
		return nil, validationf("empty batch")
	}

	results := make([]ItemResult, 0, len(items))
	for i := range items {
		res, err := e.pushOne(ctx, tenantID, &items[i])
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (e *Engine) pushOne(ctx context.Context, tenantID string, item *SyncItem) (*ItemResult, error) {
	if err := ValidateItem(item); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID: item.LocalID,
			Outcome: OutcomeValidationError,
			Error:   ve.Reason,
		})
	}

	// Duplicate detection: a re-push of the same localId against the same
	// base version replays the recorded result instead of re-applying, so
	// the version never increments twice.
	prev, err := e.queue.FindByLocalID(ctx, tenantID, item.LocalID)
	switch {
	case err == nil:
		if prev.BaseVersion == item.BaseVersion {
			switch prev.Outcome {
			case OutcomeApplied:
				return &ItemResult{
					LocalID:  item.LocalID,
					Outcome:  OutcomeApplied,
					EntityID: prev.EntityID,
					Version:  prev.ResultVersion,
				}, nil
			case OutcomeConflict:
				return &ItemResult{
					LocalID:    item.LocalID,
					Outcome:    OutcomeConflict,
					EntityID:   prev.EntityID,
					ConflictID: prev.ID,
				}, nil
			}
		}
	case errors.Is(err, ErrNotFound):
		// first sighting of this localId
	default:
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}

	switch item.Action {
	case ActionCreate:
		return e.applyCreate(ctx, tenantID, item)
	default:
		return e.applyMutation(ctx, tenantID, item)
	}
}

func (e *Engine) applyCreate(ctx context.Context, tenantID string, item *SyncItem) (*ItemResult, error) {
	w := Write{
		EntityType: item.EntityType,
		Fields:     payloadFields(item.Payload),
	}
	// Clients may pre-allocate an id for offline referential integrity;
	// otherwise the store allocates one.
	if id, ok := EntityID(item.Payload); ok {
		w.EntityID = id
	}

	rec, err := e.store.Apply(ctx, tenantID, w)
	switch {
	case err == nil:
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeApplied,
			EntityID: rec.EntityID,
			Version:  rec.Version,
		})
	case errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrDeleted):
		// The pre-allocated id already exists server-side: concurrent
		// creation is a conflict like any other.
		current, gerr := e.store.Get(ctx, tenantID, item.EntityType, w.EntityID)
		if gerr != nil {
			return nil, fmt.Errorf("conflict snapshot: %w", gerr)
		}
		return e.recordConflict(ctx, tenantID, item, current)
	default:
		return nil, fmt.Errorf("create %s: %w", item.EntityType, err)
	}
}

func (e *Engine) applyMutation(ctx context.Context, tenantID string, item *SyncItem) (*ItemResult, error) {
	entityID, ok := EntityID(item.Payload)
	if !ok {
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID: item.LocalID,
			Outcome: OutcomeNotFound,
			Error:   "payload does not identify a target entity",
		})
	}

	current, err := e.store.Get(ctx, tenantID, item.EntityType, entityID)
	if errors.Is(err, ErrNotFound) {
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeNotFound,
			EntityID: entityID,
			Error:    "entity does not exist",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", item.EntityType, entityID, err)
	}

	switch Detect(current, item.Action, item.BaseVersion) {
	case DecisionDeleteNoop:
		// Delete racing a delete: already done, report applied without a
		// version increment.
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeApplied,
			EntityID: entityID,
			Version:  current.Version,
		})
	case DecisionConflict:
		return e.recordConflict(ctx, tenantID, item, current)
	case DecisionBaseAhead:
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeValidationError,
			EntityID: entityID,
			Error:    fmt.Sprintf("baseVersion %d ahead of server version %d", item.BaseVersion, current.Version),
		})
	case DecisionTombstoned:
		// Terminal tombstone: the mutation has nothing left to target.
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeNotFound,
			EntityID: entityID,
			Error:    "entity was deleted",
		})
	}

	w := Write{
		EntityType:      item.EntityType,
		EntityID:        entityID,
		ExpectedVersion: item.BaseVersion,
	}
	if item.Action == ActionDelete {
		w.Delete = true
	} else {
		w.Fields = payloadFields(item.Payload)
	}

	rec, err := e.store.Apply(ctx, tenantID, w)
	switch {
	case err == nil:
		return e.finish(ctx, tenantID, item, &ItemResult{
			LocalID:  item.LocalID,
			Outcome:  OutcomeApplied,
			EntityID: entityID,
			Version:  rec.Version,
		})
	case errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrDeleted):
		// A concurrent push won the compare-and-write between our read and
		// this write. Reload for an accurate snapshot and flag it.
		current, gerr := e.store.Get(ctx, tenantID, item.EntityType, entityID)
		if gerr != nil {
			return nil, fmt.Errorf("conflict snapshot: %w", gerr)
		}
		if item.Action == ActionDelete && current.Deleted {
			return e.finish(ctx, tenantID, item, &ItemResult{
				LocalID:  item.LocalID,
				Outcome:  OutcomeApplied,
				EntityID: entityID,
				Version:  current.Version,
			})
		}
		return e.recordConflict(ctx, tenantID, item, current)
	default:
		return nil, fmt.Errorf("apply %s/%s: %w", item.EntityType, entityID, err)
	}
}

// recordConflict appends the audit entry and creates the ConflictRecord that
// shares its id. Unlike other outcomes the queue append is mandatory here:
// the conflict is addressed by its sync queue id.
func (e *Engine) recordConflict(ctx context.Context, tenantID string, item *SyncItem, current *VersionedRecord) (*ItemResult, error) {
	entry := queueEntryFor(item, OutcomeConflict, current.EntityID, 0)
	qid, err := e.queue.Append(ctx, tenantID, entry)
	if err != nil {
		return nil, fmt.Errorf("queue conflict: %w", err)
	}

	c := &ConflictRecord{
		SyncQueueID:  qid,
		EntityType:   item.EntityType,
		EntityID:     current.EntityID,
		Action:       item.Action,
		LocalPayload: cloneFields(item.Payload),
		ServerRecord: *current.Clone(),
		Status:       ConflictPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.conflicts.Create(ctx, tenantID, c); err != nil {
		return nil, fmt.Errorf("record conflict: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("entityType", string(item.EntityType)).
		Str("entityId", current.EntityID).
		Int64("baseVersion", item.BaseVersion).
		Int64("serverVersion", current.Version).
		Int64("syncQueueId", qid).
		Msg("conflict detected")

	return &ItemResult{
		LocalID:    item.LocalID,
		Outcome:    OutcomeConflict,
		EntityID:   current.EntityID,
		ConflictID: qid,
	}, nil
}

// finish appends the audit entry for a terminal non-conflict outcome. The
// append is best-effort: its loss costs audit history, never state.
func (e *Engine) finish(ctx context.Context, tenantID string, item *SyncItem, res *ItemResult) (*ItemResult, error) {
	entry := queueEntryFor(item, res.Outcome, res.EntityID, res.Version)
	if _, err := e.queue.Append(ctx, tenantID, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("localId", item.LocalID).
			Str("outcome", string(res.Outcome)).
			Msg("sync queue append failed")
	}
	return res, nil
}

func queueEntryFor(item *SyncItem, outcome Outcome, entityID string, version int64) *QueueEntry {
	return &QueueEntry{
		LocalID:       item.LocalID,
		EntityType:    item.EntityType,
		Action:        item.Action,
		Payload:       cloneFields(item.Payload),
		BaseVersion:   item.BaseVersion,
		ClientTS:      item.Timestamp,
		Outcome:       outcome,
		EntityID:      entityID,
		ResultVersion: version,
		CreatedAt:     time.Now().UTC(),
	}
}

// payloadFields strips sync plumbing from the stored entity fields. The
// entity id lives on the record itself, not inside its field map.
func payloadFields(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "entityId" {
			continue
		}
		out[k] = v
	}
	return out
}
