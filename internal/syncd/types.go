// Package syncd implements the offline synchronization engine: push/pull
// reconciliation of client mutations against versioned server records,
// conflict detection, and the conflict resolution protocol.
package syncd

import (
	"errors"
	"fmt"
	"time"
)

// EntityType identifies which accounting entity a record or mutation targets.
type EntityType string

const (
	EntityInvoice  EntityType = "invoice"
	EntityExpense  EntityType = "expense"
	EntityCustomer EntityType = "customer"
	EntityVendor   EntityType = "vendor"
)

// AllEntityTypes returns every syncable entity type, in stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityInvoice, EntityExpense, EntityCustomer, EntityVendor}
}

// Valid reports whether the entity type is one of the known types.
func (e EntityType) Valid() bool {
	switch e {
	case EntityInvoice, EntityExpense, EntityCustomer, EntityVendor:
		return true
	}
	return false
}

// Action is the kind of mutation a client produced while offline.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// SyncItem is a single client-submitted mutation inside a push batch.
//
// Timestamp is the client's wall clock in Unix milliseconds. It is advisory
// only: ordering and conflict decisions use server versions exclusively.
type SyncItem struct {
	LocalID     string         `json:"localId"`
	EntityType  EntityType     `json:"entityType"`
	Action      Action         `json:"action"`
	Payload     map[string]any `json:"payload"`
	BaseVersion int64          `json:"baseVersion,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
}

// VersionedRecord is the server's stored form of any entity.
//
// Version increases strictly per entity on every successful write. Seq is the
// tenant-wide logical time of the last write to this record; it bounds pull
// deltas. A record with Deleted set is a tombstone and is terminal.
type VersionedRecord struct {
	EntityID   string         `json:"entityId"`
	EntityType EntityType     `json:"entityType"`
	Version    int64          `json:"version"`
	Seq        int64          `json:"seq"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Deleted    bool           `json:"deleted,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Tombstone returns the minimal form of a deleted record: enough for a client
// to purge its local copy without learning the deleted content.
func (r *VersionedRecord) Tombstone() VersionedRecord {
	return VersionedRecord{
		EntityID:   r.EntityID,
		EntityType: r.EntityType,
		Version:    r.Version,
		Seq:        r.Seq,
		UpdatedAt:  r.UpdatedAt,
		Deleted:    true,
	}
}

// Clone returns a deep copy so callers can hold records across store writes.
func (r *VersionedRecord) Clone() *VersionedRecord {
	out := *r
	out.Fields = cloneFields(r.Fields)
	return &out
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Outcome tags the per-item result of processing one SyncItem.
type Outcome string

const (
	OutcomeApplied         Outcome = "APPLIED"
	OutcomeConflict        Outcome = "CONFLICT"
	OutcomeValidationError Outcome = "VALIDATION_ERROR"
	OutcomeNotFound        Outcome = "NOT_FOUND"
)

// ItemResult is the per-item outcome returned from a push batch. A batch never
// fails as a whole for per-item problems; each item carries its own tag.
type ItemResult struct {
	LocalID    string  `json:"localId"`
	Outcome    Outcome `json:"outcome"`
	EntityID   string  `json:"entityId,omitempty"`
	Version    int64   `json:"version,omitempty"`
	ConflictID int64   `json:"conflictId,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// QueueEntry is the durable audit form of a processed SyncItem. Entries are
// append-only and retained as history after processing.
type QueueEntry struct {
	ID            int64          `json:"id"`
	LocalID       string         `json:"localId"`
	EntityType    EntityType     `json:"entityType"`
	Action        Action         `json:"action"`
	Payload       map[string]any `json:"payload,omitempty"`
	BaseVersion   int64          `json:"baseVersion,omitempty"`
	ClientTS      int64          `json:"clientTimestamp,omitempty"`
	Outcome       Outcome        `json:"outcome"`
	EntityID      string         `json:"entityId,omitempty"`
	ResultVersion int64          `json:"resultVersion,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ConflictStatus is the lifecycle state of a ConflictRecord.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution names the strategy applied to a conflict.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepServer Resolution = "keep_server"
	ResolutionMerge      Resolution = "merge"
)

// Valid reports whether the resolution is one of the known strategies.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepServer, ResolutionMerge:
		return true
	}
	return false
}

// ConflictRecord captures both sides of a detected conflict. It is created
// atomically with detection, resolved exactly once, and never deleted; the
// record doubles as the audit trail of the decision.
type ConflictRecord struct {
	SyncQueueID     int64           `json:"syncQueueId"`
	EntityType      EntityType      `json:"entityType"`
	EntityID        string          `json:"entityId"`
	Action          Action          `json:"action"`
	LocalPayload    map[string]any  `json:"localPayload,omitempty"`
	ServerRecord    VersionedRecord `json:"serverRecord"`
	Status          ConflictStatus  `json:"status"`
	Resolution      Resolution      `json:"resolution,omitempty"`
	ResolvedPayload map[string]any  `json:"resolvedPayload,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// Sentinel errors shared by the engine and its store implementations.
var (
	// ErrNotFound: the target entity does not exist for this tenant.
	ErrNotFound = errors.New("entity not found")
	// ErrVersionMismatch: a compare-and-write lost the race; the record's
	// version no longer matches the expected value.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrDeleted: the target entity is a tombstone; deletion is terminal.
	ErrDeleted = errors.New("entity deleted")
	// ErrConflictNotFound: no ConflictRecord with that sync queue id.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrAlreadyResolved: the conflict was resolved before; re-resolution
	// with a different strategy would be silently wrong, so it is refused.
	ErrAlreadyResolved = errors.New("conflict already resolved")
	// ErrStoreUnavailable: the backing store failed; surfaced as a
	// batch-level failure since no item could be safely evaluated.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError describes a malformed item or request. Recoverable by the
// client correcting and resubmitting.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
