package syncd

import "context"

// The engine talks to persistence through four narrow seams. Every call is
// tenant-scoped by argument: cross-tenant access is impossible by construction
// because no operation exists that spans tenants.

// Write describes a single versioned mutation handed to the store.
//
// ExpectedVersion is the compare-and-write guard: 0 means "the record must not
// exist yet" (create). When Force is set the version check is skipped and the
// write lands on top of whatever the current version is; the resolver uses
// this to apply keep_local / merge decisions as the new latest version.
type Write struct {
	EntityType      EntityType
	EntityID        string // empty for create: the store allocates an id
	Fields          map[string]any
	Delete          bool
	ExpectedVersion int64
	Force           bool
}

// Store is the versioned store adapter: read-by-id-with-version and
// compare-and-write. Implementations must execute each read-version-then-write
// sequence as an isolated unit, and must advance the tenant's logical clock
// exactly once per successful write, inside the same atomicity unit.
type Store interface {
	// Get returns the current record, tombstones included.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, tenantID string, et EntityType, entityID string) (*VersionedRecord, error)

	// Apply performs a compare-and-write. Returns the newly written record,
	// ErrVersionMismatch when the guard fails, ErrNotFound when updating a
	// record that does not exist, and ErrDeleted when writing over a
	// tombstone without Delete set (deletion is terminal).
	Apply(ctx context.Context, tenantID string, w Write) (*VersionedRecord, error)

	// LastSeq returns the tenant's current logical clock value.
	LastSeq(ctx context.Context, tenantID string) (int64, error)
}

// ChangeFeed returns all changes to a tenant's data since a cursor.
type ChangeFeed interface {
	// Changes returns every record whose seq is strictly greater than
	// since, restricted to the given entity types (nil means all), plus the
	// logical time at which the snapshot was taken. Records are ordered by
	// entity type, then ascending seq.
	Changes(ctx context.Context, tenantID string, types []EntityType, since int64) ([]VersionedRecord, int64, error)
}

// Queue is the durable, per-tenant, append-only audit log of processed
// mutations. Appends are best-effort for non-conflict outcomes: losing one
// loses audit history, never state.
type Queue interface {
	// Append stores a processed item and assigns its queue id.
	Append(ctx context.Context, tenantID string, e *QueueEntry) (int64, error)

	// FindByLocalID returns the most recent entry for a localId, for
	// duplicate detection. Returns ErrNotFound when none exists.
	FindByLocalID(ctx context.Context, tenantID, localID string) (*QueueEntry, error)
}

// Conflicts owns ConflictRecords: created atomically with detection, resolved
// exactly once, never deleted.
type Conflicts interface {
	Create(ctx context.Context, tenantID string, c *ConflictRecord) error

	// GetConflict returns ErrConflictNotFound when no record exists.
	GetConflict(ctx context.Context, tenantID string, syncQueueID int64) (*ConflictRecord, error)

	ListPending(ctx context.Context, tenantID string) ([]ConflictRecord, error)

	CountPending(ctx context.Context, tenantID string) (int, error)

	// MarkResolved transitions pending -> resolved. The transition must be
	// atomic: a second caller gets ErrAlreadyResolved, never a double
	// transition.
	MarkResolved(ctx context.Context, tenantID string, syncQueueID int64, res Resolution, resolvedPayload map[string]any) (*ConflictRecord, error)
}

// Backend bundles the four seams; both the in-memory and the Postgres stores
// implement all of them.
type Backend interface {
	Store
	ChangeFeed
	Queue
	Conflicts
}

// Engine orchestrates push, pull, and conflict resolution over a Backend.
type Engine struct {
	store     Store
	feed      ChangeFeed
	queue     Queue
	conflicts Conflicts
}

// New creates an Engine over a single backend.
func New(b Backend) *Engine {
	return &Engine{store: b, feed: b, queue: b, conflicts: b}
}

// NewWith wires each seam independently, for callers that split persistence
// across collaborators.
func NewWith(store Store, feed ChangeFeed, queue Queue, conflicts Conflicts) *Engine {
	return &Engine{store: store, feed: feed, queue: queue, conflicts: conflicts}
}
