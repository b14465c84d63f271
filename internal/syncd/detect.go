package syncd

// Decision is the conflict detector's verdict for one mutation against the
// store's current record. The detector is deterministic and side-effect free;
// the push handler acts on the verdict.
type Decision int

const (
	// DecisionApply: the client's base version matches the current version;
	// the mutation may be applied directly via compare-and-write.
	DecisionApply Decision = iota
	// DecisionConflict: the record advanced past what the client last saw.
	DecisionConflict
	// DecisionDeleteNoop: a delete racing a delete. Both are idempotently
	// treated as applied; no write and no version increment.
	DecisionDeleteNoop
	// DecisionTombstoned: the client targets a tombstone at its current
	// version. Deletion is terminal, so the entity is simply gone.
	DecisionTombstoned
	// DecisionBaseAhead: the client claims a base version the server has
	// never issued. Malformed input, not a conflict.
	DecisionBaseAhead
)

// Detect classifies a mutation with the given action and base version against
// the current server record.
//
// The rule: conflict iff the current version is strictly greater than the base
// version the client's edit was computed against, unless the server's record
// is a tombstone that fully subsumes a client delete.
func Detect(current *VersionedRecord, action Action, baseVersion int64) Decision {
	if current.Deleted && action == ActionDelete {
		return DecisionDeleteNoop
	}
	if current.Version > baseVersion {
		return DecisionConflict
	}
	if current.Version < baseVersion {
		return DecisionBaseAhead
	}
	if current.Deleted {
		return DecisionTombstoned
	}
	return DecisionApply
}
