// Package entity holds the small, engine-agnostic contracts shardrelay's
// routing and transaction machinery is built against: criteria, query
// specs, named queries, lock modes, and the entity descriptor that replaces
// reflection-driven id/lookup-key discovery with an explicit value handed in
// at router construction time (see SPEC_FULL.md §9 "Reflection-driven entity
// descriptor").
package entity

// Criterion is an opaque, engine-executable filter. It must be cloneable so
// the scroll engine can deep-copy a caller's criterion before mutating a
// per-shard copy with sort order and pagination bounds (spec.md §6).
type Criterion interface {
	Clone() Criterion
}

// QueryBuilder is the "query-builder triple" a QuerySpec is handed: a narrow
// surface for where/projection/order that a concrete SessionGateway
// implementation backs with its own engine (GORM's *gorm.DB in this repo's
// db package).
type QueryBuilder interface {
	Where(query interface{}, args ...interface{}) QueryBuilder
	Select(columns ...string) QueryBuilder
	Order(value string) QueryBuilder
}

// QuerySpec builds a criterion programmatically instead of declaratively.
type QuerySpec func(QueryBuilder)

// NamedQuery is a pre-declared update statement referenced by name with an
// opaque parameter map passed through to the persistence engine.
type NamedQuery struct {
	Name   string
	Params map[string]interface{}
}

// LockMode controls the row lock a SessionGateway fetch acquires.
type LockMode int

const (
	// LockNone takes no lock.
	LockNone LockMode = iota
	// LockRead takes a shared lock.
	LockRead
	// LockWriteNoWait takes an exclusive lock (FOR UPDATE NOWAIT) and fails
	// fast instead of blocking if the row is already locked. The gateway
	// reports that failure as OperationFailed wrapping the driver error; it
	// does not produce errs.KindLockConflict.
	LockWriteNoWait
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "NONE"
	case LockRead:
		return "READ"
	case LockWriteNoWait:
		return "WRITE_NOWAIT"
	default:
		return "UNKNOWN"
	}
}

// Descriptor replaces field-annotation reflection with an explicit value:
// the identity field's name (for logging/diagnostics), whether that field is
// a string lookup-key (vs. a stringified scalar id), and an accessor that
// reads the key off a concrete entity value as a string for routing.
//
// Exactly one such field must exist per managed entity type; the Router
// constructor rejects a Descriptor that can't produce a key
// (errs.KindSpecError). RelatedRouter takes no Descriptor.
type Descriptor struct {
	KeyField    string
	IsLookupKey bool
	Key         func(e interface{}) (string, error)
}

// SelectParams bounds a Select/List OperationContext: either a Criterion or
// a QuerySpec, plus optional pagination.
type SelectParams struct {
	Criterion Criterion
	QuerySpec QuerySpec
	Start     *int
	NumRows   *int
	Lock      LockMode
}

// ScrollParams bounds a scrollable-cursor OperationContext.
type ScrollParams struct {
	Criterion Criterion
	QuerySpec QuerySpec
}
