// Package db binds the engine-agnostic contracts in the entity package to a
// concrete relational engine: GORM (gorm.io/gorm, gorm.io/driver/postgres)
// for statement building and transactions, with pgx/v5's stdlib adapter
// underneath the connection pool GORM opens against (see SPEC_FULL.md §3
// DOMAIN STACK). The teacher's db package reached for GORM for its primary
// persistence model (postgres.go) and for pgx directly when GORM's
// abstraction ran out (postgres_pgx.go); this package keeps both postures,
// generalized to the criterion/lock-mode/scroll vocabulary in package
// entity instead of the teacher's single RabbitLog model.
package db

import (
	"context"

	"github.com/evalgo-org/shardrelay/entity"
	"gorm.io/gorm"
)

// GormCriterion is the execution boundary a package-db caller's
// entity.Criterion must satisfy to actually run against GORM: anything
// beyond Clone() is engine-specific, so it lives here rather than on
// entity.Criterion itself.
type GormCriterion interface {
	entity.Criterion
	// Apply adds this criterion's predicates to tx and returns the
	// resulting *gorm.DB, mirroring GORM's own chaining convention so
	// callers can compose Apply with further Where/Order/Select calls.
	Apply(tx *gorm.DB) *gorm.DB
}

// SessionGateway is a shard's persistence handle: it knows how to open a
// Tx against exactly one shard and nothing about routing, sharding, or
// which shard a key belongs to (that's shardid.Assignment and router's job).
type SessionGateway interface {
	// Name identifies the shard this gateway talks to, for logging and
	// observer records.
	Name() string

	// BeginTx opens a new unit of work against this shard. readOnly hints
	// the engine may skip write-ahead bookkeeping it would otherwise do
	// (Postgres: BEGIN ... READ ONLY); callers must still call Commit or
	// Rollback to release the underlying connection regardless of
	// readOnly.
	BeginTx(ctx context.Context, readOnly bool) (Tx, error)

	// Close releases the gateway's connection pool. Called once at fleet
	// shutdown, never per-operation.
	Close() error
}

// Tx is a single unit of work against one shard. Every method takes the
// entity.Criterion/QuerySpec vocabulary from package entity; a Tx
// implementation asserts a caller's entity.Criterion to its own
// GormCriterion (or equivalent) at the boundary rather than exposing an
// engine type up through the router/opctx layers.
type Tx interface {
	// FetchOne loads at most one row matching crit into out (a pointer to
	// a struct) under the given lock mode. It reports found=false rather
	// than an error when nothing matches, and errs.KindNonUnique if more
	// than one row matches.
	FetchOne(ctx context.Context, out interface{}, crit entity.Criterion, lock entity.LockMode) (found bool, err error)

	// FetchOneByField is the common case of FetchOne with an equality
	// criterion on a single column, used for id/lookup-key lookups where
	// building an entity.Criterion would be pure ceremony.
	FetchOneByField(ctx context.Context, out interface{}, field string, value interface{}, lock entity.LockMode) (found bool, err error)

	// List loads rows matching params into out (a pointer to a slice of
	// the entity type). model is a zero-value pointer to the entity
	// struct, used to set GORM's statement target explicitly instead of
	// inferring it from out's element type by reflection.
	List(ctx context.Context, model interface{}, out interface{}, params entity.SelectParams) error

	// Scroll opens a forward-only, non-restartable Cursor over rows
	// matching params, ordered the way params.QuerySpec/Criterion
	// specify. The caller must Close it; Close is safe to call more than
	// once.
	Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (Cursor, error)

	// Count returns the number of rows matching crit/qs. Exactly one of
	// crit or qs should be non-nil; both nil counts every row of model.
	Count(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) (int64, error)

	// Persist inserts entityPtr (a pointer to a populated entity struct)
	// as a new row.
	Persist(ctx context.Context, entityPtr interface{}) error

	// Update replaces the row identified by newEntity's key with
	// newEntity's field values. oldEntity is detached from tracking (if
	// the engine tracks instances at all) before the write, matching the
	// "detach old, save new" semantics spec.md §4.2 describes for
	// SessionGateway.update.
	Update(ctx context.Context, oldEntity interface{}, newEntity interface{}) error

	// Delete removes the row identified by entityPtr's key.
	Delete(ctx context.Context, entityPtr interface{}) error

	// NamedQueryExecute runs a pre-declared update/delete statement by
	// name with the given parameters and returns the affected row count.
	NamedQueryExecute(ctx context.Context, nq entity.NamedQuery) (int64, error)

	// Commit finalizes the unit of work. After Commit, the Tx must not be
	// used again.
	Commit() error

	// Rollback discards the unit of work. Safe to call after Commit as a
	// no-op cleanup in a defer.
	Rollback() error
}

// Cursor is a forward-only iterator returned by Tx.Scroll. Its lifetime is
// scoped to the Tx that opened it; it must not outlive a Commit/Rollback
// on that Tx.
type Cursor interface {
	// Next advances the cursor and reports whether a row is available.
	// It returns false, nil at end of results and false, err on failure.
	Next(ctx context.Context) (bool, error)

	// Scan copies the current row into dest (a pointer to a struct).
	Scan(dest interface{}) error

	// Close releases the cursor's resources. Safe to call more than once.
	Close() error
}
