// Package lockedctx implements LockedContext: a composable write session
// pinned to one shard (spec.md §4.8). Composing queues closures that run
// against a pessimistically-locked (or freshly saved) parent row; Execute
// opens the transaction, produces the parent, runs the queue in order, and
// commits once, exactly like package txn's VisitLockAndExecute describes.
package lockedctx

import (
	"context"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/txn"
)

// State names where a LockedContext sits in its Composing → Executing →
// Done|Failed lifecycle (spec.md §4.8).
type State int

const (
	Composing State = iota
	Executing
	Done
	Failed
)

// queuedOp is one appended closure: mutate parent, run a nested router
// call, or check a predicate. It receives the open transaction so nested
// RelatedRouter calls can reuse it (spec.md §5 "nested transactions").
type queuedOp func(tx db.Tx, parent interface{}) error

// LockedContext accumulates queuedOps while Composing and runs them all, in
// insertion order, inside one transaction when Execute is called.
type LockedContext struct {
	gateway db.SessionGateway
	runner  *txn.Runner
	model   interface{}

	getter func(tx db.Tx) (interface{}, error)
	saver  func(tx db.Tx, entity interface{}) (interface{}, error)
	entity interface{}

	ops   []queuedOp
	state State
	tx    db.Tx
}

// NewWithGetter builds a LockedContext whose parent is fetched (typically
// under WRITE_NOWAIT) rather than newly persisted — Router.lockAndGet's
// shape.
func NewWithGetter(gateway db.SessionGateway, runner *txn.Runner, model interface{}, getter func(tx db.Tx) (interface{}, error)) *LockedContext {
	return &LockedContext{gateway: gateway, runner: runner, model: model, getter: getter}
}

// NewWithSaver builds a LockedContext whose parent is produced by
// persisting entity first — Router.saveAndGet's shape.
func NewWithSaver(gateway db.SessionGateway, runner *txn.Runner, model interface{}, saver func(tx db.Tx, entity interface{}) (interface{}, error), entity interface{}) *LockedContext {
	return &LockedContext{gateway: gateway, runner: runner, model: model, saver: saver, entity: entity}
}

// Mutate appends a closure that edits the parent in place. fn receives the
// live parent pointer; there is nothing to return because Go struct fields
// mutate through the pointer already held by every later op.
func (lc *LockedContext) Mutate(fn func(parent interface{})) *LockedContext {
	lc.ops = append(lc.ops, func(tx db.Tx, parent interface{}) error {
		fn(parent)
		return nil
	})
	return lc
}

// Filter appends a predicate check: if predicate(parent) is false, the
// context aborts with ConstraintViolation wrapping cause.
func (lc *LockedContext) Filter(predicate func(parent interface{}) bool, cause error) *LockedContext {
	lc.ops = append(lc.ops, func(tx db.Tx, parent interface{}) error {
		if !predicate(parent) {
			return errs.ConstraintViolation(cause)
		}
		return nil
	})
	return lc
}

// Enqueue appends an arbitrary nested operation — the primitive
// package router's "...InLockedContext" RelatedRouter methods use to run a
// save/saveAll/update/createOrUpdate/updateByNamedQuery against this
// context's shared transaction.
func (lc *LockedContext) Enqueue(op func(tx db.Tx, parent interface{}) error) *LockedContext {
	lc.ops = append(lc.ops, op)
	return lc
}

// Gateway returns the shard this context is pinned to.
func (lc *LockedContext) Gateway() db.SessionGateway { return lc.gateway }

// State reports where this context sits in its lifecycle.
func (lc *LockedContext) State() State { return lc.state }

// Execute opens a write transaction, produces the parent, runs every
// queued op in insertion order, and commits. Any error rolls back. An error
// from a queued op is wrapped as OperationFailed by the executing visitor; a
// getter that returns no row fails with NotFound; other errors propagate as
// returned. The context's state becomes Done on success or Failed otherwise. Execute may
// only be called once.
func (lc *LockedContext) Execute(ctx context.Context) (interface{}, error) {
	if lc.state != Composing {
		return nil, errs.InvalidArgument("LockedContext.Execute called more than once")
	}
	lc.state = Executing

	tx, err := lc.gateway.BeginTx(ctx, false)
	if err != nil {
		lc.state = Failed
		return nil, err
	}
	lc.tx = tx
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	op := &opctx.LockAndExecute{
		ModelValue: lc.model,
		Getter:     lc.boundGetter(),
		Saver:      lc.boundSaver(),
		Entity:     lc.entity,
		Handlers:   lc.boundHandlers(),
	}

	result, err := lc.runner.Execute(ctx, lc.gateway, op, false, true, tx, observer.Record{CommandName: "lockedContext.execute"})
	if err != nil {
		lc.state = Failed
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		lc.state = Failed
		return nil, err
	}
	committed = true
	lc.state = Done
	return result, nil
}

func (lc *LockedContext) boundGetter() func() (interface{}, error) {
	if lc.getter == nil {
		return nil
	}
	return func() (interface{}, error) { return lc.getter(lc.tx) }
}

func (lc *LockedContext) boundSaver() func(interface{}) (interface{}, error) {
	if lc.saver == nil {
		return nil
	}
	return func(entity interface{}) (interface{}, error) { return lc.saver(lc.tx, entity) }
}

func (lc *LockedContext) boundHandlers() []func(parent interface{}) error {
	handlers := make([]func(parent interface{}) error, len(lc.ops))
	for i, op := range lc.ops {
		op := op
		handlers[i] = func(parent interface{}) error { return op(lc.tx, parent) }
	}
	return handlers
}
