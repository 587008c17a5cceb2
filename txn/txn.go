// Package txn implements TransactionRunner: the single place that opens
// (or reuses) a per-shard transaction, applies one opctx.Op to it, and
// guarantees the transaction is released on every exit path, wrapped in
// the observer chain (SPEC_FULL.md §4.3 / spec.md §4.3).
package txn

import (
	"context"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
)

// Runner executes operation contexts against session gateways.
type Runner struct {
	chain observer.Chain
}

// NewRunner builds a Runner wrapping every execution in chain. A nil or
// empty chain runs operations unobserved.
func NewRunner(chain observer.Chain) *Runner {
	return &Runner{chain: chain}
}

// Execute runs op on gateway. When nested is true, tx must be the caller's
// already-open transaction; Execute neither begins nor commits it, and
// rollback on error is the outer frame's responsibility (spec.md §4.3). When
// nested is false, Execute opens a fresh transaction (read-only per the
// readOnly flag), commits on success, and rolls back on any error.
//
// rec identifies the operation for the observer chain; its OperationVariant
// field is overwritten with op.Kind() if left blank.
func (r *Runner) Execute(ctx context.Context, gateway db.SessionGateway, op opctx.Op, readOnly, nested bool, tx db.Tx, rec observer.Record) (interface{}, error) {
	if rec.OperationVariant == "" {
		rec.OperationVariant = string(op.Kind())
	}
	if rec.ShardName == "" {
		rec.ShardName = gateway.Name()
	}

	if nested {
		if tx == nil {
			return nil, errs.InvalidArgument("nested execution requires an already-open transaction")
		}
		return r.chain.Observe(ctx, rec, func(ctx context.Context) (interface{}, error) {
			return op.Accept(newExecVisitor(ctx, tx))
		})
	}

	ownTx, err := gateway.BeginTx(ctx, readOnly)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = ownTx.Rollback()
		}
	}()

	result, err := r.chain.Observe(ctx, rec, func(ctx context.Context) (interface{}, error) {
		return op.Accept(newExecVisitor(ctx, ownTx))
	})
	if err != nil {
		return nil, err
	}
	if err := ownTx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}
