// Package observer wraps every TransactionRunner invocation in a
// composable chain. Each observer receives an immutable Record describing
// the operation about to run and a zero-argument continuation; it must
// call the continuation exactly once and must not swallow whatever error
// it returns (SPEC_FULL.md §4.10 / spec.md §4.10).
package observer

import "context"

// Record is the immutable context handed to every observer in the chain.
type Record struct {
	CommandName     string
	ShardName       string
	EntityClassName string
	DAOClassName    string
	OperationVariant string
}

// Continuation is the unit of work an observer wraps. It returns whatever
// the wrapped OperationContext produced, boxed as interface{} since
// observers are generic over every Op variant.
type Continuation func(ctx context.Context) (interface{}, error)

// Observer wraps a single Continuation. Implementations must invoke next
// exactly once and propagate its error unchanged; they may add their own
// error (e.g. a metrics-emission failure) only by logging it, never by
// replacing the wrapped result.
type Observer interface {
	Observe(ctx context.Context, rec Record, next Continuation) (interface{}, error)
}

// Chain composes observers so the first one wraps the outermost frame:
// Chain(a, b).Observe(...) runs a, which calls through to b, which calls
// through to the real continuation.
type Chain []Observer

// Observe runs the chain around next.
func (c Chain) Observe(ctx context.Context, rec Record, next Continuation) (interface{}, error) {
	wrapped := next
	for i := len(c) - 1; i >= 0; i-- {
		o := c[i]
		innerNext := wrapped
		wrapped = func(ctx context.Context) (interface{}, error) {
			return o.Observe(ctx, rec, innerNext)
		}
	}
	return wrapped(ctx)
}
