// Package readonlyctx implements ReadOnlyContext: a read pipeline pinned to
// one shard that fetches a parent (single or page) and then runs a
// registration-ordered list of augmenters against it, each resolving its
// own QueryFilterSpec (package assoc) and invoking a RelatedRouter-backed
// select (spec.md §4.9).
package readonlyctx

import (
	"context"
	"reflect"

	"github.com/evalgo-org/shardrelay/assoc"
	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/txn"
)

// Augmenter is one registered child-fetch step. Predicate gates whether it
// runs at all; Filter resolves the criterion/query-spec the Select closure
// (a RelatedRouter's nested-mode select, bound by the caller) runs against
// the parent; Consume receives the parent and the fetched children.
type Augmenter struct {
	Predicate func(parent interface{}) bool
	Filter    assoc.Filter
	Select    func(tx db.Tx, crit entity.Criterion, qs entity.QuerySpec) (interface{}, error)
	Consume   func(parent interface{}, children interface{}) error
}

// ReadOnlyContext accumulates Augmenters and runs them, in registration
// order, against a parent fetched once per Execute call.
type ReadOnlyContext struct {
	gateway         db.SessionGateway
	runner          *txn.Runner
	model           interface{}
	getter          func(tx db.Tx) (interface{}, error)
	populator       func(tx db.Tx) (bool, error)
	augmenters      []Augmenter
	skipTransaction bool
}

// New builds a ReadOnlyContext whose parent comes from getter.
func New(gateway db.SessionGateway, runner *txn.Runner, model interface{}, getter func(tx db.Tx) (interface{}, error)) *ReadOnlyContext {
	return &ReadOnlyContext{gateway: gateway, runner: runner, model: model, getter: getter}
}

// WithPopulator registers the on-demand hydration hook: if the parent
// getter's first call returns an empty result, populator runs once, and if
// it reports true the getter is retried exactly once more.
func (rc *ReadOnlyContext) WithPopulator(populator func(tx db.Tx) (bool, error)) *ReadOnlyContext {
	rc.populator = populator
	return rc
}

// SkipTransaction marks this context to run its getter/augmenters without
// explicit rollback-on-error bookkeeping, the `skipReadOnlyTransaction`
// configuration option (spec.md §6). The underlying SessionGateway still
// hands back a Tx — it is the only query-capable handle this library
// defines — but no commit/rollback pairing is enforced around it, matching
// "getter runs directly on the open session" as closely as that primitive
// allows.
func (rc *ReadOnlyContext) SkipTransaction() *ReadOnlyContext {
	rc.skipTransaction = true
	return rc
}

// Augment appends a child-fetch step.
func (rc *ReadOnlyContext) Augment(a Augmenter) *ReadOnlyContext {
	rc.augmenters = append(rc.augmenters, a)
	return rc
}

// Execute runs the getter, optional populator retry, and every augmenter in
// order, returning the (possibly still-empty) parent.
func (rc *ReadOnlyContext) Execute(ctx context.Context) (interface{}, error) {
	tx, err := rc.gateway.BeginTx(ctx, true)
	if err != nil {
		return nil, err
	}

	op := rc.buildOp(tx)
	rec := observer.Record{CommandName: "readOnlyContext.execute"}

	if rc.skipTransaction {
		result, err := rc.runner.Execute(ctx, rc.gateway, op, false, true, tx, rec)
		_ = tx.Commit()
		return result, err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	result, err := rc.runner.Execute(ctx, rc.gateway, op, false, true, tx, rec)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

func (rc *ReadOnlyContext) buildOp(tx db.Tx) *opctx.ReadOnly {
	return &opctx.ReadOnly{
		ModelValue: rc.model,
		Getter:     func() (interface{}, error) { return rc.getter(tx) },
		Populator:  rc.boundPopulator(tx),
		Handlers:   rc.boundHandlers(tx),
	}
}

func (rc *ReadOnlyContext) boundPopulator(tx db.Tx) func() (bool, error) {
	if rc.populator == nil {
		return nil
	}
	return func() (bool, error) { return rc.populator(tx) }
}

func (rc *ReadOnlyContext) boundHandlers(tx db.Tx) []func(parent interface{}) error {
	handlers := make([]func(parent interface{}) error, len(rc.augmenters))
	for i, a := range rc.augmenters {
		a := a
		handlers[i] = func(parent interface{}) error {
			for _, instance := range parentInstances(parent) {
				if a.Predicate != nil && !a.Predicate(instance) {
					continue
				}
				crit, qs, err := a.Filter.Resolve(instance)
				if err != nil {
					return err
				}
				children, err := a.Select(tx, crit, qs)
				if err != nil {
					return err
				}
				if err := a.Consume(instance, children); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return handlers
}

// parentInstances normalizes a fetched parent into the individual instances
// an augmenter must run against: a single-entity parent yields itself, and a
// page parent (a slice, or a pointer to one) yields one addressable instance
// per row, so each row gets its own Filter/Select/Consume pass (spec.md
// §4.9, §8 step 3).
func parentInstances(parent interface{}) []interface{} {
	v := reflect.ValueOf(parent)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		if elem := v.Elem(); elem.Kind() == reflect.Slice {
			v = elem
		} else {
			return []interface{}{parent}
		}
	}
	if v.Kind() != reflect.Slice {
		return []interface{}{parent}
	}
	instances := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		item := v.Index(i)
		switch {
		case item.Kind() == reflect.Interface:
			instances[i] = item.Interface()
		case item.CanAddr():
			instances[i] = item.Addr().Interface()
		default:
			instances[i] = item.Interface()
		}
	}
	return instances
}

// Empty reports whether a ReadOnlyContext's fetched parent should be
// treated as absent: a nil interface, a nil pointer, or an empty slice.
// Exported for callers that need to branch on the result without
// re-deriving the executing visitor's isEmptyParent logic.
func Empty(parent interface{}) bool {
	if parent == nil {
		return true
	}
	v := reflect.ValueOf(parent)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Slice:
		return v.Len() == 0
	default:
		return false
	}
}
