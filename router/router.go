// Package router implements Router (the lookup-keyed public surface,
// spec.md §4.4) and RelatedRouter (the parent-keyed surface over
// independently-identified child rows, spec.md §4.5). Both map a string key
// to a shard via a shardid.Assignment, build an opctx.Op describing the
// work, and run it through a shared txn.Runner.
package router

import (
	"context"
	"reflect"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/lockedctx"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/readonlyctx"
	"github.com/evalgo-org/shardrelay/scatter"
	"github.com/evalgo-org/shardrelay/scroll"
	"github.com/evalgo-org/shardrelay/shardid"
	"github.com/evalgo-org/shardrelay/txn"
)

// Router is the lookup-keyed public surface: one string key routes to
// exactly one shard.
type Router struct {
	gateways   []db.SessionGateway
	assignment shardid.Assignment
	runner     *txn.Runner
	model      interface{}
	descriptor entity.Descriptor
}

// NewRouter validates the fleet (spec.md §8 boundary behaviors — empty
// fleet and a malformed entity descriptor are both rejected at
// construction) and builds a Router.
func NewRouter(gateways []db.SessionGateway, assignment shardid.Assignment, runner *txn.Runner, model interface{}, descriptor entity.Descriptor) (*Router, error) {
	if err := validateFleet(gateways, assignment); err != nil {
		return nil, err
	}
	if err := validateDescriptor(descriptor); err != nil {
		return nil, err
	}
	return &Router{gateways: gateways, assignment: assignment, runner: runner, model: model, descriptor: descriptor}, nil
}

func validateFleet(gateways []db.SessionGateway, assignment shardid.Assignment) error {
	if len(gateways) == 0 {
		return errs.InvalidArgument("shard fleet must not be empty")
	}
	seen := make(map[string]bool, len(gateways))
	for _, gw := range gateways {
		if seen[gw.Name()] {
			return errs.InvalidArgument("duplicate shard name: " + gw.Name())
		}
		seen[gw.Name()] = true
	}
	if assignment.ShardCount() != len(gateways) {
		return errs.InvalidArgument("shard assignment count does not match gateway fleet size")
	}
	return nil
}

func validateDescriptor(d entity.Descriptor) error {
	if d.KeyField == "" || d.Key == nil {
		return errs.SpecError("entity descriptor requires exactly one id/lookup-key field and accessor")
	}
	return nil
}

func (r *Router) shardFor(key string) (db.SessionGateway, error) {
	idx, err := r.assignment.IndexFor(key)
	if err != nil {
		return nil, err
	}
	return r.gateways[idx], nil
}

func (r *Router) record(command string) observer.Record {
	return observer.Record{CommandName: command}
}

// Get fetches at most one row by key under LockMode NONE.
func (r *Router) Get(ctx context.Context, key string) (interface{}, error) {
	return r.GetWithLock(ctx, key, entity.LockNone)
}

// GetWithLock is Get with a caller-chosen lock mode (the "criterion mutator
// that may elevate the lock" variant spec.md §4.4 describes).
func (r *Router) GetWithLock(ctx context.Context, key string, lock entity.LockMode) (interface{}, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	op := &opctx.GetByKey{ModelValue: r.model, Field: r.descriptor.KeyField, Key: key, Lock: lock}
	return r.runner.Execute(ctx, gw, op, true, false, nil, r.record("router.get"))
}

// GetMany groups keys by shard (per spec.md §4.4) and aggregates in shard
// order; per-shard fetches are serial.
func (r *Router) GetMany(ctx context.Context, keys []string) ([]interface{}, error) {
	byShard := make(map[int][]string)
	for _, key := range keys {
		idx, err := r.assignment.IndexFor(key)
		if err != nil {
			return nil, err
		}
		byShard[idx] = append(byShard[idx], key)
	}

	var all []interface{}
	for i, gw := range r.gateways {
		shardKeys := byShard[i]
		if len(shardKeys) == 0 {
			continue
		}
		values := make([]interface{}, len(shardKeys))
		for j, k := range shardKeys {
			values[j] = k
		}
		op := &opctx.Select{ModelValue: r.model, Params: entity.SelectParams{Criterion: db.In{Column: r.descriptor.KeyField, Values: values}}}
		result, err := r.runner.Execute(ctx, gw, op, true, false, nil, r.record("router.getMany"))
		if err != nil {
			return nil, errs.OperationFailed("router.getMany failed on shard "+gw.Name(), err)
		}
		all = append(all, toInterfaceSlice(result)...)
	}
	return all, nil
}

// Save derives the routing key from the entity descriptor, persists it in
// a write transaction, and returns the augmented entity.
func (r *Router) Save(ctx context.Context, e interface{}) (interface{}, error) {
	return r.SaveWithHandler(ctx, e, nil)
}

// SaveWithHandler is Save plus a handler run against the augmented entity
// before commit.
func (r *Router) SaveWithHandler(ctx context.Context, e interface{}, handler func(interface{}) (interface{}, error)) (interface{}, error) {
	key, err := r.descriptor.Key(e)
	if err != nil {
		return nil, err
	}
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	var transform opctx.PostTransform
	if handler != nil {
		transform = handler
	}
	op := &opctx.Save{Entity: e, Transform: transform}
	return r.runner.Execute(ctx, gw, op, false, false, nil, r.record("router.save"))
}

// UpdateInLock fetches under WRITE_NOWAIT and applies mutator.
func (r *Router) UpdateInLock(ctx context.Context, key string, mutator opctx.Mutator) (bool, error) {
	return r.update(ctx, key, entity.LockWriteNoWait, mutator)
}

// Update fetches under LockMode NONE and applies mutator.
func (r *Router) Update(ctx context.Context, key string, mutator opctx.Mutator) (bool, error) {
	return r.update(ctx, key, entity.LockNone, mutator)
}

func (r *Router) update(ctx context.Context, key string, lock entity.LockMode, mutator opctx.Mutator) (bool, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return false, err
	}
	op := &opctx.GetAndUpdate{ModelValue: r.model, Field: r.descriptor.KeyField, Key: key, Lock: lock, Mutator: mutator}
	result, err := r.runner.Execute(ctx, gw, op, false, false, nil, r.record("router.update"))
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// UpdateByNamedQuery executes a pre-declared statement on the shard owning
// key and returns the affected-row count.
func (r *Router) UpdateByNamedQuery(ctx context.Context, key string, query entity.NamedQuery) (int64, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return 0, err
	}
	op := &opctx.UpdateByNamedQuery{ModelValue: r.model, Query: query}
	result, err := r.runner.Execute(ctx, gw, op, false, false, nil, r.record("router.updateByNamedQuery"))
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Delete fetches under WRITE_NOWAIT and deletes if present.
func (r *Router) Delete(ctx context.Context, key string) (bool, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return false, err
	}
	op := &opctx.DeleteByKey{ModelValue: r.model, Field: r.descriptor.KeyField, Key: key}
	result, err := r.runner.Execute(ctx, gw, op, false, false, nil, r.record("router.delete"))
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Exists is short for Get(key) != nil.
func (r *Router) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return result != nil, nil
}

// CreateOrUpdate fetches under WRITE_NOWAIT; absent rows are generated and
// persisted, present rows are mutated. Returns the row re-read after the
// write (see DESIGN.md's resolution of spec.md §9's Open Question).
func (r *Router) CreateOrUpdate(ctx context.Context, key string, mutator opctx.Mutator, generator opctx.Generator) (interface{}, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	op := &opctx.CreateOrUpdate{ModelValue: r.model, Criterion: db.Eq{Column: r.descriptor.KeyField, Value: key}, Mutator: mutator, Generator: generator}
	return r.runner.Execute(ctx, gw, op, false, false, nil, r.record("router.createOrUpdate"))
}

// RunInSession hands handler the shard's db.Tx (boxed as interface{}) on a
// read transaction.
func (r *Router) RunInSession(ctx context.Context, key string, handler func(tx interface{}) (interface{}, error)) (interface{}, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	op := &opctx.RunInSession{ModelValue: r.model, Handler: handler}
	return r.runner.Execute(ctx, gw, op, true, false, nil, r.record("router.runInSession"))
}

// LockAndGet builds a LockedContext wired to fetch-under-WRITE_NOWAIT.
func (r *Router) LockAndGet(key string) (*lockedctx.LockedContext, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	getter := func(tx db.Tx) (interface{}, error) {
		out := newInstance(r.model)
		found, err := tx.FetchOneByField(context.Background(), out, r.descriptor.KeyField, key, entity.LockWriteNoWait)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return out, nil
	}
	return lockedctx.NewWithGetter(gw, r.runner, r.model, getter), nil
}

// SaveAndGet builds a LockedContext wired to persist-entity.
func (r *Router) SaveAndGet(e interface{}) (*lockedctx.LockedContext, error) {
	key, err := r.descriptor.Key(e)
	if err != nil {
		return nil, err
	}
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	saver := func(tx db.Tx, entityValue interface{}) (interface{}, error) {
		if err := tx.Persist(context.Background(), entityValue); err != nil {
			return nil, err
		}
		return entityValue, nil
	}
	return lockedctx.NewWithSaver(gw, r.runner, r.model, saver, e), nil
}

// ReadOnly builds a ReadOnlyContext whose parent getter fetches key under
// lock (NONE by default).
func (r *Router) ReadOnly(key string, lock entity.LockMode) (*readonlyctx.ReadOnlyContext, error) {
	gw, err := r.shardFor(key)
	if err != nil {
		return nil, err
	}
	getter := func(tx db.Tx) (interface{}, error) {
		out := newInstance(r.model)
		found, err := tx.FetchOneByField(context.Background(), out, r.descriptor.KeyField, key, lock)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return out, nil
	}
	return readonlyctx.New(gw, r.runner, r.model, getter), nil
}

// ScatterGather runs crit/qs against every shard serially and concatenates.
func (r *Router) ScatterGather(ctx context.Context, crit entity.Criterion, qs entity.QuerySpec) ([]interface{}, error) {
	g := scatter.Gather{Gateways: r.gateways, Runner: r.runner}
	return g.List(ctx, r.model, crit, qs)
}

// Count sums per-shard counts for crit/qs across the whole fleet.
func (r *Router) Count(ctx context.Context, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	g := scatter.Gather{Gateways: r.gateways, Runner: r.runner}
	counts, err := g.Counts(ctx, r.model, crit, qs)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// ScrollDown/ScrollUp drive a scroll.Engine step in the matching direction.
func (r *Router) ScrollDown(ctx context.Context, crit entity.Criterion, pointer *scroll.Pointer, pageSize int, sortField string) (scroll.Result, error) {
	e := scroll.Engine{Gateways: r.gateways, Runner: r.runner, SortField: sortField}
	return e.Step(ctx, r.model, crit, scroll.Ascending, pointer, pageSize)
}

func (r *Router) ScrollUp(ctx context.Context, crit entity.Criterion, pointer *scroll.Pointer, pageSize int, sortField string) (scroll.Result, error) {
	e := scroll.Engine{Gateways: r.gateways, Runner: r.runner, SortField: sortField}
	return e.Step(ctx, r.model, crit, scroll.Descending, pointer, pageSize)
}

func newInstance(model interface{}) interface{} {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

// toInterfaceSlice unwraps the *[]T a Select/SelectAndUpdate-style
// VisitSelect call returns into one addressable row pointer per element.
func toInterfaceSlice(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Addr().Interface()
	}
	return out
}

