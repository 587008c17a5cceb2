package router

import (
	"context"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/scatter"
	"github.com/evalgo-org/shardrelay/shardid"
	"github.com/evalgo-org/shardrelay/txn"
)

// RelatedRouter is the parent-keyed public surface: routing uses a
// parentKey distinct from the child entity's own identity (spec.md §4.5).
type RelatedRouter struct {
	gateways   []db.SessionGateway
	assignment shardid.Assignment
	runner     *txn.Runner
	model      interface{}
}

// NewRelatedRouter validates the fleet exactly as NewRouter does; child
// entities have no single required descriptor since routing never uses
// their identity field, only the caller-supplied parentKey.
func NewRelatedRouter(gateways []db.SessionGateway, assignment shardid.Assignment, runner *txn.Runner, model interface{}) (*RelatedRouter, error) {
	if err := validateFleet(gateways, assignment); err != nil {
		return nil, err
	}
	return &RelatedRouter{gateways: gateways, assignment: assignment, runner: runner, model: model}, nil
}

func (rr *RelatedRouter) shardFor(parentKey string) (db.SessionGateway, error) {
	idx, err := rr.assignment.IndexFor(parentKey)
	if err != nil {
		return nil, err
	}
	return rr.gateways[idx], nil
}

func (rr *RelatedRouter) record(command string) observer.Record {
	return observer.Record{CommandName: command}
}

// Select lists child rows on the shard owning parentKey.
func (rr *RelatedRouter) Select(ctx context.Context, parentKey string, crit entity.Criterion, qs entity.QuerySpec, start, num *int) ([]interface{}, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return nil, err
	}
	op := &opctx.Select{ModelValue: rr.model, Params: entity.SelectParams{Criterion: crit, QuerySpec: qs, Start: start, NumRows: num}}
	result, err := rr.runner.Execute(ctx, gw, op, true, false, nil, rr.record("relatedRouter.select"))
	if err != nil {
		return nil, err
	}
	return toInterfaceSlice(result), nil
}

// SelectNested builds the closure a readonlyctx.Augmenter.Select field
// needs to run a nested select against an already-open transaction on
// gateway, reusing the caller's session instead of opening a new one
// (spec.md §4.9's "same session" requirement).
func (rr *RelatedRouter) SelectNested(ctx context.Context, gateway db.SessionGateway) func(tx db.Tx, crit entity.Criterion, qs entity.QuerySpec) (interface{}, error) {
	return func(tx db.Tx, crit entity.Criterion, qs entity.QuerySpec) (interface{}, error) {
		op := &opctx.Select{ModelValue: rr.model, Params: entity.SelectParams{Criterion: crit, QuerySpec: qs}}
		result, err := rr.runner.Execute(ctx, gateway, op, true, true, tx, rr.record("relatedRouter.select"))
		if err != nil {
			return nil, err
		}
		return toInterfaceSlice(result), nil
	}
}

// CreateOrUpdate fetches under WRITE_NOWAIT by crit on the shard owning
// parentKey; absent rows are generated and persisted, present rows mutated.
func (rr *RelatedRouter) CreateOrUpdate(ctx context.Context, parentKey string, crit entity.Criterion, mutator opctx.Mutator, generator opctx.Generator) (interface{}, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return nil, err
	}
	op := &opctx.CreateOrUpdate{ModelValue: rr.model, Criterion: crit, Mutator: mutator, Generator: generator}
	return rr.runner.Execute(ctx, gw, op, false, false, nil, rr.record("relatedRouter.createOrUpdate"))
}

// SaveAll persists every entity on the shard owning parentKey.
func (rr *RelatedRouter) SaveAll(ctx context.Context, parentKey string, entities []interface{}) (bool, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return false, err
	}
	op := &opctx.SaveAll{ModelValue: rr.model, Entities: entities}
	result, err := rr.runner.Execute(ctx, gw, op, false, false, nil, rr.record("relatedRouter.saveAll"))
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// UpdateAll lists rows in [start,num) matching crit and mutates each;
// if any mutator call returns nil, nothing is persisted and the call
// reports false.
func (rr *RelatedRouter) UpdateAll(ctx context.Context, parentKey string, start, num *int, crit entity.Criterion, mutator opctx.Mutator) (bool, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return false, err
	}
	op := &opctx.UpdateAll{ModelValue: rr.model, Params: entity.SelectParams{Criterion: crit, Start: start, NumRows: num}, Mutator: mutator}
	result, err := rr.runner.Execute(ctx, gw, op, false, false, nil, rr.record("relatedRouter.updateAll"))
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Count returns the number of child rows matching crit/qs on the shard
// owning parentKey.
func (rr *RelatedRouter) Count(ctx context.Context, parentKey string, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return 0, err
	}
	op := &opctx.Count{ModelValue: rr.model, Criterion: crit, QuerySpec: qs}
	result, err := rr.runner.Execute(ctx, gw, op, true, false, nil, rr.record("relatedRouter.count"))
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Exists reports whether a child row with idField = id exists on the
// shard owning parentKey.
func (rr *RelatedRouter) Exists(ctx context.Context, parentKey, idField, id string) (bool, error) {
	gw, err := rr.shardFor(parentKey)
	if err != nil {
		return false, err
	}
	op := &opctx.Get{ModelValue: rr.model, Criterion: db.Eq{Column: idField, Value: id}}
	result, err := rr.runner.Execute(ctx, gw, op, true, false, nil, rr.record("relatedRouter.exists"))
	if err != nil {
		return false, err
	}
	return result != nil, nil
}

// AllShards scatter-gathers crit/qs across the whole fleet, serially.
func (rr *RelatedRouter) AllShards(ctx context.Context, crit entity.Criterion, qs entity.QuerySpec) ([]interface{}, error) {
	g := scatter.Gather{Gateways: rr.gateways, Runner: rr.runner}
	return g.List(ctx, rr.model, crit, qs)
}

// The methods below build closures of shape func(tx db.Tx, parent
// interface{}) error — the primitive a LockedContext.Enqueue call needs to
// run a nested RelatedRouter write against the context's shared
// transaction (spec.md §4.5: "All RelatedRouter operations additionally
// have variants that take a LockedContext ... they reuse the context's
// shard index and open transaction"). Callers obtain gateway from
// lockedctx.LockedContext.Gateway().

// SaveNested enqueues a single child persist.
func (rr *RelatedRouter) SaveNested(gateway db.SessionGateway, child interface{}) func(tx db.Tx, parent interface{}) error {
	return func(tx db.Tx, parent interface{}) error {
		op := &opctx.Save{Entity: child}
		_, err := rr.runner.Execute(context.Background(), gateway, op, false, true, tx, rr.record("relatedRouter.save"))
		return err
	}
}

// SaveAllNested enqueues a bulk child persist.
func (rr *RelatedRouter) SaveAllNested(gateway db.SessionGateway, children []interface{}) func(tx db.Tx, parent interface{}) error {
	return func(tx db.Tx, parent interface{}) error {
		op := &opctx.SaveAll{ModelValue: rr.model, Entities: children}
		_, err := rr.runner.Execute(context.Background(), gateway, op, false, true, tx, rr.record("relatedRouter.saveAll"))
		return err
	}
}

// UpdateNested enqueues a fetch-under-criterion-then-mutate using
// CreateOrUpdateInLockedContext semantics: absent rows are generated from
// the parent via generatorFromParent, present rows are mutated.
func (rr *RelatedRouter) UpdateNested(gateway db.SessionGateway, crit entity.Criterion, generatorFromParent func(parent interface{}) interface{}, mutator opctx.Mutator) func(tx db.Tx, parent interface{}) error {
	return func(tx db.Tx, parent interface{}) error {
		op := &opctx.CreateOrUpdateInLockedContext{
			ModelValue:          rr.model,
			Criterion:           crit,
			GeneratorFromParent: generatorFromParent,
			Parent:              parent,
			Mutator:             mutator,
		}
		_, err := rr.runner.Execute(context.Background(), gateway, op, false, true, tx, rr.record("relatedRouter.createOrUpdateInLockedContext"))
		return err
	}
}

// UpdateWithScrollNested enqueues RelatedRouter.update(criteria, mutator,
// updateNext)'s scrollable-cursor form: iterate rows matching crit,
// mutating each and persisting unless mutator returns nil (which aborts),
// stopping after continueFn returns false.
func (rr *RelatedRouter) UpdateWithScrollNested(gateway db.SessionGateway, crit entity.Criterion, mutator opctx.Mutator, continueFn func() bool) func(tx db.Tx, parent interface{}) error {
	return func(tx db.Tx, parent interface{}) error {
		op := &opctx.UpdateWithScroll{ModelValue: rr.model, Params: entity.ScrollParams{Criterion: crit}, Mutator: mutator, Continue: continueFn}
		_, err := rr.runner.Execute(context.Background(), gateway, op, false, true, tx, rr.record("relatedRouter.updateWithScroll"))
		return err
	}
}
