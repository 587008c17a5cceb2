// Package scatter implements ScatterGather: running the same read against
// every shard in a fleet, serially, and combining the per-shard results
// (spec.md §4.6). No partial results are ever returned: an error on any
// shard aborts the whole call, wrapped so the caller can see which shard
// failed.
package scatter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/txn"
)

// Gather runs read-only operations across a fixed, ordered fleet of
// shards. Shard 0..N-1 is always the iteration order, matching spec.md's
// "shard 0 to N-1" wording so scatter-gather results are reproducible.
type Gather struct {
	Gateways []db.SessionGateway
	Runner   *txn.Runner
}

// List concatenates, in shard order, every row matching crit/qs across all
// shards.
func (g Gather) List(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) ([]interface{}, error) {
	var all []interface{}
	for i, gw := range g.Gateways {
		op := &opctx.Select{ModelValue: model, Params: entity.SelectParams{Criterion: cloneFor(crit), QuerySpec: qs}}
		result, err := g.Runner.Execute(ctx, gw, op, true, false, nil, observer.Record{CommandName: "scatterGather.list"})
		if err != nil {
			return nil, errs.OperationFailed(fmt.Sprintf("scatter-gather list failed on shard %d (%s)", i, gw.Name()), err)
		}
		all = append(all, toInterfaceSlice(result)...)
	}
	return all, nil
}

// Counts returns one count per shard, aligned to shard index.
func (g Gather) Counts(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) ([]int64, error) {
	counts := make([]int64, len(g.Gateways))
	for i, gw := range g.Gateways {
		op := &opctx.Count{ModelValue: model, Criterion: cloneFor(crit), QuerySpec: qs}
		result, err := g.Runner.Execute(ctx, gw, op, true, false, nil, observer.Record{CommandName: "scatterGather.count"})
		if err != nil {
			return nil, errs.OperationFailed(fmt.Sprintf("scatter-gather count failed on shard %d (%s)", i, gw.Name()), err)
		}
		counts[i] = result.(int64)
	}
	return counts, nil
}

// Run is the generic form: translate receives each shard's raw row slice
// and the result is a map keyed by shard index. A nil translate stores the
// raw []interface{} for each shard.
func (g Gather) Run(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec, translate func(shardIndex int, rows []interface{}) interface{}) (map[int]interface{}, error) {
	out := make(map[int]interface{}, len(g.Gateways))
	for i, gw := range g.Gateways {
		op := &opctx.Select{ModelValue: model, Params: entity.SelectParams{Criterion: cloneFor(crit), QuerySpec: qs}}
		result, err := g.Runner.Execute(ctx, gw, op, true, false, nil, observer.Record{CommandName: "scatterGather.run"})
		if err != nil {
			return nil, errs.OperationFailed(fmt.Sprintf("scatter-gather run failed on shard %d (%s)", i, gw.Name()), err)
		}
		rows := toInterfaceSlice(result)
		if translate != nil {
			out[i] = translate(i, rows)
		} else {
			out[i] = rows
		}
	}
	return out, nil
}

func cloneFor(crit entity.Criterion) entity.Criterion {
	if crit == nil {
		return nil
	}
	return crit.Clone()
}

// toInterfaceSlice unwraps the *[]T a VisitSelect call returns (newSlice
// allocates a pointer to the slice so GORM has an addressable destination)
// into one addressable row pointer per element.
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
