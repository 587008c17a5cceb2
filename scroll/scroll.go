// Package scroll implements ScrollEngine: cross-shard ordered iteration
// via a caller-held ScrollPointer, per spec.md §4.7. Each Step call fetches
// pageSize rows from every shard starting at that shard's already-consumed
// offset, merges by (sortField value, shard index), and advances only the
// shards whose rows were taken.
package scroll

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/evalgo-org/shardrelay/txn"
)

// Direction orients a scroll: Ascending backs scrollDown, Descending backs
// scrollUp (spec.md §4.7).
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Pointer is the opaque cursor state a caller threads through successive
// Step calls: a direction plus one offset per shard, counting rows already
// consumed on that shard. Pointers are one-shot per direction — passing a
// Pointer built for the other direction into Step fails with
// errs.KindInvalidArgument (spec.md §3: "mixing directions is a caller
// error").
type Pointer struct {
	Direction Direction
	Offsets   map[int]int
}

// NewPointer allocates a fresh Pointer with every shard's offset at zero.
func NewPointer(direction Direction, shardCount int) Pointer {
	offsets := make(map[int]int, shardCount)
	for i := 0; i < shardCount; i++ {
		offsets[i] = 0
	}
	return Pointer{Direction: direction, Offsets: offsets}
}

func (p Pointer) clone() Pointer {
	offsets := make(map[int]int, len(p.Offsets))
	for k, v := range p.Offsets {
		offsets[k] = v
	}
	return Pointer{Direction: p.Direction, Offsets: offsets}
}

// Result is what Step returns: the advanced Pointer and the merged rows
// taken this step, of length at most pageSize.
type Result struct {
	Pointer Pointer
	Rows    []interface{}
}

// Engine drives ScrollEngine.Step over a fixed shard fleet.
type Engine struct {
	Gateways  []db.SessionGateway
	Runner    *txn.Runner
	SortField string
}

type rowWithShard struct {
	entity     interface{}
	shardIndex int
	sortValue  interface{}
}

// Step executes one scroll step. A nil pointer allocates a fresh one
// oriented in direction. crit is deep-cloned per shard before the sort
// order is attached, so the caller's original criterion is never mutated.
func (e Engine) Step(ctx context.Context, model interface{}, crit entity.Criterion, direction Direction, pointer *Pointer, pageSize int) (Result, error) {
	if pageSize <= 0 {
		return Result{}, errs.InvalidArgument("pageSize must be positive")
	}

	var p Pointer
	if pointer == nil {
		p = NewPointer(direction, len(e.Gateways))
	} else {
		if pointer.Direction != direction {
			return Result{}, errs.InvalidArgument("scroll pointer direction does not match requested direction")
		}
		p = pointer.clone()
	}

	order := e.SortField + " ASC"
	if direction == Descending {
		order = e.SortField + " DESC"
	}

	var candidates []rowWithShard
	for i, gw := range e.Gateways {
		offset := p.Offsets[i]
		shardCrit := crit
		if shardCrit != nil {
			shardCrit = shardCrit.Clone()
		}
		ordered, ok := shardCrit.(db.GormCriterion)
		var orderedCrit entity.Criterion
		if shardCrit == nil {
			orderedCrit = db.OrderBy{Order: order}
		} else if ok {
			orderedCrit = db.OrderBy{Inner: ordered, Order: order}
		} else {
			return Result{}, errs.SpecError(fmt.Sprintf("scroll criterion %T does not implement db.GormCriterion", shardCrit))
		}

		start := offset
		numRows := pageSize
		op := &opctx.Select{
			ModelValue: model,
			Params: entity.SelectParams{
				Criterion: orderedCrit,
				Start:     &start,
				NumRows:   &numRows,
			},
		}
		result, err := e.Runner.Execute(ctx, gw, op, true, false, nil, observer.Record{CommandName: "scroll.step", ShardName: gw.Name()})
		if err != nil {
			return Result{}, errs.OperationFailed(fmt.Sprintf("scroll step failed on shard %d (%s)", i, gw.Name()), err)
		}

		rv := reflect.ValueOf(result)
		if rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		for j := 0; j < rv.Len(); j++ {
			row := rv.Index(j).Addr().Interface()
			sortValue, err := fieldValue(row, e.SortField)
			if err != nil {
				return Result{}, err
			}
			candidates = append(candidates, rowWithShard{entity: row, shardIndex: i, sortValue: sortValue})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return lessCandidate(candidates[a], candidates[b], direction)
	})

	if len(candidates) > pageSize {
		candidates = candidates[:pageSize]
	}

	taken := make([]interface{}, 0, len(candidates))
	perShardTaken := make(map[int]int)
	for _, c := range candidates {
		taken = append(taken, c.entity)
		perShardTaken[c.shardIndex]++
	}
	for shardIndex, n := range perShardTaken {
		p.Offsets[shardIndex] += n
	}

	return Result{Pointer: p, Rows: taken}, nil
}

func lessCandidate(a, b rowWithShard, direction Direction) bool {
	cmp := compareValues(a.sortValue, b.sortValue)
	if cmp != 0 {
		if direction == Ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	return a.shardIndex < b.shardIndex
}

func fieldValue(entity interface{}, field string) (interface{}, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	fv := v.FieldByName(field)
	if !fv.IsValid() {
		return nil, errs.SpecError(fmt.Sprintf("sort field %q not found on %T", field, entity))
	}
	return fv.Interface(), nil
}

// compareValues orders two sort-field values: numeric kinds compare
// numerically, strings lexically, time.Time chronologically, and anything
// exposing Before(interface{}) bool compares via that method. Mixed or unsupported
// types compare equal, which only affects the shard-index tiebreak.
func compareValues(a, b interface{}) int {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(av) && isInt(bv):
		ai, bi := av.Int(), bv.Int()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case isUint(av) && isUint(bv):
		ai, bi := av.Uint(), bv.Uint()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case isFloat(av) && isFloat(bv):
		ai, bi := av.Float(), bv.Float()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case av.Kind() == reflect.String && bv.Kind() == reflect.String:
		as, bs := av.String(), bv.String()
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if before, ok := a.(interface{ Before(interface{}) bool }); ok {
		if before.Before(b) {
			return -1
		}
		if after, ok := b.(interface{ Before(interface{}) bool }); ok && after.Before(a) {
			return 1
		}
	}
	return 0
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func isUint(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

func isFloat(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
