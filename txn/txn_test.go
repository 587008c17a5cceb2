package txn

import (
	"context"
	"reflect"
	"testing"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldEq is a minimal entity.Criterion the in-memory fake gateway below
// knows how to evaluate by reflection; it exists purely for these tests and
// is not related to db.Eq (which only a real *gorm.DB can evaluate).
type fieldEq struct {
	Field string
	Value interface{}
}

func (f fieldEq) Clone() entity.Criterion { return f }

func fieldValue(e interface{}, field string) interface{} {
	v := reflect.ValueOf(e)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.FieldByName(field).Interface()
}

func matches(e interface{}, crit entity.Criterion) bool {
	fe, ok := crit.(fieldEq)
	if !ok {
		return true
	}
	return fieldValue(e, fe.Field) == fe.Value
}

type fakeGateway struct {
	name  string
	store []interface{}
}

func (g *fakeGateway) Name() string { return g.name }
func (g *fakeGateway) Close() error { return nil }
func (g *fakeGateway) BeginTx(ctx context.Context, readOnly bool) (db.Tx, error) {
	return &fakeTx{gw: g}, nil
}

type fakeTx struct{ gw *fakeGateway }

func (t *fakeTx) find(crit entity.Criterion) []interface{} {
	var out []interface{}
	for _, e := range t.gw.store {
		if matches(e, crit) {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTx) FetchOne(ctx context.Context, out interface{}, crit entity.Criterion, lock entity.LockMode) (bool, error) {
	matched := t.find(crit)
	if len(matched) == 0 {
		return false, nil
	}
	if len(matched) > 1 {
		return false, errs.NonUnique("fake fetch-one matched more than one row")
	}
	reflect.ValueOf(out).Elem().Set(reflect.ValueOf(matched[0]).Elem())
	return true, nil
}

func (t *fakeTx) FetchOneByField(ctx context.Context, out interface{}, field string, value interface{}, lock entity.LockMode) (bool, error) {
	return t.FetchOne(ctx, out, fieldEq{Field: field, Value: value}, lock)
}

func (t *fakeTx) List(ctx context.Context, model interface{}, out interface{}, params entity.SelectParams) error {
	matched := t.find(params.Criterion)
	slice := reflect.ValueOf(out).Elem()
	for _, e := range matched {
		slice.Set(reflect.Append(slice, reflect.ValueOf(e).Elem()))
	}
	return nil
}

func (t *fakeTx) Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (db.Cursor, error) {
	return &fakeCursor{rows: t.find(params.Criterion)}, nil
}

func (t *fakeTx) Count(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	return int64(len(t.find(crit))), nil
}

func (t *fakeTx) Persist(ctx context.Context, entityPtr interface{}) error {
	t.gw.store = append(t.gw.store, entityPtr)
	return nil
}

// Update matches the stored row by LookupKey: FetchOne hands out a fresh
// copy, so pointer equality with a stored row never holds.
func (t *fakeTx) Update(ctx context.Context, oldEntity, newEntity interface{}) error {
	id := fieldValue(oldEntity, "LookupKey")
	for i, e := range t.gw.store {
		if fieldValue(e, "LookupKey") == id {
			t.gw.store[i] = newEntity
			return nil
		}
	}
	return errs.NotFound("fake update: old entity not tracked")
}

func (t *fakeTx) Delete(ctx context.Context, entityPtr interface{}) error {
	for i, e := range t.gw.store {
		if e == entityPtr {
			t.gw.store = append(t.gw.store[:i], t.gw.store[i+1:]...)
			return nil
		}
	}
	return errs.NotFound("fake delete: entity not tracked")
}

func (t *fakeTx) NamedQueryExecute(ctx context.Context, nq entity.NamedQuery) (int64, error) {
	return 0, nil
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeCursor struct {
	rows []interface{}
	pos  int
}

func (c *fakeCursor) Next(ctx context.Context) (bool, error) {
	if c.pos >= len(c.rows) {
		return false, nil
	}
	c.pos++
	return true, nil
}

func (c *fakeCursor) Scan(dest interface{}) error {
	reflect.ValueOf(dest).Elem().Set(reflect.ValueOf(c.rows[c.pos-1]).Elem())
	return nil
}

func (c *fakeCursor) Close() error { return nil }

type phone struct {
	LookupKey string
	Value     string
}

func TestRunner_UpdateWithNilMutatorSucceedsWithoutChange(t *testing.T) {
	gw := &fakeGateway{name: "shard-0", store: []interface{}{&phone{LookupKey: "+15551234", Value: "original"}}}
	runner := NewRunner(nil)

	op := &opctx.Update{
		ModelValue: &phone{},
		Criterion:  fieldEq{Field: "LookupKey", Value: "+15551234"},
		Lock:       entity.LockNone,
		Mutator:    func(current interface{}) interface{} { return nil },
	}

	result, err := runner.Execute(context.Background(), gw, op, false, false, nil, observer.Record{CommandName: "update"})
	require.NoError(t, err)
	assert.Equal(t, true, result)
	assert.Equal(t, "original", gw.store[0].(*phone).Value)
}

func TestRunner_CreateOrUpdateIsIdempotentAndSkipsGeneratorOnSecondCall(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := NewRunner(nil)
	crit := fieldEq{Field: "LookupKey", Value: "testId"}

	generatorCalls := 0
	mutatorCalls := 0
	op := &opctx.CreateOrUpdate{
		ModelValue: &phone{},
		Criterion:  crit,
		Generator: func() interface{} {
			generatorCalls++
			return &phone{LookupKey: "testId", Value: "gen"}
		},
		Mutator: func(current interface{}) interface{} {
			mutatorCalls++
			p := current.(*phone)
			return &phone{LookupKey: p.LookupKey, Value: "new"}
		},
	}

	result, err := runner.Execute(context.Background(), gw, op, false, false, nil, observer.Record{CommandName: "createOrUpdate"})
	require.NoError(t, err)
	assert.Equal(t, "gen", result.(*phone).Value)
	assert.Equal(t, 1, generatorCalls)
	assert.Equal(t, 0, mutatorCalls)

	result, err = runner.Execute(context.Background(), gw, op, false, false, nil, observer.Record{CommandName: "createOrUpdate"})
	require.NoError(t, err)
	assert.Equal(t, "new", result.(*phone).Value)
	assert.Equal(t, 1, generatorCalls)
	assert.Equal(t, 1, mutatorCalls)
	require.Len(t, gw.store, 1)
}

func TestRunner_DeleteByKeyReportsFalseWhenAlreadyGone(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := NewRunner(nil)
	op := &opctx.DeleteByKey{ModelValue: &phone{}, Field: "LookupKey", Key: "+15551234"}

	result, err := runner.Execute(context.Background(), gw, op, false, false, nil, observer.Record{CommandName: "delete"})
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestRunner_NestedExecutionRequiresAnOpenTransaction(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := NewRunner(nil)
	op := &opctx.Count{ModelValue: &phone{}}

	_, err := runner.Execute(context.Background(), gw, op, false, true, nil, observer.Record{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestRunner_ObserverChainWrapsExecution(t *testing.T) {
	gw := &fakeGateway{name: "shard-0", store: []interface{}{&phone{LookupKey: "k", Value: "v"}}}
	var seenVariant string
	chain := observer.Chain{recorderObserver{seen: &seenVariant}}
	runner := NewRunner(chain)

	op := &opctx.GetByKey{ModelValue: &phone{}, Field: "LookupKey", Key: "k"}
	result, err := runner.Execute(context.Background(), gw, op, true, false, nil, observer.Record{})
	require.NoError(t, err)
	assert.Equal(t, "v", result.(*phone).Value)
	assert.Equal(t, "GetByKey", seenVariant)
}

type recorderObserver struct{ seen *string }

func (r recorderObserver) Observe(ctx context.Context, rec observer.Record, next observer.Continuation) (interface{}, error) {
	*r.seen = rec.OperationVariant
	return next(ctx)
}
