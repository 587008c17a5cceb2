package scroll

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID int
}

type fakeGateway struct {
	name  string
	store []*row
}

func (g *fakeGateway) Name() string { return g.name }
func (g *fakeGateway) Close() error { return nil }
func (g *fakeGateway) BeginTx(ctx context.Context, readOnly bool) (db.Tx, error) {
	return &fakeTx{gw: g}, nil
}

type fakeTx struct{ gw *fakeGateway }

func (t *fakeTx) FetchOne(ctx context.Context, out interface{}, crit entity.Criterion, lock entity.LockMode) (bool, error) {
	return false, nil
}
func (t *fakeTx) FetchOneByField(ctx context.Context, out interface{}, field string, value interface{}, lock entity.LockMode) (bool, error) {
	return false, nil
}

// List ignores any equality predicate (these tests only ever filter via a
// db.OrderBy wrapping a nil inner criterion) and honors Order/Start/NumRows
// exactly as ScrollEngine constructs them.
func (t *fakeTx) List(ctx context.Context, model interface{}, out interface{}, params entity.SelectParams) error {
	ob, _ := params.Criterion.(db.OrderBy)
	descending := strings.HasSuffix(ob.Order, "DESC")

	sorted := make([]*row, len(t.gw.store))
	copy(sorted, t.gw.store)
	sort.Slice(sorted, func(i, j int) bool {
		if descending {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].ID < sorted[j].ID
	})

	start := 0
	if params.Start != nil {
		start = *params.Start
	}
	end := len(sorted)
	if params.NumRows != nil && start+*params.NumRows < end {
		end = start + *params.NumRows
	}
	if start > len(sorted) {
		start = len(sorted)
	}
	page := sorted[start:end]

	slice := reflect.ValueOf(out).Elem()
	for _, r := range page {
		slice.Set(reflect.Append(slice, reflect.ValueOf(r).Elem()))
	}
	return nil
}

func (t *fakeTx) Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (db.Cursor, error) {
	return nil, nil
}
func (t *fakeTx) Count(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	return int64(len(t.gw.store)), nil
}
func (t *fakeTx) Persist(ctx context.Context, entityPtr interface{}) error { return nil }
func (t *fakeTx) Update(ctx context.Context, oldEntity, newEntity interface{}) error {
	return nil
}
func (t *fakeTx) Delete(ctx context.Context, entityPtr interface{}) error { return nil }
func (t *fakeTx) NamedQueryExecute(ctx context.Context, nq entity.NamedQuery) (int64, error) {
	return 0, nil
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

func idsOf(rows []interface{}) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.(*row).ID
	}
	return out
}

func shardStore(n int, ids ...int) *fakeGateway {
	store := make([]*row, len(ids))
	for i, id := range ids {
		store[i] = &row{ID: id}
	}
	return &fakeGateway{name: fmt.Sprintf("shard-%d", n), store: store}
}

func TestEngine_StepMergesAscendingAcrossShards(t *testing.T) {
	shard0 := shardStore(0, 1, 3, 5, 7)
	shard1 := shardStore(1, 2, 4, 6, 8)
	e := Engine{
		Gateways:  []db.SessionGateway{shard0, shard1},
		Runner:    txn.NewRunner(nil),
		SortField: "ID",
	}

	result, err := e.Step(context.Background(), &row{}, nil, Ascending, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, idsOf(result.Rows))
	assert.Equal(t, 2, result.Pointer.Offsets[0])
	assert.Equal(t, 2, result.Pointer.Offsets[1])

	next, err := e.Step(context.Background(), &row{}, nil, Ascending, &result.Pointer, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7, 8}, idsOf(next.Rows))
}

func TestEngine_StepSupportsDescendingScrollUp(t *testing.T) {
	shard0 := shardStore(0, 1, 3, 5)
	shard1 := shardStore(1, 2, 4, 6)
	e := Engine{
		Gateways:  []db.SessionGateway{shard0, shard1},
		Runner:    txn.NewRunner(nil),
		SortField: "ID",
	}

	result, err := e.Step(context.Background(), &row{}, nil, Descending, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 5, 4}, idsOf(result.Rows))
}

func TestEngine_StepRejectsPointerBuiltForTheOtherDirection(t *testing.T) {
	e := Engine{Gateways: []db.SessionGateway{shardStore(0, 1)}, Runner: txn.NewRunner(nil), SortField: "ID"}
	p := NewPointer(Ascending, 1)

	_, err := e.Step(context.Background(), &row{}, nil, Descending, &p, 2)
	require.Error(t, err)
}

func TestEngine_StepCoversLargeInterleavedDatasetAcrossMultipleSteps(t *testing.T) {
	ids0 := make([]int, 0, 200)
	ids1 := make([]int, 0, 200)
	for i := 1; i <= 400; i++ {
		if i%2 == 1 {
			ids0 = append(ids0, i)
		} else {
			ids1 = append(ids1, i)
		}
	}
	e := Engine{
		Gateways:  []db.SessionGateway{shardStore(0, ids0...), shardStore(1, ids1...)},
		Runner:    txn.NewRunner(nil),
		SortField: "ID",
	}

	var pointer *Pointer
	var seen []int
	for i := 0; i < 40; i++ {
		result, err := e.Step(context.Background(), &row{}, nil, Ascending, pointer, 10)
		require.NoError(t, err)
		seen = append(seen, idsOf(result.Rows)...)
		pointer = &result.Pointer
	}

	require.Len(t, seen, 400)
	for i, id := range seen {
		assert.Equal(t, i+1, id)
	}
}

func TestEngine_ObserverChainSeesEachShardStep(t *testing.T) {
	var seen []string
	chain := observer.Chain{recordingObserver{seen: &seen}}
	e := Engine{
		Gateways:  []db.SessionGateway{shardStore(0, 1), shardStore(1, 2)},
		Runner:    txn.NewRunner(chain),
		SortField: "ID",
	}

	_, err := e.Step(context.Background(), &row{}, nil, Ascending, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"scroll.step", "scroll.step"}, seen)
}

type recordingObserver struct{ seen *[]string }

func (r recordingObserver) Observe(ctx context.Context, rec observer.Record, next observer.Continuation) (interface{}, error) {
	*r.seen = append(*r.seen, rec.CommandName)
	return next(ctx)
}
