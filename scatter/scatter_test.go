package scatter

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/observer"
	"github.com/evalgo-org/shardrelay/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSimulatedShardFailure = errors.New("simulated shard failure")

type widget struct {
	ID    string
	State string
}

type fakeGateway struct {
	name    string
	store   []interface{}
	failAll bool
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

func (t *fakeTx) List(ctx context.Context, model interface{}, out interface{}, params entity.SelectParams) error {
	if t.gw.failAll {
		return errSimulatedShardFailure
	}
	slice := reflect.ValueOf(out).Elem()
	for _, e := range t.gw.store {
		slice.Set(reflect.Append(slice, reflect.ValueOf(e).Elem()))
	}
	return nil
}

func (t *fakeTx) Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (db.Cursor, error) {
	return nil, nil
}

func (t *fakeTx) Count(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	if t.gw.failAll {
		return 0, errSimulatedShardFailure
	}
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

func gateways(perShard ...[]interface{}) []db.SessionGateway {
	out := make([]db.SessionGateway, len(perShard))
	for i, store := range perShard {
		out[i] = &fakeGateway{name: "shard-" + string(rune('0'+i)), store: store}
	}
	return out
}

func TestGather_ListConcatenatesInShardOrder(t *testing.T) {
	shard0 := []interface{}{&widget{ID: "a"}, &widget{ID: "b"}}
	shard1 := []interface{}{&widget{ID: "c"}}
	g := Gather{Gateways: gateways(shard0, shard1), Runner: txn.NewRunner(nil)}

	rows, err := g.List(context.Background(), &widget{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].(*widget).ID)
	assert.Equal(t, "b", rows[1].(*widget).ID)
	assert.Equal(t, "c", rows[2].(*widget).ID)
}

func TestGather_CountsAreAlignedToShardIndex(t *testing.T) {
	shard0 := []interface{}{&widget{ID: "a"}, &widget{ID: "b"}}
	shard1 := []interface{}{}
	shard2 := []interface{}{&widget{ID: "c"}}
	g := Gather{Gateways: gateways(shard0, shard1, shard2), Runner: txn.NewRunner(nil)}

	counts, err := g.Counts(context.Background(), &widget{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, 1}, counts)
}

func TestGather_RunAppliesTranslateAndKeysByShardIndex(t *testing.T) {
	shard0 := []interface{}{&widget{ID: "a"}}
	shard1 := []interface{}{&widget{ID: "b"}, &widget{ID: "c"}}
	g := Gather{Gateways: gateways(shard0, shard1), Runner: txn.NewRunner(nil)}

	out, err := g.Run(context.Background(), &widget{}, nil, nil, func(shardIndex int, rows []interface{}) interface{} {
		return len(rows)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out[0])
	assert.Equal(t, 2, out[1])
}

func TestGather_AbortsWithoutPartialResultsWhenAnyShardFails(t *testing.T) {
	g := Gather{
		Gateways: []db.SessionGateway{
			&fakeGateway{name: "shard-0", store: []interface{}{&widget{ID: "a"}}},
			&fakeGateway{name: "shard-1", failAll: true},
		},
		Runner: txn.NewRunner(nil),
	}

	rows, err := g.List(context.Background(), &widget{}, nil, nil)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.True(t, errs.Is(err, errs.KindOperationFailed))

	counts, err := g.Counts(context.Background(), &widget{}, nil, nil)
	require.Error(t, err)
	assert.Nil(t, counts)
}

func TestGather_ObserverChainSeesEachShardCall(t *testing.T) {
	var seen []string
	chain := observer.Chain{recordingObserver{seen: &seen}}
	g := Gather{Gateways: gateways([]interface{}{&widget{ID: "a"}}), Runner: txn.NewRunner(chain)}

	_, err := g.List(context.Background(), &widget{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"scatterGather.list"}, seen)
}

type recordingObserver struct{ seen *[]string }

func (r recordingObserver) Observe(ctx context.Context, rec observer.Record, next observer.Continuation) (interface{}, error) {
	*r.seen = append(*r.seen, rec.CommandName)
	return next(ctx)
}
