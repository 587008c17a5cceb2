package lockedctx

import (
	"context"
	"errors"
	"testing"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type company struct {
	ID   string
	Name string
}

type department struct {
	CompanyID string
	Name      string
}

type fakeGateway struct {
	name        string
	companies   []interface{}
	departments []interface{}
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
	return nil
}
func (t *fakeTx) Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (db.Cursor, error) {
	return nil, nil
}
func (t *fakeTx) Count(ctx context.Context, model interface{}, crit entity.Criterion, qs entity.QuerySpec) (int64, error) {
	return 0, nil
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

func TestLockedContext_SaveAndGetPersistsParentThenQueuedChildren(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := txn.NewRunner(nil)

	saver := func(tx db.Tx, entity interface{}) (interface{}, error) {
		c := entity.(*company)
		gw.companies = append(gw.companies, c)
		return c, nil
	}

	lc := NewWithSaver(gw, runner, &company{}, saver, &company{ID: "1", Name: "Acme"})
	lc.Enqueue(func(tx db.Tx, parent interface{}) error {
		c := parent.(*company)
		gw.departments = append(gw.departments, &department{CompanyID: c.ID, Name: "Eng"})
		return nil
	})
	lc.Enqueue(func(tx db.Tx, parent interface{}) error {
		c := parent.(*company)
		gw.departments = append(gw.departments, &department{CompanyID: c.ID, Name: "Sales"})
		return nil
	})

	result, err := lc.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Acme", result.(*company).Name)
	assert.Len(t, gw.companies, 1)
	assert.Len(t, gw.departments, 2)
	assert.Equal(t, Done, lc.State())
}

func TestLockedContext_GetterReturningNilFailsWithNotFound(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := txn.NewRunner(nil)

	lc := NewWithGetter(gw, runner, &company{}, func(tx db.Tx) (interface{}, error) {
		return nil, nil
	})

	_, err := lc.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Equal(t, Failed, lc.State())
}

func TestLockedContext_QueuedOpFailureRollsBackAndWrapsAsOperationFailed(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := txn.NewRunner(nil)

	saveCalls := 0
	saver := func(tx db.Tx, entity interface{}) (interface{}, error) {
		return entity, nil
	}
	lc := NewWithSaver(gw, runner, &company{}, saver, &company{ID: "1"})
	lc.Enqueue(func(tx db.Tx, parent interface{}) error {
		saveCalls++
		return nil
	})
	lc.Enqueue(func(tx db.Tx, parent interface{}) error {
		return errors.New("child save exploded")
	})

	_, err := lc.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindOperationFailed))
	assert.Equal(t, 1, saveCalls)
	assert.Equal(t, Failed, lc.State())
}

func TestLockedContext_FilterRejectsParentWithConstraintViolation(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := txn.NewRunner(nil)
	cause := errors.New("company is archived")

	lc := NewWithGetter(gw, runner, &company{}, func(tx db.Tx) (interface{}, error) {
		return &company{ID: "1"}, nil
	})
	lc.Filter(func(parent interface{}) bool { return false }, cause)

	_, err := lc.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindOperationFailed))
}

func TestLockedContext_ExecuteCalledTwiceFailsOnSecondCall(t *testing.T) {
	gw := &fakeGateway{name: "shard-0"}
	runner := txn.NewRunner(nil)
	lc := NewWithGetter(gw, runner, &company{}, func(tx db.Tx) (interface{}, error) {
		return &company{ID: "1"}, nil
	})

	_, err := lc.Execute(context.Background())
	require.NoError(t, err)

	_, err = lc.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}
