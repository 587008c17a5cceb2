package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name  string
	calls *[]string
}

func (r recordingObserver) Observe(ctx context.Context, rec Record, next Continuation) (interface{}, error) {
	*r.calls = append(*r.calls, r.name+":before")
	result, err := next(ctx)
	*r.calls = append(*r.calls, r.name+":after")
	return result, err
}

func TestChain_RunsObserversOutermostFirst(t *testing.T) {
	var calls []string
	chain := Chain{
		recordingObserver{name: "a", calls: &calls},
		recordingObserver{name: "b", calls: &calls},
	}

	result, err := chain.Observe(context.Background(), Record{CommandName: "get"}, func(ctx context.Context) (interface{}, error) {
		calls = append(calls, "op")
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"a:before", "b:before", "op", "b:after", "a:after"}, calls)
}

func TestChain_PropagatesErrorWithoutSuppressing(t *testing.T) {
	chain := Chain{recordingObserver{name: "a", calls: &[]string{}}}
	wantErr := errors.New("boom")

	_, err := chain.Observe(context.Background(), Record{}, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestChain_EmptyChainRunsContinuationDirectly(t *testing.T) {
	var chain Chain
	result, err := chain.Observe(context.Background(), Record{}, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestMetricsObserver_RecordsOutcomeOnSuccessAndError(t *testing.T) {
	mo := NewMetricsObserver("shardrelay_test_observer")

	_, err := mo.Observe(context.Background(), Record{ShardName: "shard-0", EntityClassName: "Phone", DAOClassName: "PhoneDAO", OperationVariant: "Get"},
		func(ctx context.Context) (interface{}, error) { return "phone", nil })
	require.NoError(t, err)

	_, err = mo.Observe(context.Background(), Record{ShardName: "shard-0", EntityClassName: "Phone", DAOClassName: "PhoneDAO", OperationVariant: "Get"},
		func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") })
	require.Error(t, err)
}
