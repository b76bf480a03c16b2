package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint-trader/internal/account"
	"mint-trader/internal/config"
	"mint-trader/internal/execution"
	"mint-trader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.Error(t, err)
}

func TestRecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordBuys(ctx, "b1", []account.BuyResult{
		{Account: "alice", Placed: 1, Failed: 1, Err: errors.New("boom")},
	})
	svc.RecordPass(ctx, "b1", 1, []account.PassResult{{Account: "alice", Finished: true, Sold: 1}})
	svc.RecordBatch(ctx, execution.BatchReport{ID: "b1", Outcome: execution.OutcomeCompleted, Rounds: 1})
	svc.RecordRefresh(ctx, []account.Snapshot{{Name: "alice", Health: 10, Alive: true}}, nil)

	all, err := svc.ListEvents(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, EventRefresh, all[0].Type)
	assert.Equal(t, EventBuy, all[3].Type)

	batch, err := svc.ListEvents(ctx, Filter{BatchID: "b1"})
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	buys, err := svc.ListEvents(ctx, Filter{Type: EventBuy, Limit: 10})
	require.NoError(t, err)
	require.Len(t, buys, 1)

	raw, ok := buys[0].Payload.(json.RawMessage)
	require.True(t, ok)
	var payload BuyPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Accounts, 1)
	assert.Equal(t, "boom", payload.Accounts[0].Error)
	assert.Equal(t, 1, payload.Accounts[0].Failed)
}

func TestRecord_SurvivesCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.RecordBatch(ctx, execution.BatchReport{ID: "b2", Outcome: execution.OutcomeCancelled})

	events, err := svc.ListEvents(context.Background(), Filter{Type: EventBatch})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b2", events[0].BatchID)
}

func TestListEvents_Limit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for range 5 {
		svc.RecordError(ctx, "刷新失败", errors.New("timeout"), map[string]interface{}{"account": "alice"})
	}

	events, err := svc.ListEvents(ctx, Filter{Type: EventError, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
