package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/testutil"
)

func TestAppend_FetchAfter_OrdersAndExcludes(t *testing.T) {
	pool := testutil.StartPostgres(t)
	store := New(pool)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		id, err := Append(ctx, tx, "message:created", "msg-1", map[string]interface{}{"n": i})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		ids = append(ids, id)
	}

	events, err := store.FetchAfter(ctx, ids[0], 10, []int64{ids[1]})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ids[2], events[0].ID)
	assert.Equal(t, "message:created", events[0].EventType)
}

func TestNotifyChange_WakesSubscriber(t *testing.T) {
	pool := testutil.StartPostgres(t)
	ctx := context.Background()

	bus := NewBus()
	sub := NewSubscriber(pool, "eventsub_test_channel", bus)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = sub.Run(runCtx) }()
	time.Sleep(200 * time.Millisecond) // let LISTEN register

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, NotifyChange(ctx, tx, "eventsub_test_channel"))
	require.NoError(t, tx.Commit(ctx))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestHealthPing_Succeeds(t *testing.T) {
	pool := testutil.StartPostgres(t)
	store := New(pool)
	assert.NoError(t, store.HealthPing(context.Background()))
}
