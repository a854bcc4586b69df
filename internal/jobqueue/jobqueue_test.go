package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/testutil"
)

func TestQueue_Send_SingletonKeyDeduplicates(t *testing.T) {
	pool := testutil.StartPostgres(t)
	q := New(pool)

	send := func() string {
		tx, err := pool.Begin(context.Background())
		require.NoError(t, err)
		id, err := q.Send(context.Background(), tx, QueueEmbedding, map[string]interface{}{"messageId": "m1"}, SendOptions{
			SingletonKey:    "embed-m1",
			SingletonWindow: time.Minute,
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(context.Background()))
		return id
	}

	first := send()
	assert.NotEmpty(t, first)
	second := send()
	assert.Empty(t, second) // dedup path returns "" per Send's singleton contract

	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM job_queue_messages WHERE singleton_key = $1`, "embed-m1").Scan(&count))
	assert.Equal(t, 1, count)
}

// TestQueue_Send_MessageIDIdempotent exercises seed scenario 5: concurrent
// sends with the same caller-supplied messageId both return that id and
// exactly one row exists.
func TestQueue_Send_MessageIDIdempotent(t *testing.T) {
	pool := testutil.StartPostgres(t)
	q := New(pool)

	const wantID = "queue_rerun_X"
	results := make([]string, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			tx, err := pool.Begin(context.Background())
			require.NoError(t, err)
			id, err := q.Send(context.Background(), tx, QueueCompanionResponse, map[string]interface{}{}, SendOptions{MessageID: wantID})
			require.NoError(t, err)
			require.NoError(t, tx.Commit(context.Background()))
			results[i] = id
		}()
	}
	wg.Wait()

	assert.Equal(t, wantID, results[0])
	assert.Equal(t, wantID, results[1])

	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM job_queue_messages WHERE id = $1`, wantID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestQueue_Dequeue_RespectsPriorityAndSkipsLocked(t *testing.T) {
	pool := testutil.StartPostgres(t)
	q := New(pool)

	enqueue := func(priority Priority, id string) {
		tx, err := pool.Begin(context.Background())
		require.NoError(t, err)
		_, err = q.Send(context.Background(), tx, QueueEmbedding, map[string]interface{}{"id": id}, SendOptions{MessageID: id, Priority: priority})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(context.Background()))
	}
	enqueue(PriorityLow, "low")
	enqueue(PriorityUrgent, "urgent")

	j, err := q.Dequeue(context.Background(), []string{QueueEmbedding}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "urgent", j.ID)
	assert.Equal(t, model.JobStateRunning, j.State)
}

func TestQueue_Fail_DeadLettersAfterRetryLimit(t *testing.T) {
	pool := testutil.StartPostgres(t)
	q := New(pool)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	id, err := q.Send(context.Background(), tx, QueueEmbedding, map[string]interface{}{}, SendOptions{MessageID: "dead-1", RetryLimit: 1})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	_, err = q.Dequeue(context.Background(), []string{QueueEmbedding}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.Fail(context.Background(), id, errors.New("boom"), time.Millisecond, time.Second))

	var state string
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT state FROM job_queue_messages WHERE id = $1`, id).Scan(&state))
	assert.Equal(t, "dead", state)
}

func TestQueue_ReapExpiredLeases_ReturnsJobToPending(t *testing.T) {
	pool := testutil.StartPostgres(t)
	q := New(pool)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	id, err := q.Send(context.Background(), tx, QueueEmbedding, map[string]interface{}{}, SendOptions{MessageID: "reap-1"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	_, err = q.Dequeue(context.Background(), []string{QueueEmbedding}, -time.Second) // already-expired lease
	require.NoError(t, err)

	n, err := q.ReapExpiredLeases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var state string
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT state FROM job_queue_messages WHERE id = $1`, id).Scan(&state))
	assert.Equal(t, "pending", state)
}
