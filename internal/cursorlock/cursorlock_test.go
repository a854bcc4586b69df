package cursorlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/testutil"
)

func TestLock_Run_RegistersAndAdvancesCursor(t *testing.T) {
	pool := testutil.StartPostgres(t)
	cfg := Config{LockDuration: time.Second, MaxRetries: 3, BaseBackoff: 10 * time.Millisecond}
	lock := New(pool, "listener-a", "holder-1", cfg, zerolog.Nop())

	var sawCursor Cursor
	err := lock.Run(context.Background(), func(ctx context.Context, cur Cursor) ProcessResult {
		sawCursor = cur
		return ProcessResult{Kind: Processed, NewCursor: 42}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sawCursor.LastProcessedID)

	var lastID int64
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT last_processed_id FROM listener_cursors WHERE listener_id = $1`, "listener-a").Scan(&lastID))
	assert.Equal(t, int64(42), lastID)
}

// TestLock_Run_LeaseTakeover exercises seed scenario 4: listener A holds the
// lease, crashes mid-batch after recording processedIds but before advancing
// lastProcessedId; after the lease expires, listener B acquires and sees the
// partial progress A left behind.
func TestLock_Run_LeaseTakeover(t *testing.T) {
	pool := testutil.StartPostgres(t)
	shortLease := Config{LockDuration: 200 * time.Millisecond, MaxRetries: 10, BaseBackoff: 50 * time.Millisecond}

	lockA := New(pool, "listener-b", "holder-a", shortLease, zerolog.Nop())
	err := lockA.Run(context.Background(), func(ctx context.Context, cur Cursor) ProcessResult {
		// A crashes mid-batch: it recorded event 5 as processed but never
		// advanced lastProcessedId.
		return ProcessResult{Kind: ErrorPartial, ProcessedIDs: []int64{5}, Err: assert.AnError}
	})
	assert.Error(t, err) // ErrorPartial surfaces r.Err to the caller

	time.Sleep(shortLease.LockDuration + 100*time.Millisecond)

	lockB := New(pool, "listener-b", "holder-b", shortLease, zerolog.Nop())
	var sawCursor Cursor
	err = lockB.Run(context.Background(), func(ctx context.Context, cur Cursor) ProcessResult {
		sawCursor = cur
		return ProcessResult{Kind: NoEvents}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sawCursor.LastProcessedID)
	assert.Equal(t, []int64{5}, sawCursor.ProcessedIDs)
}

// TestLock_Run_NoOverlappingHolders exercises the mutual-exclusion
// invariant: two concurrent Run calls on the same listener never both
// observe Kind != NoEvents inside the work function at once (one loses the
// acquire race and either blocks out via retries or the other has already
// released).
func TestLock_Run_NoOverlappingHolders(t *testing.T) {
	pool := testutil.StartPostgres(t)
	cfg := Config{LockDuration: 500 * time.Millisecond, MaxRetries: 5, BaseBackoff: 20 * time.Millisecond}

	var concurrent int32
	var maxConcurrent int32
	work := func(ctx context.Context, cur Cursor) ProcessResult {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return ProcessResult{Kind: NoEvents}
	}

	lockA := New(pool, "listener-c", "holder-a", cfg, zerolog.Nop())
	lockB := New(pool, "listener-c", "holder-b", cfg, zerolog.Nop())

	done := make(chan error, 2)
	go func() { done <- lockA.Run(context.Background(), work) }()
	go func() { done <- lockB.Run(context.Background(), work) }()

	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}
