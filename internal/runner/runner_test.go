package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/eventsub/internal/testutil"
)

type fakeHandler struct {
	fetch    func(ctx context.Context, r Reader) (Snapshot, error)
	compute  func(ctx context.Context, snap Snapshot) (Effect, error)
	commit   func(ctx context.Context, tx pgx.Tx, eff Effect) error
	computed bool
	committed bool
}

func (h *fakeHandler) Fetch(ctx context.Context, r Reader) (Snapshot, error) { return h.fetch(ctx, r) }
func (h *fakeHandler) Compute(ctx context.Context, snap Snapshot) (Effect, error) {
	h.computed = true
	return h.compute(ctx, snap)
}
func (h *fakeHandler) Commit(ctx context.Context, tx pgx.Tx, eff Effect) error {
	h.committed = true
	return h.commit(ctx, tx, eff)
}

func TestRun_HappyPath_CommitsBusinessRowInOneTransaction(t *testing.T) {
	pool := testutil.StartPostgres(t)

	h := &fakeHandler{
		fetch: func(ctx context.Context, r Reader) (Snapshot, error) {
			var one int
			if err := r.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
				return nil, err
			}
			return "listener-runner-happy", nil
		},
		compute: func(ctx context.Context, snap Snapshot) (Effect, error) {
			return snap, nil
		},
		commit: func(ctx context.Context, tx pgx.Tx, eff Effect) error {
			listenerID := eff.(string)
			_, err := tx.Exec(ctx, `
				INSERT INTO listener_cursors (listener_id, lease_holder, lease_expires_at)
				VALUES ($1, '', now())
			`, listenerID)
			return err
		},
	}

	require.NoError(t, Run(context.Background(), pool, h))
	assert.True(t, h.computed)
	assert.True(t, h.committed)

	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM listener_cursors WHERE listener_id = $1`, "listener-runner-happy").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRun_NilSnapshot_ShortCircuitsComputeAndCommit(t *testing.T) {
	pool := testutil.StartPostgres(t)

	h := &fakeHandler{
		fetch: func(ctx context.Context, r Reader) (Snapshot, error) {
			return nil, nil
		},
		compute: func(ctx context.Context, snap Snapshot) (Effect, error) {
			t.Fatal("Compute must not run when Fetch returns a nil Snapshot")
			return nil, nil
		},
		commit: func(ctx context.Context, tx pgx.Tx, eff Effect) error {
			t.Fatal("Commit must not run when Fetch returns a nil Snapshot")
			return nil
		},
	}

	require.NoError(t, Run(context.Background(), pool, h))
	assert.False(t, h.computed)
	assert.False(t, h.committed)
}

func TestRun_NilEffect_ShortCircuitsCommit(t *testing.T) {
	pool := testutil.StartPostgres(t)

	h := &fakeHandler{
		fetch: func(ctx context.Context, r Reader) (Snapshot, error) {
			return "snap", nil
		},
		compute: func(ctx context.Context, snap Snapshot) (Effect, error) {
			return nil, nil
		},
		commit: func(ctx context.Context, tx pgx.Tx, eff Effect) error {
			t.Fatal("Commit must not run when Compute returns a nil Effect")
			return nil
		},
	}

	require.NoError(t, Run(context.Background(), pool, h))
	assert.True(t, h.computed)
	assert.False(t, h.committed)
}

// TestRun_CommitError_RollsBackAllWrites exercises the all-or-nothing
// commit-phase invariant: a Commit that writes one row then fails must leave
// no trace of that row once Run returns its error.
func TestRun_CommitError_RollsBackAllWrites(t *testing.T) {
	pool := testutil.StartPostgres(t)

	h := &fakeHandler{
		fetch: func(ctx context.Context, r Reader) (Snapshot, error) {
			return "listener-runner-rollback", nil
		},
		compute: func(ctx context.Context, snap Snapshot) (Effect, error) {
			return snap, nil
		},
		commit: func(ctx context.Context, tx pgx.Tx, eff Effect) error {
			listenerID := eff.(string)
			if _, err := tx.Exec(ctx, `
				INSERT INTO listener_cursors (listener_id, lease_holder, lease_expires_at)
				VALUES ($1, '', now())
			`, listenerID); err != nil {
				return err
			}
			return errors.New("boom after partial write")
		},
	}

	err := Run(context.Background(), pool, h)
	assert.EqualError(t, err, "boom after partial write")

	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM listener_cursors WHERE listener_id = $1`, "listener-runner-rollback").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRun_FetchError_PropagatesAndSkipsComputeCommit(t *testing.T) {
	pool := testutil.StartPostgres(t)

	wantErr := errors.New("fetch failed")
	h := &fakeHandler{
		fetch: func(ctx context.Context, r Reader) (Snapshot, error) {
			return nil, wantErr
		},
		compute: func(ctx context.Context, snap Snapshot) (Effect, error) {
			t.Fatal("Compute must not run when Fetch errors")
			return nil, nil
		},
		commit: func(ctx context.Context, tx pgx.Tx, eff Effect) error {
			t.Fatal("Commit must not run when Fetch errors")
			return nil
		},
	}

	err := Run(context.Background(), pool, h)
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, h.computed)
	assert.False(t, h.committed)
}
