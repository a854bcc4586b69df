// Package cursorlock implements the lease-based mutual-exclusion primitive
// that lets only one process at a time advance a named listener's cursor
// through the Event Log, with heartbeat renewal and crash takeover by
// compare-and-swap on (lease_holder, lease_expires_at).
package cursorlock

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chatcore/eventsub/internal/model"
)

// Config holds per-listener tuning, mirroring spec field names verbatim.
type Config struct {
	LockDuration      time.Duration
	RefreshInterval   time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
	BatchSize         int
}

func (c Config) withDefaults() Config {
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = c.LockDuration / 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Cursor is the snapshot of a listener's progress handed to the work
// function. ProcessedIDs is capped at Config.BatchSize entries (see
// Lock.applyResult) per the spec's recommended hard cap on the informally
// bounded partial-progress set.
type Cursor struct {
	ListenerID      string
	LastProcessedID int64
	ProcessedIDs    []int64
}

// ProcessResult is the outcome of one work invocation, mirroring the four
// variants named in the spec.
type ProcessResult struct {
	Kind         ResultKind
	NewCursor    int64
	ProcessedIDs []int64
	Err          error
}

type ResultKind int

const (
	NoEvents ResultKind = iota
	Processed
	ProcessedPartial
	ErrorPartial
)

// Lock manages the lease for one listener id.
type Lock struct {
	pool       *pgxpool.Pool
	listenerID string
	self       string
	cfg        Config
	log        zerolog.Logger
}

func New(pool *pgxpool.Pool, listenerID, selfToken string, cfg Config, log zerolog.Logger) *Lock {
	return &Lock{pool: pool, listenerID: listenerID, self: selfToken, cfg: cfg.withDefaults(), log: log}
}

// Run acquires the lease, starts the heartbeat, invokes work, applies its
// result, and releases the lease on exit. It returns model.ErrLeaseUnavailable
// if the lease could not be acquired within MaxRetries.
func (l *Lock) Run(ctx context.Context, work func(ctx context.Context, cur Cursor) ProcessResult) error {
	cur, err := l.acquire(ctx)
	if err != nil {
		return err
	}

	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stolen := make(chan struct{})
	go l.heartbeat(heartbeatCtx, stolen)

	defer l.release(ctx)

	workCtx, workCancel := context.WithCancel(ctx)
	defer workCancel()
	go func() {
		select {
		case <-stolen:
			workCancel()
		case <-heartbeatCtx.Done():
		}
	}()

	result := work(workCtx, cur)
	return l.applyResult(ctx, result)
}

func (l *Lock) acquire(ctx context.Context) (Cursor, error) {
	var attempt int
	for attempt = 0; attempt < l.cfg.MaxRetries; attempt++ {
		cur, ok, err := l.tryAcquire(ctx)
		if err != nil {
			return Cursor{}, err
		}
		if ok {
			return cur, nil
		}
		backoff := l.cfg.BaseBackoff * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2 + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return Cursor{}, ctx.Err()
		}
	}
	return Cursor{}, model.ErrLeaseUnavailable
}

func (l *Lock) tryAcquire(ctx context.Context) (Cursor, bool, error) {
	var cur Cursor
	var processedIDs []int64
	// Upsert rather than UPDATE: a listener's row may not exist yet on its
	// first run, and INSERT ... ON CONFLICT DO UPDATE ... WHERE lets the
	// same statement both register a brand-new listener (acquiring
	// immediately) and contend for an existing lease that is released (empty
	// holder), expired, or self-held.
	// pgx/v5 has no encoder from time.Duration to Postgres' interval type, so
	// the lock duration is passed as seconds and turned into an interval in
	// SQL with make_interval, the same idiom the teacher uses for backoff
	// intervals in its outbox worker.
	err := l.pool.QueryRow(ctx, `
		INSERT INTO listener_cursors (listener_id, lease_holder, lease_expires_at)
		VALUES ($3, $1, now() + make_interval(secs => $2))
		ON CONFLICT (listener_id) DO UPDATE
		SET lease_holder = $1, lease_expires_at = now() + make_interval(secs => $2), updated_at = now()
		WHERE listener_cursors.lease_holder = $1 OR listener_cursors.lease_holder = '' OR listener_cursors.lease_expires_at < now()
		RETURNING last_processed_id, processed_ids
	`, l.self, l.cfg.LockDuration.Seconds(), l.listenerID).Scan(&cur.LastProcessedID, &processedIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	cur.ListenerID = l.listenerID
	cur.ProcessedIDs = processedIDs
	return cur, true, nil
}

func (l *Lock) heartbeat(ctx context.Context, stolen chan<- struct{}) {
	ticker := time.NewTicker(l.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tag, err := l.pool.Exec(ctx, `
				UPDATE listener_cursors
				SET lease_expires_at = now() + make_interval(secs => $1), updated_at = now()
				WHERE listener_id = $2 AND lease_holder = $3
			`, l.cfg.LockDuration.Seconds(), l.listenerID, l.self)
			if err != nil || tag.RowsAffected() == 0 {
				l.log.Warn().Str("listener_id", l.listenerID).Err(err).Msg("cursor lease lost, aborting work")
				close(stolen)
				return
			}
		}
	}
}

func (l *Lock) applyResult(ctx context.Context, r ProcessResult) error {
	capped := cap64(r.ProcessedIDs, l.cfg.BatchSize)
	switch r.Kind {
	case NoEvents:
		return nil
	case Processed:
		_, err := l.pool.Exec(ctx, `
			UPDATE listener_cursors SET last_processed_id = $1, processed_ids = '{}', updated_at = now()
			WHERE listener_id = $2 AND lease_holder = $3
		`, r.NewCursor, l.listenerID, l.self)
		return err
	case ProcessedPartial:
		_, err := l.pool.Exec(ctx, `
			UPDATE listener_cursors SET processed_ids = $1, updated_at = now()
			WHERE listener_id = $2 AND lease_holder = $3
		`, capped, l.listenerID, l.self)
		return err
	case ErrorPartial:
		if r.NewCursor > 0 {
			_, err := l.pool.Exec(ctx, `
				UPDATE listener_cursors SET last_processed_id = $1, processed_ids = $2, updated_at = now()
				WHERE listener_id = $3 AND lease_holder = $4
			`, r.NewCursor, capped, l.listenerID, l.self)
			if err != nil {
				return err
			}
		} else if len(capped) > 0 {
			_, err := l.pool.Exec(ctx, `
				UPDATE listener_cursors SET processed_ids = $1, updated_at = now()
				WHERE listener_id = $2 AND lease_holder = $3
			`, capped, l.listenerID, l.self)
			if err != nil {
				return err
			}
		}
		l.log.Error().Stack().Err(r.Err).Str("listener_id", l.listenerID).Msg("listener batch failed partway")
		return r.Err
	default:
		return nil
	}
}

func (l *Lock) release(ctx context.Context) {
	_, err := l.pool.Exec(ctx, `
		UPDATE listener_cursors SET lease_holder = '', updated_at = now()
		WHERE listener_id = $1 AND lease_holder = $2
	`, l.listenerID, l.self)
	if err != nil {
		l.log.Warn().Err(err).Str("listener_id", l.listenerID).Msg("failed to release cursor lease")
	}
}

// cap64 truncates ids to at most n entries, keeping the most recent additions.
func cap64(ids []int64, n int) []int64 {
	if n <= 0 || len(ids) <= n {
		return ids
	}
	return ids[len(ids)-n:]
}
