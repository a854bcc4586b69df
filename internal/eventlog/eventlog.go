// Package eventlog implements the append-only, totally-ordered Event Log
// (outbox) that every business transaction writes into, and the
// change-notification side channel that wakes up dispatcher subscribers.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/eventsub/internal/model"
)

// Store is the Event Log backed by Postgres. Append must be called with a
// caller-owned transaction so the event row commits atomically with the
// business rows it describes.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts one event row inside tx and returns its assigned id.
func Append(ctx context.Context, tx pgx.Tx, eventType, aggregateID string, payload map[string]interface{}) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (event_type, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`, eventType, aggregateID, b).Scan(&id)
	return id, err
}

// NotifyChange issues a NOTIFY on the configured channel from within tx, so
// the signal is only visible to subscribers once the transaction commits.
func NotifyChange(ctx context.Context, tx pgx.Tx, channel string) error {
	_, err := tx.Exec(ctx, "SELECT pg_notify($1, '')", channel)
	return err
}

// FetchAfter returns up to maxBatch events with id > afterID and id not in
// exclude, ordered ascending.
func (s *Store) FetchAfter(ctx context.Context, afterID int64, maxBatch int, exclude []int64) ([]model.Event, error) {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, aggregate_id, payload, created_at
		FROM events
		WHERE id > $1 AND NOT (id = ANY($2))
		ORDER BY id ASC
		LIMIT $3
	`, afterID, exclude, maxBatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.AggregateID, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HealthPing verifies database connectivity with a SELECT 1 on the pool.
func (s *Store) HealthPing(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// Subscriber listens for change notifications on a dedicated pgx connection
// and fans them out to an in-process Bus. Readers must still poll at a bounded
// interval since notifications may be missed across reconnects.
type Subscriber struct {
	pool    *pgxpool.Pool
	channel string
	bus     *Bus
}

func NewSubscriber(pool *pgxpool.Pool, channel string, bus *Bus) *Subscriber {
	return &Subscriber{pool: pool, channel: channel, bus: bus}
}

// Run acquires a dedicated connection, issues LISTEN, and broadcasts every
// notification until ctx is canceled. On connection loss it reconnects with
// backoff; callers must tolerate the gap via their own poll fallback.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := 200 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 200 * time.Millisecond
	}
}

func (s *Subscriber) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		s.bus.Publish()
	}
}
