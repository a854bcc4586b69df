// Package jobqueue implements the durable, multi-queue, priority-and-retry
// work queue. Dequeue leases a row with FOR UPDATE SKIP LOCKED, the same
// idiom as the outbox worker this package generalizes; Send absorbs duplicate
// caller-supplied ids instead of failing, which is the idempotency contract
// the Retrieval Loop's re-run sessions rely on.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/eventsub/internal/model"
)

// Priority is an ordered enumeration; higher runs first within a queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Queue names, closed per the external interface contract.
const (
	QueueBoundaryExtract    = "boundary-extract"
	QueueNamingGenerate     = "naming-generate"
	QueueMemoBatchCheck     = "memo-batch-check"
	QueueMemoBatchProcess   = "memo-batch-process"
	QueueEmbedding          = "embedding"
	QueueCompanionResponse  = "companion-response"
)

type SendOptions struct {
	MessageID       string
	Priority        Priority
	RetryLimit      int
	SingletonKey    string
	SingletonWindow time.Duration
}

type Queue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Send enqueues payload on queue. If opts.MessageID is set and a job with
// that id already exists, the existing id is returned rather than an error.
// Without a MessageID, the id is a random UUID and a conflict on it is
// returned as an error.
func (q *Queue) Send(ctx context.Context, tx pgx.Tx, queue string, payload map[string]interface{}, opts SendOptions) (string, error) {
	id := opts.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	retryLimit := opts.RetryLimit
	if retryLimit <= 0 {
		retryLimit = 8
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	if opts.SingletonKey != "" {
		window := opts.SingletonWindow
		if window <= 0 {
			window = time.Minute
		}
		var exists bool
		// pgx/v5 does not encode time.Duration as interval; pass seconds and
		// build the interval in SQL with make_interval, per the teacher's
		// outbox-worker idiom.
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM job_queue_messages
				WHERE singleton_key = $1 AND state IN ('pending','running')
				AND created_at > now() - make_interval(secs => $2)
			)
		`, opts.SingletonKey, window.Seconds()).Scan(&exists)
		if err != nil {
			return "", err
		}
		if exists {
			return "", nil
		}
	}

	var returnedID string
	err = tx.QueryRow(ctx, `
		INSERT INTO job_queue_messages (id, queue, payload, priority, retry_limit, singleton_key, state, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), 'pending', now())
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`, id, queue, b, int(opts.Priority), retryLimit, opts.SingletonKey).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		if opts.MessageID == "" {
			return "", errors.New("jobqueue: duplicate job id " + id)
		}
		// conflicting caller-supplied id already present; that is the
		// idempotent-return path.
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return returnedID, nil
}

// Dequeue leases the highest-priority, earliest-eligible pending job across
// queues, atomically transitioning it to running and granting a visibility
// lease of leaseDuration.
func (q *Queue) Dequeue(ctx context.Context, queues []string, leaseDuration time.Duration) (*model.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var j model.Job
	var raw []byte
	var singletonKey *string
	err = tx.QueryRow(ctx, `
		SELECT id, queue, payload, priority, state, attempts, retry_limit, singleton_key, next_attempt_at, created_at, updated_at
		FROM job_queue_messages
		WHERE queue = ANY($1) AND state = 'pending' AND next_attempt_at <= now()
		ORDER BY priority DESC, next_attempt_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, queues).Scan(&j.ID, &j.Queue, &raw, &j.Priority, &j.State, &j.Attempts, &j.RetryLimit, &singletonKey, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &j.Payload)
	}
	j.SingletonKey = singletonKey

	leaseExpires := time.Now().Add(leaseDuration)
	if _, err := tx.Exec(ctx, `
		UPDATE job_queue_messages SET state = 'running', lease_expires_at = $1, updated_at = now()
		WHERE id = $2
	`, leaseExpires, j.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.State = model.JobStateRunning
	j.LeaseExpiresAt = &leaseExpires
	return &j, nil
}

// Complete transitions a job to its terminal success state.
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `UPDATE job_queue_messages SET state = 'done', updated_at = now() WHERE id = $1`, id)
	return err
}

// Fail records a handler failure. If attempts remain, the job returns to
// pending with exponential backoff and jitter; otherwise it moves to dead.
func (q *Queue) Fail(ctx context.Context, id string, cause error, baseBackoff time.Duration, maxBackoff time.Duration) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	var attempts, retryLimit int
	if err := q.pool.QueryRow(ctx, `SELECT attempts, retry_limit FROM job_queue_messages WHERE id = $1`, id).Scan(&attempts, &retryLimit); err != nil {
		return err
	}
	attempts++

	if attempts >= retryLimit {
		_, err := q.pool.Exec(ctx, `
			UPDATE job_queue_messages SET state = 'dead', attempts = $1, last_error = $2, updated_at = now()
			WHERE id = $3
		`, attempts, errMsg, id)
		return err
	}

	backoff := baseBackoff * time.Duration(1<<uint(attempts))
	if maxBackoff > 0 && backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	_, err := q.pool.Exec(ctx, `
		UPDATE job_queue_messages
		SET state = 'pending', attempts = $1, last_error = $2, next_attempt_at = now() + make_interval(secs => $3), updated_at = now()
		WHERE id = $4
	`, attempts, errMsg, (backoff + jitter).Seconds(), id)
	return err
}

// ReapExpiredLeases returns any job whose visibility lease expired while
// running (a crashed worker) back to pending, so another worker can claim it.
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE job_queue_messages
		SET state = 'pending', updated_at = now()
		WHERE state = 'running' AND lease_expires_at < now()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
