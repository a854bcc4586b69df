// Package runner enforces the three-phase handler discipline: fetch (pooled
// connection, short), compute (no connection held, may call a model), commit
// (single transaction). It generalizes the outbox worker's "read, call
// external thing, write" shape into a reusable, structurally-enforced
// pattern: Compute receives only the Snapshot returned by Fetch, which by
// construction carries no pool or connection reference.
package runner

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reader is the narrow read-only surface available during Fetch. It is a
// pooled connection checked out for the duration of Fetch only.
type Reader interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Handler is implemented by every Three-Phase Runner instance (Boundary
// Extractor, Namer, Memo Accumulator/Processor, Embedder, Retrieval Loop).
type Handler interface {
	// Fetch runs under a short-lived pooled connection. It must not call any
	// external service. Returning (nil, nil) short-circuits Compute/Commit —
	// used when the handler determines upfront there is nothing to do (e.g. a
	// cached result already exists).
	Fetch(ctx context.Context, r Reader) (Snapshot, error)

	// Compute runs with no connection held. It may call model/embedding HTTP
	// endpoints and perform single-round-trip pooled reads, never a loop of
	// them.
	Compute(ctx context.Context, snap Snapshot) (Effect, error)

	// Commit runs inside a single transaction. It writes the handler's
	// business rows; a handler whose change has an event type in the closed
	// Event Log taxonomy appends that entry in the same transaction.
	Commit(ctx context.Context, tx pgx.Tx, eff Effect) error
}

// Snapshot is an opaque, handler-defined value carrying everything Compute
// needs. It deliberately carries no pool or connection so a handler author
// cannot accidentally hold a connection across a model call.
type Snapshot interface{}

// Effect is an opaque, handler-defined value carrying everything Commit
// needs to write.
type Effect interface{}

// Run executes the three phases for h against pool.
func Run(ctx context.Context, pool *pgxpool.Pool, h Handler) error {
	snap, err := fetch(ctx, pool, h)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	eff, err := h.Compute(ctx, snap)
	if err != nil {
		return err
	}
	if eff == nil {
		return nil
	}

	return commit(ctx, pool, h, eff)
}

func fetch(ctx context.Context, pool *pgxpool.Pool, h Handler) (Snapshot, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()
	return h.Fetch(ctx, conn)
}

func commit(ctx context.Context, pool *pgxpool.Pool, h Handler, eff Effect) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.Commit(ctx, tx, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
