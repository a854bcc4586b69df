// Package workers implements the four structured-output handlers named in
// spec.md §4.C/§4.H: Boundary Extraction, Naming, Memo Accumulator/Processor,
// and Embedding. Each pairs a internal/dispatcher.Listener (cheap, no model
// calls — decides whether to enqueue a Job) with an internal/runner.Handler
// (the actual AI call, run through the Three-Phase Runner when a worker pulls
// the job off internal/jobqueue), generalizing the teacher's single outbox
// op-switch into named handler types.
package workers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/dispatcher"
	"github.com/chatcore/eventsub/internal/eventlog"
	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/search"
	"github.com/chatcore/eventsub/internal/store"
)

// ObjectGenerator is the narrow slice of aicost.Facade every worker depends
// on, so tests can substitute a fake planner instead of a live model
// provider.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, cc aicost.CallContext, modelName, prompt string, schema aicost.Schema) (map[string]interface{}, error)
}

// Config tunes worker behavior.
type Config struct {
	BoundaryModel      string
	NamerModel         string
	MemoModel          string
	MemoBatchThreshold int
	FetchBatchSize     int
	// NotifyChannel is the change-notification channel every Commit phase
	// that appends an Event Log row also issues a pg_notify on, so the
	// Dispatcher's Subscriber wakes up instead of relying solely on its
	// poll fallback (spec.md §4.A: "at-least-one notification per append").
	NotifyChannel string
}

func (c Config) withDefaults() Config {
	if c.NotifyChannel == "" {
		c.NotifyChannel = "outbox_event"
	}
	if c.BoundaryModel == "" {
		c.BoundaryModel = "gpt-4o-mini"
	}
	if c.NamerModel == "" {
		c.NamerModel = c.BoundaryModel
	}
	if c.MemoModel == "" {
		c.MemoModel = c.BoundaryModel
	}
	if c.MemoBatchThreshold <= 0 {
		c.MemoBatchThreshold = 5
	}
	if c.FetchBatchSize <= 0 {
		c.FetchBatchSize = 100
	}
	return c
}

// Workers bundles the shared dependencies every listener and job handler in
// this package needs.
type Workers struct {
	pool     *pgxpool.Pool
	store    store.Store
	events   *eventlog.Store
	queue    *jobqueue.Queue
	searcher search.Searcher
	embedder search.Embedder
	ai       ObjectGenerator
	cfg      Config
	log      zerolog.Logger
}

func New(pool *pgxpool.Pool, st store.Store, events *eventlog.Store, queue *jobqueue.Queue, searcher search.Searcher, embedder search.Embedder, ai ObjectGenerator, cfg Config, log zerolog.Logger) *Workers {
	return &Workers{
		pool:     pool,
		store:    st,
		events:   events,
		queue:    queue,
		searcher: searcher,
		embedder: embedder,
		ai:       ai,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// withTx runs fn inside a fresh transaction, committing on success and
// rolling back otherwise — the same shape internal/runner uses for Commit,
// reused here for the listeners' lightweight enqueue-side writes which are
// not otherwise tied to a runner.Handler's phases.
func (w *Workers) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Dispatch builds the single jobqueue.Handler a jobqueue.Pool runs, routing
// each job to the handler for its queue. Pool itself is queue-agnostic; this
// is where the closed queue names (internal/jobqueue's Queue* constants) get
// bound to concrete worker logic.
func (w *Workers) Dispatch() jobqueue.Handler {
	handlers := map[string]jobqueue.Handler{
		jobqueue.QueueBoundaryExtract:  w.BoundaryExtractJobHandler(),
		jobqueue.QueueNamingGenerate:   w.NamingJobHandler(),
		jobqueue.QueueMemoBatchCheck:   w.MemoBatchCheckJobHandler(),
		jobqueue.QueueMemoBatchProcess: w.MemoBatchProcessJobHandler(),
		jobqueue.QueueEmbedding:        w.EmbeddingJobHandler(),
	}

	return func(ctx context.Context, j *model.Job) error {
		h, ok := handlers[j.Queue]
		if !ok {
			return fmt.Errorf("workers: no handler registered for queue %q", j.Queue)
		}
		return h(ctx, j)
	}
}

// Queues lists every queue name Dispatch's handler map covers, for wiring
// into jobqueue.NewPool.
func (w *Workers) Queues() []string {
	return []string{
		jobqueue.QueueBoundaryExtract,
		jobqueue.QueueNamingGenerate,
		jobqueue.QueueMemoBatchCheck,
		jobqueue.QueueMemoBatchProcess,
		jobqueue.QueueEmbedding,
	}
}

// Listeners returns every dispatcher.Listener this package registers, for
// wiring into dispatcher.Dispatcher.Register.
func (w *Workers) Listeners() []dispatcher.Listener {
	return []dispatcher.Listener{
		w.BoundaryExtractionListener(),
		w.NamingListener(),
		w.MemoAccumulatorListener(),
		w.EmbeddingListener(),
	}
}

func payloadString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadBool(payload map[string]interface{}, key string) bool {
	v, _ := payload[key].(bool)
	return v
}
