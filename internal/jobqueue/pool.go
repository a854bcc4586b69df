package jobqueue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chatcore/eventsub/internal/model"
)

// Handler executes the side effects of a single Job.
type Handler func(ctx context.Context, j *model.Job) error

// PoolConfig controls polling cadence, lease duration, and backoff for a Pool.
type PoolConfig struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	Concurrency   int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 60 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 300 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Pool runs a fixed number of concurrent poll loops over one or more queues,
// plus a reaper goroutine that returns jobs with expired leases to pending.
// The same shape as the outbox worker's single ticker loop, now parameterized
// by queue set and fanned out across Concurrency goroutines.
type Pool struct {
	queue   *Queue
	queues  []string
	cfg     PoolConfig
	handler Handler
	log     zerolog.Logger
}

func NewPool(queue *Queue, queues []string, cfg PoolConfig, handler Handler, log zerolog.Logger) *Pool {
	return &Pool{queue: queue, queues: queues, cfg: cfg.withDefaults(), handler: handler, log: log}
}

// Run blocks until ctx is canceled, running worker goroutines and a reaper.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.workerLoop(gctx)
		})
	}
	g.Go(func() error {
		return p.reapLoop(gctx)
	})

	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				j, err := p.queue.Dequeue(ctx, p.queues, p.cfg.LeaseDuration)
				if err != nil {
					p.log.Error().Err(err).Msg("jobqueue dequeue failed")
					break
				}
				if j == nil {
					break
				}
				p.process(ctx, j)
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, j *model.Job) {
	if err := p.handler(ctx, j); err != nil {
		if e := p.queue.Fail(ctx, j.ID, err, p.cfg.BaseBackoff, p.cfg.MaxBackoff); e != nil {
			p.log.Error().Err(e).Str("job_id", j.ID).Msg("jobqueue fail-transition error")
		}
		p.log.Warn().Err(err).Str("job_id", j.ID).Str("queue", j.Queue).Msg("job handler failed")
		return
	}
	if e := p.queue.Complete(ctx, j.ID); e != nil {
		p.log.Error().Err(e).Str("job_id", j.ID).Msg("jobqueue complete-transition error")
	}
}

func (p *Pool) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.LeaseDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.queue.ReapExpiredLeases(ctx)
			if err != nil {
				p.log.Error().Err(err).Msg("jobqueue reap failed")
				continue
			}
			if n > 0 {
				p.log.Warn().Int64("count", n).Msg("reaped expired job leases")
			}
		}
	}
}
