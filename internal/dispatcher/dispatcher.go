// Package dispatcher subscribes once to the Event Log's change channel and
// fans out debounced trigger() calls to every registered listener. Listeners
// are a single interface plus a configuration record (data-driven), not a
// class hierarchy, per the spec's explicit re-architecture note.
package dispatcher

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chatcore/eventsub/internal/cursorlock"
	"github.com/chatcore/eventsub/internal/eventlog"
)

// Listener is implemented by every named listener (Boundary Extraction,
// Naming, Memo Accumulator, Embedding).
type Listener interface {
	ID() string
	LockConfig() cursorlock.Config
	// ProcessEvents is invoked under the listener's cursor lock. It must fetch
	// events strictly after cur.LastProcessedID, act on each, and return the
	// appropriate ProcessResult.
	ProcessEvents(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult
}

// ListenerTuning carries the debounce/poll parameters the spec names
// alongside the lock config for a single listener.
type ListenerTuning struct {
	DebounceMs   time.Duration
	MaxWaitMs    time.Duration
	PollInterval time.Duration
}

type registration struct {
	listener  Listener
	tuning    ListenerTuning
	lock      *cursorlock.Lock
	debouncer *Debouncer
}

// Dispatcher owns one cursorlock.Lock and Debouncer per registered listener.
type Dispatcher struct {
	bus  *eventlog.Bus
	pool *pgxpool.Pool
	self string
	log  zerolog.Logger
	regs []*registration
}

func New(bus *eventlog.Bus, pool *pgxpool.Pool, selfToken string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{bus: bus, pool: pool, self: selfToken, log: log}
}

// Register arms a listener with its own cursor lock and debounce primitive.
func (d *Dispatcher) Register(l Listener, tuning ListenerTuning) {
	lock := cursorlock.New(d.pool, l.ID(), d.self, l.LockConfig(), d.log)
	r := &registration{listener: l, tuning: tuning, lock: lock}
	r.debouncer = NewDebouncer(tuning.DebounceMs, tuning.MaxWaitMs, func() {
		d.runListener(context.Background(), r)
	}, d.log)
	d.regs = append(d.regs, r)
}

func (d *Dispatcher) runListener(ctx context.Context, r *registration) {
	err := r.lock.Run(ctx, func(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult {
		return r.listener.ProcessEvents(ctx, cur)
	})
	if err != nil {
		d.log.Warn().Err(err).Str("listener_id", r.listener.ID()).Msg("listener run failed")
	}
}

// Run subscribes to the bus, arms every registered listener's debouncer and
// redundant poll ticker, and blocks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ch, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()

	for _, r := range d.regs {
		r := r
		if r.tuning.PollInterval > 0 {
			go d.pollLoop(ctx, r)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			for _, r := range d.regs {
				r.debouncer.Trigger()
			}
		}
	}
}

func (d *Dispatcher) pollLoop(ctx context.Context, r *registration) {
	ticker := time.NewTicker(r.tuning.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.debouncer.Trigger()
		}
	}
}
