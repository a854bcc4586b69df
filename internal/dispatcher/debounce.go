package dispatcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debouncer fires fn either debounceMs after the last Trigger call in a burst,
// or maxWaitMs after the first call in that burst, whichever is sooner. A
// panic inside fn is recovered and logged; the debouncer itself never stops.
type Debouncer struct {
	debounce time.Duration
	maxWait  time.Duration
	fn       func()
	log      zerolog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	deadline *time.Timer
	pending  bool
}

func NewDebouncer(debounce, maxWait time.Duration, fn func(), log zerolog.Logger) *Debouncer {
	return &Debouncer{debounce: debounce, maxWait: maxWait, fn: fn, log: log}
}

// Trigger resets the quiet-window timer and, if this starts a new burst,
// arms the hard deadline timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)

	if !d.pending {
		d.pending = true
		d.deadline = time.AfterFunc(d.maxWait, d.fire)
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.deadline != nil {
		d.deadline.Stop()
	}
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("debounced listener panicked")
		}
	}()
	d.fn()
}
