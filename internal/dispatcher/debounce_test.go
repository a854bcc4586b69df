package dispatcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDebouncer_FiresOnceAfterQuietWindow(t *testing.T) {
	var calls int32
	d := NewDebouncer(30*time.Millisecond, time.Second, func() {
		atomic.AddInt32(&calls, 1)
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a burst of triggers within the quiet window must coalesce into one fire")
}

func TestDebouncer_FiresAtHardDeadlineUnderContinuousTriggers(t *testing.T) {
	var calls int32
	d := NewDebouncer(50*time.Millisecond, 120*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	}, zerolog.Nop())

	stop := time.After(300 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			d.Trigger()
		case <-stop:
			break loop
		}
	}

	time.Sleep(200 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2),
		"continuous triggers that never leave a quiet window must still fire at the hard maxWait deadline")
}

func TestDebouncer_SeparateBurstsFireSeparately(t *testing.T) {
	var calls int32
	d := NewDebouncer(20*time.Millisecond, time.Second, func() {
		atomic.AddInt32(&calls, 1)
	}, zerolog.Nop())

	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	d.Trigger()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
