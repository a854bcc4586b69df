package eventlog

import "sync"

// Bus is an in-process, multi-subscriber fan-out of change notifications.
// Adapted from a single-channel pub-sub primitive into a broadcast: every
// subscriber gets its own buffered channel, and a slow or full subscriber
// never blocks Publish or starves the others.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan struct{})}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered to 1: a pending notification
// is enough to trigger a re-check, coalescing bursts naturally.
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish notifies every current subscriber without blocking.
func (b *Bus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
