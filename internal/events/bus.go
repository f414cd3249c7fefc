// Package events implements the runtime's event bus: a fan-out broker for
// the structured domain.Event records the queue, store, backpressure and
// worker packages emit. Publish never blocks the caller; a slow or absent
// subscriber only drops its own events.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rezkam/jobqueue/internal/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity used when a
// Subscribe call doesn't override it via WithBufferSize.
const DefaultBufferSize = 256

type subscription struct {
	id      uint64
	kinds   map[domain.EventKind]struct{} // nil/empty means "all kinds"
	ch      chan domain.Event
	dropped atomic.Uint64
}

func (s *subscription) matches(kind domain.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus is a fan-out event broker. The zero value is not usable; use New.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*subscription
	nextID     atomic.Uint64
	bufferSize int
	dropped    atomic.Uint64
}

// New returns an empty Bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{subs: make(map[uint64]*subscription), bufferSize: bufferSize}
}

// SubscribeOption configures a single Subscribe call.
type SubscribeOption func(*subscription)

// WithBufferSize overrides this subscriber's channel capacity.
func WithBufferSize(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.ch = make(chan domain.Event, n)
		}
	}
}

// Subscribe registers a new subscriber for the given event kinds (all kinds
// if none are given) and returns its delivery channel and a cancel func
// that unregisters it and closes the channel. Callers must keep draining
// the channel until cancel is called, or risk drops.
func (b *Bus) Subscribe(kinds []domain.EventKind, opts ...SubscribeOption) (<-chan domain.Event, func()) {
	sub := &subscription{
		id:    b.nextID.Add(1),
		ch:    make(chan domain.Event, b.bufferSize),
		kinds: make(map[domain.EventKind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Publish delivers e to every matching subscriber. Delivery is
// non-blocking: a subscriber whose buffer is full has this event dropped
// and its (and the bus's) dropped counter incremented, instead of stalling
// the publisher.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of events dropped across all
// subscribers since the bus was created, for observability.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
