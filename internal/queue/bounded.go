package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Bounded wraps any other discipline with a hard ready-count capacity. At
// capacity, Enqueue applies the configured OverflowPolicy.
type Bounded struct {
	inner    Discipline
	capacity int
	policy   domain.OverflowPolicy

	mu      sync.Mutex
	waiters []chan struct{}

	onEvict func(jobID string) // notified with "overflow" cancellation
}

// NewBounded wraps inner with capacity and policy. onEvict, if non-nil, is
// called synchronously with the id of any job evicted by drop_oldest or
// drop_newest, so the store can mark it cancelled with reason "overflow".
func NewBounded(inner Discipline, capacity int, policy domain.OverflowPolicy, onEvict func(jobID string)) *Bounded {
	return &Bounded{inner: inner, capacity: capacity, policy: policy, onEvict: onEvict}
}

func (b *Bounded) readyCount() int {
	return b.inner.Size().Ready
}

func (b *Bounded) Enqueue(ctx context.Context, e Entry) error {
	for {
		b.mu.Lock()
		if b.readyCount() < b.capacity {
			b.mu.Unlock()
			return b.inner.Enqueue(ctx, e)
		}

		switch b.policy {
		case domain.OverflowReject:
			b.mu.Unlock()
			return &domain.QueueFull{}
		case domain.OverflowDropNewest:
			b.mu.Unlock()
			if b.onEvict != nil {
				b.onEvict(e.JobID)
			}
			return nil
		case domain.OverflowDropOldest:
			oldest, ok := b.inner.Lease(time.Now())
			b.mu.Unlock()
			if ok {
				_ = b.inner.Ack(oldest.JobID)
				if b.onEvict != nil {
					b.onEvict(oldest.JobID)
				}
			}
			return b.inner.Enqueue(ctx, e)
		case domain.OverflowBlockUntil:
			wake := make(chan struct{})
			b.waiters = append(b.waiters, wake)
			b.mu.Unlock()

			select {
			case <-wake:
				continue // re-check capacity
			case <-ctx.Done():
				return &domain.QueueFull{}
			}
		default:
			b.mu.Unlock()
			return &domain.QueueFull{}
		}
	}
}

func (b *Bounded) wakeOneLocked() {
	if len(b.waiters) == 0 {
		return
	}
	w := b.waiters[0]
	b.waiters = b.waiters[1:]
	close(w)
}

func (b *Bounded) Lease(now time.Time) (Entry, bool) {
	e, ok := b.inner.Lease(now)
	if ok {
		b.mu.Lock()
		b.wakeOneLocked()
		b.mu.Unlock()
	}
	return e, ok
}

func (b *Bounded) Ack(jobID string) error {
	err := b.inner.Ack(jobID)
	b.mu.Lock()
	b.wakeOneLocked()
	b.mu.Unlock()
	return err
}

func (b *Bounded) Nack(jobID string, visibleAt time.Time) error {
	return b.inner.Nack(jobID, visibleAt)
}

func (b *Bounded) Remove(jobID string) error {
	err := b.inner.Remove(jobID)
	if err == nil {
		b.mu.Lock()
		b.wakeOneLocked()
		b.mu.Unlock()
	}
	return err
}

func (b *Bounded) Size() domain.QueueSize {
	s := b.inner.Size()
	s.Capacity = b.capacity
	return s
}

// NextVisibleAt forwards to the wrapped discipline when it supports it,
// e.g. a Bounded Delay queue.
func (b *Bounded) NextVisibleAt() (time.Time, bool) {
	if w, ok := b.inner.(Waitable); ok {
		return w.NextVisibleAt()
	}
	return time.Time{}, false
}
