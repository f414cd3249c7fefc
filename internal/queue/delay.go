package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Delay makes items invisible until their VisibleAt timestamp. Lease
// re-evaluates visibility on every call against a time-ordered min-heap
// keyed on VisibleAt, so a stale item is never leased even under a lazy
// sweep.
type Delay struct {
	mu       sync.Mutex
	h        delayHeap
	index    map[string]*delayItem
	inFlight map[string]Entry
}

type delayItem struct {
	entry Entry
	pos   int
}

type delayHeap []*delayItem

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	return h[i].entry.VisibleAt.Before(h[j].entry.VisibleAt)
}
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *delayHeap) Push(x any) {
	item := x.(*delayItem)
	item.pos = len(*h)
	*h = append(*h, item)
}
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// NewDelay returns an empty Delay discipline.
func NewDelay() *Delay {
	return &Delay{index: make(map[string]*delayItem), inFlight: make(map[string]Entry)}
}

func (d *Delay) Enqueue(_ context.Context, e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.index[e.JobID]; ok {
		return domain.ErrAlreadyEnqueued
	}
	if _, ok := d.inFlight[e.JobID]; ok {
		return domain.ErrAlreadyEnqueued
	}
	item := &delayItem{entry: e}
	heap.Push(&d.h, item)
	d.index[e.JobID] = item
	return nil
}

// Lease returns the earliest-visible entry whose VisibleAt is at or before
// now, or ok=false otherwise — even if later entries in enqueue order
// would sort earlier in the heap's Pop order, only visibility governs
// Delay's lease eligibility.
func (d *Delay) Lease(now time.Time) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h.Len() == 0 {
		return Entry{}, false
	}
	top := d.h[0]
	if top.entry.VisibleAt.After(now) {
		return Entry{}, false
	}
	heap.Pop(&d.h)
	delete(d.index, top.entry.JobID)
	d.inFlight[top.entry.JobID] = top.entry
	return top.entry, true
}

func (d *Delay) Ack(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, jobID)
	return nil
}

func (d *Delay) Nack(jobID string, visibleAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.inFlight[jobID]
	if !ok {
		return nil // no-op
	}
	delete(d.inFlight, jobID)
	e.VisibleAt = visibleAt
	item := &delayItem{entry: e}
	heap.Push(&d.h, item)
	d.index[jobID] = item
	return nil
}

func (d *Delay) Remove(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[jobID]; ok {
		delete(d.inFlight, jobID)
		return nil
	}
	item, ok := d.index[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	heap.Remove(&d.h, item.pos)
	delete(d.index, jobID)
	return nil
}

// Size reports waiting entries as Delayed rather than folding not-yet-visible
// and already-visible-but-unleased entries into Ready.
func (d *Delay) Size() domain.QueueSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.QueueSize{Delayed: d.h.Len(), InFlight: len(d.inFlight)}
}

// NextVisibleAt implements Waitable: the scheduler uses it to park a
// worker with a precise timer instead of polling.
func (d *Delay) NextVisibleAt() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].entry.VisibleAt, true
}
