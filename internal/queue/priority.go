package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Priority leases the max-priority job first; ties break by insertion
// order. Implemented as a heap keyed on (priority desc, sequence asc).
type Priority struct {
	mu       sync.Mutex
	h        priorityHeap
	index    map[string]*priorityItem
	inFlight map[string]Entry
	seq      uint64
}

type priorityItem struct {
	entry Entry
	seq   uint64
	pos   int
}

type priorityHeap []*priorityItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority > h[j].entry.Priority // max-priority first
	}
	return h[i].seq < h[j].seq // earlier enqueue wins ties
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*priorityItem)
	item.pos = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// NewPriority returns an empty Priority discipline.
func NewPriority() *Priority {
	return &Priority{
		index:    make(map[string]*priorityItem),
		inFlight: make(map[string]Entry),
	}
}

func (p *Priority) Enqueue(_ context.Context, e Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[e.JobID]; ok {
		return domain.ErrAlreadyEnqueued
	}
	if _, ok := p.inFlight[e.JobID]; ok {
		return domain.ErrAlreadyEnqueued
	}
	p.seq++
	item := &priorityItem{entry: e, seq: p.seq}
	heap.Push(&p.h, item)
	p.index[e.JobID] = item
	return nil
}

func (p *Priority) Lease(_ time.Time) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.h.Len() == 0 {
		return Entry{}, false
	}
	item := heap.Pop(&p.h).(*priorityItem)
	delete(p.index, item.entry.JobID)
	p.inFlight[item.entry.JobID] = item.entry
	return item.entry, true
}

func (p *Priority) Ack(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, jobID)
	return nil
}

func (p *Priority) Nack(jobID string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.inFlight[jobID]
	if !ok {
		return nil // no-op
	}
	delete(p.inFlight, jobID)
	p.seq++
	item := &priorityItem{entry: e, seq: p.seq}
	heap.Push(&p.h, item)
	p.index[jobID] = item
	return nil
}

func (p *Priority) Remove(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[jobID]; ok {
		delete(p.inFlight, jobID)
		return nil
	}
	item, ok := p.index[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	heap.Remove(&p.h, item.pos)
	delete(p.index, jobID)
	return nil
}

func (p *Priority) Size() domain.QueueSize {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.QueueSize{Ready: p.h.Len(), InFlight: len(p.inFlight)}
}
