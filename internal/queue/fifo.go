package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// FIFO appends at the tail and leases from the head. Ties are impossible:
// lease order always equals enqueue order.
type FIFO struct {
	mu       sync.Mutex
	ready    []Entry
	inFlight map[string]struct{}
}

// NewFIFO returns an empty FIFO discipline.
func NewFIFO() *FIFO {
	return &FIFO{inFlight: make(map[string]struct{})}
}

func (f *FIFO) Enqueue(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contains(e.JobID) {
		return domain.ErrAlreadyEnqueued
	}
	f.ready = append(f.ready, e)
	return nil
}

func (f *FIFO) contains(id string) bool {
	if _, ok := f.inFlight[id]; ok {
		return true
	}
	for _, e := range f.ready {
		if e.JobID == id {
			return true
		}
	}
	return false
}

func (f *FIFO) Lease(_ time.Time) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		return Entry{}, false
	}
	e := f.ready[0]
	f.ready = f.ready[1:]
	f.inFlight[e.JobID] = struct{}{}
	return e, true
}

func (f *FIFO) Ack(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, jobID) // no-op if already acked/nacked/removed
	return nil
}

func (f *FIFO) Nack(jobID string, _ time.Time) error {
	// visibleAt is irrelevant to FIFO ordering; a nacked job simply
	// rejoins the tail, immediately leasable.
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inFlight[jobID]; !ok {
		return nil // no-op: already acked/nacked/removed
	}
	delete(f.inFlight, jobID)
	f.ready = append(f.ready, Entry{JobID: jobID})
	return nil
}

func (f *FIFO) Remove(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inFlight[jobID]; ok {
		delete(f.inFlight, jobID)
		return nil
	}
	for i, e := range f.ready {
		if e.JobID == jobID {
			f.ready = append(f.ready[:i], f.ready[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *FIFO) Size() domain.QueueSize {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.QueueSize{Ready: len(f.ready), InFlight: len(f.inFlight)}
}
