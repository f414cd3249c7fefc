// Package queue implements the runtime's pluggable queue disciplines: FIFO,
// Priority, Delay and Bounded. Each exposes the same uniform capability set —
// Enqueue/Lease/Ack/Nack/Size/Remove — so the scheduler and worker packages
// can treat any discipline the same way.
package queue

import (
	"context"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Entry is the lightweight reference a Discipline orders and leases. A
// discipline owns only this reference; the full Job record lives in the
// store.
type Entry struct {
	JobID     string
	Priority  int64
	VisibleAt time.Time
}

// Discipline is the uniform contract every queue ordering rule implements.
// Concurrent access is safe; every method returns in bounded time and never
// blocks on user code, with the sole documented exception of Bounded's
// block_until overflow policy.
type Discipline interface {
	// Enqueue admits e into the discipline's ordering. It returns
	// domain.ErrAlreadyEnqueued if e.JobID is already present, or
	// *domain.QueueFull if a Bounded discipline is at capacity and its
	// overflow policy is reject (or block_until's ctx expires first).
	Enqueue(ctx context.Context, e Entry) error

	// Lease returns the next ready entry as of now, or ok=false if nothing
	// is ready. It never blocks.
	Lease(now time.Time) (e Entry, ok bool)

	// Ack removes a leased entry permanently. A second Ack for the same id
	// (after Nack or Remove already consumed it) is a no-op.
	Ack(jobID string) error

	// Nack returns a leased entry to the ready/delayed set. Delay holds it
	// until visibleAt (a past visibleAt makes it immediately re-leasable);
	// FIFO and Priority ignore visibleAt and make it leasable at once.
	Nack(jobID string, visibleAt time.Time) error

	// Remove evicts jobID from the discipline regardless of its current
	// position (ready, delayed or in-flight). Unknown ids return
	// domain.ErrNotFound.
	Remove(jobID string) error

	// Size reports the live ready/in-flight/delayed/capacity snapshot.
	Size() domain.QueueSize
}

// Waitable is implemented by disciplines that can tell a scheduler the
// earliest instant a Lease might succeed, letting it park a worker with a
// precise timer instead of busy-polling.
type Waitable interface {
	// NextVisibleAt returns the earliest visible-at timestamp among
	// currently-delayed entries, or ok=false if there is nothing delayed.
	NextVisibleAt() (time.Time, bool)
}
