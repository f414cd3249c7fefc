// Package store implements the runtime's job store: the single source of
// truth for job lifecycle state. The reference implementation here is
// in-memory; the Store interface is storage-agnostic so a durable
// implementation could replace it without touching the worker, pool or
// backpressure packages.
package store

import (
	"context"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// ListFilter narrows List to jobs matching every non-zero field.
type ListFilter struct {
	QueueID string
	Status  *domain.JobStatus
}

// UpdateFields carries the side-channel fields UpdateStatus applies
// alongside the status transition itself, atomically.
type UpdateFields struct {
	Result               any
	Error                *domain.ErrorRecord
	VisibleAt            *time.Time
	IncrementAttempts    bool
	ClearHolder          bool
	LastAttemptStartedAt *time.Time
	LastAttemptEndedAt   *time.Time
	AppendAttempt        *domain.Attempt
}

// Stats is an atomic point-in-time snapshot of the store's job counts by
// status, read without holding a lock across the caller's use of it.
type Stats struct {
	ByStatus map[domain.JobStatus]int
	Total    int
}

// Store is the single source of truth for job lifecycle state. A durable
// implementation must provide the same compare-and-set semantics on
// UpdateStatus, an atomic Lease, and a way for a Reaper to find jobs whose
// lease has expired.
type Store interface {
	// Put inserts a new job, which must not already exist.
	Put(ctx context.Context, job *domain.Job) error

	// Get returns a copy of the job, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// UpdateStatus is a compare-and-set: it fails with *domain.ConflictingStatus
	// if the job's current status isn't from. fields are applied only if
	// the CAS succeeds.
	UpdateStatus(ctx context.Context, id string, from, to domain.JobStatus, fields UpdateFields) error

	// List returns jobs matching filter.
	List(ctx context.Context, filter ListFilter) ([]*domain.Job, error)

	// Lease atomically sets holder and leaseDeadline and transitions the
	// job to processing. It is the only path to the processing status.
	// Fails with *domain.ConflictingStatus if the job isn't pending or
	// retrying.
	Lease(ctx context.Context, id, worker string, leaseDeadline time.Time) error

	// Release clears a job's holder/lease without changing its status,
	// used when a worker voluntarily gives up a job it has not yet acted
	// on (e.g. pool shutdown draining).
	Release(ctx context.Context, id string) error

	// Delete removes a job's record regardless of status (administrative
	// deletion, the sole mutation terminal jobs otherwise permit).
	Delete(ctx context.Context, id string) error

	// Stats returns an atomic snapshot of job counts by status.
	Stats() Stats

	// ExpiredLeases returns the ids of processing jobs whose lease
	// deadline is at or before now, for the Reaper to recover.
	ExpiredLeases(now time.Time) []string

	// PurgeTerminalBefore deletes terminal jobs whose terminal transition
	// happened before cutoff, enforcing the store's retention window.
	PurgeTerminalBefore(cutoff time.Time) int
}
