package domain

import (
	"errors"
	"fmt"
)

// Errors returned by the runtime's public APIs. Workers never let these
// escape the pool; callers of Store/Discipline methods see them
// synchronously.
var (
	// ErrNotFound indicates the requested job or queue does not exist.
	// Callers should treat it as the resource never having been created.
	ErrNotFound = errors.New("jobqueue: not found")

	// ErrAlreadyEnqueued indicates a job identifier is already present in
	// the target queue.
	ErrAlreadyEnqueued = errors.New("jobqueue: job already enqueued")

	// ErrShutdown indicates an operation was rejected because the pool is
	// stopping or has stopped.
	ErrShutdown = errors.New("jobqueue: pool is shutting down")

	// ErrNoDeadLetterQueue is returned by Enqueue when a backpressure
	// strategy applies the dead_letter action but no dead-letter queue id
	// is configured.
	ErrNoDeadLetterQueue = errors.New("jobqueue: dead_letter action applied but no dead-letter queue is configured")
)

// QueueFull is returned by a Bounded discipline's Enqueue when the queue is
// at capacity and the overflow policy is reject, or when block_until times
// out without acquiring space.
type QueueFull struct {
	QueueID string
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("jobqueue: queue %q is full", e.QueueID)
}

// ConflictingStatus is returned by Store.UpdateStatus when the job's
// current status differs from the expected "from" status — the
// compare-and-set lost its race.
type ConflictingStatus struct {
	JobID    string
	Expected JobStatus
	Actual   JobStatus
}

func (e *ConflictingStatus) Error() string {
	return fmt.Sprintf("jobqueue: job %q status conflict: expected %s, got %s", e.JobID, e.Expected, e.Actual)
}

// LeaseExpired is observed by the reaper when a processing job's lease
// deadline has passed; the job is returned to retrying.
type LeaseExpired struct {
	JobID  string
	Worker string
}

func (e *LeaseExpired) Error() string {
	return fmt.Sprintf("jobqueue: job %q lease held by %q expired", e.JobID, e.Worker)
}

// TimeoutError indicates a suspending call's deadline elapsed before it
// could complete. No package in this module returns it: Bounded's
// block_until fails with *QueueFull, the backpressure block action with
// *BackpressureTimeout, and a timed-out processor attempt is recorded on
// the job with CategoryTimeout.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("jobqueue: %s timed out", e.Op)
}

// BackpressureRejected is returned by Enqueue when the active backpressure
// action is reject, or when redirect has no configured target.
type BackpressureRejected struct {
	QueueID  string
	Strategy string
}

func (e *BackpressureRejected) Error() string {
	return fmt.Sprintf("jobqueue: enqueue to %q rejected by backpressure strategy %q", e.QueueID, e.Strategy)
}

// BackpressureTimeout is returned by Enqueue when a block action's wait cap
// elapses before the controller releases.
type BackpressureTimeout struct {
	QueueID string
}

func (e *BackpressureTimeout) Error() string {
	return fmt.Sprintf("jobqueue: enqueue to %q timed out waiting on backpressure", e.QueueID)
}

// ProcessorError is the structured error a Processor returns to describe
// how the worker should treat a failed attempt.
type ProcessorError struct {
	Category  ErrorCategory
	Message   string
	Retriable bool
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("jobqueue: %s: %s", e.Category, e.Message)
}

// NewProcessorError builds a ProcessorError, defaulting Retriable to the
// category's documented default.
func NewProcessorError(category ErrorCategory, message string) *ProcessorError {
	return &ProcessorError{Category: category, Message: message, Retriable: category.DefaultRetriable()}
}
