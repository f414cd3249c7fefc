package domain

import "time"

// JobStatus is a job's position in its lifecycle graph.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusProcessing   JobStatus = "processing"
	StatusSucceeded    JobStatus = "succeeded"
	StatusFailed       JobStatus = "failed"
	StatusRetrying     JobStatus = "retrying"
	StatusDeadLettered JobStatus = "dead_lettered"
	StatusCancelled    JobStatus = "cancelled"
)

// Terminal reports whether status admits no further transitions except
// administrative deletion.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDeadLettered, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies a processor failure for retry decisions.
type ErrorCategory string

const (
	CategoryTimeout      ErrorCategory = "timeout"
	CategoryInvalidInput ErrorCategory = "invalid_input"
	CategoryTransient    ErrorCategory = "transient"
	CategoryPermanent    ErrorCategory = "permanent"
	CategoryBackpressure ErrorCategory = "backpressure"
)

// DefaultRetriable returns the default retriability per category:
// Timeout/Transient are retriable, InvalidInput/Permanent are not, and
// Backpressure is retriable with an elongated backoff (the worker applies
// the elongation, not this method).
func (c ErrorCategory) DefaultRetriable() bool {
	switch c {
	case CategoryTimeout, CategoryTransient, CategoryBackpressure:
		return true
	default:
		return false
	}
}

// ErrorRecord is the outcome recorded on a job that did not succeed.
type ErrorRecord struct {
	Category  ErrorCategory
	Message   string
	Retriable bool
}

// Attempt records one lease/process cycle for a job. The store keeps a
// bounded tail of attempts per job (maxAttemptHistory) for observability.
type Attempt struct {
	Worker    string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   JobStatus
	Error     *ErrorRecord
}

const maxAttemptHistory = 20

// Job is a unit of work with a payload, lifecycle, and retry policy.
type Job struct {
	ID       string
	Kind     string
	QueueID  string
	Payload  any
	Priority int64

	VisibleAt time.Time
	Deadline  *time.Time

	Attempts        int
	MaxAttempts     int
	AttemptTimeout  time.Duration
	RetryPolicy     RetryPolicy
	EnqueueSequence uint64

	Status JobStatus

	Holder        string
	LeaseDeadline time.Time

	Result any
	Error  *ErrorRecord

	LastAttemptStartedAt time.Time
	LastAttemptEndedAt   time.Time

	CreatedAt time.Time
	History   []Attempt
}

// AppendAttempt appends a to Job.History, keeping at most the most recent
// maxAttemptHistory entries.
func (j *Job) AppendAttempt(a Attempt) {
	j.History = append(j.History, a)
	if len(j.History) > maxAttemptHistory {
		j.History = j.History[len(j.History)-maxAttemptHistory:]
	}
}

// Clone returns a deep-enough copy of j suitable for returning from Store
// reads without letting callers mutate the store's internal record.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Deadline != nil {
		d := *j.Deadline
		cp.Deadline = &d
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.History = append([]Attempt(nil), j.History...)
	return &cp
}
