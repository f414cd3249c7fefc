// Package worker implements the runtime's worker state machine: the
// idle/leasing/processing lease loop that claims entries from a queue
// discipline, invokes the registered processor, and routes the outcome
// back through the job store and the discipline's ack/nack.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/rezkam/jobqueue/internal/queue"
	"github.com/rezkam/jobqueue/internal/store"
)

// Emitter publishes structured runtime events; satisfied by *events.Bus.
type Emitter interface {
	Publish(domain.Event)
}

// CompletionRecorder is fed a queue's processing latency on every finished
// attempt, satisfied by *backpressure.Controller.
type CompletionRecorder interface {
	RecordCompletion(queueID string, latency time.Duration)
}

// Metrics receives per-attempt latency and dead-letter counts, satisfied by
// *observability.Instruments.
type Metrics interface {
	RecordAttemptLatency(ctx context.Context, queueID string, seconds float64)
	RecordDeadLetter(ctx context.Context, queueID string)
}

// NextFunc asks the scheduler which queue this worker should service next.
// ok is false when every assigned queue is currently empty; the worker
// parks until woken or a bounded timer fires.
type NextFunc func(ctx context.Context) (queueID string, disc queue.Discipline, ok bool)

// Config configures a Worker.
type Config struct {
	ID             string
	Store          store.Store
	Clock          clock.Clock
	Processors     map[string]Processor
	ErrorHandler   ErrorHandler
	RandFloat      RandFloat
	Backpressure   CompletionRecorder
	Events         Emitter
	Metrics        Metrics
	AttemptTimeout time.Duration
	ParkTimeout    time.Duration
	// DeadLetter, if set, is invoked instead of a terminal failed status
	// once a job fails terminally (a non-retriable error, or attempts
	// exhausted): it should admit the job into
	// the configured dead-letter queue. The job's store status is already
	// set to dead_lettered by the time this is called.
	DeadLetter func(ctx context.Context, job *domain.Job) error
}

// Worker runs the idle -> leasing -> processing -> idle lease loop for one
// logical worker slot in a pool.
type Worker struct {
	id             string
	store          store.Store
	clock          clock.Clock
	processors     map[string]Processor
	errorHandler   ErrorHandler
	randFloat      RandFloat
	backpressure   CompletionRecorder
	emitter        Emitter
	metrics        Metrics
	deadLetter     func(ctx context.Context, job *domain.Job) error
	attemptTimeout time.Duration
	parkTimeout    time.Duration

	mu       sync.Mutex
	status   domain.WorkerStatus
	stopping bool
	wake     chan struct{}
}

// New returns a Worker ready to Run.
func New(cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = NoopErrorHandler{}
	}
	if cfg.RandFloat == nil {
		cfg.RandFloat = defaultRandFloat
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.ParkTimeout <= 0 {
		cfg.ParkTimeout = time.Second
	}
	return &Worker{
		id:             cfg.ID,
		store:          cfg.Store,
		clock:          cfg.Clock,
		processors:     cfg.Processors,
		errorHandler:   cfg.ErrorHandler,
		randFloat:      cfg.RandFloat,
		backpressure:   cfg.Backpressure,
		emitter:        cfg.Events,
		metrics:        cfg.Metrics,
		deadLetter:     cfg.DeadLetter,
		attemptTimeout: cfg.AttemptTimeout,
		parkTimeout:    cfg.ParkTimeout,
		status:         domain.WorkerIdle,
		wake:           make(chan struct{}, 1),
	}
}

// ID returns the worker's identifier, used as the store lease holder.
func (w *Worker) ID() string { return w.id }

// Status returns the worker's current state-machine position.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setStatus(s domain.WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Stop asks the worker to stop leasing new jobs. It does not cancel an
// in-flight attempt; the caller's ctx passed to Run governs that (the pool
// cancels it once the drain deadline elapses).
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.Wake()
}

func (w *Worker) isStopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

// Wake unparks a worker blocked waiting for work, non-blocking.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the lease loop until ctx is cancelled or Stop is called and
// no in-flight attempt remains. next supplies the scheduler's queue choice
// each iteration.
func (w *Worker) Run(ctx context.Context, next NextFunc) {
	defer w.setStatus(domain.WorkerStopped)
	for {
		if ctx.Err() != nil {
			return
		}
		if w.isStopping() {
			return
		}

		w.setStatus(domain.WorkerLeasing)
		queueID, disc, ok := next(ctx)
		if !ok {
			w.setStatus(domain.WorkerIdle)
			w.park(ctx, nil)
			continue
		}

		entry, leased := disc.Lease(w.clock.Now())
		if !leased {
			w.setStatus(domain.WorkerIdle)
			w.park(ctx, disc)
			continue
		}

		w.processEntry(ctx, queueID, disc, entry)
	}
}

func (w *Worker) park(ctx context.Context, disc queue.Discipline) {
	dur := w.parkTimeout
	if waitable, ok := disc.(queue.Waitable); ok {
		if t, ok2 := waitable.NextVisibleAt(); ok2 {
			if d := t.Sub(w.clock.Now()); d > 0 && d < dur {
				dur = d
			}
		}
	}
	timer := w.clock.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-timer.C():
	}
}

func (w *Worker) processEntry(ctx context.Context, queueID string, disc queue.Discipline, entry queue.Entry) {
	now := w.clock.Now()
	leaseDeadline := now.Add(w.attemptTimeout)
	if err := w.store.Lease(ctx, entry.JobID, w.id, leaseDeadline); err != nil {
		slog.WarnContext(ctx, "worker: store lease failed, releasing queue entry", "job_id", entry.JobID, "error", err)
		_ = disc.Nack(entry.JobID, now)
		return
	}

	job, err := w.store.Get(ctx, entry.JobID)
	if err != nil {
		slog.ErrorContext(ctx, "worker: leased job vanished from store", "job_id", entry.JobID, "error", err)
		_ = disc.Ack(entry.JobID)
		return
	}

	w.setStatus(domain.WorkerProcessing)
	w.emit(queueID, domain.EventLeased, job.ID, job.Attempts+1, "")

	attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
	startedAt := w.clock.Now()
	result, procErr, timedOut := w.invoke(attemptCtx, job)
	cancel()
	endedAt := w.clock.Now()

	if procErr == nil {
		w.onSuccess(ctx, queueID, disc, job, result, startedAt, endedAt)
		return
	}
	w.onFailure(ctx, queueID, disc, job, classify(procErr, timedOut), startedAt, endedAt)
}

func (w *Worker) invoke(ctx context.Context, job *domain.Job) (result any, err error, timedOut bool) {
	proc, ok := w.processors[job.Kind]
	if !ok {
		return nil, domain.NewProcessorError(domain.CategoryPermanent, fmt.Sprintf("no processor registered for kind %q", job.Kind)), false
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				w.errorHandler.HandlePanic(ctx, job, r, stack)
				err = panicError(r)
			}
		}()
		result, err = proc(ctx, job.Payload)
	}()

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		timedOut = true
	}
	return
}

func (w *Worker) onSuccess(ctx context.Context, queueID string, disc queue.Discipline, job *domain.Job, result any, startedAt, endedAt time.Time) {
	attempt := domain.Attempt{Worker: w.id, StartedAt: startedAt, EndedAt: endedAt, Outcome: domain.StatusSucceeded}
	err := w.store.UpdateStatus(ctx, job.ID, domain.StatusProcessing, domain.StatusSucceeded, store.UpdateFields{
		Result:               result,
		IncrementAttempts:    true,
		ClearHolder:          true,
		LastAttemptStartedAt: &startedAt,
		LastAttemptEndedAt:   &endedAt,
		AppendAttempt:        &attempt,
	})
	if err != nil {
		slog.WarnContext(ctx, "worker: lost race completing job", "job_id", job.ID, "error", err)
		return
	}
	if ackErr := disc.Ack(job.ID); ackErr != nil {
		slog.WarnContext(ctx, "worker: ack after success failed", "job_id", job.ID, "error", ackErr)
	}
	if w.backpressure != nil {
		w.backpressure.RecordCompletion(queueID, endedAt.Sub(startedAt))
	}
	if w.metrics != nil {
		w.metrics.RecordAttemptLatency(ctx, queueID, endedAt.Sub(startedAt).Seconds())
	}
	w.emit(queueID, domain.EventCompleted, job.ID, job.Attempts+1, "")
}

func (w *Worker) onFailure(ctx context.Context, queueID string, disc queue.Discipline, job *domain.Job, procErr *domain.ProcessorError, startedAt, endedAt time.Time) {
	w.errorHandler.HandleError(ctx, job, procErr)

	rec := &domain.ErrorRecord{Category: procErr.Category, Message: procErr.Message, Retriable: procErr.Retriable}
	attemptNumber := job.Attempts + 1
	exhausted := attemptNumber >= job.MaxAttempts

	if procErr.Retriable && !exhausted {
		backoff := computeBackoff(job.RetryPolicy, attemptNumber, w.randFloat)
		if procErr.Category == domain.CategoryBackpressure {
			backoff *= 2 // elongated backoff per the documented category default
		}
		visibleAt := endedAt.Add(backoff)
		attempt := domain.Attempt{Worker: w.id, StartedAt: startedAt, EndedAt: endedAt, Outcome: domain.StatusRetrying, Error: rec}

		err := w.store.UpdateStatus(ctx, job.ID, domain.StatusProcessing, domain.StatusRetrying, store.UpdateFields{
			Error:                rec,
			IncrementAttempts:    true,
			VisibleAt:            &visibleAt,
			ClearHolder:          true,
			LastAttemptStartedAt: &startedAt,
			LastAttemptEndedAt:   &endedAt,
			AppendAttempt:        &attempt,
		})
		if err != nil {
			slog.WarnContext(ctx, "worker: lost race scheduling retry", "job_id", job.ID, "error", err)
			return
		}
		if nackErr := disc.Nack(job.ID, visibleAt); nackErr != nil {
			slog.WarnContext(ctx, "worker: nack after retry failed", "job_id", job.ID, "error", nackErr)
		}
		w.emit(queueID, domain.EventRetried, job.ID, attemptNumber, procErr.Message)
		return
	}

	toStatus := domain.StatusFailed
	if w.deadLetter != nil {
		toStatus = domain.StatusDeadLettered
	}
	attempt := domain.Attempt{Worker: w.id, StartedAt: startedAt, EndedAt: endedAt, Outcome: toStatus, Error: rec}

	err := w.store.UpdateStatus(ctx, job.ID, domain.StatusProcessing, toStatus, store.UpdateFields{
		Error:                rec,
		IncrementAttempts:    true,
		ClearHolder:          true,
		LastAttemptStartedAt: &startedAt,
		LastAttemptEndedAt:   &endedAt,
		AppendAttempt:        &attempt,
	})
	if err != nil {
		slog.WarnContext(ctx, "worker: lost race finalizing job", "job_id", job.ID, "error", err)
		return
	}
	if ackErr := disc.Ack(job.ID); ackErr != nil {
		slog.WarnContext(ctx, "worker: ack after terminal failure failed", "job_id", job.ID, "error", ackErr)
	}

	if w.metrics != nil {
		w.metrics.RecordAttemptLatency(ctx, queueID, endedAt.Sub(startedAt).Seconds())
	}

	if toStatus == domain.StatusDeadLettered {
		if dlErr := w.deadLetter(ctx, job); dlErr != nil {
			slog.ErrorContext(ctx, "worker: dead-letter admission failed", "job_id", job.ID, "error", dlErr)
		}
		if w.metrics != nil {
			w.metrics.RecordDeadLetter(ctx, queueID)
		}
		w.emit(queueID, domain.EventDeadLettered, job.ID, attemptNumber, procErr.Message)
		return
	}
	w.emit(queueID, domain.EventFailed, job.ID, attemptNumber, procErr.Message)
}

func (w *Worker) emit(queueID string, kind domain.EventKind, jobID string, attempt int, detail string) {
	if w.emitter == nil {
		return
	}
	w.emitter.Publish(domain.Event{
		Timestamp: w.clock.Now(),
		QueueID:   queueID,
		JobID:     jobID,
		Kind:      kind,
		Attempt:   attempt,
		Detail:    detail,
	})
}
