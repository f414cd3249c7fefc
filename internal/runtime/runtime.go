// Package runtime wires the store, queue disciplines, backpressure
// controller, worker pool, event bus and observability instruments into a
// single facade an embedding application constructs once, enqueues work
// against, and shuts down.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/jobqueue/internal/backpressure"
	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/config"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/rezkam/jobqueue/internal/events"
	"github.com/rezkam/jobqueue/internal/observability"
	"github.com/rezkam/jobqueue/internal/pool"
	"github.com/rezkam/jobqueue/internal/queue"
	"github.com/rezkam/jobqueue/internal/store"
	"github.com/rezkam/jobqueue/internal/worker"
)

// QueueConfig describes one queue's discipline, scheduling weight and
// backpressure strategy.
type QueueConfig struct {
	ID         string
	Discipline domain.DisciplineKind
	Priority   int64 // used by the priority-of-queue scheduler
	Weight     int   // used by the weighted scheduler

	// Bounded-only.
	Capacity       int
	OverflowPolicy domain.OverflowPolicy

	// Backpressure, optional. A nil Strategy means the queue always admits.
	Strategy   backpressure.Strategy
	RedirectTo string
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithClock overrides the runtime's clock, used by the reaper, backpressure
// sweeper and worker pool. Defaults to the real wall clock.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithScheduler overrides the pool's scheduling discipline. Defaults to
// priority-of-queue with the configured starvation fuse.
func WithScheduler(s pool.Scheduler) Option {
	return func(r *Runtime) { r.scheduler = s }
}

// WithInstruments attaches OpenTelemetry instruments; omit to run without
// metrics.
func WithInstruments(in *observability.Instruments) Option {
	return func(r *Runtime) { r.instruments = in }
}

// Runtime is the top-level facade over one job-queue deployment.
type Runtime struct {
	cfg    config.RuntimeConfig
	store  store.Store
	clock  clock.Clock
	bus    *events.Bus
	bp     *backpressure.Controller
	reaper *store.Reaper

	scheduler pool.Scheduler
	pool      *pool.Pool

	instruments *observability.Instruments

	discs      map[string]queue.Discipline
	processors map[string]worker.Processor

	started bool
}

// New constructs a Runtime. Call RegisterQueue and RegisterProcessor for
// every queue/job kind before Start.
func New(cfg config.RuntimeConfig, st store.Store, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:        cfg,
		store:      st,
		clock:      clock.Real{},
		discs:      make(map[string]queue.Discipline),
		processors: make(map[string]worker.Processor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scheduler == nil {
		r.scheduler = pool.NewPriorityOfQueue(cfg.StarvationFuse)
	}

	r.bus = events.New(0)
	bpOpts := []backpressure.Option{
		backpressure.WithSweepInterval(cfg.BackpressureSweep),
		backpressure.WithEmitter(r.bus),
	}
	if r.instruments != nil {
		bpOpts = append(bpOpts, backpressure.WithMetrics(r.instruments))
	}
	r.bp = backpressure.NewController(r.clock, bpOpts...)
	r.reaper = store.NewReaper(r.store, r.clock, cfg.ReaperInterval)
	r.reaper.OnRecovered = r.onLeaseRecovered

	poolOpts := []pool.Option{pool.WithClock(r.clock), pool.WithEmitter(r.bus)}
	if r.instruments != nil {
		poolOpts = append(poolOpts, pool.WithMetrics(r.instruments))
	}
	r.pool = pool.New(r.scheduler, r.workerFactory, poolOpts...)
	return r
}

// RegisterProcessor binds a job kind to the function that executes it. Must
// be called before Start.
func (r *Runtime) RegisterProcessor(kind string, proc worker.Processor) {
	r.processors[kind] = proc
}

// RegisterQueue builds the configured discipline, wires it into the pool's
// scheduler, the backpressure controller and (if configured) the metrics
// instruments. Must be called before Start.
func (r *Runtime) RegisterQueue(qc QueueConfig) (queue.Discipline, error) {
	var disc queue.Discipline
	switch qc.Discipline {
	case domain.DisciplineFIFO, "":
		disc = queue.NewFIFO()
	case domain.DisciplinePriority:
		disc = queue.NewPriority()
	case domain.DisciplineDelay:
		disc = queue.NewDelay()
	case domain.DisciplineBounded:
		inner := queue.NewFIFO()
		disc = queue.NewBounded(inner, qc.Capacity, qc.OverflowPolicy, func(jobID string) {
			r.onOverflow(qc.ID, jobID)
		})
	default:
		return nil, fmt.Errorf("runtime: unknown discipline %q for queue %q", qc.Discipline, qc.ID)
	}

	r.discs[qc.ID] = disc
	r.pool.RegisterQueue(qc.ID, disc, qc.Priority, qc.Weight)
	if qc.Strategy != nil {
		r.bp.RegisterQueue(qc.ID, qc.Strategy, disc.Size, qc.RedirectTo)
	}
	return disc, nil
}

// Enqueue admits job into its target queue, applying backpressure and
// assigning defaults (ID, CreatedAt, VisibleAt, RetryPolicy) where unset.
func (r *Runtime) Enqueue(ctx context.Context, job *domain.Job) error {
	disc, ok := r.discs[job.QueueID]
	if !ok {
		return fmt.Errorf("runtime: unknown queue %q", job.QueueID)
	}

	r.bp.RecordArrival(job.QueueID)
	if err := r.bp.Admit(ctx, job.QueueID); err != nil {
		var redirect *backpressure.RedirectSignal
		if errors.As(err, &redirect) {
			job.QueueID = redirect.QueueID
			return r.Enqueue(ctx, job)
		}
		var dl *backpressure.DeadLetterSignal
		if errors.As(err, &dl) {
			if r.cfg.DeadLetterQueue == "" {
				return domain.ErrNoDeadLetterQueue
			}
			if job.ID == "" {
				job.ID = uuid.NewString()
			}
			job.QueueID = r.cfg.DeadLetterQueue
			job.Status = domain.StatusDeadLettered
			job.CreatedAt = r.clock.Now()
			return r.put(ctx, job)
		}
		return err
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := r.clock.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.VisibleAt.IsZero() {
		job.VisibleAt = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = r.cfg.DefaultRetryMaxAttempts
	}
	if job.RetryPolicy.Strategy == "" {
		policy := domain.DefaultRetryPolicy()
		if r.cfg.DefaultRetryStrategy != "" {
			policy.Strategy = domain.BackoffStrategy(r.cfg.DefaultRetryStrategy)
		}
		if r.cfg.DefaultRetryBaseDelay > 0 {
			policy.BaseDelay = r.cfg.DefaultRetryBaseDelay
		}
		if r.cfg.DefaultRetryCap > 0 {
			policy.Cap = r.cfg.DefaultRetryCap
		}
		policy.MaxAttempts = job.MaxAttempts
		job.RetryPolicy = policy
	}
	if job.AttemptTimeout == 0 {
		job.AttemptTimeout = r.cfg.DefaultAttemptTimeout
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}

	if err := r.put(ctx, job); err != nil {
		return err
	}
	if err := disc.Enqueue(ctx, queue.Entry{JobID: job.ID, Priority: job.Priority, VisibleAt: job.VisibleAt}); err != nil {
		return err
	}
	r.bus.Publish(domain.Event{Timestamp: now, QueueID: job.QueueID, JobID: job.ID, Kind: domain.EventEnqueued})
	if r.pool != nil {
		r.pool.Notify()
	}
	return nil
}

func (r *Runtime) put(ctx context.Context, job *domain.Job) error {
	return r.store.Put(ctx, job)
}

func (r *Runtime) workerFactory(id string) *worker.Worker {
	cfg := worker.Config{
		ID:             id,
		Store:          r.store,
		Clock:          r.clock,
		Processors:     r.processors,
		Backpressure:   r.bp,
		Events:         r.bus,
		AttemptTimeout: r.cfg.DefaultAttemptTimeout,
	}
	if r.instruments != nil {
		cfg.Metrics = r.instruments
	}
	if r.cfg.DeadLetterQueue != "" {
		cfg.DeadLetter = r.deadLetter
	}
	return worker.New(cfg)
}

// onLeaseRecovered re-enters a job the reaper just moved back to retrying
// into its queue discipline. The store and a discipline are independent
// data structures: the discipline still holds the job in its in-flight set
// from the lease that expired without an Ack or Nack, so without this the
// job would be retrying in the store forever but unleasable in practice.
func (r *Runtime) onLeaseRecovered(job *domain.Job, visibleAt time.Time) {
	disc, ok := r.discs[job.QueueID]
	if !ok {
		slog.ErrorContext(context.Background(), "runtime: recovered job belongs to an unregistered queue",
			"job_id", job.ID, "queue", job.QueueID)
		return
	}
	if err := disc.Nack(job.ID, visibleAt); err != nil {
		slog.ErrorContext(context.Background(), "runtime: failed to re-enter recovered job into discipline",
			"job_id", job.ID, "queue", job.QueueID, "error", err)
	}
}

// onOverflow marks a job a Bounded discipline just evicted (drop_oldest or
// drop_newest) as cancelled with reason "overflow", keeping the store's
// notion of that job's liveness consistent with the discipline no longer
// tracking it.
func (r *Runtime) onOverflow(queueID, jobID string) {
	ctx := context.Background()
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		slog.ErrorContext(ctx, "runtime: overflowed job not found in store", "queue", queueID, "job_id", jobID, "error", err)
		return
	}
	rec := &domain.ErrorRecord{Category: domain.CategoryPermanent, Message: "overflow", Retriable: false}
	if err := r.store.UpdateStatus(ctx, jobID, job.Status, domain.StatusCancelled, store.UpdateFields{Error: rec}); err != nil {
		slog.ErrorContext(ctx, "runtime: failed to mark overflowed job cancelled", "queue", queueID, "job_id", jobID, "error", err)
	}
}

func (r *Runtime) deadLetter(ctx context.Context, job *domain.Job) error {
	disc, ok := r.discs[r.cfg.DeadLetterQueue]
	if !ok {
		return fmt.Errorf("runtime: dead-letter queue %q is not registered", r.cfg.DeadLetterQueue)
	}
	return disc.Enqueue(ctx, queue.Entry{JobID: job.ID, Priority: job.Priority, VisibleAt: r.clock.Now()})
}

// Start launches the worker pool, lease reaper and backpressure sweeper.
func (r *Runtime) Start(ctx context.Context) error {
	if r.started {
		return fmt.Errorf("runtime: already started")
	}
	r.started = true
	if err := r.pool.Start(ctx, r.cfg.PoolSize); err != nil {
		return err
	}
	go r.reaper.Run(ctx)
	go r.bp.Run(ctx)
	return nil
}

// Stop gracefully drains the pool, waiting up to drainDeadline for
// in-flight attempts before force-cancelling them.
func (r *Runtime) Stop(drainDeadline time.Duration) {
	r.pool.Stop(drainDeadline)
}

// Events subscribes to the runtime's structured event stream. Callers must
// keep draining the returned channel (or call cancel) to avoid drops.
func (r *Runtime) Events(kinds ...domain.EventKind) (<-chan domain.Event, func()) {
	return r.bus.Subscribe(kinds)
}

// Stats returns a point-in-time snapshot of the worker pool.
func (r *Runtime) Stats() pool.Stats {
	return r.pool.Stats()
}

// Store exposes the underlying job store for read access (Get, List,
// Stats) by callers that need to inspect job state directly.
func (r *Runtime) Store() store.Store {
	return r.store
}
