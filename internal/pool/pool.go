package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/rezkam/jobqueue/internal/queue"
	"github.com/rezkam/jobqueue/internal/worker"
)

// Emitter publishes structured runtime events; satisfied by *events.Bus.
type Emitter interface {
	Publish(domain.Event)
}

// Metrics makes a queue's size observable, satisfied by
// *observability.Instruments.
type Metrics interface {
	RegisterQueue(queueID string, sizeFn func() domain.QueueSize)
}

// Factory builds a new Worker with the given id. The returned worker shares
// whatever Store/Clock/Processors the caller wired into it; only the id
// need vary between calls.
type Factory func(id string) *worker.Worker

// Stats is a point-in-time snapshot of a Pool's worker population.
type Stats struct {
	Workers    int
	ByStatus   map[domain.WorkerStatus]int
	FatalCount uint64
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithClock overrides the pool's clock, used for Stop's drain deadline.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithEmitter attaches an event sink for worker-panic notifications.
func WithEmitter(e Emitter) Option {
	return func(p *Pool) { p.emitter = e }
}

// WithMetrics attaches a queue-depth recorder; RegisterQueue forwards each
// queue's Size func to it.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

type workerHandle struct {
	w      *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool is a fixed-or-elastic set of workers sharing a Scheduler and a set
// of queues. A single worker panic is caught at the pool boundary and
// never brings down the rest of the pool.
type Pool struct {
	scheduler Scheduler
	factory   Factory
	clock     clock.Clock
	emitter   Emitter
	metrics   Metrics

	mu        sync.Mutex
	discs     map[string]queue.Discipline
	workers   map[string]*workerHandle
	nextID    int
	runCtx    context.Context
	runCancel context.CancelFunc
	started   bool
	stopped   bool

	wg         sync.WaitGroup
	fatalCount atomic.Uint64
}

// New returns a Pool that will build workers via factory and schedule
// queues via scheduler. Call RegisterQueue for each queue before Start.
func New(scheduler Scheduler, factory Factory, opts ...Option) *Pool {
	p := &Pool{
		scheduler: scheduler,
		factory:   factory,
		clock:     clock.Real{},
		discs:     make(map[string]queue.Discipline),
		workers:   make(map[string]*workerHandle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterQueue adds a queue to the pool's rotation. priority and weight
// are passed through to the scheduler; disciplines that don't use one
// ignore it.
func (p *Pool) RegisterQueue(queueID string, disc queue.Discipline, priority int64, weight int) {
	p.mu.Lock()
	p.discs[queueID] = disc
	p.mu.Unlock()
	p.scheduler.Register(queueID, priority, weight, disc.Size)
	if p.metrics != nil {
		p.metrics.RegisterQueue(queueID, disc.Size)
	}
}

// UnregisterQueue removes a queue from the pool's rotation.
func (p *Pool) UnregisterQueue(queueID string) {
	p.mu.Lock()
	delete(p.discs, queueID)
	p.mu.Unlock()
	p.scheduler.Unregister(queueID)
}

// Start launches size workers. ctx governs the pool's lifetime: cancelling
// it is equivalent to an immediate Stop with a zero drain deadline.
func (p *Pool) Start(ctx context.Context, size int) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("jobqueue: pool already started")
	}
	p.started = true
	p.runCtx, p.runCancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for i := 0; i < size; i++ {
		p.spawnWorker()
	}
	return nil
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	id := fmt.Sprintf("worker-%d", p.nextID)
	p.nextID++
	w := p.factory(id)
	wctx, cancel := context.WithCancel(p.runCtx)
	handle := &workerHandle{w: w, cancel: cancel, done: make(chan struct{})}
	p.workers[id] = handle
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runWorker(handle, wctx)
}

func (p *Pool) runWorker(h *workerHandle, ctx context.Context) {
	defer p.wg.Done()
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			p.fatalCount.Add(1)
			slog.Error("pool: worker panicked, restarting", "worker_id", h.w.ID(), "panic", r)
			if p.emitter != nil {
				p.emitter.Publish(domain.Event{
					Timestamp: p.clock.Now(),
					Kind:      domain.EventWorkerPanic,
					Detail:    fmt.Sprintf("worker %s: %v", h.w.ID(), r),
				})
			}
			p.mu.Lock()
			stopped := p.stopped
			delete(p.workers, h.w.ID())
			p.mu.Unlock()
			if !stopped {
				p.spawnWorker()
			}
		}
	}()
	h.w.Run(ctx, p.next)
}

func (p *Pool) next(ctx context.Context) (string, queue.Discipline, bool) {
	id, ok := p.scheduler.Next()
	if !ok {
		return "", nil, false
	}
	p.mu.Lock()
	disc := p.discs[id]
	p.mu.Unlock()
	if disc == nil {
		return "", nil, false
	}
	return id, disc, true
}

// Notify wakes every idle worker, used after a successful enqueue so a
// parked worker doesn't wait out its park timeout to notice new work.
func (p *Pool) Notify() {
	p.mu.Lock()
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		h.w.Wake()
	}
}

// Resize adds or removes workers to reach n. Removal proceeds by graceful
// stop of workers taken in map iteration order, so which workers stop is
// not defined; it does not wait for them to finish draining before
// returning.
func (p *Pool) Resize(n int) {
	p.mu.Lock()
	current := len(p.workers)
	var toStop []*workerHandle
	if n > current {
		p.mu.Unlock()
		for i := 0; i < n-current; i++ {
			p.spawnWorker()
		}
		return
	}
	if n < current {
		for _, h := range p.workers {
			if len(toStop) >= current-n {
				break
			}
			toStop = append(toStop, h)
		}
	}
	p.mu.Unlock()
	for _, h := range toStop {
		h.w.Stop()
		h.cancel()
	}
}

// Stats returns a point-in-time snapshot of the pool's worker population.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	s := Stats{Workers: len(handles), ByStatus: make(map[domain.WorkerStatus]int), FatalCount: p.fatalCount.Load()}
	for _, h := range handles {
		s.ByStatus[h.w.Status()]++
	}
	return s
}

// Stop asks every worker to stop leasing new jobs, waits up to
// drainDeadline for in-flight attempts to finish, then cancels the pool's
// context to fire-cancel anything still running.
func (p *Pool) Stop(drainDeadline time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.w.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-p.clock.After(drainDeadline):
		slog.Warn("pool: drain deadline elapsed, cancelling in-flight attempts")
		p.runCancel()
		<-done
	}
}
