package backpressure

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
	"golang.org/x/time/rate"
)

// SizeFunc returns the current ready/in-flight/delayed counts for a queue,
// typically a discipline's Size method adapted to this signature.
type SizeFunc func() domain.QueueSize

// Emitter publishes backpressure events; satisfied by *events.Bus.
type Emitter interface {
	Publish(domain.Event)
}

// Metrics receives a count for every backpressure action actually taken;
// satisfied by *observability.Instruments.
type Metrics interface {
	RecordBackpressureAction(ctx context.Context, queueID string, action domain.BackpressureAction)
}

type queueState struct {
	mu              sync.Mutex
	strategy        Strategy
	sizeFn          SizeFunc
	arrivals        *RateWindow
	completions     *RateWindow
	latency         *LatencyWindow
	triggered       bool
	action          domain.BackpressureAction
	releaseEligible time.Time // zero until the release predicate first holds
	waiters         []chan struct{}
	limiter         *rate.Limiter
	redirectTo      string
}

// Controller evaluates enqueue admission against a per-queue Strategy and
// applies the resulting action: reject, block, throttle, redirect or
// dead_letter.
type Controller struct {
	clock         clock.Clock
	emitter       Emitter
	metrics       Metrics
	blockTimeout  time.Duration
	sweepInterval time.Duration
	rateWindow    time.Duration
	latencyCap    int

	mu     sync.Mutex
	queues map[string]*queueState
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithBlockTimeout overrides the default 30s cap on the block action.
func WithBlockTimeout(d time.Duration) Option {
	return func(c *Controller) { c.blockTimeout = d }
}

// WithSweepInterval sets the minimum duration a release predicate must hold
// before the controller actually releases a triggered queue.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Controller) { c.sweepInterval = d }
}

// WithEmitter attaches an event sink for applied/released/rejected/blocked/
// throttled/redirected events.
func WithEmitter(e Emitter) Option {
	return func(c *Controller) { c.emitter = e }
}

// WithMetrics attaches a recorder for applied backpressure actions.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController returns a Controller driven by clk.
func NewController(clk clock.Clock, opts ...Option) *Controller {
	c := &Controller{
		clock:         clk,
		blockTimeout:  30 * time.Second,
		sweepInterval: time.Second,
		rateWindow:    60 * time.Second,
		latencyCap:    100,
		queues:        make(map[string]*queueState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterQueue attaches a strategy and size accessor to a queue id. A
// queue with no registered strategy always admits.
func (c *Controller) RegisterQueue(queueID string, strategy Strategy, sizeFn SizeFunc, redirectTo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[queueID] = &queueState{
		strategy:    strategy,
		sizeFn:      sizeFn,
		arrivals:    NewRateWindow(c.rateWindow),
		completions: NewRateWindow(c.rateWindow),
		latency:     NewLatencyWindow(c.latencyCap),
		limiter:     rate.NewLimiter(rate.Limit(10), 1),
		redirectTo:  redirectTo,
	}
}

func (c *Controller) state(queueID string) *queueState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queues[queueID]
}

// RecordArrival counts an enqueue attempt toward the queue's arrival rate,
// regardless of whether it is ultimately admitted.
func (c *Controller) RecordArrival(queueID string) {
	st := c.state(queueID)
	if st == nil {
		return
	}
	st.arrivals.Record(c.clock.Now())
}

// RecordCompletion counts a processed job toward the queue's processing
// rate and latency window.
func (c *Controller) RecordCompletion(queueID string, latency time.Duration) {
	st := c.state(queueID)
	if st == nil {
		return
	}
	st.completions.Record(c.clock.Now())
	st.latency.Record(latency)
}

func (c *Controller) snapshot(queueID string, st *queueState) Snapshot {
	now := c.clock.Now()
	size := st.sizeFn()
	return Snapshot{
		QueueID:        queueID,
		Ready:          size.Ready,
		InFlight:       size.InFlight,
		Delayed:        size.Delayed,
		ArrivalRate:    st.arrivals.Rate(now),
		ProcessingRate: st.completions.Rate(now),
		LatencyMeanMs:  float64(st.latency.Mean()) / float64(time.Millisecond),
	}
}

// Admit evaluates backpressure for queueID and either returns nil (admit),
// a redirect target via *RedirectSignal, a dead-letter signal via
// *DeadLetterSignal, or a typed rejection/timeout error.
func (c *Controller) Admit(ctx context.Context, queueID string) error {
	st := c.state(queueID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	snap := c.snapshot(queueID, st)
	if !st.triggered {
		if st.strategy.ShouldTrigger(snap) {
			st.triggered = true
			st.action = st.strategy.Apply(snap)
			st.releaseEligible = time.Time{}
			c.emit(queueID, domain.EventBackpressure, "applied: "+st.strategy.Name())
		} else {
			st.mu.Unlock()
			return nil
		}
	}
	action := st.action
	st.mu.Unlock()

	switch action {
	case domain.ActionReject:
		c.emit(queueID, domain.EventBackpressure, "rejected")
		c.record(ctx, queueID, domain.ActionReject)
		return &domain.BackpressureRejected{QueueID: queueID, Strategy: st.strategy.Name()}
	case domain.ActionBlock:
		c.record(ctx, queueID, domain.ActionBlock)
		return c.block(ctx, queueID, st)
	case domain.ActionThrottle:
		if err := st.limiter.Wait(ctx); err != nil {
			return &domain.BackpressureTimeout{QueueID: queueID}
		}
		c.emit(queueID, domain.EventBackpressure, "throttled")
		c.record(ctx, queueID, domain.ActionThrottle)
		return nil
	case domain.ActionRedirect:
		if st.redirectTo == "" {
			c.emit(queueID, domain.EventBackpressure, "rejected: no redirect target configured")
			c.record(ctx, queueID, domain.ActionReject)
			return &domain.BackpressureRejected{QueueID: queueID, Strategy: st.strategy.Name()}
		}
		c.emit(queueID, domain.EventBackpressure, "redirected: "+st.redirectTo)
		c.record(ctx, queueID, domain.ActionRedirect)
		return &RedirectSignal{QueueID: st.redirectTo}
	case domain.ActionDeadLetter:
		c.emit(queueID, domain.EventBackpressure, "dead_lettered")
		c.record(ctx, queueID, domain.ActionDeadLetter)
		return &DeadLetterSignal{}
	default:
		return nil
	}
}

func (c *Controller) record(ctx context.Context, queueID string, action domain.BackpressureAction) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordBackpressureAction(ctx, queueID, action)
}

func (c *Controller) block(ctx context.Context, queueID string, st *queueState) error {
	st.mu.Lock()
	ch := make(chan struct{})
	st.waiters = append(st.waiters, ch)
	st.mu.Unlock()

	c.emit(queueID, domain.EventBackpressure, "blocked")

	timer := c.clock.NewTimer(c.blockTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C():
		return &domain.BackpressureTimeout{QueueID: queueID}
	case <-ctx.Done():
		return &domain.BackpressureTimeout{QueueID: queueID}
	}
}

// Sweep evaluates release predicates for every triggered queue. Call it
// periodically (Run does so every sweep interval; the runtime starts Run in
// its own goroutine, separate from the store's reaper) so callers suspended
// by the block action unblock promptly once a queue recovers.
func (c *Controller) Sweep() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.queues))
	states := make([]*queueState, 0, len(c.queues))
	for id, st := range c.queues {
		ids = append(ids, id)
		states = append(states, st)
	}
	c.mu.Unlock()

	now := c.clock.Now()
	for i, st := range states {
		c.sweepOne(ids[i], st, now)
	}
}

func (c *Controller) sweepOne(queueID string, st *queueState, now time.Time) {
	st.mu.Lock()
	if !st.triggered {
		st.mu.Unlock()
		return
	}
	snap := c.snapshot(queueID, st)
	if !st.strategy.ShouldRelease(snap) {
		st.releaseEligible = time.Time{}
		st.mu.Unlock()
		return
	}
	if st.releaseEligible.IsZero() {
		st.releaseEligible = now
		st.mu.Unlock()
		return
	}
	if now.Sub(st.releaseEligible) < c.sweepInterval {
		st.mu.Unlock()
		return
	}
	st.triggered = false
	waiters := st.waiters
	st.waiters = nil
	st.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	c.emit(queueID, domain.EventBackpressureOff, "released: "+st.strategy.Name())
}

// Run sweeps on the controller's sweep interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	timer := c.clock.NewTimer(c.sweepInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			c.Sweep()
			timer.Reset(c.sweepInterval)
		}
	}
}

func (c *Controller) emit(queueID string, kind domain.EventKind, detail string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Publish(domain.Event{
		Timestamp: c.clock.Now(),
		QueueID:   queueID,
		Kind:      kind,
		Detail:    detail,
	})
	if kind == domain.EventBackpressure || kind == domain.EventBackpressureOff {
		slog.Debug("backpressure", "queue_id", queueID, "detail", detail)
	}
}

// RedirectSignal is returned by Admit when the redirect action applies; the
// caller should enqueue into the named queue instead.
type RedirectSignal struct {
	QueueID string
}

func (r *RedirectSignal) Error() string { return "redirect to " + r.QueueID }

// DeadLetterSignal is returned by Admit when the dead_letter action
// applies; the caller should admit the job directly into the configured
// dead-letter queue.
type DeadLetterSignal struct{}

func (d *DeadLetterSignal) Error() string { return "admit to dead-letter queue" }
