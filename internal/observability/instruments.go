package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Instruments is the set of OpenTelemetry metric instruments the runtime
// records into. Queue, worker and backpressure components are handed an
// *Instruments (or nil, in which case recording is skipped) rather than a
// raw meter, so callers never need to know instrument names.
type Instruments struct {
	queueDepth        metric.Int64ObservableGauge
	leaseLatency      metric.Float64Histogram
	attemptLatency    metric.Float64Histogram
	backpressureTotal metric.Int64Counter
	deadLetterTotal   metric.Int64Counter

	depths map[string]func() domain.QueueSize
}

// NewInstruments creates and registers the runtime's instruments against
// the given meter. Pass otel.Meter("jobqueue") or similar.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	in := &Instruments{depths: make(map[string]func() domain.QueueSize)}

	var err error
	in.leaseLatency, err = meter.Float64Histogram("jobqueue.lease.latency",
		metric.WithDescription("time between job enqueue and successful lease"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("observability: creating lease latency histogram: %w", err)
	}

	in.attemptLatency, err = meter.Float64Histogram("jobqueue.attempt.latency",
		metric.WithDescription("processor invocation duration per attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("observability: creating attempt latency histogram: %w", err)
	}

	in.backpressureTotal, err = meter.Int64Counter("jobqueue.backpressure.actions",
		metric.WithDescription("backpressure actions taken, by action and queue"))
	if err != nil {
		return nil, fmt.Errorf("observability: creating backpressure counter: %w", err)
	}

	in.deadLetterTotal, err = meter.Int64Counter("jobqueue.dead_letter.total",
		metric.WithDescription("jobs routed to a dead-letter queue"))
	if err != nil {
		return nil, fmt.Errorf("observability: creating dead letter counter: %w", err)
	}

	in.queueDepth, err = meter.Int64ObservableGauge("jobqueue.queue.depth",
		metric.WithDescription("ready entries per queue, sampled on collection"))
	if err != nil {
		return nil, fmt.Errorf("observability: creating queue depth gauge: %w", err)
	}

	_, err = meter.RegisterCallback(in.observeQueueDepth, in.queueDepth)
	if err != nil {
		return nil, fmt.Errorf("observability: registering queue depth callback: %w", err)
	}

	return in, nil
}

// RegisterQueue makes a queue's Size func observable via the queue depth
// gauge. Not safe to call concurrently with observation (call during pool
// setup, before Start).
func (in *Instruments) RegisterQueue(queueID string, sizeFn func() domain.QueueSize) {
	if in == nil {
		return
	}
	in.depths[queueID] = sizeFn
}

func (in *Instruments) observeQueueDepth(_ context.Context, o metric.Observer) error {
	for id, sizeFn := range in.depths {
		size := sizeFn()
		o.ObserveInt64(in.queueDepth, int64(size.Ready), metric.WithAttributes(attribute.String("queue", id)))
	}
	return nil
}

// RecordLeaseLatency records the time between enqueue and a successful lease.
func (in *Instruments) RecordLeaseLatency(ctx context.Context, queueID string, seconds float64) {
	if in == nil {
		return
	}
	in.leaseLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("queue", queueID)))
}

// RecordAttemptLatency records a processor invocation's wall-clock duration.
func (in *Instruments) RecordAttemptLatency(ctx context.Context, queueID string, seconds float64) {
	if in == nil {
		return
	}
	in.attemptLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("queue", queueID)))
}

// RecordBackpressureAction increments the counter for a taken action.
func (in *Instruments) RecordBackpressureAction(ctx context.Context, queueID string, action domain.BackpressureAction) {
	if in == nil {
		return
	}
	in.backpressureTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queueID),
		attribute.String("action", string(action)),
	))
}

// RecordDeadLetter increments the dead-letter counter for a queue.
func (in *Instruments) RecordDeadLetter(ctx context.Context, queueID string) {
	if in == nil {
		return
	}
	in.deadLetterTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queueID)))
}
