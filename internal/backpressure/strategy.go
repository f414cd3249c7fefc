package backpressure

import "github.com/rezkam/jobqueue/internal/domain"

// Snapshot is the per-queue reading a Strategy evaluates against. Fields a
// strategy does not use are simply ignored.
type Snapshot struct {
	QueueID        string
	Ready          int
	InFlight       int
	Delayed        int
	ArrivalRate    float64 // events/sec, rolling window
	ProcessingRate float64 // events/sec, rolling window
	LatencyMeanMs  float64
}

// Strategy is a pluggable backpressure predicate/action pair.
type Strategy interface {
	// Name identifies the strategy for events and error messages.
	Name() string

	// ShouldTrigger reports whether backpressure should engage given s.
	ShouldTrigger(s Snapshot) bool

	// Apply returns the action to take while triggered.
	Apply(s Snapshot) domain.BackpressureAction

	// ShouldRelease reports whether the release predicate currently holds.
	// The controller additionally requires this to hold for at least one
	// sweep interval before actually releasing, to damp oscillation.
	ShouldRelease(s Snapshot) bool
}
