package backpressure

import "github.com/rezkam/jobqueue/internal/domain"

// releaseFactor is the hysteresis margin: release predicates fire at this
// fraction of the trigger threshold to prevent oscillation around the
// boundary.
const releaseFactor = 0.80

// SizeBased triggers when a queue's ready count exceeds Threshold.
type SizeBased struct {
	Threshold int
	Action    domain.BackpressureAction
}

// NewSizeBased returns a SizeBased strategy defaulting to the reject action.
func NewSizeBased(threshold int) *SizeBased {
	return &SizeBased{Threshold: threshold, Action: domain.ActionReject}
}

func (s *SizeBased) Name() string { return "size" }

func (s *SizeBased) ShouldTrigger(snap Snapshot) bool { return snap.Ready > s.Threshold }

func (s *SizeBased) Apply(Snapshot) domain.BackpressureAction { return s.Action }

func (s *SizeBased) ShouldRelease(snap Snapshot) bool {
	return float64(snap.Ready) <= releaseFactor*float64(s.Threshold)
}

// Utilization triggers when in-flight share of live jobs exceeds P (0..1).
type Utilization struct {
	P      float64
	Action domain.BackpressureAction
}

// NewUtilization returns a Utilization strategy defaulting to the block action.
func NewUtilization(p float64) *Utilization {
	return &Utilization{P: p, Action: domain.ActionBlock}
}

func (u *Utilization) Name() string { return "utilization" }

func (u *Utilization) ratio(snap Snapshot) float64 {
	total := snap.Ready + snap.InFlight
	if total == 0 {
		return 0
	}
	return float64(snap.InFlight) / float64(total)
}

func (u *Utilization) ShouldTrigger(snap Snapshot) bool { return u.ratio(snap) > u.P }

func (u *Utilization) Apply(Snapshot) domain.BackpressureAction { return u.Action }

func (u *Utilization) ShouldRelease(snap Snapshot) bool { return u.ratio(snap) <= releaseFactor*u.P }

// RateBased triggers when arrival rate outpaces processing rate by more
// than factor K, over a rolling window the caller feeds via Snapshot.
type RateBased struct {
	K      float64
	Action domain.BackpressureAction
}

// NewRateBased returns a RateBased strategy defaulting to the throttle action.
func NewRateBased(k float64) *RateBased {
	return &RateBased{K: k, Action: domain.ActionThrottle}
}

func (r *RateBased) Name() string { return "rate" }

func (r *RateBased) ratio(snap Snapshot) float64 {
	if snap.ProcessingRate == 0 {
		if snap.ArrivalRate == 0 {
			return 0
		}
		return r.K + 1 // processing has stalled while arrivals continue
	}
	return snap.ArrivalRate / snap.ProcessingRate
}

func (r *RateBased) ShouldTrigger(snap Snapshot) bool { return r.ratio(snap) > r.K }

func (r *RateBased) Apply(Snapshot) domain.BackpressureAction { return r.Action }

func (r *RateBased) ShouldRelease(snap Snapshot) bool { return r.ratio(snap) <= releaseFactor*r.K }

// LatencyBased triggers when rolling-mean processing latency exceeds a
// threshold in milliseconds.
type LatencyBased struct {
	ThresholdMs float64
	Action      domain.BackpressureAction
}

// NewLatencyBased returns a LatencyBased strategy defaulting to the reject action.
func NewLatencyBased(thresholdMs float64) *LatencyBased {
	return &LatencyBased{ThresholdMs: thresholdMs, Action: domain.ActionReject}
}

func (l *LatencyBased) Name() string { return "latency" }

func (l *LatencyBased) ShouldTrigger(snap Snapshot) bool { return snap.LatencyMeanMs > l.ThresholdMs }

func (l *LatencyBased) Apply(Snapshot) domain.BackpressureAction { return l.Action }

func (l *LatencyBased) ShouldRelease(snap Snapshot) bool {
	return snap.LatencyMeanMs <= releaseFactor*l.ThresholdMs
}

// Composite triggers when any member triggers. Apply returns the action of
// the first triggered member (in Members order). Release requires every
// member's release predicate to hold.
type Composite struct {
	Members []Strategy
}

// NewComposite returns a Composite over the given member strategies.
func NewComposite(members ...Strategy) *Composite {
	return &Composite{Members: members}
}

func (c *Composite) Name() string { return "composite" }

func (c *Composite) ShouldTrigger(snap Snapshot) bool {
	for _, m := range c.Members {
		if m.ShouldTrigger(snap) {
			return true
		}
	}
	return false
}

func (c *Composite) Apply(snap Snapshot) domain.BackpressureAction {
	for _, m := range c.Members {
		if m.ShouldTrigger(snap) {
			return m.Apply(snap)
		}
	}
	return domain.ActionReject
}

func (c *Composite) ShouldRelease(snap Snapshot) bool {
	for _, m := range c.Members {
		if !m.ShouldRelease(snap) {
			return false
		}
	}
	return true
}

// Adaptive triggers when ready exceeds a threshold that tracks a rolling
// mean of ready depth scaled by (1 + Alpha), rather than a fixed constant.
// The threshold is clamped to [0.5*Base, 2*Base] so a sustained spike can't
// ratchet it up (or a quiet spell ratchet it down) without bound. Both
// ShouldTrigger and ShouldRelease read the same threshold; it is recomputed
// once per distinct Ready observation so evaluating both in one controller
// pass does not double-count a sample.
type Adaptive struct {
	Base        float64
	Alpha       float64
	Action      domain.BackpressureAction
	meanSum     float64
	samples     int
	lastReady   int
	lastHasSeen bool
}

// NewAdaptive returns an Adaptive strategy defaulting to the block action,
// with its threshold clamped to [0.5*base, 2*base].
func NewAdaptive(base, alpha float64) *Adaptive {
	return &Adaptive{Base: base, Alpha: alpha, Action: domain.ActionBlock}
}

func (a *Adaptive) Name() string { return "adaptive" }

func (a *Adaptive) threshold(snap Snapshot) float64 {
	if !a.lastHasSeen || a.lastReady != snap.Ready {
		a.samples++
		a.meanSum += float64(snap.Ready)
		if a.samples > 1000 {
			mean := a.meanSum / float64(a.samples)
			a.meanSum = mean * 500
			a.samples = 500
		}
		a.lastReady = snap.Ready
		a.lastHasSeen = true
	}
	mean := a.meanSum / float64(a.samples)
	t := mean * (1 + a.Alpha)
	switch {
	case t < 0.5*a.Base:
		return 0.5 * a.Base
	case t > 2*a.Base:
		return 2 * a.Base
	default:
		return t
	}
}

func (a *Adaptive) ShouldTrigger(snap Snapshot) bool {
	return float64(snap.Ready) > a.threshold(snap)
}

func (a *Adaptive) Apply(Snapshot) domain.BackpressureAction { return a.Action }

func (a *Adaptive) ShouldRelease(snap Snapshot) bool {
	return float64(snap.Ready) <= releaseFactor*a.threshold(snap)
}
