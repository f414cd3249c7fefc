package backpressure

import (
	"testing"

	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSizeBasedTriggerAndRelease(t *testing.T) {
	s := NewSizeBased(100)
	assert.False(t, s.ShouldTrigger(Snapshot{Ready: 100}))
	assert.True(t, s.ShouldTrigger(Snapshot{Ready: 101}))
	assert.Equal(t, domain.ActionReject, s.Apply(Snapshot{}))

	assert.False(t, s.ShouldRelease(Snapshot{Ready: 81}))
	assert.True(t, s.ShouldRelease(Snapshot{Ready: 80}))
}

func TestUtilizationTriggerAndRelease(t *testing.T) {
	u := NewUtilization(0.5)
	assert.False(t, u.ShouldTrigger(Snapshot{Ready: 5, InFlight: 5}))
	assert.True(t, u.ShouldTrigger(Snapshot{Ready: 4, InFlight: 6}))
	assert.Equal(t, domain.ActionBlock, u.Apply(Snapshot{}))
	assert.True(t, u.ShouldRelease(Snapshot{Ready: 6, InFlight: 4}))
}

func TestUtilizationEmptyQueueNeverTriggers(t *testing.T) {
	u := NewUtilization(0.1)
	assert.False(t, u.ShouldTrigger(Snapshot{}))
}

func TestRateBasedTriggerAndRelease(t *testing.T) {
	r := NewRateBased(2)
	assert.False(t, r.ShouldTrigger(Snapshot{ArrivalRate: 10, ProcessingRate: 6}))
	assert.True(t, r.ShouldTrigger(Snapshot{ArrivalRate: 10, ProcessingRate: 4}))
	assert.Equal(t, domain.ActionThrottle, r.Apply(Snapshot{}))
	assert.True(t, r.ShouldRelease(Snapshot{ArrivalRate: 8, ProcessingRate: 5}))
}

func TestRateBasedStalledProcessingTriggers(t *testing.T) {
	r := NewRateBased(2)
	assert.True(t, r.ShouldTrigger(Snapshot{ArrivalRate: 1, ProcessingRate: 0}))
	assert.False(t, r.ShouldTrigger(Snapshot{ArrivalRate: 0, ProcessingRate: 0}))
}

func TestLatencyBasedTriggerAndRelease(t *testing.T) {
	l := NewLatencyBased(100)
	assert.False(t, l.ShouldTrigger(Snapshot{LatencyMeanMs: 100}))
	assert.True(t, l.ShouldTrigger(Snapshot{LatencyMeanMs: 101}))
	assert.Equal(t, domain.ActionReject, l.Apply(Snapshot{}))
	assert.True(t, l.ShouldRelease(Snapshot{LatencyMeanMs: 80}))
}

func TestCompositeTriggersOnAnyMember(t *testing.T) {
	size := NewSizeBased(10)
	lat := NewLatencyBased(50)
	c := NewComposite(size, lat)

	assert.False(t, c.ShouldTrigger(Snapshot{Ready: 5, LatencyMeanMs: 10}))
	assert.True(t, c.ShouldTrigger(Snapshot{Ready: 11, LatencyMeanMs: 10}))
	assert.Equal(t, domain.ActionReject, c.Apply(Snapshot{Ready: 11, LatencyMeanMs: 10}))
}

func TestCompositeReleaseRequiresAllMembers(t *testing.T) {
	size := NewSizeBased(10)
	lat := NewLatencyBased(50)
	c := NewComposite(size, lat)

	// size released (ready <= 8) but latency not released (60 > 40)
	assert.False(t, c.ShouldRelease(Snapshot{Ready: 8, LatencyMeanMs: 60}))
	assert.True(t, c.ShouldRelease(Snapshot{Ready: 8, LatencyMeanMs: 40}))
}

func TestAdaptiveThresholdTracksRollingMean(t *testing.T) {
	a := NewAdaptive(10, 0.5)
	// Feed a stable history alternating Ready=9/11 so the mean converges
	// near 10 (consecutive identical readings would count only once).
	for i := 0; i < 20; i++ {
		a.ShouldRelease(Snapshot{Ready: 9 + 2*(i%2)})
	}
	// threshold ~= 10 * 1.5 = 15, within [5, 20] so the clamp doesn't apply.
	assert.False(t, a.ShouldTrigger(Snapshot{Ready: 14}))
	assert.True(t, a.ShouldTrigger(Snapshot{Ready: 16}))
}

func TestAdaptiveThresholdClampedAtCeiling(t *testing.T) {
	a := NewAdaptive(10, 0.5)
	// A sustained spike must not ratchet the threshold past 2*Base.
	for i := 0; i < 2000; i++ {
		a.ShouldRelease(Snapshot{Ready: 10000})
	}
	assert.False(t, a.ShouldTrigger(Snapshot{Ready: 20}))
	assert.True(t, a.ShouldTrigger(Snapshot{Ready: 21}))
}

func TestAdaptiveThresholdClampedAtFloor(t *testing.T) {
	a := NewAdaptive(10, 0.5)
	// A sustained quiet spell must not ratchet the threshold below 0.5*Base.
	for i := 0; i < 50; i++ {
		a.ShouldRelease(Snapshot{Ready: 0})
	}
	assert.False(t, a.ShouldTrigger(Snapshot{Ready: 5}))
	assert.True(t, a.ShouldTrigger(Snapshot{Ready: 6}))
}
