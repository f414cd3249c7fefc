package pool

import (
	"testing"

	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readySize(n int) SizeFunc {
	return func() domain.QueueSize { return domain.QueueSize{Ready: n} }
}

func TestRoundRobinVisitsInFixedOrder(t *testing.T) {
	r := NewRoundRobin()
	r.Register("a", 0, 0, readySize(1))
	r.Register("b", 0, 0, readySize(1))
	r.Register("c", 0, 0, readySize(1))

	var got []string
	for i := 0; i < 6; i++ {
		id, ok := r.Next()
		require.True(t, ok)
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestRoundRobinSkipsEmptyQueues(t *testing.T) {
	r := NewRoundRobin()
	r.Register("a", 0, 0, readySize(0))
	r.Register("b", 0, 0, readySize(1))

	id, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestRoundRobinAllEmptyReturnsFalse(t *testing.T) {
	r := NewRoundRobin()
	r.Register("a", 0, 0, readySize(0))
	_, ok := r.Next()
	assert.False(t, ok)
}

func TestRoundRobinUnregisterRemovesQueue(t *testing.T) {
	r := NewRoundRobin()
	r.Register("a", 0, 0, readySize(1))
	r.Register("b", 0, 0, readySize(1))
	r.Unregister("a")

	id, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestWeightedProducesProportionalInterleaving(t *testing.T) {
	w := NewWeighted()
	w.Register("a", 0, 2, nil)
	w.Register("b", 0, 1, nil)

	var got []string
	for i := 0; i < 3; i++ {
		id, ok := w.Next()
		require.True(t, ok)
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestWeightedVisitsEveryQueueWithinWeightSum(t *testing.T) {
	w := NewWeighted()
	w.Register("a", 0, 5, nil)
	w.Register("b", 0, 1, nil)

	seenB := false
	for i := 0; i < 6; i++ {
		id, ok := w.Next()
		require.True(t, ok)
		if id == "b" {
			seenB = true
		}
	}
	assert.True(t, seenB, "b must be visited at least once within sum(weights)=6 picks")
}

func TestPriorityOfQueuePrefersHigherPriority(t *testing.T) {
	p := NewPriorityOfQueue(0) // defaults to 32
	p.Register("high", 10, 0, readySize(1))
	p.Register("low", 1, 0, readySize(1))

	for i := 0; i < 10; i++ {
		id, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, "high", id)
	}
}

func TestPriorityOfQueueStarvationFuseForcesLowerPriority(t *testing.T) {
	p := NewPriorityOfQueue(5)
	p.Register("high", 10, 0, readySize(1))
	p.Register("low", 1, 0, readySize(1))

	var got []string
	for i := 0; i < 5; i++ {
		id, ok := p.Next()
		require.True(t, ok)
		got = append(got, id)
	}
	assert.Equal(t, []string{"high", "high", "high", "high", "low"}, got)
}

func TestPriorityOfQueueFalseWhenNothingReady(t *testing.T) {
	p := NewPriorityOfQueue(32)
	p.Register("a", 10, 0, readySize(0))
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestPriorityOfQueueFallsBackWhenHigherIsEmpty(t *testing.T) {
	p := NewPriorityOfQueue(32)
	p.Register("high", 10, 0, readySize(0))
	p.Register("low", 1, 0, readySize(1))

	id, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "low", id)
}
