package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayWithholdsUntilVisible(t *testing.T) {
	d := NewDelay()
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, d.Enqueue(ctx, Entry{JobID: "a", VisibleAt: start.Add(500 * time.Millisecond)}))

	_, ok := d.Lease(start)
	assert.False(t, ok, "must not lease before visible_at")

	_, ok = d.Lease(start.Add(499 * time.Millisecond))
	assert.False(t, ok)

	e, ok := d.Lease(start.Add(500 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "a", e.JobID)
}

func TestDelayLeasesEarliestVisibleFirst(t *testing.T) {
	d := NewDelay()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, d.Enqueue(ctx, Entry{JobID: "later", VisibleAt: base.Add(2 * time.Second)}))
	require.NoError(t, d.Enqueue(ctx, Entry{JobID: "sooner", VisibleAt: base.Add(time.Second)}))

	e, ok := d.Lease(base.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "sooner", e.JobID)
}

func TestDelayNextVisibleAt(t *testing.T) {
	d := NewDelay()
	ctx := context.Background()
	base := time.Now()

	_, ok := d.NextVisibleAt()
	assert.False(t, ok)

	require.NoError(t, d.Enqueue(ctx, Entry{JobID: "a", VisibleAt: base.Add(time.Minute)}))
	when, ok := d.NextVisibleAt()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), when)
}

func TestDelayNackWithPastTimestampIsImmediatelyLeasable(t *testing.T) {
	d := NewDelay()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, d.Enqueue(ctx, Entry{JobID: "a", VisibleAt: now}))
	_, ok := d.Lease(now)
	require.True(t, ok)

	require.NoError(t, d.Nack("a", now.Add(-time.Hour)))
	e, ok := d.Lease(now)
	require.True(t, ok)
	assert.Equal(t, "a", e.JobID)
}
