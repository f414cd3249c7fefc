package store

import (
	"context"
	"testing"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperSweepOnceRecoversExpiredLease(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.Lease(ctx, "j1", "worker-1", clk.Now().Add(time.Second)))

	clk.Advance(2 * time.Second)

	r := NewReaper(m, clk, time.Minute)
	n := r.SweepOnce(ctx)
	assert.Equal(t, 1, n)

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, got.Status)
	assert.Empty(t, got.Holder)
}

func TestReaperSweepOnceCallsOnRecoveredWithJobAndVisibleAt(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.Lease(ctx, "j1", "worker-1", clk.Now().Add(time.Second)))
	clk.Advance(2 * time.Second)

	r := NewReaper(m, clk, time.Minute)
	wantVisibleAt := clk.Now().Add(5 * time.Second)
	r.NextVisibleAt = func(*domain.Job) time.Time { return wantVisibleAt }

	type call struct {
		jobID     string
		queueID   string
		visibleAt time.Time
	}
	var got []call
	r.OnRecovered = func(job *domain.Job, visibleAt time.Time) {
		got = append(got, call{jobID: job.ID, queueID: job.QueueID, visibleAt: visibleAt})
	}

	r.SweepOnce(ctx)

	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].jobID)
	assert.Equal(t, "q1", got[0].queueID)
	assert.True(t, wantVisibleAt.Equal(got[0].visibleAt))
}

func TestReaperSweepOnceSkipsOnRecoveredWhenUnset(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.Lease(ctx, "j1", "worker-1", clk.Now().Add(time.Second)))
	clk.Advance(2 * time.Second)

	r := NewReaper(m, clk, time.Minute)
	assert.NotPanics(t, func() { r.SweepOnce(ctx) })
}
