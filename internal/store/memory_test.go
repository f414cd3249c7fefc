package store

import (
	"context"
	"testing"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id, queueID string) *domain.Job {
	return &domain.Job{
		ID:          id,
		QueueID:     queueID,
		Status:      domain.StatusPending,
		MaxAttempts: 5,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryPutThenGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", got.ID)
}

func TestMemoryPutDuplicateErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	assert.ErrorIs(t, m.Put(ctx, newTestJob("j1", "q1")), domain.ErrAlreadyEnqueued)
}

func TestMemoryGetUnknownIsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))

	require.NoError(t, m.UpdateStatus(ctx, "j1", domain.StatusPending, domain.StatusProcessing, UpdateFields{}))

	err := m.UpdateStatus(ctx, "j1", domain.StatusPending, domain.StatusSucceeded, UpdateFields{})
	var conflict *domain.ConflictingStatus
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatusProcessing, conflict.Actual)
}

func TestMemoryLeaseOnlyFromPendingOrRetrying(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))

	deadline := time.Now().Add(time.Minute)
	require.NoError(t, m.Lease(ctx, "j1", "worker-1", deadline))

	job, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, job.Status)
	assert.Equal(t, "worker-1", job.Holder)

	err = m.Lease(ctx, "j1", "worker-2", deadline)
	var conflict *domain.ConflictingStatus
	assert.ErrorAs(t, err, &conflict)
}

func TestMemoryExpiredLeasesReturnsPastDeadline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))

	past := time.Now().Add(-time.Second)
	require.NoError(t, m.Lease(ctx, "j1", "worker-1", past))

	ids := m.ExpiredLeases(time.Now())
	require.Len(t, ids, 1)
	assert.Equal(t, "j1", ids[0])
}

func TestMemoryListFiltersByQueueAndStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.Put(ctx, newTestJob("j2", "q2")))
	require.NoError(t, m.UpdateStatus(ctx, "j1", domain.StatusPending, domain.StatusProcessing, UpdateFields{}))

	processing := domain.StatusProcessing
	got, err := m.List(ctx, ListFilter{QueueID: "q1", Status: &processing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].ID)

	got, err = m.List(ctx, ListFilter{QueueID: "q2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "j2", got[0].ID)
}

func TestMemoryPurgeTerminalBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.UpdateStatus(ctx, "j1", domain.StatusPending, domain.StatusProcessing, UpdateFields{}))

	ended := time.Now().Add(-time.Hour)
	require.NoError(t, m.UpdateStatus(ctx, "j1", domain.StatusProcessing, domain.StatusSucceeded, UpdateFields{
		LastAttemptEndedAt: &ended,
	}))

	n := m.PurgeTerminalBefore(time.Now())
	assert.Equal(t, 1, n)
	_, err := m.Get(ctx, "j1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStatsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, newTestJob("j1", "q1")))
	require.NoError(t, m.Put(ctx, newTestJob("j2", "q1")))

	stats := m.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[domain.StatusPending])
}
