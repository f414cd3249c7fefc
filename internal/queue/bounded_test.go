package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedRejectAtCapacity(t *testing.T) {
	b := NewBounded(NewFIFO(), 2, domain.OverflowReject, nil)
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "a"}))
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "b"}))

	err := b.Enqueue(ctx, Entry{JobID: "c"})
	var full *domain.QueueFull
	assert.ErrorAs(t, err, &full)
}

func TestBoundedDropOldestEvictsHead(t *testing.T) {
	var evicted []string
	b := NewBounded(NewFIFO(), 2, domain.OverflowDropOldest, func(id string) { evicted = append(evicted, id) })
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "a"}))
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "b"}))
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "c"}))

	assert.Equal(t, []string{"a"}, evicted)
	e, ok := b.Lease(time.Now())
	require.True(t, ok)
	assert.Equal(t, "b", e.JobID)
}

func TestBoundedDropNewestDiscardsIncoming(t *testing.T) {
	var evicted []string
	b := NewBounded(NewFIFO(), 1, domain.OverflowDropNewest, func(id string) { evicted = append(evicted, id) })
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "a"}))
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "b"}))

	assert.Equal(t, []string{"b"}, evicted)
	e, ok := b.Lease(time.Now())
	require.True(t, ok)
	assert.Equal(t, "a", e.JobID)
}

func TestBoundedBlockUntilUnblocksOnAck(t *testing.T) {
	b := NewBounded(NewFIFO(), 1, domain.OverflowBlockUntil, nil)
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "a"}))

	done := make(chan error, 1)
	go func() {
		done <- b.Enqueue(context.Background(), Entry{JobID: "b"})
	}()

	// give the blocked goroutine a chance to register as a waiter
	time.Sleep(20 * time.Millisecond)
	e, ok := b.Lease(time.Now())
	require.True(t, ok)
	require.NoError(t, b.Ack(e.JobID))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never unblocked after Ack freed capacity")
	}
}

func TestBoundedBlockUntilTimesOut(t *testing.T) {
	b := NewBounded(NewFIFO(), 1, domain.OverflowBlockUntil, nil)
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, Entry{JobID: "a"}))

	deadlineCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := b.Enqueue(deadlineCtx, Entry{JobID: "b"})
	var full *domain.QueueFull
	assert.ErrorAs(t, err, &full)
}

func TestBoundedSizeReportsCapacity(t *testing.T) {
	b := NewBounded(NewFIFO(), 5, domain.OverflowReject, nil)
	assert.Equal(t, 5, b.Size().Capacity)
}
