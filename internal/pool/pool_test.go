package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rezkam/jobqueue/internal/clock"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/rezkam/jobqueue/internal/queue"
	"github.com/rezkam/jobqueue/internal/store"
	"github.com/rezkam/jobqueue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesJobThroughFIFO(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	st := store.NewMemory()
	disc := queue.NewFIFO()

	job := &domain.Job{ID: "j1", Kind: "echo", QueueID: "q1", Status: domain.StatusPending, MaxAttempts: 3, RetryPolicy: domain.DefaultRetryPolicy()}
	require.NoError(t, st.Put(context.Background(), job))
	require.NoError(t, disc.Enqueue(context.Background(), queue.Entry{JobID: job.ID}))

	var processed atomic.Bool
	proc := func(ctx context.Context, payload any) (any, error) {
		processed.Store(true)
		return nil, nil
	}

	factory := func(id string) *worker.Worker {
		return worker.New(worker.Config{
			ID: id, Store: st, Clock: clk,
			Processors:  map[string]worker.Processor{"echo": proc},
			ParkTimeout: 10 * time.Millisecond,
		})
	}

	p := New(NewRoundRobin(), factory, WithClock(clk))
	p.RegisterQueue("q1", disc, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, 1))

	require.Eventually(t, func() bool { return processed.Load() }, 2*time.Second, 5*time.Millisecond)

	p.Stop(time.Second)

	got, err := st.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
}

func TestPoolResizeAddsWorkers(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	st := store.NewMemory()
	disc := queue.NewFIFO()

	factory := func(id string) *worker.Worker {
		return worker.New(worker.Config{
			ID: id, Store: st, Clock: clk,
			Processors:  map[string]worker.Processor{},
			ParkTimeout: 10 * time.Millisecond,
		})
	}

	p := New(NewRoundRobin(), factory, WithClock(clk))
	p.RegisterQueue("q1", disc, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, 1))

	require.Eventually(t, func() bool { return p.Stats().Workers == 1 }, time.Second, 5*time.Millisecond)

	p.Resize(3)
	require.Eventually(t, func() bool { return p.Stats().Workers == 3 }, time.Second, 5*time.Millisecond)

	p.Stop(time.Second)
}

func TestPoolStopDrainsInFlightBeforeReturning(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	st := store.NewMemory()
	disc := queue.NewFIFO()

	job := &domain.Job{ID: "j1", Kind: "slow", QueueID: "q1", Status: domain.StatusPending, MaxAttempts: 3, RetryPolicy: domain.DefaultRetryPolicy()}
	require.NoError(t, st.Put(context.Background(), job))
	require.NoError(t, disc.Enqueue(context.Background(), queue.Entry{JobID: job.ID}))

	started := make(chan struct{})
	release := make(chan struct{})
	proc := func(ctx context.Context, payload any) (any, error) {
		close(started)
		<-release
		return nil, nil
	}

	factory := func(id string) *worker.Worker {
		return worker.New(worker.Config{
			ID: id, Store: st, Clock: clk,
			Processors:     map[string]worker.Processor{"slow": proc},
			ParkTimeout:    10 * time.Millisecond,
			AttemptTimeout: time.Minute,
		})
	}

	p := New(NewRoundRobin(), factory, WithClock(clk))
	p.RegisterQueue("q1", disc, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, 1))

	<-started

	stopped := make(chan struct{})
	go func() {
		p.Stop(time.Minute)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("pool stopped before in-flight attempt finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never drained after processor returned")
	}

	got, err := st.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
}
