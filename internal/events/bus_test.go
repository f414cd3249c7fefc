package events

import (
	"testing"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := New(0)
	ch, cancel := b.Subscribe([]domain.EventKind{domain.EventCompleted})
	defer cancel()

	b.Publish(domain.Event{Kind: domain.EventCompleted, JobID: "j1"})
	b.Publish(domain.Event{Kind: domain.EventFailed, JobID: "j2"})

	select {
	case e := <-ch:
		assert.Equal(t, "j1", e.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event not delivered")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected second delivery: %+v", e)
	default:
	}
}

func TestSubscribeAllKindsWhenNoneGiven(t *testing.T) {
	b := New(0)
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	b.Publish(domain.Event{Kind: domain.EventEnqueued})
	b.Publish(domain.Event{Kind: domain.EventDeadLettered})

	require.Equal(t, domain.EventEnqueued, (<-ch).Kind)
	require.Equal(t, domain.EventDeadLettered, (<-ch).Kind)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(domain.Event{Kind: domain.EventEnqueued})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	assert.Greater(t, b.Dropped(), uint64(0))
	<-ch // drain the one event that did fit
}

func TestCancelUnsubscribesAndClosesChannel(t *testing.T) {
	b := New(0)
	ch, cancel := b.Subscribe(nil)
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")

	b.Publish(domain.Event{Kind: domain.EventEnqueued}) // must not panic or deliver anywhere
}

func TestMultipleSubscribersEachGetTheirOwnCopy(t *testing.T) {
	b := New(0)
	ch1, cancel1 := b.Subscribe(nil)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(nil)
	defer cancel2()

	b.Publish(domain.Event{Kind: domain.EventCompleted, JobID: "j1"})

	require.Equal(t, "j1", (<-ch1).JobID)
	require.Equal(t, "j1", (<-ch2).JobID)
}
