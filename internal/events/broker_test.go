package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBufferSize = 64

func receive[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for event")
	}
	return Event[T]{}
}

func TestBroker_Subscribe(t *testing.T) {
	t.Parallel()

	broker := NewBrokerWithBuffer[string](testBufferSize)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())
	broker.Publish(StatusChanged, "hello")

	event := receive(t, ch)
	assert.Equal(t, "hello", event.Payload)
	assert.Equal(t, StatusChanged, event.Type)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBrokerWithBuffer[int](testBufferSize)
	defer broker.Close()

	ctx := context.Background()
	subs := []<-chan Event[int]{broker.Subscribe(ctx), broker.Subscribe(ctx), broker.Subscribe(ctx)}
	require.Equal(t, 3, broker.subscriberCount())

	broker.Publish(Purged, 42)
	for _, ch := range subs {
		assert.Equal(t, 42, receive(t, ch).Payload)
	}
}

func TestBroker_ContextCancellation(t *testing.T) {
	t.Parallel()

	broker := NewBrokerWithBuffer[string](testBufferSize)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.Fail(t, "channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return broker.subscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroker_FullBufferDropsEvents(t *testing.T) {
	t.Parallel()

	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())
	broker.Publish(StatusChanged, 1)
	broker.Publish(StatusChanged, 2)

	assert.Equal(t, 1, receive(t, ch).Payload)
	select {
	case <-ch:
		require.Fail(t, "second event should have been dropped")
	default:
	}
}

func TestBroker_Close(t *testing.T) {
	t.Parallel()

	broker := NewBrokerWithBuffer[string](testBufferSize)
	ch := broker.Subscribe(context.Background())
	broker.Close()
	broker.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := broker.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)

	assert.NotPanics(t, func() { broker.Publish(StatusChanged, "ignored") })
}
