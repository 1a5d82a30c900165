package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []Event
	bus.SubscribeFunc(EventStageCompleted, func(ctx context.Context, event Event) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		return nil
	})

	err := bus.Publish(context.Background(), Event{
		Type:  EventStageCompleted,
		RunID: "run-1",
		Stage: 2,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, 2, got[0].Stage)
	mu.Unlock()
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventRunCompleted}))
}

func TestPublishMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var count sync.WaitGroup
	count.Add(2)
	handler := func(ctx context.Context, event Event) error {
		count.Done()
		return nil
	}
	bus.SubscribeFunc(EventHandlerFailed, handler)
	bus.SubscribeFunc(EventHandlerFailed, handler)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHandlerFailed}))

	done := make(chan struct{})
	go func() {
		count.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers not invoked")
	}
}

func TestErrorHandlerReceivesHandlerErrors(t *testing.T) {
	errCh := make(chan error, 1)
	bus := NewEventBus(WithErrorHandler(func(event Event, err error) {
		errCh <- err
	}))
	defer bus.Stop()

	wantErr := errors.New("handler boom")
	bus.SubscribeFunc(EventDeadLettered, func(ctx context.Context, event Event) error {
		return wantErr
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventDeadLettered}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("error handler not invoked")
	}
}

func TestPublishAfterStop(t *testing.T) {
	bus := NewEventBus()
	bus.SubscribeFunc(EventStageStarted, func(ctx context.Context, event Event) error { return nil })
	bus.Stop()

	err := bus.Publish(context.Background(), Event{Type: EventStageStarted})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestPublishCanceledContext(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, Event{Type: EventStageStarted}), context.Canceled)
}
