package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, EventTaskStarted)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), NewEvent(EventTaskStarted, map[string]interface{}{"task_id": 1})))
	require.NoError(t, b.Publish(context.Background(), NewEvent(EventTaskCompleted, map[string]interface{}{"task_id": 1})))

	select {
	case ev := <-ch:
		assert.Equal(t, EventTaskStarted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscribeAllTypes(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), NewEvent(EventGroupPaused, nil)))

	select {
	case ev := <-ch:
		assert.Equal(t, EventGroupPaused, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestBusClosesChannelOnContextCancel(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestBusDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.Subscribe(ctx, EventTaskStarted)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberChanSize*2; i++ {
			_ = b.Publish(context.Background(), NewEvent(EventTaskStarted, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}
