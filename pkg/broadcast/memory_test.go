package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bookcircle/pkg/broadcast"
)

func TestMemoryBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](10)
	defer b.Close()

	ctx := context.Background()
	sub1 := b.Subscribe(ctx)
	sub2 := b.Subscribe(ctx)

	require.NoError(t, b.Broadcast(ctx, broadcast.Message[string]{Data: "hello"}))

	for _, sub := range []broadcast.Subscriber[string]{sub1, sub2} {
		select {
		case msg := <-sub.Receive(ctx):
			assert.Equal(t, "hello", msg.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemoryBroadcaster_SlowConsumerDropped(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[int](1)
	defer b.Close()

	ctx := context.Background()
	slow := b.Subscribe(ctx)
	_ = slow

	// Fill the buffer, then overflow it. The publisher must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = b.Broadcast(ctx, broadcast.Message[int]{Data: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on slow consumer")
	}
}

func TestMemoryBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](5)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	// The receive channel is closed once cleanup runs.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Receive(context.Background()):
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber was not closed after context cancellation")
		}
	}
}

func TestMemoryBroadcaster_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](5)
	require.NoError(t, b.Close())

	sub := b.Subscribe(context.Background())
	_, ok := <-sub.Receive(context.Background())
	assert.False(t, ok, "subscriber from closed broadcaster must be closed")
}

func TestMemoryBroadcaster_ConcurrentUse(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[int](100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe(ctx)
			defer sub.Close()
			for n := 0; n < 20; n++ {
				_ = b.Broadcast(ctx, broadcast.Message[int]{Data: 1})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, b.Close())
	// Close is idempotent.
	require.NoError(t, b.Close())
}
