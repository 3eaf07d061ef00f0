package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueTryPublishFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))
	require.ErrorIs(t, q.TryPublish(2), ErrQueueFull)
	require.Equal(t, 1, q.Len())
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue[string](2)
	require.NoError(t, q.TryPublish("a"))
	q.Close()
	q.Close()
	require.ErrorIs(t, q.TryPublish("b"), ErrQueueClosed)

	var got []string
	q.Run(context.Background(), func(s string) { got = append(got, s) })
	require.Equal(t, []string{"a"}, got)
}

func TestQueueRunStopsOnContext(t *testing.T) {
	q := NewQueue[int](4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	seen := make(chan int, 4)
	go func() {
		defer close(done)
		q.Run(ctx, func(v int) { seen <- v })
	}()

	require.NoError(t, q.TryPublish(7))
	select {
	case v := <-seen:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatalf("item not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
