package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	bus := NewBus[string, int]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	received := map[string]int{}

	remove := bus.AddHandler(HandlerFunc[string, int](func(key string, e int) {
		defer wg.Done()
		mu.Lock()
		received[key] += e
		mu.Unlock()
	}))
	require.Equal(t, 1, bus.Handlers())

	wg.Add(2)
	require.NoError(t, bus.OnEvent("a", 1))
	require.NoError(t, bus.OnEvent("a", 2))
	wg.Wait()

	mu.Lock()
	require.Equal(t, 3, received["a"])
	mu.Unlock()

	remove()
	remove()
	require.Zero(t, bus.Handlers())
	require.NoError(t, bus.OnEvent("a", 10))
}

func TestChannelStream(t *testing.T) {
	closed := make(chan struct{})
	even := func(e int) (int, bool) { return e * 10, e%2 == 0 }

	stream := NewChannelStream("test", 1, even, func() { close(closed) })
	require.Equal(t, "test", stream.ID())

	require.NoError(t, stream.Notify(1, time.Second))
	require.NoError(t, stream.Notify(2, time.Second))
	require.Equal(t, 20, <-stream.Channel())

	// The buffer holds one message; the next notify times out and closes.
	require.NoError(t, stream.Notify(4, time.Second))
	require.ErrorIs(t, stream.Notify(6, 10*time.Millisecond), ErrStreamTimeout)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("stream was not closed")
	}

	require.ErrorIs(t, stream.Notify(8, time.Second), ErrStreamClosed)

	// Buffered messages remain readable after close.
	require.Equal(t, 40, <-stream.Channel())
	_, ok := <-stream.Channel()
	require.False(t, ok)

	stream.Close()
}
