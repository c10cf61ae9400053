package eventbus

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent(eventType, correlationID string) Event {
	return NewEvent(eventType, "retrain", correlationID, map[string]any{"test": "data"})
}

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	_, err := bus.Subscribe(func(event Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(newTestEvent("cycle.started", "c-1")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "cycle.started", received[0].Type())
	assert.Equal(t, "c-1", received[0].CorrelationID())
	mu.Unlock()
}

func TestInMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var counter int64
	for i := 0; i < 5; i++ {
		_, err := bus.Subscribe(func(Event) error {
			atomic.AddInt64(&counter, 1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(newTestEvent("stage.completed", "c-1")))

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&counter) == 5 }, time.Second, 10*time.Millisecond)
}

func TestInMemoryEventBus_Filters(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var byType, byCorrelation, byBoth int64
	_, err := bus.Subscribe(func(Event) error { atomic.AddInt64(&byType, 1); return nil },
		FilterByType("cycle.completed"))
	require.NoError(t, err)
	_, err = bus.Subscribe(func(Event) error { atomic.AddInt64(&byCorrelation, 1); return nil },
		FilterByCorrelationID("c-2"))
	require.NoError(t, err)
	_, err = bus.Subscribe(func(Event) error { atomic.AddInt64(&byBoth, 1); return nil },
		FilterByDomain("retrain"), FilterByCorrelationID("c-1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(newTestEvent("cycle.started", "c-1")))
	require.NoError(t, bus.Publish(newTestEvent("stage.completed", "c-2")))
	require.NoError(t, bus.Publish(newTestEvent("cycle.completed", "c-2")))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&byType) == 1 &&
			atomic.LoadInt64(&byCorrelation) == 2 &&
			atomic.LoadInt64(&byBoth) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var counter int64
	id, err := bus.Subscribe(func(Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Unsubscribe(id))
	require.NoError(t, bus.Publish(newTestEvent("cycle.started", "c-1")))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&counter))

	assert.Error(t, bus.Unsubscribe(id))
}

func TestInMemoryEventBus_InvalidArguments(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	_, err := bus.Subscribe(nil)
	assert.Error(t, err)
}

func TestInMemoryEventBus_HandlerErrorIsLogged(t *testing.T) {
	buf := &bytes.Buffer{}
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: buf, mu: &mu}, nil))

	bus := NewInMemoryEventBus(WithLogger(logger))
	_, err := bus.Subscribe(func(Event) error { return errors.New("boom") })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(newTestEvent("cycle.started", "c-1")))
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.Contains(buf.String(), "event handler failed"), buf.String())
}

func TestInMemoryEventBus_Close(t *testing.T) {
	bus := NewInMemoryEventBus()

	var counter int64
	handler := func(Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}
	_, err := bus.Subscribe(handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(newTestEvent("cycle.started", "c-1")))
	require.NoError(t, bus.Close())
	assert.Equal(t, int64(1), atomic.LoadInt64(&counter), "queued events drain on close")

	assert.ErrorIs(t, bus.Publish(newTestEvent("cycle.started", "c-1")), ErrClosed)
	_, err = bus.Subscribe(handler)
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, bus.Close(), "close is idempotent")
}

func TestInMemoryEventBus_Concurrency(t *testing.T) {
	bus := NewInMemoryEventBus(WithBufferSize(4))
	defer bus.Close()

	var counter int64
	_, err := bus.Subscribe(func(Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = bus.Publish(newTestEvent("stage.completed", "c-1"))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&counter) == 100 }, 2*time.Second, 10*time.Millisecond)
}

func TestInMemoryEventBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewInMemoryEventBus(WithBufferSize(1))

	var types []string
	_, err := bus.Subscribe(func(e Event) error {
		types = append(types, e.Type())
		return nil
	})
	require.NoError(t, err)

	want := []string{"cycle.started", "stage.completed", "stage.completed", "cycle.completed"}
	for _, typ := range want {
		require.NoError(t, bus.Publish(newTestEvent(typ, "c-1")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, want, types)
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
