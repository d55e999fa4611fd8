package events

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Event(nil), r.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func waitFor(t *testing.T, r *recorder, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

// TestEventSubscription tests subscribing to one event type
func TestEventSubscription(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(TargetDiscovered, rec.handle)

	bus.Emit(TargetDiscovered, "Dynamics", map[string]interface{}{"path": "abc"})
	bus.Emit(TargetChanged, "Dynamics", nil)

	waitFor(t, rec, 1)
	time.Sleep(20 * time.Millisecond)
	got := rec.snapshot()

	require.Len(t, got, 1)
	assert.Equal(t, TargetDiscovered, got[0].Type)
	assert.Equal(t, "Dynamics", got[0].Category)
	assert.Equal(t, "abc", got[0].Data["path"])
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

// TestSequenceOrder checks that Seq restores publish order
func TestSequenceOrder(t *testing.T) {
	bus := NewEventBusWithConfig(WorkerPoolConfig{WorkerCount: 4, BufferSize: 64})
	defer bus.Shutdown()

	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	order := []EventType{TargetChanged, ListenerDraining, ListenerStopped, ListenerRestarted}
	for _, et := range order {
		bus.Emit(et, "Events", nil)
	}

	got := waitFor(t, rec, len(order))
	require.Len(t, got, len(order))
	for i, e := range got {
		assert.Equal(t, order[i], e.Type)
		if i > 0 {
			assert.Greater(t, e.Seq, got[i-1].Seq)
		}
	}
}

// TestHandlerPanicRecovered ensures one bad handler does not stop the pool
func TestHandlerPanicRecovered(t *testing.T) {
	bus := NewEventBusWithConfig(WorkerPoolConfig{WorkerCount: 1, BufferSize: 8})
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(ClientConnected, func(Event) { panic("boom") })
	bus.Subscribe(ClientConnected, rec.handle)

	bus.Emit(ClientConnected, "Events", nil)
	bus.Emit(ClientConnected, "Events", nil)

	got := waitFor(t, rec, 2)
	assert.Len(t, got, 2)
}

// TestPoolFullRunsInline covers the fallback when the buffer is exhausted
func TestPoolFullRunsInline(t *testing.T) {
	bus := NewEventBusWithConfig(WorkerPoolConfig{WorkerCount: 1, BufferSize: 0})
	defer bus.Shutdown()

	rec := &recorder{}
	bus.Subscribe(ListenerStarted, rec.handle)

	for i := 0; i < 10; i++ {
		bus.Emit(ListenerStarted, "Dynamics", nil)
	}

	got := waitFor(t, rec, 10)
	assert.Len(t, got, 10)
}

// TestPublishAfterShutdown is a no-op
func TestPublishAfterShutdown(t *testing.T) {
	bus := NewEventBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	bus.Shutdown()

	bus.Emit(TargetChanged, "Dynamics", nil)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

// TestNilBusEmit lets components run without a bus
func TestNilBusEmit(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.Emit(TargetChanged, "Dynamics", nil) })
}
