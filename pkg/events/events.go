package events

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	TargetDiscovered   EventType = "target.discovered"
	TargetChanged      EventType = "target.changed"
	TargetUnavailable  EventType = "target.unavailable"
	ListenerStarted    EventType = "listener.started"
	ListenerDraining   EventType = "listener.draining"
	ListenerStopped    EventType = "listener.stopped"
	ListenerRestarted  EventType = "listener.restarted"
	ClientConnected    EventType = "client.connected"
	ClientDisconnected EventType = "client.disconnected"
)

// Event is one lifecycle notification. Seq is assigned at publish time and
// strictly increases per bus, so subscribers can restore publish order even
// though handlers run concurrently.
type Event struct {
	ID        string
	Seq       uint64
	Type      EventType
	Category  string
	Timestamp time.Time
	Data      map[string]interface{}
}

type Handler func(event Event)

// WorkerPoolConfig holds configuration for the event bus worker pool
type WorkerPoolConfig struct {
	WorkerCount int // Number of worker goroutines (default: CPU cores)
	BufferSize  int // Channel buffer size (default: 256)
}

// DefaultWorkerPoolConfig returns the default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: runtime.NumCPU(),
		BufferSize:  256,
	}
}

type eventTask struct {
	event   Event
	handler Handler
}

type EventBus struct {
	handlers   map[EventType][]Handler
	all        []Handler
	mu         sync.RWMutex
	seq        atomic.Uint64
	workerPool chan eventTask
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	config     WorkerPoolConfig
}

func NewEventBus() *EventBus {
	return NewEventBusWithConfig(DefaultWorkerPoolConfig())
}

func NewEventBusWithConfig(config WorkerPoolConfig) *EventBus {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		handlers:   make(map[EventType][]Handler),
		workerPool: make(chan eventTask, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		config:     config,
	}

	for i := 0; i < config.WorkerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker processes events from the worker pool
func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case task := <-eb.workerPool:
			eb.run(task)
		case <-eb.ctx.Done():
			return
		}
	}
}

func (eb *EventBus) run(task eventTask) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("EventBus handler panic on %s: %v", task.event.Type, r)
		}
	}()
	task.handler(task.event)
}

func (eb *EventBus) Subscribe(eventType EventType, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type
func (eb *EventBus) SubscribeAll(handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.all = append(eb.all, handler)
}

// Publish stamps the event and hands it to every matching handler. It never
// blocks on slow handlers and is a no-op after Shutdown.
func (eb *EventBus) Publish(event Event) {
	if eb.ctx.Err() != nil {
		return
	}

	event.Seq = eb.seq.Add(1)
	event.Timestamp = time.Now()
	event.ID = uuid.NewString()

	eb.mu.RLock()
	handlers := make([]Handler, 0, len(eb.handlers[event.Type])+len(eb.all))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.all...)
	eb.mu.RUnlock()

	for _, handler := range handlers {
		task := eventTask{
			event:   event,
			handler: handler,
		}

		select {
		case eb.workerPool <- task:
		default:
			// Worker pool full: run on the caller's goroutine rather than
			// spawning one that could outlive Shutdown.
			eb.run(task)
		}
	}
}

// Shutdown stops the worker pool and waits for it to exit. Queued tasks
// that no worker picked up are dropped.
func (eb *EventBus) Shutdown() {
	eb.cancel()
	eb.wg.Wait()
}

// Emit publishes a lifecycle event for a category
func (eb *EventBus) Emit(eventType EventType, category string, data map[string]interface{}) {
	if eb == nil {
		return
	}
	eb.Publish(Event{
		Type:     eventType,
		Category: category,
		Data:     data,
	})
}
