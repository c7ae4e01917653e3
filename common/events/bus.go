package events

import (
	"context"
	"sync"
	"time"
)

// Event names emitted by the engine
const (
	JobStarted       = "job.started"
	JobCompleted     = "job.completed"
	JobFailed        = "job.failed"
	JobDeadLettered  = "job.dead-lettered"
	CacheStored      = "cache.entry.stored"
	CacheInvalidated = "cache.entry.invalidated"
	DAGJobCompleted  = "dag.job.completed"
	DAGJobFailed     = "dag.job.failed"
)

// Event carries identifiers and small result payloads between components
type Event struct {
	Name       string
	At         time.Time
	JobID      string
	JobType    string
	WorkflowID string
	NodeID     string
	Result     any
	Error      string
	Fields     map[string]any
}

// Handler processes a single event. Handlers run asynchronously; a panic in
// one handler never reaches other handlers or the publisher.
type Handler func(ctx context.Context, ev Event)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Bus is an in-process pub/sub layer. Delivery is fire-and-forget,
// best-effort, at-most-once per listener per event.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	log  Logger
}

// NewBus creates a new event bus
func NewBus(log Logger) *Bus {
	return &Bus{
		subs: make(map[string][]Handler),
		log:  log,
	}
}

// Subscribe registers a handler for an event name
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[name] = append(b.subs[name], h)
}

// Publish delivers the event to every subscriber of its name. Listeners are
// invoked outside all component locks; failures are logged and contained.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[ev.Name]))
	copy(handlers, b.subs[ev.Name])
	b.mu.RUnlock()

	for _, h := range handlers {
		go b.deliver(ctx, h, ev)
	}
}

// deliver invokes a single handler with panic isolation
func (b *Bus) deliver(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panic", "event", ev.Name, "panic", r)
		}
	}()

	h(ctx, ev)
}
