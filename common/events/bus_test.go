package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testLogger discards output
type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}
func (testLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (testLogger) Debug(msg string, keysAndValues ...interface{}) {}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(testLogger{})

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var got []string

	for _, name := range []string{"first", "second"} {
		name := name
		bus.Subscribe(JobCompleted, func(ctx context.Context, ev Event) {
			mu.Lock()
			got = append(got, name+":"+ev.JobID)
			mu.Unlock()
			wg.Done()
		})
	}

	bus.Publish(context.Background(), Event{Name: JobCompleted, JobID: "j1"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribers never received the event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("expected both handlers to fire, got %v", got)
	}
}

func TestBusRoutesByName(t *testing.T) {
	bus := NewBus(testLogger{})

	wrong := make(chan struct{}, 1)
	bus.Subscribe(JobFailed, func(ctx context.Context, ev Event) {
		wrong <- struct{}{}
	})

	right := make(chan Event, 1)
	bus.Subscribe(JobCompleted, func(ctx context.Context, ev Event) {
		right <- ev
	})

	bus.Publish(context.Background(), Event{Name: JobCompleted, JobID: "j2"})

	select {
	case ev := <-right:
		if ev.JobID != "j2" {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.At.IsZero() {
			t.Errorf("publish should stamp the event time")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("matching subscriber never fired")
	}

	select {
	case <-wrong:
		t.Errorf("handler for a different event name must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusIsolatesPanics(t *testing.T) {
	bus := NewBus(testLogger{})

	bus.Subscribe(JobStarted, func(ctx context.Context, ev Event) {
		panic("listener bug")
	})

	survived := make(chan struct{}, 1)
	bus.Subscribe(JobStarted, func(ctx context.Context, ev Event) {
		survived <- struct{}{}
	})

	bus.Publish(context.Background(), Event{Name: JobStarted})

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatalf("a panicking listener must not block the others")
	}
}

func TestBusNoSubscribers(t *testing.T) {
	bus := NewBus(testLogger{})
	// Publishing with no subscribers must not block or panic
	bus.Publish(context.Background(), Event{Name: "nobody.listens"})
}
