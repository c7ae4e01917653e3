package router

import (
	"testing"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// newTestBreaker returns a breaker on a controllable clock
func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg, nil)
	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(DefaultBreakerConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if b.State() != BreakerClosed {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("breaker should open on the 5th consecutive failure, got %s", b.State())
	}

	err := b.Allow()
	if !engerr.IsKind(err, engerr.KindCircuitOpen) {
		t.Errorf("open breaker should reject with circuit_open, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(DefaultBreakerConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	if b.State() != BreakerClosed {
		t.Errorf("non-consecutive failures must not open the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(DefaultBreakerConfig())

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	*clock = clock.Add(29 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatalf("breaker should still reject before the cooldown elapses")
	}
	if b.Ready() {
		t.Errorf("Ready must agree with Allow before the cooldown")
	}

	*clock = clock.Add(time.Second)
	if !b.Ready() {
		t.Errorf("Ready should admit once the cooldown elapsed")
	}
	if b.State() != BreakerOpen {
		t.Errorf("Ready must not change state, got %s", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("breaker should admit a trial after the cooldown: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Errorf("expected half-open after the admitting Allow, got %s", b.State())
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	b, clock := newTestBreaker(DefaultBreakerConfig())

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*clock = clock.Add(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != BreakerHalfOpen {
		t.Fatalf("breaker closed before the success threshold, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("breaker should close after 3 half-open successes, got %s", b.State())
	}

	// Recovery resets the backoff to its initial value
	if b.currentBackoff != 30*time.Second {
		t.Errorf("backoff should reset on close, got %v", b.currentBackoff)
	}
}

func TestBreakerHalfOpenFailureGrowsBackoff(t *testing.T) {
	b, clock := newTestBreaker(DefaultBreakerConfig())

	trip := func() {
		*clock = clock.Add(b.currentBackoff)
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		b.RecordFailure()
	}

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	trip()
	if b.currentBackoff != time.Minute {
		t.Errorf("backoff should double to 1m, got %v", b.currentBackoff)
	}
	trip()
	if b.currentBackoff != 2*time.Minute {
		t.Errorf("backoff should double to 2m, got %v", b.currentBackoff)
	}
	trip()
	trip()
	if b.currentBackoff != 5*time.Minute {
		t.Errorf("backoff must cap at 5m, got %v", b.currentBackoff)
	}
}

func TestBreakerTransitionHook(t *testing.T) {
	type hop struct{ from, to BreakerState }
	var hops []hop

	b := NewBreaker(DefaultBreakerConfig(), func(from, to BreakerState) {
		hops = append(hops, hop{from, to})
	})
	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	current = current.Add(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()

	want := []hop{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerHalfOpen},
		{BreakerHalfOpen, BreakerClosed},
	}
	if len(hops) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), hops)
	}
	for i := range want {
		if hops[i] != want[i] {
			t.Errorf("transition %d: got %v, want %v", i, hops[i], want[i])
		}
	}
}
