package retry

import (
	"errors"
	"testing"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

func newTestResolver(t *testing.T, opts *ResolverOpts) *Resolver {
	t.Helper()
	r, err := NewResolver(opts)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

func TestPolicyResolutionOrder(t *testing.T) {
	r := newTestResolver(t, &ResolverOpts{
		OverridesJSON: `{"ai-computation": {"max_attempts": 7, "backoff": {"type": "fixed", "delay": 1000000000}}}`,
	})

	// Configured override beats the built-in
	if got := r.Policy("ai-computation"); got.MaxAttempts != 7 {
		t.Errorf("override not applied, got max_attempts=%d", got.MaxAttempts)
	}

	// Built-in per-type default
	if got := r.Policy("email-notification"); got.MaxAttempts != 5 || got.Backoff.Type != BackoffFixed {
		t.Errorf("unexpected builtin policy: %+v", got)
	}

	// Unknown type falls back to the global default
	got := r.Policy("never-seen")
	want := DefaultPolicy()
	if got.MaxAttempts != want.MaxAttempts || got.Backoff != want.Backoff {
		t.Errorf("unknown type should use default policy, got %+v", got)
	}
}

func TestSetOverride(t *testing.T) {
	r := newTestResolver(t, nil)
	r.SetOverride("data-processing", Policy{MaxAttempts: 9, Backoff: Backoff{Type: BackoffFixed, Delay: time.Second}})

	if got := r.Policy("data-processing"); got.MaxAttempts != 9 {
		t.Errorf("runtime override not applied, got %+v", got)
	}
}

func TestNewResolverRejectsBadOverrides(t *testing.T) {
	if _, err := NewResolver(&ResolverOpts{OverridesJSON: `{"t": {"max_attempts": 0}}`}); err == nil {
		t.Errorf("expected error for max_attempts < 1")
	}
	if _, err := NewResolver(&ResolverOpts{OverridesJSON: `not json`}); err == nil {
		t.Errorf("expected error for malformed JSON")
	}
}

func TestDelayCurves(t *testing.T) {
	r := newTestResolver(t, nil)

	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"fixed attempt 1", Policy{Backoff: Backoff{Type: BackoffFixed, Delay: time.Second}}, 1, time.Second},
		{"fixed attempt 4", Policy{Backoff: Backoff{Type: BackoffFixed, Delay: time.Second}}, 4, time.Second},
		{"linear attempt 3", Policy{Backoff: Backoff{Type: BackoffLinear, Delay: 5 * time.Second}}, 3, 15 * time.Second},
		{"exponential attempt 1", Policy{Backoff: Backoff{Type: BackoffExponential, Delay: 2 * time.Second, Factor: 2}}, 1, 2 * time.Second},
		{"exponential attempt 3", Policy{Backoff: Backoff{Type: BackoffExponential, Delay: 2 * time.Second, Factor: 2}}, 3, 8 * time.Second},
		{"exponential capped", Policy{Backoff: Backoff{Type: BackoffExponential, Delay: 2 * time.Second, Factor: 2, MaxDelay: 30 * time.Second}}, 10, 30 * time.Second},
		{"custom scales with attempt", Policy{Backoff: Backoff{Type: BackoffCustom, Delay: 3 * time.Second}}, 2, 6 * time.Second},
		{"min delay floor", Policy{MinDelay: 10 * time.Second, Backoff: Backoff{Type: BackoffFixed, Delay: time.Second}}, 1, 10 * time.Second},
		{"attempt below 1 clamps", Policy{Backoff: Backoff{Type: BackoffLinear, Delay: 5 * time.Second}}, 0, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := r.Delay(tt.policy, tt.attempt); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDelayJitterRange(t *testing.T) {
	r := newTestResolver(t, nil)
	p := Policy{Jitter: true, Backoff: Backoff{Type: BackoffFixed, Delay: 10 * time.Second}}

	for i := 0; i < 100; i++ {
		d := r.Delay(p, 1)
		if d < 10*time.Second || d >= 11*time.Second {
			t.Fatalf("jittered delay %v outside [10s, 11s)", d)
		}
	}
}

func TestIsNonRetryableByKind(t *testing.T) {
	r := newTestResolver(t, nil)

	nonRetryable := []error{
		engerr.E(engerr.KindNonRetryable, "bad model"),
		engerr.E(engerr.KindInvalidInput, "missing field"),
		engerr.E(engerr.KindNotFound, "no such job"),
	}
	for _, err := range nonRetryable {
		if !r.IsNonRetryable(err) {
			t.Errorf("expected %v to be non-retryable", err)
		}
	}

	retryable := []error{
		engerr.E(engerr.KindTransient, "connection reset"),
		engerr.E(engerr.KindCircuitOpen, "breaker open"),
		engerr.E(engerr.KindStorageUnavailable, "redis down"),
	}
	for _, err := range retryable {
		if r.IsNonRetryable(err) {
			t.Errorf("expected %v to be retryable", err)
		}
	}
}

func TestIsNonRetryableByName(t *testing.T) {
	r := newTestResolver(t, nil)

	if !r.IsNonRetryable(errors.New("ValidationError: bad payload")) {
		t.Errorf("ValidationError should be non-retryable")
	}
	if !r.IsNonRetryable(errors.New("upstream said UnauthorizedError")) {
		t.Errorf("UnauthorizedError should be non-retryable")
	}
	if r.IsNonRetryable(errors.New("timeout talking to backend")) {
		t.Errorf("plain timeout should be retryable")
	}
}

func TestIsNonRetryableCustomSet(t *testing.T) {
	r := newTestResolver(t, &ResolverOpts{NonRetryable: []string{"QuotaExceeded"}})

	if !r.IsNonRetryable(errors.New("QuotaExceeded for tenant")) {
		t.Errorf("configured name should be non-retryable")
	}
	// Custom set replaces the defaults
	if r.IsNonRetryable(errors.New("ValidationError")) {
		t.Errorf("default names should not apply once replaced")
	}
}

func TestShouldRetry(t *testing.T) {
	r := newTestResolver(t, nil)
	transient := engerr.E(engerr.KindTransient, "flaky")

	if !r.ShouldRetry("t", transient, 1, 3) {
		t.Errorf("attempt 1 of 3 with transient error should retry")
	}
	if r.ShouldRetry("t", transient, 3, 3) {
		t.Errorf("exhausted budget should not retry")
	}
	if r.ShouldRetry("t", nil, 1, 3) {
		t.Errorf("nil error should not retry")
	}
	if r.ShouldRetry("t", engerr.E(engerr.KindNonRetryable, "fatal"), 1, 3) {
		t.Errorf("non-retryable error should not retry")
	}
}
