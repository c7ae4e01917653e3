package router

import (
	"context"
	"testing"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// mockProvider satisfies Provider for routing tests; transport is exercised
// through the Executor, so the methods are minimal.
type mockProvider struct {
	kind ProviderType
}

func (m *mockProvider) Initialize(ctx context.Context, config map[string]any) error { return nil }
func (m *mockProvider) IsInitialized() bool                                         { return true }
func (m *mockProvider) ProviderType() ProviderType                                  { return m.kind }
func (m *mockProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "m1"}}, nil
}
func (m *mockProvider) ModelInfo(ctx context.Context, id string) (*ModelInfo, error) {
	return &ModelInfo{ID: id}, nil
}
func (m *mockProvider) ValidateModel(ctx context.Context, id string) error { return nil }

func newExecRouter(t *testing.T, ids ...string) *Router {
	t.Helper()
	r := New(&Opts{Config: Config{DefaultStrategy: StrategyRoundRobin, MaxRetries: 3}})
	for _, id := range ids {
		if err := r.Register(id, &mockProvider{kind: "mock"}, ProviderOpts{}); err != nil {
			t.Fatalf("Register(%s) failed: %v", id, err)
		}
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newExecRouter(t, "a")

	err := r.Register("a", &mockProvider{}, ProviderOpts{})
	if !engerr.IsKind(err, engerr.KindInvalidInput) {
		t.Errorf("duplicate registration should fail with invalid_input, got %v", err)
	}
	if err := r.Register("", &mockProvider{}, ProviderOpts{}); err == nil {
		t.Errorf("empty provider id should be rejected")
	}
}

func TestExecuteSuccessFirstTry(t *testing.T) {
	r := newExecRouter(t, "a", "b")

	result, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		return "out-" + providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Provider != "a" {
		t.Errorf("round robin should start at a, got %s", result.Provider)
	}
	if result.Output != "out-a" || result.Attempts != 1 || len(result.Fallbacks) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestExecuteFailsOverOnTransientError(t *testing.T) {
	r := newExecRouter(t, "a", "b")

	result, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		if providerID == "a" {
			return nil, engerr.E(engerr.KindTransient, "connection reset")
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Provider != "b" || result.Attempts != 2 {
		t.Errorf("expected success via b on attempt 2, got %+v", result)
	}
	if len(result.Fallbacks) != 1 {
		t.Fatalf("expected exactly one fallback event, got %v", result.Fallbacks)
	}
	fb := result.Fallbacks[0]
	if fb.From != "a" || fb.To != "b" || fb.Reason != "transient" {
		t.Errorf("unexpected fallback event %+v", fb)
	}
}

func TestExecuteNonRetryableSkipsFailover(t *testing.T) {
	r := newExecRouter(t, "a", "b")

	calls := 0
	_, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		calls++
		return nil, engerr.E(engerr.KindNonRetryable, "bad credentials")
	})

	if !engerr.IsKind(err, engerr.KindNonRetryable) {
		t.Errorf("expected non_retryable, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable errors must not fail over, got %d calls", calls)
	}
}

func TestExecuteExhaustsAllProviders(t *testing.T) {
	r := newExecRouter(t, "a", "b", "c")

	calls := map[string]int{}
	_, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		calls[providerID]++
		return nil, engerr.E(engerr.KindTransient, "down")
	})

	if !engerr.IsKind(err, engerr.KindNoProvidersAvailable) {
		t.Errorf("expected no_providers_available, got %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if calls[id] != 1 {
			t.Errorf("provider %s called %d times, want 1", id, calls[id])
		}
	}
}

func TestExecuteNoProvidersRegistered(t *testing.T) {
	r := newExecRouter(t)

	_, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		t.Fatalf("executor must not run without providers")
		return nil, nil
	})
	if !engerr.IsKind(err, engerr.KindNoProvidersAvailable) {
		t.Errorf("expected no_providers_available, got %v", err)
	}
}

func TestExecuteAllBreakersOpen(t *testing.T) {
	r := newExecRouter(t, "a")

	// Trip the breaker
	for i := 0; i < 5; i++ {
		_, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
			return nil, engerr.E(engerr.KindTransient, "down")
		})
		if err == nil {
			t.Fatalf("expected failure while tripping the breaker")
		}
	}

	stats, err := r.ProviderStatus("a")
	if err != nil {
		t.Fatalf("ProviderStatus failed: %v", err)
	}
	if stats.BreakerState != BreakerOpen {
		t.Fatalf("breaker should be open after 5 failures, got %s", stats.BreakerState)
	}

	_, err = r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		t.Fatalf("executor must not run behind an open breaker")
		return nil, nil
	})
	if !engerr.IsKind(err, engerr.KindCircuitOpen) {
		t.Errorf("expected circuit_open, got %v", err)
	}
}

func TestExecutePreferredProviders(t *testing.T) {
	r := newExecRouter(t, "a", "b", "c")

	result, err := r.Execute(context.Background(), Request{
		JobType:            "t",
		PreferredProviders: []string{"c"},
	}, func(ctx context.Context, providerID string) (any, error) {
		return providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Provider != "c" {
		t.Errorf("preferred provider should be used, got %s", result.Provider)
	}
}

func TestExecutePreferredUnavailableFallsBackToChain(t *testing.T) {
	r := New(&Opts{Config: Config{
		DefaultStrategy: StrategyRoundRobin,
		MaxRetries:      3,
		FallbackChain:   []string{"b"},
	}})
	for _, id := range []string{"a", "b"} {
		if err := r.Register(id, &mockProvider{}, ProviderOpts{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	r.mu.RLock()
	a := r.providers["a"]
	r.mu.RUnlock()
	a.mu.Lock()
	a.status = StatusUnhealthy
	a.mu.Unlock()

	result, err := r.Execute(context.Background(), Request{
		JobType:            "t",
		PreferredProviders: []string{"a"},
	}, func(ctx context.Context, providerID string) (any, error) {
		return providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("unavailable preferred set must fall back to the chain, got %s", result.Provider)
	}
}

func TestExecutePreferredFailureFallsBackToRegistered(t *testing.T) {
	r := newExecRouter(t, "a", "b")

	result, err := r.Execute(context.Background(), Request{
		JobType:            "t",
		PreferredProviders: []string{"a"},
	}, func(ctx context.Context, providerID string) (any, error) {
		if providerID == "a" {
			return nil, engerr.E(engerr.KindTransient, "down")
		}
		return providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Provider != "b" || result.Attempts != 2 {
		t.Errorf("exhausted preferred set must fall back to registration order, got %+v", result)
	}
}

func TestExecuteFallbackChain(t *testing.T) {
	r := New(&Opts{Config: Config{
		DefaultStrategy: StrategyRoundRobin,
		MaxRetries:      3,
		FallbackChain:   []string{"b", "a"},
	}})
	for _, id := range []string{"a", "b"} {
		if err := r.Register(id, &mockProvider{}, ProviderOpts{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	result, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		return providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("fallback chain head should be used, got %s", result.Provider)
	}
}

func TestExecuteSkipsUnhealthyProviders(t *testing.T) {
	r := newExecRouter(t, "a", "b")

	r.mu.RLock()
	a := r.providers["a"]
	r.mu.RUnlock()
	a.mu.Lock()
	a.status = StatusUnhealthy
	a.mu.Unlock()

	result, err := r.Execute(context.Background(), Request{JobType: "t"}, func(ctx context.Context, providerID string) (any, error) {
		return providerID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("unhealthy provider must be skipped, got %s", result.Provider)
	}

	available := r.AvailableProviders()
	if len(available) != 1 || available[0] != "b" {
		t.Errorf("AvailableProviders = %v, want [b]", available)
	}
}

func TestExecuteRespectsRequestTimeout(t *testing.T) {
	r := newExecRouter(t, "a")

	start := time.Now()
	_, err := r.Execute(context.Background(), Request{JobType: "t", Timeout: 50 * time.Millisecond}, func(ctx context.Context, providerID string) (any, error) {
		select {
		case <-ctx.Done():
			return nil, engerr.Wrap(engerr.KindTransient, ctx.Err(), "provider timed out")
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})
	if err == nil {
		t.Fatalf("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("attempt should be bounded by the request timeout, took %v", elapsed)
	}
}

func TestRequestTimeoutDefault(t *testing.T) {
	if got := DefaultConfig().RequestTimeout; got != 30*time.Second {
		t.Errorf("DefaultConfig request timeout = %v, want 30s", got)
	}
	r := New(&Opts{})
	if r.cfg.RequestTimeout != 30*time.Second {
		t.Errorf("zero-value config should default the request timeout to 30s, got %v", r.cfg.RequestTimeout)
	}
}

func TestStatsOrder(t *testing.T) {
	r := newExecRouter(t, "z", "a", "m")

	stats := r.Stats()
	if len(stats) != 3 || stats[0].ID != "z" || stats[1].ID != "a" || stats[2].ID != "m" {
		t.Errorf("stats should follow registration order, got %v", stats)
	}

	if _, err := r.ProviderStatus("missing"); !engerr.IsKind(err, engerr.KindNotFound) {
		t.Errorf("unknown provider should report not_found, got %v", err)
	}
}
