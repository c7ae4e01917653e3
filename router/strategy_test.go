package router

import (
	"testing"
	"time"
)

// newStatsProvider builds a managed provider with a fixed health record
func newStatsProvider(id string, status HealthStatus, responseMs float64, successes, failures int64) *managedProvider {
	p := &managedProvider{
		id:            id,
		weight:        1,
		costFactor:    1,
		status:        status,
		emaResponseMs: responseMs,
		successes:     successes,
		failures:      failures,
	}
	p.breaker = NewBreaker(BreakerConfig{}, nil)
	return p
}

func newTestRouter(cfg Config) *Router {
	return New(&Opts{Config: cfg})
}

func TestPickRoundRobinCycles(t *testing.T) {
	r := newTestRouter(Config{})
	candidates := []*managedProvider{
		newStatsProvider("a", StatusHealthy, 0, 0, 0),
		newStatsProvider("b", StatusHealthy, 0, 0, 0),
		newStatsProvider("c", StatusHealthy, 0, 0, 0),
	}

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, r.pick(candidates, StrategyRoundRobin).id)
	}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin sequence %v, want %v", got, want)
		}
	}
}

func TestPickLeastConnections(t *testing.T) {
	r := newTestRouter(Config{})
	a := newStatsProvider("a", StatusHealthy, 0, 0, 0)
	b := newStatsProvider("b", StatusHealthy, 0, 0, 0)
	c := newStatsProvider("c", StatusHealthy, 0, 0, 0)
	a.active = 5
	b.active = 2
	c.active = 9

	if got := r.pick([]*managedProvider{a, b, c}, StrategyLeastConnections).id; got != "b" {
		t.Errorf("expected b, got %s", got)
	}
}

func TestPickLeastConnectionsTieBreaksByRegistration(t *testing.T) {
	r := newTestRouter(Config{})
	a := newStatsProvider("a", StatusHealthy, 0, 0, 0)
	b := newStatsProvider("b", StatusHealthy, 0, 0, 0)
	a.active = 3
	b.active = 3

	if got := r.pick([]*managedProvider{a, b}, StrategyLeastConnections).id; got != "a" {
		t.Errorf("tie should resolve to the earlier-registered provider, got %s", got)
	}
}

func TestPickHealthAwareScoring(t *testing.T) {
	r := newTestRouter(Config{})

	// healthy but slow and flaky vs degraded but fast and reliable
	slow := newStatsProvider("slow", StatusHealthy, 9000, 1, 9)
	fast := newStatsProvider("fast", StatusDegraded, 100, 99, 1)

	// slow: 0.4*1.0 + 0.3*(1-0.9) + 0.3*0.1 = 0.46
	// fast: 0.4*0.5 + 0.3*0.99 + 0.3*0.99 = 0.794
	if got := r.pick([]*managedProvider{slow, fast}, StrategyHealthAware).id; got != "fast" {
		t.Errorf("expected fast, got %s", got)
	}
}

func TestHealthAwareScoreComponents(t *testing.T) {
	r := newTestRouter(Config{})

	p := newStatsProvider("p", StatusHealthy, 2000, 8, 2)
	// 0.4*1.0 + 0.3*(1 - 2000/10000) + 0.3*0.8 = 0.4 + 0.24 + 0.24
	want := 0.88
	if got := r.healthAwareScore(p); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}

	// Latency at or above the ceiling contributes zero
	glacial := newStatsProvider("g", StatusHealthy, 20000, 1, 0)
	// 0.4*1.0 + 0.3*0 + 0.3*1.0
	want = 0.7
	if got := r.healthAwareScore(glacial); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("score above latency ceiling = %v, want %v", got, want)
	}
}

func TestHealthAwareNoDataScoresFull(t *testing.T) {
	r := newTestRouter(Config{})

	fresh := newStatsProvider("fresh", StatusHealthy, 0, 0, 0)
	// No requests yet: success rate defaults to 1, latency score 1
	want := 1.0
	if got := r.healthAwareScore(fresh); got != want {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestPickCostOptimized(t *testing.T) {
	r := newTestRouter(Config{CostSensitivity: 0.5})

	cheap := newStatsProvider("cheap", StatusHealthy, 0, 0, 0)
	pricey := newStatsProvider("pricey", StatusHealthy, 0, 0, 0)
	cheap.costFactor = 0.5
	pricey.costFactor = 2

	if got := r.pick([]*managedProvider{pricey, cheap}, StrategyCostOptimized).id; got != "cheap" {
		t.Errorf("expected cheap, got %s", got)
	}
}

func TestPickCostOptimizedTieBreaksByRegistration(t *testing.T) {
	r := newTestRouter(Config{})
	a := newStatsProvider("a", StatusHealthy, 0, 0, 0)
	b := newStatsProvider("b", StatusHealthy, 0, 0, 0)

	if got := r.pick([]*managedProvider{a, b}, StrategyCostOptimized).id; got != "a" {
		t.Errorf("equal cost should resolve to the earlier-registered provider, got %s", got)
	}
}

func TestPickWeightedRespectsWeights(t *testing.T) {
	r := newTestRouter(Config{})
	heavy := newStatsProvider("heavy", StatusHealthy, 0, 0, 0)
	light := newStatsProvider("light", StatusHealthy, 0, 0, 0)
	heavy.weight = 9
	light.weight = 1

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[r.pick([]*managedProvider{heavy, light}, StrategyWeighted).id]++
	}

	// Expect roughly 900/100; allow a generous margin
	if counts["heavy"] < 800 {
		t.Errorf("heavy provider drawn %d/1000 times, expected ~900", counts["heavy"])
	}
	if counts["light"] == 0 {
		t.Errorf("light provider should still be drawn occasionally")
	}
}

func TestPickSingleCandidateShortCircuits(t *testing.T) {
	r := newTestRouter(Config{})
	only := newStatsProvider("only", StatusUnhealthy, 99999, 0, 100)

	for _, s := range []Strategy{StrategyRoundRobin, StrategyWeighted, StrategyLeastConnections, StrategyRandom, StrategyHealthAware, StrategyCostOptimized} {
		if got := r.pick([]*managedProvider{only}, s); got.id != "only" {
			t.Errorf("strategy %s: expected the sole candidate", s)
		}
	}
}

func TestProviderSuccessRateAndEMA(t *testing.T) {
	p := newStatsProvider("p", StatusHealthy, 0, 0, 0)

	p.recordSuccess(100 * time.Millisecond)
	if got := p.stats().ResponseTimeMs; got != 100 {
		t.Errorf("first sample seeds the EMA, got %v", got)
	}

	p.recordSuccess(200 * time.Millisecond)
	// 0.3*200 + 0.7*100 = 130
	if got := p.stats().ResponseTimeMs; got < 129.999 || got > 130.001 {
		t.Errorf("EMA = %v, want 130", got)
	}

	p.recordFailure()
	s := p.stats()
	// 2 successes, 1 failure
	if s.SuccessRate < 0.666 || s.SuccessRate > 0.667 {
		t.Errorf("success rate = %v, want 2/3", s.SuccessRate)
	}
	if s.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", s.ConsecutiveFailures)
	}
}

func TestProviderConcurrencyCap(t *testing.T) {
	p := newStatsProvider("p", StatusHealthy, 0, 0, 0)
	p.maxConcurrent = 2

	if !p.acquire() || !p.acquire() {
		t.Fatalf("acquire should succeed under the cap")
	}
	if p.acquire() {
		t.Errorf("acquire should fail at the cap")
	}
	p.release()
	if !p.acquire() {
		t.Errorf("acquire should succeed after a release")
	}
}
