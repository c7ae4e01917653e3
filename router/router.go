// Package router routes compute requests across providers with circuit
// breaking, health-aware load balancing and automatic failover.
package router

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/axiomflow/orchestrator/common/metrics"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config tunes the router.
type Config struct {
	DefaultStrategy Strategy
	MaxRetries      int           // failover attempts per Execute; default 3
	RequestTimeout  time.Duration // per-attempt deadline; default 30s
	FallbackChain   []string      // ordered fallback when no preference given
	CostSensitivity float64       // scales cost factors under costOptimized
	MaxConcurrent   int           // per-provider in-flight cap; default 100
	Breaker         BreakerConfig
	Health          HealthConfig
}

// DefaultConfig returns the standard router tuning
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: StrategyHealthAware,
		MaxRetries:      3,
		RequestTimeout:  30 * time.Second,
		MaxConcurrent:   100,
		Breaker:         DefaultBreakerConfig(),
		Health:          DefaultHealthConfig(),
	}
}

// Request describes one routed execution.
type Request struct {
	JobType            string
	PreferredProviders []string // tried before the fallback chain
	Strategy           Strategy // empty uses the configured default
	Timeout            time.Duration
}

// FallbackEvent records one failover hop.
type FallbackEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Result is the outcome of a routed execution, including the failover
// history that led to it.
type Result struct {
	Output    any             `json:"output"`
	Provider  string          `json:"provider"`
	Attempts  int             `json:"attempts"`
	Duration  time.Duration   `json:"duration"`
	Fallbacks []FallbackEvent `json:"fallbacks,omitempty"`
}

// Executor performs the actual provider call for the selected provider.
// The router owns selection, breaking and failover; the executor owns
// transport.
type Executor func(ctx context.Context, providerID string) (any, error)

// Router selects providers and drives the failover loop.
type Router struct {
	mu        sync.RWMutex
	providers map[string]*managedProvider
	order     []string // registration order, used for deterministic ties

	cfg     Config
	log     Logger
	metrics *metrics.Registry

	rr    atomic.Uint64
	rng   *rand.Rand
	rngMu sync.Mutex
	now   func() time.Time
}

// Opts contains options for creating a router
type Opts struct {
	Config  Config
	Logger  Logger
	Metrics *metrics.Registry
}

// New creates a router
func New(opts *Opts) *Router {
	cfg := opts.Config
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyHealthAware
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health = DefaultHealthConfig()
	}

	return &Router{
		providers: make(map[string]*managedProvider),
		cfg:       cfg,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// Register adds a provider under a unique id. Registration order breaks
// scoring ties.
func (r *Router) Register(id string, p Provider, opts ProviderOpts) error {
	if id == "" {
		return engerr.E(engerr.KindInvalidInput, "provider id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return engerr.E(engerr.KindInvalidInput, "provider %s already registered", id)
	}

	weight := opts.Weight
	if weight <= 0 {
		weight = 1
	}
	costFactor := opts.CostFactor
	if costFactor <= 0 {
		costFactor = 1
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = r.cfg.MaxConcurrent
	}

	mp := &managedProvider{
		id:            id,
		provider:      p,
		weight:        weight,
		costFactor:    costFactor,
		maxConcurrent: maxConcurrent,
		status:        StatusUnknown,
	}
	mp.breaker = NewBreaker(r.cfg.Breaker, func(from, to BreakerState) {
		r.onBreakerTransition(id, from, to)
	})

	r.providers[id] = mp
	r.order = append(r.order, id)

	if r.log != nil {
		r.log.Info("provider registered", "provider", id, "type", p.ProviderType())
	}
	return nil
}

// Execute routes one request through the failover loop. On success the
// result carries the complete fallback history; a provider failure counts
// against its breaker and the next candidate is tried, up to MaxRetries
// attempts.
func (r *Router) Execute(ctx context.Context, req Request, exec Executor) (*Result, error) {
	start := r.now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = r.cfg.DefaultStrategy
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}

	tried := make(map[string]bool)
	fallbacks := []FallbackEvent{}
	var lastFailed, lastReason string
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		candidates, breakerBlocked := r.candidates(req.PreferredProviders, tried)
		if len(candidates) == 0 {
			if lastErr != nil {
				break
			}
			if breakerBlocked {
				return nil, engerr.E(engerr.KindCircuitOpen, "all providers have open circuits")
			}
			return nil, engerr.E(engerr.KindNoProvidersAvailable, "no providers available for job type %s", req.JobType)
		}

		p := r.pick(candidates, strategy)

		if err := p.breaker.Allow(); err != nil {
			tried[p.id] = true
			lastErr = err
			continue
		}
		if !p.acquire() {
			tried[p.id] = true
			lastErr = engerr.E(engerr.KindTransient, "provider %s at concurrency limit", p.id)
			continue
		}

		if lastFailed != "" {
			ev := FallbackEvent{From: lastFailed, To: p.id, Reason: lastReason, At: r.now()}
			fallbacks = append(fallbacks, ev)
			if r.metrics != nil {
				r.metrics.FallbackEvents.WithLabelValues(ev.From, ev.To, ev.Reason).Inc()
			}
			if r.log != nil {
				r.log.Warn("failing over", "from", ev.From, "to", ev.To, "reason", ev.Reason)
			}
		}
		r.recordDecision(p.id, strategy, attempt)

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		callStart := r.now()
		output, err := exec(attemptCtx, p.id)
		elapsed := r.now().Sub(callStart)
		cancel()
		p.release()

		if err == nil {
			p.recordSuccess(elapsed)
			r.recordOutcome(p.id, req.JobType, "success", elapsed, nil)
			return &Result{
				Output:    output,
				Provider:  p.id,
				Attempts:  attempt,
				Duration:  r.now().Sub(start),
				Fallbacks: fallbacks,
			}, nil
		}

		p.recordFailure()
		r.recordOutcome(p.id, req.JobType, "error", elapsed, err)

		// Non-retryable failures would fail identically everywhere, so
		// failover is pointless.
		if kind := engerr.KindOf(err); kind == engerr.KindNonRetryable || kind == engerr.KindInvalidInput {
			return nil, err
		}

		tried[p.id] = true
		lastFailed, lastReason = p.id, engerr.KindOf(err).String()
		lastErr = err
	}

	if lastErr == nil {
		lastErr = engerr.E(engerr.KindNoProvidersAvailable, "no providers available for job type %s", req.JobType)
	}
	return nil, engerr.Wrap(engerr.KindNoProvidersAvailable, lastErr, "all providers exhausted")
}

// candidates returns the eligible providers in registration order. The
// preferred set is filtered first; when none of it survives the filter the
// configured fallback chain is filtered identically, then full registration
// order. The second return reports whether eligibility failed solely on
// open breakers.
func (r *Router) candidates(preferred []string, tried map[string]bool) ([]*managedProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakerBlocked := false
	eligible := func(ids []string) []*managedProvider {
		pool := make([]*managedProvider, 0, len(ids))
		for _, id := range ids {
			if p, ok := r.providers[id]; ok {
				pool = append(pool, p)
			}
		}
		return lo.Filter(pool, func(p *managedProvider, _ int) bool {
			if tried[p.id] {
				return false
			}
			p.mu.Lock()
			unhealthy := p.status == StatusUnhealthy
			p.mu.Unlock()
			if unhealthy {
				return false
			}
			if !p.breaker.Ready() {
				breakerBlocked = true
				return false
			}
			return true
		})
	}

	for _, tier := range [][]string{preferred, r.cfg.FallbackChain, r.order} {
		if len(tier) == 0 {
			continue
		}
		if pool := eligible(tier); len(pool) > 0 {
			return pool, false
		}
	}
	return nil, breakerBlocked
}

// Stats returns per-provider snapshots in registration order
func (r *Router) Stats() []ProviderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.order, func(id string, _ int) ProviderStats {
		return r.providers[id].stats()
	})
}

// AvailableProviders lists providers currently eligible for routing
func (r *Router) AvailableProviders() []string {
	eligible, _ := r.candidates(nil, map[string]bool{})
	return lo.Map(eligible, func(p *managedProvider, _ int) string { return p.id })
}

// ProviderStatus returns the snapshot for one provider
func (r *Router) ProviderStatus(id string) (ProviderStats, error) {
	r.mu.RLock()
	p, ok := r.providers[id]
	r.mu.RUnlock()

	if !ok {
		return ProviderStats{}, engerr.E(engerr.KindNotFound, "provider %s not registered", id)
	}
	return p.stats(), nil
}

func (r *Router) onBreakerTransition(id string, from, to BreakerState) {
	if r.log != nil {
		r.log.Warn("circuit breaker transition", "provider", id, "from", from, "to", to)
	}
	if r.metrics == nil {
		return
	}
	r.metrics.BreakerTransitions.WithLabelValues(id, string(from), string(to)).Inc()

	var state float64
	switch to {
	case BreakerClosed:
		state = 1
	case BreakerHalfOpen:
		state = 0.5
	}
	r.metrics.CircuitBreakerState.WithLabelValues(id).Set(state)
}

func (r *Router) recordDecision(id string, strategy Strategy, attempt int) {
	if r.metrics == nil {
		return
	}
	reason := "primary"
	if attempt > 1 {
		reason = "failover"
	}
	r.metrics.RoutingDecisions.WithLabelValues(id, string(strategy), reason).Inc()
}

func (r *Router) recordOutcome(id, jobType, status string, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RequestsTotal.WithLabelValues(id, jobType, status).Inc()
	r.metrics.RequestDuration.WithLabelValues(id, jobType).Observe(elapsed.Seconds())
	if err != nil {
		r.metrics.RequestErrorsTotal.WithLabelValues(id, jobType, engerr.KindOf(err).String()).Inc()
	}
}
