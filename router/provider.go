package router

import (
	"context"
	"sync"
	"time"
)

// ProviderType identifies a provider implementation family.
type ProviderType string

// ModelInfo describes a model exposed by a provider.
type ModelInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// Provider is a capability-bearing compute backend plug. ListModels doubles
// as the liveness probe. Transport methods (completion, embedding) are
// invoked through the Executor passed to Execute, keeping concrete SDKs out
// of the router.
type Provider interface {
	Initialize(ctx context.Context, config map[string]any) error
	IsInitialized() bool
	ProviderType() ProviderType
	ListModels(ctx context.Context) ([]ModelInfo, error)
	ModelInfo(ctx context.Context, id string) (*ModelInfo, error)
	ValidateModel(ctx context.Context, id string) error
}

// HealthStatus classifies a provider's probe state.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// healthScore maps status to the weight used by health-aware routing.
func healthScore(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// responseTimeEMAFactor smooths provider response times on success.
const responseTimeEMAFactor = 0.3

// ProviderOpts carries per-provider routing parameters.
type ProviderOpts struct {
	Weight        float64 // weighted strategy; default 1
	CostFactor    float64 // costOptimized strategy; default 1
	MaxConcurrent int     // concurrency cap; default from router config
}

// managedProvider pairs a provider with its health record and breaker.
// All mutable state is guarded by mu (per-provider lock).
type managedProvider struct {
	id            string
	provider      Provider
	weight        float64
	costFactor    float64
	maxConcurrent int
	breaker       *Breaker

	mu                  sync.Mutex
	status              HealthStatus
	emaResponseMs       float64
	successes           int64
	failures            int64
	active              int
	consecutiveFailures int
	probeFailures       int
	probeSuccesses      int
	totalRequests       int64
	lastCheck           time.Time
}

// successRate returns the rolling success ratio; 1 when no data yet.
// Caller holds mu.
func (p *managedProvider) successRateLocked() float64 {
	total := p.successes + p.failures
	if total == 0 {
		return 1
	}
	return float64(p.successes) / float64(total)
}

// recordSuccess updates the health record after a successful request
func (p *managedProvider) recordSuccess(elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ms := float64(elapsed.Milliseconds())
	if p.emaResponseMs == 0 {
		p.emaResponseMs = ms
	} else {
		p.emaResponseMs = responseTimeEMAFactor*ms + (1-responseTimeEMAFactor)*p.emaResponseMs
	}
	p.successes++
	p.consecutiveFailures = 0
	p.breaker.RecordSuccess()
}

// recordFailure updates the health record after a failed request
func (p *managedProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	p.consecutiveFailures++
	p.breaker.RecordFailure()
}

// acquire increments the active count if under the concurrency cap
func (p *managedProvider) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxConcurrent > 0 && p.active >= p.maxConcurrent {
		return false
	}
	p.active++
	p.totalRequests++
	return true
}

// release decrements the active count regardless of outcome
func (p *managedProvider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active > 0 {
		p.active--
	}
}

// ProviderStats is a read-only snapshot of one provider's record.
type ProviderStats struct {
	ID                  string       `json:"id"`
	Status              HealthStatus `json:"status"`
	ResponseTimeMs      float64      `json:"response_time_ms"`
	SuccessRate         float64      `json:"success_rate"`
	ActiveConnections   int          `json:"active_connections"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalRequests       int64        `json:"total_requests"`
	LastCheck           time.Time    `json:"last_check"`
	BreakerState        BreakerState `json:"breaker_state"`
}

func (p *managedProvider) stats() ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProviderStats{
		ID:                  p.id,
		Status:              p.status,
		ResponseTimeMs:      p.emaResponseMs,
		SuccessRate:         p.successRateLocked(),
		ActiveConnections:   p.active,
		ConsecutiveFailures: p.consecutiveFailures,
		TotalRequests:       p.totalRequests,
		LastCheck:           p.lastCheck,
		BreakerState:        p.breaker.State(),
	}
}
