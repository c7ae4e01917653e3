package router

import (
	"context"
	"time"
)

// HealthConfig tunes the background prober.
type HealthConfig struct {
	Interval         time.Duration // probe period; default 30s
	Timeout          time.Duration // per-probe deadline; default 5s
	FailureThreshold int           // consecutive probe failures before unhealthy; default 3
	SuccessThreshold int           // consecutive probe successes before healthy; default 2
}

// DefaultHealthConfig returns the standard probe tuning
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// StartHealthProbes launches the background prober. It probes every
// registered provider each interval until ctx is cancelled.
func (r *Router) StartHealthProbes(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.Health.Interval)
		defer ticker.Stop()

		// Probe once at startup so routing has real statuses before the
		// first tick.
		r.probeAll(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

// probeAll probes every provider concurrently
func (r *Router) probeAll(ctx context.Context) {
	r.mu.RLock()
	providers := make([]*managedProvider, 0, len(r.order))
	for _, id := range r.order {
		providers = append(providers, r.providers[id])
	}
	r.mu.RUnlock()

	for _, p := range providers {
		go r.probe(ctx, p)
	}
}

// probe runs a single liveness check against one provider and applies the
// threshold-based status transition.
func (r *Router) probe(ctx context.Context, p *managedProvider) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.Health.Timeout)
	defer cancel()

	_, err := p.provider.ListModels(probeCtx)

	p.mu.Lock()
	p.lastCheck = r.now()

	prev := p.status
	if err != nil {
		p.probeFailures++
		p.probeSuccesses = 0
		if p.probeFailures >= r.cfg.Health.FailureThreshold {
			p.status = StatusUnhealthy
		} else if p.status != StatusUnhealthy {
			p.status = StatusDegraded
		}
	} else {
		p.probeSuccesses++
		p.probeFailures = 0
		if p.probeSuccesses >= r.cfg.Health.SuccessThreshold || prev == StatusUnknown {
			p.status = StatusHealthy
		} else if p.status == StatusUnhealthy {
			p.status = StatusDegraded
		}
	}
	status := p.status
	responseMs := p.emaResponseMs
	active := p.active
	rate := p.successRateLocked()
	p.mu.Unlock()

	if status != prev {
		r.log.Info("provider health changed",
			"provider", p.id, "from", prev, "to", status,
			"probe_error", errString(err))
	}

	if r.metrics != nil {
		r.metrics.ProviderHealth.WithLabelValues(p.id).Set(healthScore(status))
		r.metrics.ProviderResponseTime.WithLabelValues(p.id).Set(responseMs)
		r.metrics.ProviderActiveConns.WithLabelValues(p.id).Set(float64(active))
		r.metrics.ProviderSuccessRate.WithLabelValues(p.id).Set(rate)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
