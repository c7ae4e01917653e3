package router

// Strategy selects the provider-ordering policy used for routing.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "roundRobin"
	StrategyWeighted         Strategy = "weighted"
	StrategyLeastConnections Strategy = "leastConnections"
	StrategyRandom           Strategy = "random"
	StrategyHealthAware      Strategy = "healthAware"
	StrategyCostOptimized    Strategy = "costOptimized"
)

// Health-aware scoring weights. Latency is normalized against a 10s ceiling.
const (
	healthWeight      = 0.4
	latencyWeight     = 0.3
	successRateWeight = 0.3
	latencyCeilingMs  = 10000
)

// pick selects one provider from the candidate set, which is ordered by
// registration. Scoring ties resolve to the earlier-registered provider.
// Caller must ensure candidates is non-empty.
func (r *Router) pick(candidates []*managedProvider, strategy Strategy) *managedProvider {
	if len(candidates) == 1 {
		return candidates[0]
	}

	switch strategy {
	case StrategyRoundRobin:
		n := r.rr.Add(1) - 1
		return candidates[n%uint64(len(candidates))]

	case StrategyWeighted:
		return r.pickWeighted(candidates)

	case StrategyLeastConnections:
		best := candidates[0]
		bestActive := best.stats().ActiveConnections
		for _, c := range candidates[1:] {
			if a := c.stats().ActiveConnections; a < bestActive {
				best, bestActive = c, a
			}
		}
		return best

	case StrategyRandom:
		r.rngMu.Lock()
		i := r.rng.Intn(len(candidates))
		r.rngMu.Unlock()
		return candidates[i]

	case StrategyCostOptimized:
		best := candidates[0]
		bestCost := r.effectiveCost(best)
		for _, c := range candidates[1:] {
			if cost := r.effectiveCost(c); cost < bestCost {
				best, bestCost = c, cost
			}
		}
		return best

	case StrategyHealthAware:
		fallthrough
	default:
		best := candidates[0]
		bestScore := r.healthAwareScore(best)
		for _, c := range candidates[1:] {
			if score := r.healthAwareScore(c); score > bestScore {
				best, bestScore = c, score
			}
		}
		return best
	}
}

// healthAwareScore combines health status, smoothed latency and success rate
func (r *Router) healthAwareScore(p *managedProvider) float64 {
	s := p.stats()

	latencyScore := 1 - s.ResponseTimeMs/latencyCeilingMs
	if latencyScore < 0 {
		latencyScore = 0
	}

	return healthWeight*healthScore(s.Status) +
		latencyWeight*latencyScore +
		successRateWeight*s.SuccessRate
}

// effectiveCost scales the provider cost factor by the configured
// sensitivity
func (r *Router) effectiveCost(p *managedProvider) float64 {
	return p.costFactor * (1 + r.cfg.CostSensitivity)
}

// pickWeighted draws a provider proportionally to its weight
func (r *Router) pickWeighted(candidates []*managedProvider) *managedProvider {
	var total float64
	for _, c := range candidates {
		total += c.weight
	}
	if total <= 0 {
		return candidates[0]
	}

	r.rngMu.Lock()
	draw := r.rng.Float64() * total
	r.rngMu.Unlock()

	for _, c := range candidates {
		draw -= c.weight
		if draw < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}
