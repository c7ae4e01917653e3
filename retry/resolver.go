// Package retry resolves per-job-type retry policies and computes backoff
// delays.
package retry

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// BackoffType selects the delay curve.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
	BackoffCustom      BackoffType = "custom"
)

// Backoff describes a delay curve.
type Backoff struct {
	Type     BackoffType   `json:"type"`
	Delay    time.Duration `json:"delay"`
	Factor   float64       `json:"factor,omitempty"`
	MaxDelay time.Duration `json:"max_delay,omitempty"`
}

// Policy is a resolved retry policy for a job type.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     Backoff       `json:"backoff"`
	MinDelay    time.Duration `json:"min_delay,omitempty"`
	Jitter      bool          `json:"jitter"`
}

// DefaultPolicy is the global fallback: 3 attempts, exponential from 2s,
// factor 2, capped at 30s, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: Backoff{
			Type:     BackoffExponential,
			Delay:    2 * time.Second,
			Factor:   2,
			MaxDelay: 30 * time.Second,
		},
		Jitter: true,
	}
}

// builtinPolicies are the per-type defaults consulted between configured
// overrides and the global default.
var builtinPolicies = map[string]Policy{
	"email-notification": {
		MaxAttempts: 5,
		Backoff:     Backoff{Type: BackoffFixed, Delay: time.Second},
		Jitter:      true,
	},
	"data-processing": {
		MaxAttempts: 4,
		Backoff:     Backoff{Type: BackoffLinear, Delay: 5 * time.Second, MaxDelay: time.Minute},
		Jitter:      true,
	},
	"ai-computation": {
		MaxAttempts: 3,
		Backoff:     Backoff{Type: BackoffExponential, Delay: 2 * time.Second, Factor: 2, MaxDelay: 30 * time.Second},
		Jitter:      true,
	},
	"batch-operation": {
		MaxAttempts: 2,
		Backoff:     Backoff{Type: BackoffExponential, Delay: 10 * time.Second, Factor: 2, MaxDelay: 2 * time.Minute},
		Jitter:      false,
	},
}

// defaultNonRetryable are error names that never retry regardless of budget.
var defaultNonRetryable = []string{
	"ValidationError",
	"AuthenticationError",
	"BadRequestError",
	"UnauthorizedError",
	"NotFoundError",
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Resolver resolves retry policies: configured overrides, then built-in
// per-type defaults, then the global default.
type Resolver struct {
	mu           sync.RWMutex
	overrides    map[string]Policy
	nonRetryable []string
	rng          *rand.Rand
	rngMu        sync.Mutex
}

// ResolverOpts contains options for creating a resolver
type ResolverOpts struct {
	// OverridesJSON is a JSON object mapping job type to policy, typically
	// sourced from configuration.
	OverridesJSON string

	// NonRetryable replaces the default non-retryable error name set when
	// non-empty.
	NonRetryable []string

	Logger Logger
}

// NewResolver creates a policy resolver
func NewResolver(opts *ResolverOpts) (*Resolver, error) {
	r := &Resolver{
		overrides:    make(map[string]Policy),
		nonRetryable: defaultNonRetryable,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if opts != nil && len(opts.NonRetryable) > 0 {
		r.nonRetryable = opts.NonRetryable
	}

	if opts != nil && opts.OverridesJSON != "" {
		var parsed map[string]Policy
		if err := json.Unmarshal([]byte(opts.OverridesJSON), &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse retry overrides: %w", err)
		}
		for jobType, policy := range parsed {
			if policy.MaxAttempts < 1 {
				return nil, fmt.Errorf("retry override for %s: max_attempts must be >= 1", jobType)
			}
			r.overrides[jobType] = policy
		}
	}

	return r, nil
}

// SetOverride installs or replaces a per-type policy at runtime
func (r *Resolver) SetOverride(jobType string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[jobType] = policy
}

// Policy resolves the retry policy for a job type
func (r *Resolver) Policy(jobType string) Policy {
	r.mu.RLock()
	override, hasOverride := r.overrides[jobType]
	r.mu.RUnlock()

	if hasOverride {
		return override
	}
	if builtin, ok := builtinPolicies[jobType]; ok {
		return builtin
	}
	return DefaultPolicy()
}

// Delay computes the backoff before the given attempt (1-based). Jitter, if
// enabled, adds a uniform draw from [0, 0.1*delay).
func (r *Resolver) Delay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Backoff.Delay
	var delay time.Duration

	switch p.Backoff.Type {
	case BackoffFixed:
		delay = base
	case BackoffLinear:
		delay = base * time.Duration(attempt)
	case BackoffExponential:
		factor := p.Backoff.Factor
		if factor <= 0 {
			factor = 2
		}
		delay = time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	case BackoffCustom:
		delay = base * time.Duration(attempt)
	default:
		delay = base
	}

	if p.Backoff.MaxDelay > 0 && delay > p.Backoff.MaxDelay {
		delay = p.Backoff.MaxDelay
	}
	if delay < p.MinDelay {
		delay = p.MinDelay
	}

	if p.Jitter && delay > 0 {
		r.rngMu.Lock()
		jitter := time.Duration(r.rng.Float64() * 0.1 * float64(delay))
		r.rngMu.Unlock()
		delay += jitter
	}

	return delay
}

// ShouldRetry decides whether a failed attempt gets another try. Budget
// exhaustion and non-retryable errors are both final.
func (r *Resolver) ShouldRetry(jobType string, err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if err == nil {
		return false
	}
	if r.IsNonRetryable(err) {
		return false
	}
	return true
}

// IsNonRetryable classifies an error as permanently failing. Matches the
// engine error taxonomy first, then the configured error-name set against
// the message.
func (r *Resolver) IsNonRetryable(err error) bool {
	switch engerr.KindOf(err) {
	case engerr.KindNonRetryable, engerr.KindInvalidInput, engerr.KindNotFound:
		return true
	case engerr.KindTransient, engerr.KindCircuitOpen, engerr.KindStorageUnavailable:
		return false
	}

	msg := err.Error()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.nonRetryable {
		if strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
