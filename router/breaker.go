package router

import (
	"sync"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Backoff          time.Duration // initial open duration
	BackoffFactor    float64       // open-duration growth on half-open failure
	MaxBackoff       time.Duration // open-duration ceiling
}

// DefaultBreakerConfig returns the standard breaker tuning: open after 5
// failures for 30s, doubling up to 5 minutes, close after 3 half-open
// successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Backoff:          30 * time.Second,
		BackoffFactor:    2,
		MaxBackoff:       5 * time.Minute,
	}
}

// Breaker is a per-provider circuit breaker. State transitions are observed
// in a total order under the internal lock.
type Breaker struct {
	mu             sync.Mutex
	cfg            BreakerConfig
	state          BreakerState
	failures       int
	successes      int
	currentBackoff time.Duration
	nextAttempt    time.Time
	now            func() time.Time
	onTransition   func(from, to BreakerState)
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig, onTransition func(from, to BreakerState)) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}

	return &Breaker{
		cfg:            cfg,
		state:          BreakerClosed,
		currentBackoff: cfg.Backoff,
		now:            time.Now,
		onTransition:   onTransition,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and admits the request.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if !b.now().Before(b.nextAttempt) {
			b.transitionLocked(BreakerHalfOpen)
			b.successes = 0
			return nil
		}
		return engerr.E(engerr.KindCircuitOpen, "circuit open until %s", b.nextAttempt.Format(time.RFC3339))
	}
	return nil
}

// Ready reports whether the breaker would admit a request now, without
// changing state. Used for candidate filtering; the admitting transition
// happens in Allow.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state != BreakerOpen || !b.now().Before(b.nextAttempt)
}

// RecordSuccess advances the breaker after a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(BreakerClosed)
			b.failures = 0
			b.successes = 0
			b.currentBackoff = b.cfg.Backoff
		}
	}
}

// RecordFailure advances the breaker after a failed request
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case BreakerHalfOpen:
		// Any half-open failure reopens with a grown backoff
		b.currentBackoff = time.Duration(float64(b.currentBackoff) * b.cfg.BackoffFactor)
		if b.currentBackoff > b.cfg.MaxBackoff {
			b.currentBackoff = b.cfg.MaxBackoff
		}
		b.openLocked()
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// openLocked transitions to open and schedules the next trial. Caller holds
// the lock.
func (b *Breaker) openLocked() {
	b.transitionLocked(BreakerOpen)
	b.nextAttempt = b.now().Add(b.currentBackoff)
	b.failures = 0
	b.successes = 0
}

// transitionLocked changes state and fires the transition hook. Caller
// holds the lock.
func (b *Breaker) transitionLocked(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
