package upstream

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states (spec §4.7).
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is the synthetic failure returned while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig configures the consecutive-failure circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from Closed to Open. Spec default: 3 (or 5).
	FailureThreshold int
	// SuccessThreshold is the number of consecutive HalfOpen successes
	// required to close the breaker. Spec default: 2.
	SuccessThreshold int
	// RecoveryWindow is how long the breaker stays Open before admitting a
	// HalfOpen trial call. Spec default: 30s.
	RecoveryWindow time.Duration
	// Clock allows tests to control time; defaults to time.Now.
	Clock func() time.Time
}

// DefaultBreakerConfig returns spec §4.7's defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryWindow:   30 * time.Second,
		Clock:            time.Now,
	}
}

// Breaker is a consecutive-failure circuit breaker (spec §4.7). Safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	nextAttemptAt        time.Time
}

// NewBreaker constructs a Breaker in the Closed state. Zero-value fields in
// cfg fall back to DefaultBreakerConfig.
func NewBreaker(cfg BreakerConfig) *Breaker {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = defaults.RecoveryWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State reports the breaker's current state, accounting for an Open→HalfOpen
// transition whose recovery window has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen(b.cfg.Clock())
	return b.state
}

// Allow reports whether a call should be admitted right now, transitioning
// Open→HalfOpen as a side effect when the recovery window has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.maybeTransitionToHalfOpen(now)
	return b.state != Open
}

// maybeTransitionToHalfOpen must be called with the lock held.
func (b *Breaker) maybeTransitionToHalfOpen(now time.Time) {
	if b.state == Open && !now.Before(b.nextAttemptAt) {
		b.state = HalfOpen
		b.consecutiveSuccesses = 0
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.nextAttemptAt = now.Add(b.cfg.RecoveryWindow)
		}
	case HalfOpen:
		b.state = Open
		b.nextAttemptAt = now.Add(b.cfg.RecoveryWindow)
		b.consecutiveSuccesses = 0
	}
}

// Call runs fn if the breaker admits it, records the outcome, and returns
// ErrBreakerOpen without invoking fn when the breaker is Open.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
