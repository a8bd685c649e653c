package providers

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is one of the three states of the per-provider breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls trip and recovery behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping to OPEN
	CooldownPeriod   time.Duration // time OPEN must elapse before a HALF_OPEN probe is allowed
}

// DefaultCircuitBreakerConfig matches spec.md's provider defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		CooldownPeriod:   30 * time.Second,
	}
}

// CircuitBreaker is a per-provider CLOSED -> OPEN -> HALF_OPEN state machine.
// State transitions are guarded by a mutex; failure counting uses an atomic
// counter so Allow() can be called from hot paths without contending on it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	openedAt      time.Time
	probeInFlight atomic.Bool

	consecutiveFailures atomic.Int64
}

// NewCircuitBreaker returns a breaker starting CLOSED.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a call may proceed, and claims the single HALF_OPEN
// probe slot if this call is the one permitted to test recovery.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.cfg.CooldownPeriod {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probeInFlight.Store(true)
		return true
	case CircuitHalfOpen:
		// Only the call that flipped us into HALF_OPEN gets to probe;
		// everything else short-circuits until that probe resolves.
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures.Store(0)
	cb.state = CircuitClosed
	cb.probeInFlight.Store(false)
}

// RecordFailure increments the failure count and, once the threshold is
// reached (or a HALF_OPEN probe fails), trips the breaker back OPEN.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.probeInFlight.Store(false)
		return
	}

	n := cb.consecutiveFailures.Add(1)
	if n >= int64(cb.cfg.FailureThreshold) {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state for metrics/status reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
