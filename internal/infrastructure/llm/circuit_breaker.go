package llm

import (
	"sync"
	"time"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // rejecting calls
	CircuitHalfOpen                     // probing recovery
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

// CircuitBreaker guards one upstream. Consecutive failures at or past the
// threshold open the circuit; after resetTimeout it half-opens and admits a
// bounded number of probe calls. A probe success closes the circuit, any
// failure while half-open reopens it immediately.
type CircuitBreaker struct {
	mu sync.RWMutex

	state     CircuitState
	failures  int
	openedAt  time.Time
	probes    int // probes admitted in the current half-open window
	threshold int
	probeMax  int
	resetWait time.Duration
}

// NewCircuitBreaker builds a breaker that opens after threshold consecutive
// failures and half-opens resetTimeout after the trip. One probe is admitted
// per half-open window.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithProbes(threshold, resetTimeout, 1)
}

// NewCircuitBreakerWithProbes additionally sets the half-open probe budget.
func NewCircuitBreakerWithProbes(threshold int, resetTimeout time.Duration, probes int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if probes <= 0 {
		probes = 1
	}
	return &CircuitBreaker{
		state:     CircuitClosed,
		threshold: threshold,
		probeMax:  probes,
		resetWait: resetTimeout,
	}
}

// Allow reports whether a call may proceed, transitioning open → half-open
// once the reset timeout has elapsed. While half-open, only the probe budget
// is admitted; further callers are rejected until a probe resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.resetWait {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probes = 1
		return true
	case CircuitHalfOpen:
		if cb.probes >= cb.probeMax {
			return false
		}
		cb.probes++
		return true
	}
	return false
}

// RecordSuccess clears the failure streak and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.probes = 0
	}
}

// RecordFailure extends the failure streak and trips the circuit when the
// streak reaches the threshold. A half-open failure reopens immediately and
// restarts the reset timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.openedAt = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.probes = 0
		return
	}
	if cb.failures >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current position without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probes = 0
}
