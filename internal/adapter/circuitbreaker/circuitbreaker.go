// Package circuitbreaker implements the Closed/Open/HalfOpen circuit
// breaker wrapped around every concrete adapter's outbound calls, so a
// persistently-failing channel stops taking dispatch load without the
// scheduler needing to know about it.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the circuit breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the trip/recovery thresholds.
type Config struct {
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes before closing from half-open
	Timeout          time.Duration // wait before probing half-open
}

// DefaultConfig is a reasonable starting point for a notification adapter.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// CircuitBreaker implements the circuit breaker pattern for one target
// (one adapter's outbound channel).
type CircuitBreaker struct {
	mu              sync.RWMutex
	config          Config
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	name            string
	onStateChange   func(name string, from, to State)
}

// New creates a circuit breaker in the closed state. onStateChange, if
// non-nil, is invoked whenever the state transitions, for metrics wiring.
func New(config Config, name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return &CircuitBreaker{config: config, state: StateClosed, name: name, onStateChange: onStateChange}
}

// CanAttempt reports whether a call should be attempted right now.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		return time.Since(cb.lastFailureTime) > cb.config.Timeout
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.Timeout {
			cb.transitionLocked(StateHalfOpen)
			cb.successCount = 1
			cb.failureCount = 0
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
		cb.successCount = 0
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed, for tests and operator tooling.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
}
