package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
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

// StateChangeFunc receives circuit breaker state change notifications.
type StateChangeFunc func(name string, from, to State, reason string)

// CircuitBreaker guards calls to a single flaky dependency. It never returns
// an error of its own from RecordResult; the only failure it surfaces is the
// refusal to attempt a call while open.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            State
	failures         int
	successes        int
	lastFailureTime  time.Time
	lastTransitionAt time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	halfOpenRequests int
	currentHalfOpen  int
	name             string

	onStateChange StateChangeFunc
}

// BreakerOption configures a circuit breaker
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive failure count that opens the circuit
func WithFailureThreshold(threshold int) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the consecutive successes required to close from half-open
func WithSuccessThreshold(threshold int) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithCooldown sets how long the circuit stays open before probing
func WithCooldown(cooldown time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.cooldown = cooldown
	}
}

// WithHalfOpenRequests sets the max concurrent probe calls in half-open state
func WithHalfOpenRequests(requests int) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithStateChangeFunc sets a callback invoked on every state transition
func WithStateChangeFunc(fn StateChangeFunc) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a new named circuit breaker
func NewCircuitBreaker(name string, options ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         30 * time.Second,
		halfOpenRequests: 3,
		name:             name,
		lastTransitionAt: time.Now(),
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Name returns the breaker's registry key
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call should be attempted right now. An open
// circuit whose cooldown has elapsed transitions to half-open as a side
// effect, so the caller that got true is the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Now().After(cb.lastFailureTime.Add(cb.cooldown)) {
			cb.transition(StateHalfOpen, "cooldown elapsed")
			cb.currentHalfOpen = 1
			cb.successes = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.currentHalfOpen >= cb.halfOpenRequests {
			return false
		}
		cb.currentHalfOpen++
		return true

	default:
		return false
	}
}

// RecordResult records the outcome of an attempted call
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.successes++

		switch cb.state {
		case StateHalfOpen:
			if cb.successes >= cb.successThreshold {
				cb.transition(StateClosed, fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
				cb.failures = 0
				cb.currentHalfOpen = 0
			}
		case StateClosed:
			// A run of failures is broken by any success.
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen, fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
		}
	case StateHalfOpen:
		// Single failure in half-open moves back to open
		cb.transition(StateOpen, "failure in half-open state")
		cb.currentHalfOpen = 0
	}

	if cb.state != StateClosed {
		cb.successes = 0
	}
}

// Execute runs fn with circuit breaker protection. When the circuit refuses
// the call a *CircuitBreakerError is returned and fn is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.Allow() {
		cb.mu.RLock()
		defer cb.mu.RUnlock()
		return &CircuitBreakerError{
			Name:             cb.name,
			State:            cb.state,
			Failures:         cb.failures,
			FailureThreshold: cb.failureThreshold,
			LastFailure:      cb.lastFailureTime,
			NextProbe:        cb.lastFailureTime.Add(cb.cooldown),
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns the current failure run, success run, and last transition time
func (cb *CircuitBreaker) GetStats() (failures, successes int, lastTransition time.Time) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures, cb.successes, cb.lastTransitionAt
}

// Reset forces the breaker back to closed with cleared counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transition(StateClosed, "reset")
	}
	cb.failures = 0
	cb.successes = 0
	cb.currentHalfOpen = 0
}

// transition changes state and notifies. Callers must hold cb.mu.
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.lastTransitionAt = time.Now()

	if cb.onStateChange != nil {
		// Notify outside the lock path to avoid blocking callers.
		go cb.onStateChange(cb.name, from, to, reason)
	}
}
