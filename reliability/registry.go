package reliability

import (
	"sync"
)

// AggregateStatus summarizes the registry for health reporting.
type AggregateStatus string

const (
	AggregateOK      AggregateStatus = "ok"
	AggregateWarning AggregateStatus = "warning"
	AggregateError   AggregateStatus = "error"
)

// Registry holds one named circuit breaker per guarded dependency.
// Breakers are created at registration and live for the process lifetime.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Register creates and stores a breaker under name, replacing any prior one,
// and returns it.
func (r *Registry) Register(name string, options ...BreakerOption) *CircuitBreaker {
	cb := NewCircuitBreaker(name, options...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cb, ok := r.breakers[name]
	if !ok {
		return nil, ErrBreakerNotFound
	}
	return cb, nil
}

// GetOrRegister returns the breaker under name, creating it with the given
// options on first use.
func (r *Registry) GetOrRegister(name string, options ...BreakerOption) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, options...)
	r.breakers[name] = cb
	return cb
}

// States returns a snapshot of breaker name -> state for diagnostics.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.GetState()
	}
	return states
}

// Status reduces the registry to a single aggregate: error if any breaker is
// open, warning if any is half-open, ok otherwise.
func (r *Registry) Status() AggregateStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := AggregateOK
	for _, cb := range r.breakers {
		switch cb.GetState() {
		case StateOpen:
			return AggregateError
		case StateHalfOpen:
			status = AggregateWarning
		}
	}
	return status
}
