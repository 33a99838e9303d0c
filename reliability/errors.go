package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is the sentinel wrapped by CircuitBreakerError when a
	// call is refused.
	ErrCircuitOpen = errors.New("circuit breaker: circuit is open")

	// ErrBreakerNotFound is returned by the registry for an unknown name.
	ErrBreakerNotFound = errors.New("circuit breaker: no breaker registered under that name")
)

// CircuitBreakerError reports a refused call with enough context for the
// caller to decide whether to queue, degrade, or surface the condition.
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextProbe        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		probeIn := time.Until(e.NextProbe).Round(time.Second)
		return fmt.Sprintf("circuit breaker %q open: call blocked (failures=%d/%d, probe in %v)",
			e.Name, e.Failures, e.FailureThreshold, probeIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %q half-open: probe limit reached", e.Name)
	default:
		return fmt.Sprintf("circuit breaker %q refused call in state %v", e.Name, e.State)
	}
}

func (e *CircuitBreakerError) Unwrap() error {
	return ErrCircuitOpen
}

// IsCircuitOpen reports whether err is a circuit breaker refusal.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
