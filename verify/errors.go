package verify

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCode is returned when no pending code exists for the pair.
	ErrNoCode = errors.New("verify: no code found, request a new one")

	// ErrCodeExpired is returned when the pending code's TTL has passed.
	ErrCodeExpired = errors.New("verify: code expired, request a new one")

	// ErrTooManyAttempts is returned once the attempt ceiling is exhausted.
	ErrTooManyAttempts = errors.New("verify: too many attempts, request a new code")
)

// RateLimitError rejects code issuance when the trailing window is full.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("verify: rate limit exceeded (%d codes per %v), retry in %v",
		e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// InvalidCodeError is returned on a mismatch while attempts remain. The code
// itself stays pending.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("verify: invalid code, %d attempts remaining", e.Remaining)
}
