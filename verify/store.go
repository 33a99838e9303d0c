// Package verify issues, rate-limits, and validates short-lived one-time
// codes for phone-number verification. Codes are single use, held in process
// memory, and keyed by (integrationID, phoneNumber) so at most one code is
// pending per pair.
package verify

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Code is a pending verification code with its issuance context.
type Code struct {
	Code          string
	PhoneNumber   string
	UserID        string
	IntegrationID string
	ExpiresAt     time.Time
	Attempts      int
}

// Store owns the pending code set and the issuance rate-limit table.
type Store struct {
	mu      sync.Mutex
	codes   map[string]*Code
	limiter *rateLimiter
	logger  *slog.Logger

	codeLength  int
	codeTTL     time.Duration
	maxAttempts int
	now         func() time.Time
}

// StoreOption configures the store
type StoreOption func(*Store)

// WithCodeLength sets the number of digits per code
func WithCodeLength(length int) StoreOption {
	return func(s *Store) {
		s.codeLength = length
	}
}

// WithCodeTTL sets how long an issued code stays valid
func WithCodeTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.codeTTL = ttl
	}
}

// WithMaxAttempts sets the verification attempt ceiling per code
func WithMaxAttempts(max int) StoreOption {
	return func(s *Store) {
		s.maxAttempts = max
	}
}

// WithRateLimit sets the issuance ceiling per (userID, phoneNumber) over the window
func WithRateLimit(limit int, window time.Duration) StoreOption {
	return func(s *Store) {
		s.limiter.limit = limit
		s.limiter.window = window
	}
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
		s.limiter.now = now
	}
}

// NewStore creates a code store with the reference defaults: 6-digit codes,
// 10 minute TTL, 3 attempts, 5 issuances per 60 minute window.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		codes:       make(map[string]*Code),
		logger:      slog.Default(),
		codeLength:  6,
		codeTTL:     10 * time.Minute,
		maxAttempts: 3,
		now:         time.Now,
	}
	s.limiter = newRateLimiter(5, 60*time.Minute, s.now)

	for _, opt := range options {
		opt(s)
	}

	return s
}

func codeKey(integrationID, phoneNumber string) string {
	return fmt.Sprintf("%s|%s", integrationID, phoneNumber)
}

// CreateCode checks the rate-limit window, generates a fresh code, and
// stores it, overwriting any prior pending code for the pair. The caller
// transmits the returned code out of band.
func (s *Store) CreateCode(phoneNumber, userID, integrationID string) (string, error) {
	if err := s.limiter.allow(userID, phoneNumber); err != nil {
		s.logger.Warn("verification code issuance rate limited",
			"userId", userID,
			"phoneNumber", phoneNumber,
		)
		return "", err
	}

	code, err := generateCode(s.codeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	s.mu.Lock()
	s.codes[codeKey(integrationID, phoneNumber)] = &Code{
		Code:          code,
		PhoneNumber:   phoneNumber,
		UserID:        userID,
		IntegrationID: integrationID,
		ExpiresAt:     s.now().Add(s.codeTTL),
		Attempts:      0,
	}
	s.mu.Unlock()

	s.logger.Info("verification code issued",
		"integrationId", integrationID,
		"phoneNumber", phoneNumber,
		"ttl", s.codeTTL,
	)

	return code, nil
}

// VerifyCode validates a supplied code for the pair. On success the code is
// consumed and the associated userID returned. Expected failures come back
// as typed errors: ErrNoCode, ErrCodeExpired, ErrTooManyAttempts, or
// *InvalidCodeError while attempts remain.
func (s *Store) VerifyCode(phoneNumber, integrationID, supplied string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(integrationID, phoneNumber)
	pending, ok := s.codes[key]
	if !ok {
		return "", ErrNoCode
	}

	if s.now().After(pending.ExpiresAt) {
		delete(s.codes, key)
		return "", ErrCodeExpired
	}

	pending.Attempts++
	if pending.Attempts > s.maxAttempts {
		delete(s.codes, key)
		return "", ErrTooManyAttempts
	}

	if pending.Code != supplied {
		remaining := s.maxAttempts - pending.Attempts
		if remaining <= 0 {
			delete(s.codes, key)
			return "", ErrTooManyAttempts
		}
		return "", &InvalidCodeError{Remaining: remaining}
	}

	// Single use: consume on match.
	delete(s.codes, key)
	return pending.UserID, nil
}

// Sweep removes expired codes and stale rate-limit windows. The store also
// expires lazily on access; this bounds memory when pairs are never
// revisited.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, pending := range s.codes {
		if now.After(pending.ExpiresAt) {
			delete(s.codes, key)
			removed++
		}
	}
	s.mu.Unlock()

	s.limiter.sweep()

	if removed > 0 {
		s.logger.Debug("swept expired verification codes", "removed", removed)
	}
	return removed
}

// PendingCount returns the number of unexpired codes currently held.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Message renders the human-readable text delivered over the messaging
// channel alongside an issued code.
func (s *Store) Message(code string) string {
	minutes := int(s.codeTTL.Minutes())
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes. Do not share this code with anyone.", code, minutes)
}

// generateCode returns a fixed-width zero-padded decimal string drawn from
// crypto/rand. A general-purpose PRNG would make codes enumerable.
func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	digits := n.String()
	if len(digits) < length {
		digits = strings.Repeat("0", length-len(digits)) + digits
	}
	return digits, nil
}
