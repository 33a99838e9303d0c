package verify

import (
	"fmt"
	"sync"
	"time"
)

// rateLimiter caps code issuance per (userID, phoneNumber) over a trailing
// window. Pruning is lazy: stale timestamps are dropped whenever a key is
// checked, and Sweep drops keys nothing has touched.
type rateLimiter struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    now,
	}
}

func limiterKey(userID, phoneNumber string) string {
	return fmt.Sprintf("%s|%s", userID, phoneNumber)
}

// allow prunes the window for the key and, if room remains, records an event
// and returns nil. On a full window it returns a *RateLimitError carrying
// when the oldest event ages out.
func (rl *rateLimiter) allow(userID, phoneNumber string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := limiterKey(userID, phoneNumber)
	now := rl.now()
	cutoff := now.Add(-rl.window)

	events := rl.events[key]
	pruned := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= rl.limit {
		rl.events[key] = pruned
		return &RateLimitError{
			Limit:      rl.limit,
			Window:     rl.window,
			RetryAfter: pruned[0].Add(rl.window).Sub(now),
		}
	}

	rl.events[key] = append(pruned, now)
	return nil
}

// sweep drops keys whose every event has aged out of the window.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, events := range rl.events {
		live := false
		for _, t := range events {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.events, key)
		}
	}
}
