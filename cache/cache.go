// Package cache provides a process-local key/value store with per-entry TTL
// and hit/miss accounting. It is a shared utility: any component may park the
// result of an external lookup here to avoid repeating it.
package cache

import (
	"sync"
	"time"
)

const defaultMaxEntries = 1000

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats reports cumulative cache counters and the current live size.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// HitRate returns hits/(hits+misses), 0 when no gets have occurred.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a bounded TTL cache. Expired entries count as misses and are
// evicted on access; correctness needs no other eviction, the size bound
// only caps memory.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	hits       int64
	misses     int64
	maxEntries int
}

// Option configures the cache
type Option func(*Cache)

// WithMaxEntries caps the number of live entries. Zero disables the bound.
func WithMaxEntries(max int) Option {
	return func(c *Cache) {
		c.maxEntries = max
	}
}

// New creates an empty cache
func New(options ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: defaultMaxEntries,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Get returns the live value for key. Expired entries are removed and
// reported as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Set stores or overwrites key with a fresh expiry.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOne()
	}

	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.entries),
	}
}

// evictOne frees a slot: any already-expired entry first, otherwise the
// entry closest to expiry. Callers must hold c.mu.
func (c *Cache) evictOne() {
	now := time.Now()
	var victim string
	var victimExpiry time.Time

	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			return
		}
		if victim == "" || e.expiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = e.expiresAt
		}
	}

	if victim != "" {
		delete(c.entries, victim)
	}
}
