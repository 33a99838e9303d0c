package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	t.Run("miss on absent key", func(t *testing.T) {
		c := New()

		_, ok := c.Get("absent")

		assert.False(t, ok)
		assert.Equal(t, Stats{Hits: 0, Misses: 1, Size: 0}, c.Stats())
	})

	t.Run("hit on live key", func(t *testing.T) {
		c := New()
		c.Set("profile:+15550001111", "Maya", time.Minute)

		v, ok := c.Get("profile:+15550001111")

		require.True(t, ok)
		assert.Equal(t, "Maya", v)
		assert.Equal(t, Stats{Hits: 1, Misses: 0, Size: 1}, c.Stats())
	})

	t.Run("expired entry is a miss and is evicted", func(t *testing.T) {
		c := New()
		c.Set("short", 42, 10*time.Millisecond)

		time.Sleep(30 * time.Millisecond)

		_, ok := c.Get("short")
		assert.False(t, ok)

		stats := c.Stats()
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, 0, stats.Size)
	})

	t.Run("Set overwrites with fresh expiry", func(t *testing.T) {
		c := New()
		c.Set("k", "old", 10*time.Millisecond)
		c.Set("k", "new", time.Minute)

		time.Sleep(30 * time.Millisecond)

		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "new", v)
	})

	t.Run("Delete removes the entry", func(t *testing.T) {
		c := New()
		c.Set("k", 1, time.Minute)

		c.Delete("k")

		_, ok := c.Get("k")
		assert.False(t, ok)
	})

	t.Run("max entries bound evicts to make room", func(t *testing.T) {
		c := New(WithMaxEntries(3))

		for i := 0; i < 5; i++ {
			c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
		}

		assert.Equal(t, 3, c.Stats().Size)
	})
}

func TestHitRate(t *testing.T) {
	t.Run("zero with no activity", func(t *testing.T) {
		c := New()
		assert.Equal(t, 0.0, c.Stats().HitRate())
	})

	t.Run("reflects mixed hits and misses", func(t *testing.T) {
		c := New()
		c.Set("a", 1, time.Minute)

		c.Get("a") // hit
		c.Get("a") // hit
		c.Get("b") // miss
		c.Get("c") // miss

		assert.InDelta(t, 0.5, c.Stats().HitRate(), 0.0001)
	})
}
