package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, handler Handler, options ...Option) *Queue {
	t.Helper()
	opts := append([]Option{WithInterval(10 * time.Millisecond)}, options...)
	q := New(handler, opts...)
	require.NoError(t, q.Start())
	t.Cleanup(func() { q.Stop() })
	return q
}

func TestEnqueue(t *testing.T) {
	t.Run("returns an id immediately without delivery", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error {
			t.Fatal("handler must not run before Start")
			return nil
		})

		id := q.Enqueue("config-1", "hello")

		assert.NotEmpty(t, id)
		assert.Equal(t, 1, q.Stats().Size)
	})

	t.Run("ids are unique", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error { return nil })

		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := q.Enqueue("config-1", i)
			assert.False(t, seen[id])
			seen[id] = true
		}
	})
}

func TestProcessing(t *testing.T) {
	t.Run("delivers enqueued messages to the handler", func(t *testing.T) {
		var mu sync.Mutex
		received := make(map[string]bool)

		q := startQueue(t, func(ctx context.Context, msg *Message) error {
			mu.Lock()
			received[msg.Payload.(string)] = true
			mu.Unlock()
			return nil
		})

		q.Enqueue("config-1", "a")
		q.Enqueue("config-1", "b")

		require.Eventually(t, func() bool {
			return q.Stats().Completed == 2
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.True(t, received["a"])
		assert.True(t, received["b"])
		assert.Equal(t, 0, q.Stats().Size)
	})

	t.Run("drains oldest messages first", func(t *testing.T) {
		var mu sync.Mutex
		var order []int

		gate := make(chan struct{})
		q := New(func(ctx context.Context, msg *Message) error {
			<-gate
			mu.Lock()
			order = append(order, msg.Payload.(int))
			mu.Unlock()
			return nil
		}, WithInterval(10*time.Millisecond), WithBatchSize(3))

		for i := 0; i < 5; i++ {
			q.Enqueue("config-1", i)
		}
		require.NoError(t, q.Start())
		defer q.Stop()
		close(gate)

		require.Eventually(t, func() bool {
			return q.Stats().Completed == 5
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		// Batches drain in age order even though messages within a batch
		// complete concurrently.
		assert.ElementsMatch(t, []int{0, 1, 2}, order[:3])
		assert.ElementsMatch(t, []int{3, 4}, order[3:])
	})

	t.Run("retries below the ceiling then abandons", func(t *testing.T) {
		var attempts int32
		q := startQueue(t, func(ctx context.Context, msg *Message) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("provider unreachable")
		})

		q.Enqueue("config-1", "doomed")

		require.Eventually(t, func() bool {
			return q.Stats().Failed == 1
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
		assert.Equal(t, 0, q.Stats().Size)

		failed := q.FailedMessages()
		require.Len(t, failed, 1)
		assert.Equal(t, 3, failed[0].RetryCount)
		assert.Contains(t, failed[0].LastError, "provider unreachable")
	})

	t.Run("one poisoned message does not block the batch", func(t *testing.T) {
		q := startQueue(t, func(ctx context.Context, msg *Message) error {
			if msg.Payload == "poison" {
				return errors.New("rejected")
			}
			return nil
		})

		for i := 0; i < 11; i++ {
			q.Enqueue("config-1", i)
		}
		q.Enqueue("config-1", "poison")

		require.Eventually(t, func() bool {
			s := q.Stats()
			return s.Completed == 11 && s.Failed == 1
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("handler panic counts as a failed attempt", func(t *testing.T) {
		q := startQueue(t, func(ctx context.Context, msg *Message) error {
			panic("boom")
		})

		q.Enqueue("config-1", "x")

		require.Eventually(t, func() bool {
			return q.Stats().Failed == 1
		}, time.Second, 5*time.Millisecond)

		failed := q.FailedMessages()
		require.Len(t, failed, 1)
		assert.Contains(t, failed[0].LastError, "handler panic")
	})

	t.Run("hung handler is cut off by the handler timeout", func(t *testing.T) {
		q := startQueue(t, func(ctx context.Context, msg *Message) error {
			<-ctx.Done()
			return ctx.Err()
		}, WithHandlerTimeout(20*time.Millisecond))

		q.Enqueue("config-1", "stuck")

		require.Eventually(t, func() bool {
			return q.Stats().Failed == 1
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestPauseResume(t *testing.T) {
	q := startQueue(t, func(ctx context.Context, msg *Message) error {
		return nil
	})

	q.Pause()
	q.Enqueue("config-1", "held")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, q.Stats().Size)
	assert.Equal(t, int64(0), q.Stats().Completed)

	q.Resume()

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStats(t *testing.T) {
	t.Run("oldest reflects the earliest pending message", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error { return nil })

		before := time.Now()
		q.Enqueue("config-1", "first")
		time.Sleep(5 * time.Millisecond)
		q.Enqueue("config-1", "second")

		stats := q.Stats()
		require.NotNil(t, stats.Oldest)
		assert.True(t, !stats.Oldest.Before(before))
		assert.True(t, stats.Oldest.Before(time.Now()))
	})

	t.Run("empty queue has no oldest", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error { return nil })
		assert.Nil(t, q.Stats().Oldest)
	})
}

func TestThroughput(t *testing.T) {
	q := startQueue(t, func(ctx context.Context, msg *Message) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	for i := 0; i < 5; i++ {
		q.Enqueue("config-1", i)
	}

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 5
	}, time.Second, 5*time.Millisecond)

	tp := q.Throughput()
	assert.True(t, tp.MessagesPerMinute > 0)
	assert.True(t, tp.AvgProcessingTime >= time.Millisecond)
}

func TestClearFailed(t *testing.T) {
	q := startQueue(t, func(ctx context.Context, msg *Message) error {
		return errors.New("always fails")
	})

	q.Enqueue("config-1", "a")
	q.Enqueue("config-1", "b")

	require.Eventually(t, func() bool {
		return q.Stats().Failed == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, q.FailedMessages(), 2)

	cleared := q.ClearFailed()
	assert.Equal(t, 2, cleared)
	assert.Empty(t, q.FailedMessages())
}

func TestRetryScenario(t *testing.T) {
	// Twelve messages with a batch size of ten and exactly one always
	// failing: eleven complete, one is abandoned at the retry ceiling.
	q := startQueue(t, func(ctx context.Context, msg *Message) error {
		if msg.Payload == "always-fails" {
			return errors.New("permanent rejection")
		}
		return nil
	}, WithBatchSize(10))

	for i := 0; i < 11; i++ {
		q.Enqueue("config-1", i)
	}
	q.Enqueue("config-1", "always-fails")

	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Completed == 11 && s.Failed == 1 && s.Size == 0
	}, 2*time.Second, 5*time.Millisecond)

	failed := q.FailedMessages()
	require.Len(t, failed, 1)
	assert.Equal(t, "always-fails", failed[0].Payload)
	assert.Equal(t, 3, failed[0].RetryCount)
}

func TestStartStop(t *testing.T) {
	t.Run("double start fails", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error { return nil })
		require.NoError(t, q.Start())
		defer q.Stop()

		assert.Error(t, q.Start())
	})

	t.Run("stop without start fails", func(t *testing.T) {
		q := New(func(ctx context.Context, msg *Message) error { return nil })
		assert.Error(t, q.Stop())
	})
}
