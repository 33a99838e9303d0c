// Package queue implements the in-memory outbound message queue. Enqueue is
// fire and forget: delivery happens on a background timer loop that drains
// batches of pending messages to a caller-supplied handler with bounded
// retry. Nothing here survives a process restart; the queue trades
// durability for a stable, non-blocking enqueue path.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Message is an outbound message owned by the queue for its lifetime.
type Message struct {
	ID          string
	ConfigID    string
	Payload     interface{}
	RetryCount  int
	CreatedAt   time.Time
	ProcessedAt *time.Time
	LastError   string

	seq uint64
}

// Handler delivers one message to the external channel. A nil return marks
// the message processed; any error counts as a failed attempt.
type Handler func(ctx context.Context, msg *Message) error

// Stats is a point-in-time summary of queue state.
type Stats struct {
	Size       int
	Processing int
	Completed  int64
	Failed     int64
	Oldest     *time.Time
}

// Throughput derives rates from the cumulative counters.
type Throughput struct {
	MessagesPerMinute float64
	AvgProcessingTime time.Duration
}

// Queue is the in-memory batch processor. One instance per process; see
// the client package for ownership.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Message
	trail   []Message // bounded audit of abandoned messages, newest last

	handler        Handler
	logger         *slog.Logger
	interval       time.Duration
	batchSize      int
	maxRetries     int
	handlerTimeout time.Duration
	maxTrail       int

	paused     atomic.Bool
	processing int64
	completed  int64
	failed     int64
	busyTotal  int64 // cumulative handler time in nanoseconds
	seq        uint64
	startedAt  time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures the queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithInterval sets the processing tick interval
func WithInterval(interval time.Duration) Option {
	return func(q *Queue) {
		q.interval = interval
	}
}

// WithBatchSize sets the max messages drained per tick
func WithBatchSize(size int) Option {
	return func(q *Queue) {
		q.batchSize = size
	}
}

// WithMaxRetries sets the attempt ceiling before a message is abandoned
func WithMaxRetries(max int) Option {
	return func(q *Queue) {
		q.maxRetries = max
	}
}

// WithHandlerTimeout bounds each handler invocation. A timed-out handler
// counts as a failed attempt, so a hung delivery cannot hold its batch slot
// forever.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(q *Queue) {
		q.handlerTimeout = timeout
	}
}

// WithFailedTrailSize bounds the audit trail of abandoned messages
func WithFailedTrailSize(size int) Option {
	return func(q *Queue) {
		q.maxTrail = size
	}
}

// New creates a queue that delivers through handler once started.
func New(handler Handler, options ...Option) *Queue {
	q := &Queue{
		pending:        make(map[string]*Message),
		handler:        handler,
		logger:         slog.Default(),
		interval:       100 * time.Millisecond,
		batchSize:      10,
		maxRetries:     3,
		handlerTimeout: 30 * time.Second,
		maxTrail:       100,
	}

	for _, opt := range options {
		opt(q)
	}

	return q
}

// Start launches the processing loop. Messages may be enqueued before Start;
// they simply wait for the first tick.
func (q *Queue) Start() error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.running {
		return fmt.Errorf("queue is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running = true
	q.startedAt = time.Now()

	go q.loop(ctx)

	q.logger.Info("message queue started",
		"interval", q.interval,
		"batchSize", q.batchSize,
		"maxRetries", q.maxRetries,
	)
	return nil
}

// Stop halts the loop after the in-flight batch, if any, has joined.
func (q *Queue) Stop() error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if !q.running {
		return fmt.Errorf("queue is not running")
	}

	q.cancel()
	<-q.done
	q.running = false

	q.logger.Info("message queue stopped")
	return nil
}

// Enqueue accepts a message and returns its generated ID immediately. It
// never blocks on delivery; queue statistics are the only feedback channel
// for eventual success or abandonment.
func (q *Queue) Enqueue(configID string, payload interface{}) string {
	msg := &Message{
		ID:        uuid.New().String(),
		ConfigID:  configID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	q.seq++
	msg.seq = q.seq
	q.pending[msg.ID] = msg
	size := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("message enqueued",
		"messageId", msg.ID,
		"configId", configID,
		"queueSize", size,
	)
	return msg.ID
}

// Pause stops future ticks from draining the queue. In-flight handler
// invocations are not cancelled.
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.logger.Info("message queue paused")
}

// Resume re-enables processing on the next tick.
func (q *Queue) Resume() {
	q.paused.Store(false)
	q.logger.Info("message queue resumed")
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Size:       len(q.pending),
		Processing: int(atomic.LoadInt64(&q.processing)),
		Completed:  atomic.LoadInt64(&q.completed),
		Failed:     atomic.LoadInt64(&q.failed),
	}

	for _, msg := range q.pending {
		if stats.Oldest == nil || msg.CreatedAt.Before(*stats.Oldest) {
			t := msg.CreatedAt
			stats.Oldest = &t
		}
	}
	return stats
}

// Throughput derives messages-per-minute and the average handler time from
// the cumulative counters since Start.
func (q *Queue) Throughput() Throughput {
	completed := atomic.LoadInt64(&q.completed)
	busy := atomic.LoadInt64(&q.busyTotal)

	var tp Throughput
	if completed > 0 {
		tp.AvgProcessingTime = time.Duration(busy / completed)
	}

	q.runMu.Lock()
	startedAt := q.startedAt
	q.runMu.Unlock()
	if startedAt.IsZero() {
		return tp
	}

	minutes := time.Since(startedAt).Minutes()
	if minutes > 0 {
		tp.MessagesPerMinute = float64(completed) / minutes
	}
	return tp
}

// FailedMessages returns the audit trail of abandoned messages, oldest
// first.
func (q *Queue) FailedMessages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.trail))
	copy(out, q.trail)
	return out
}

// ClearFailed drops the audit trail and purges any live messages already at
// or above the retry ceiling. In the default flow abandoned messages never
// re-enter the live set, so the purge only catches stragglers.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := len(q.trail)
	q.trail = nil

	for id, msg := range q.pending {
		if msg.RetryCount >= q.maxRetries {
			delete(q.pending, id)
			cleared++
		}
	}
	return cleared
}

// loop is the timer-driven worker. Each tick drains one batch and joins all
// handler goroutines before sleeping again.
func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.paused.Load() {
				continue
			}
			q.processBatch(ctx)
		}
	}
}

// processBatch removes up to batchSize oldest pending messages from the
// live set and dispatches each concurrently. Removal happens before the
// handler runs so a later tick cannot select the same message; a crash
// between removal and completion loses the message, which is the accepted
// cost of the non-durable design.
func (q *Queue) processBatch(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}

	batch := make([]*Message, 0, len(q.pending))
	for _, msg := range q.pending {
		batch = append(batch, msg)
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].seq < batch[j].seq
	})
	if len(batch) > q.batchSize {
		batch = batch[:q.batchSize]
	}
	for _, msg := range batch {
		delete(q.pending, msg.ID)
	}
	q.mu.Unlock()

	atomic.AddInt64(&q.processing, int64(len(batch)))

	var wg sync.WaitGroup
	for _, msg := range batch {
		wg.Add(1)
		go func(msg *Message) {
			defer wg.Done()
			defer atomic.AddInt64(&q.processing, -1)
			q.deliver(ctx, msg)
		}(msg)
	}
	wg.Wait()
}

// deliver runs the handler for one message and routes the outcome.
func (q *Queue) deliver(ctx context.Context, msg *Message) {
	start := time.Now()
	err := q.invokeHandler(ctx, msg)
	elapsed := time.Since(start)

	if err == nil {
		now := time.Now()
		msg.ProcessedAt = &now
		atomic.AddInt64(&q.completed, 1)
		atomic.AddInt64(&q.busyTotal, int64(elapsed))

		q.logger.Debug("message processed",
			"messageId", msg.ID,
			"configId", msg.ConfigID,
			"elapsed", elapsed,
		)
		return
	}

	msg.RetryCount++
	msg.LastError = err.Error()

	if msg.RetryCount < q.maxRetries {
		q.mu.Lock()
		q.pending[msg.ID] = msg
		q.mu.Unlock()

		q.logger.Warn("message delivery failed, will retry",
			"messageId", msg.ID,
			"configId", msg.ConfigID,
			"retryCount", msg.RetryCount,
			"error", err,
		)
		return
	}

	atomic.AddInt64(&q.failed, 1)
	q.recordFailed(msg)

	q.logger.Error("message abandoned after retry ceiling",
		"messageId", msg.ID,
		"configId", msg.ConfigID,
		"retryCount", msg.RetryCount,
		"error", err,
	)
}

// invokeHandler bounds the handler with the configured timeout and converts
// panics into failed attempts so one bad message never takes down the loop.
func (q *Queue) invokeHandler(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if q.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.handlerTimeout)
		defer cancel()
	}

	return q.handler(ctx, msg)
}

// recordFailed appends to the bounded audit trail.
func (q *Queue) recordFailed(msg *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxTrail <= 0 {
		return
	}
	q.trail = append(q.trail, *msg)
	if len(q.trail) > q.maxTrail {
		q.trail = q.trail[len(q.trail)-q.maxTrail:]
	}
}
