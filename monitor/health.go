// Package monitor synthesizes the reliability layer's internal state into a
// single health snapshot for liveness and readiness probes. It only reads;
// a failing sub-check degrades the reported status instead of failing the
// request.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatrelay/chatrelay-go/cache"
	"github.com/chatrelay/chatrelay-go/queue"
	"github.com/chatrelay/chatrelay-go/reliability"
)

// Status is the overall health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckStatus grades one sub-check.
type CheckStatus string

const (
	CheckOK      CheckStatus = "ok"
	CheckWarning CheckStatus = "warning"
	CheckError   CheckStatus = "error"
)

// DatabaseCheck reports the datastore liveness probe.
type DatabaseCheck struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	Latency float64     `json:"latency,omitempty"` // milliseconds
}

// BreakersCheck reports the circuit breaker registry aggregate.
type BreakersCheck struct {
	Status CheckStatus       `json:"status"`
	States map[string]string `json:"states"`
}

// CacheCheck reports cache effectiveness. It is informational and always ok.
type CacheCheck struct {
	Status  CheckStatus `json:"status"`
	HitRate float64     `json:"hitRate"`
	Size    int         `json:"size"`
}

// QueueCheck reports message queue pressure.
type QueueCheck struct {
	Status     CheckStatus `json:"status"`
	Size       int         `json:"size"`
	Processing int         `json:"processing"`
	Failed     int64       `json:"failed"`
}

// ErrorRateCheck reports the trailing-hour channel error rate.
type ErrorRateCheck struct {
	Status    CheckStatus `json:"status"`
	Rate      float64     `json:"rate"`
	Threshold float64     `json:"threshold"`
}

// Checks bundles every sub-check result.
type Checks struct {
	Database        DatabaseCheck  `json:"database"`
	CircuitBreakers BreakersCheck  `json:"circuitBreakers"`
	Cache           CacheCheck     `json:"cache"`
	MessageQueue    QueueCheck     `json:"messageQueue"`
	ErrorRate       ErrorRateCheck `json:"errorRate"`
}

// Snapshot is the computed-on-demand health aggregate.
type Snapshot struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int64     `json:"uptime"` // milliseconds since service start
	Checks    Checks    `json:"checks"`
	Error     string    `json:"error,omitempty"`
}

// Pinger issues a trivial datastore liveness query.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InteractionCounter counts channel interactions since a cutoff, total and
// failed, from the historical interaction log.
type InteractionCounter interface {
	CountInteractions(ctx context.Context, since time.Time) (total, failed int64, err error)
}

// BreakerView is the read-only slice of the breaker registry the aggregator
// needs.
type BreakerView interface {
	Status() reliability.AggregateStatus
	States() map[string]reliability.State
}

// CacheView exposes cache counters.
type CacheView interface {
	Stats() cache.Stats
}

// QueueView exposes queue statistics.
type QueueView interface {
	Stats() queue.Stats
}

// Service computes health snapshots. It holds references to the live
// components and never mutates them.
type Service struct {
	db           Pinger
	breakers     BreakerView
	cache        CacheView
	queue        QueueView
	interactions InteractionCounter
	logger       *slog.Logger

	dbTimeout          time.Duration
	errorRateWindow    time.Duration
	errorRateThreshold float64
	maxQueueFailed     int64
	maxQueueSize       int
	startedAt          time.Time
	now                func() time.Time
}

// ServiceOption configures the health service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDatabaseTimeout bounds the liveness ping
func WithDatabaseTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.dbTimeout = timeout
	}
}

// WithErrorRateThreshold sets the alert threshold; warning above it, error
// above twice it
func WithErrorRateThreshold(threshold float64) ServiceOption {
	return func(s *Service) {
		s.errorRateThreshold = threshold
	}
}

// WithErrorRateWindow sets the trailing window for the interaction query
func WithErrorRateWindow(window time.Duration) ServiceOption {
	return func(s *Service) {
		s.errorRateWindow = window
	}
}

// WithQueueLimits sets the failed-count and live-size bounds for the queue check
func WithQueueLimits(maxFailed int64, maxSize int) ServiceOption {
	return func(s *Service) {
		s.maxQueueFailed = maxFailed
		s.maxQueueSize = maxSize
	}
}

// WithServiceClock overrides the time source, for tests
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a health service over the given components.
func NewService(db Pinger, breakers BreakerView, cacheView CacheView, queueView QueueView, interactions InteractionCounter, options ...ServiceOption) *Service {
	s := &Service{
		db:                 db,
		breakers:           breakers,
		cache:              cacheView,
		queue:              queueView,
		interactions:       interactions,
		logger:             slog.Default(),
		dbTimeout:          2 * time.Second,
		errorRateWindow:    time.Hour,
		errorRateThreshold: 0.05,
		maxQueueFailed:     10,
		maxQueueSize:       100,
		startedAt:          time.Now(),
		now:                time.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Check runs all five sub-checks and reduces them to one snapshot.
func (s *Service) Check(ctx context.Context) Snapshot {
	now := s.now()
	checks := Checks{
		Database:        s.checkDatabase(ctx),
		CircuitBreakers: s.checkBreakers(),
		Cache:           s.checkCache(),
		MessageQueue:    s.checkQueue(),
		ErrorRate:       s.checkErrorRate(ctx, now),
	}

	return Snapshot{
		Status:    overall(checks),
		Timestamp: now,
		Uptime:    now.Sub(s.startedAt).Milliseconds(),
		Checks:    checks,
	}
}

// overall is unhealthy iff any check errored, degraded iff any warned.
func overall(checks Checks) Status {
	statuses := []CheckStatus{
		checks.Database.Status,
		checks.CircuitBreakers.Status,
		checks.Cache.Status,
		checks.MessageQueue.Status,
		checks.ErrorRate.Status,
	}

	result := StatusHealthy
	for _, st := range statuses {
		switch st {
		case CheckError:
			return StatusUnhealthy
		case CheckWarning:
			result = StatusDegraded
		}
	}
	return result
}

// Handler serves the health snapshot over HTTP: 200 for healthy and
// degraded, 503 for unhealthy. A panic during aggregation still answers
// with an unhealthy body rather than an empty 500.
type Handler struct {
	service *Service
}

// NewHandler wraps a health service as an http.Handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.service.logger.Error("health aggregation panicked", "panic", rec)
			writeSnapshot(w, Snapshot{
				Status:    StatusUnhealthy,
				Timestamp: time.Now(),
				Error:     "health aggregation failed",
			})
		}
	}()

	snapshot := h.service.Check(r.Context())
	writeSnapshot(w, snapshot)
}

func writeSnapshot(w http.ResponseWriter, snapshot Snapshot) {
	code := http.StatusOK
	if snapshot.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(snapshot)
}

// LivenessHandler answers as long as the process is serving requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alive"))
	}
}

// ReadinessHandler answers ready unless the full aggregate is unhealthy.
func ReadinessHandler(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := service.Check(r.Context())
		if snapshot.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}
