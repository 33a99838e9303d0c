package monitor

import (
	"context"
	"time"
)

// checkDatabase issues the liveness ping under a bound and reports measured
// latency on success.
func (s *Service) checkDatabase(ctx context.Context) DatabaseCheck {
	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	start := time.Now()
	if err := s.db.Ping(ctx); err != nil {
		return DatabaseCheck{
			Status:  CheckError,
			Message: err.Error(),
		}
	}

	return DatabaseCheck{
		Status:  CheckOK,
		Latency: float64(time.Since(start).Microseconds()) / 1000,
	}
}

// checkBreakers maps the registry aggregate onto a check and attaches the
// per-breaker state map for diagnostics.
func (s *Service) checkBreakers() BreakersCheck {
	states := s.breakers.States()
	named := make(map[string]string, len(states))
	for name, state := range states {
		named[name] = state.String()
	}

	return BreakersCheck{
		Status: CheckStatus(s.breakers.Status()),
		States: named,
	}
}

// checkCache is informational only.
func (s *Service) checkCache() CacheCheck {
	stats := s.cache.Stats()
	return CacheCheck{
		Status:  CheckOK,
		HitRate: stats.HitRate(),
		Size:    stats.Size,
	}
}

// checkQueue grades queue pressure. Error takes precedence over warning
// when both bounds are exceeded.
func (s *Service) checkQueue() QueueCheck {
	stats := s.queue.Stats()

	status := CheckOK
	if stats.Size > s.maxQueueSize {
		status = CheckWarning
	}
	if stats.Failed > s.maxQueueFailed {
		status = CheckError
	}

	return QueueCheck{
		Status:     status,
		Size:       stats.Size,
		Processing: stats.Processing,
		Failed:     stats.Failed,
	}
}

// checkErrorRate compares the trailing-window failure ratio against the
// threshold. A query failure is reported as an error with rate 0, never
// propagated.
func (s *Service) checkErrorRate(ctx context.Context, now time.Time) ErrorRateCheck {
	check := ErrorRateCheck{
		Status:    CheckOK,
		Threshold: s.errorRateThreshold,
	}

	total, failed, err := s.interactions.CountInteractions(ctx, now.Add(-s.errorRateWindow))
	if err != nil {
		s.logger.Error("interaction log query failed", "error", err)
		check.Status = CheckError
		return check
	}

	if total > 0 {
		check.Rate = float64(failed) / float64(total)
	}

	switch {
	case check.Rate > 2*s.errorRateThreshold:
		check.Status = CheckError
	case check.Rate > s.errorRateThreshold:
		check.Status = CheckWarning
	}
	return check
}
