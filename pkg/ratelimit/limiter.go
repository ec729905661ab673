// Package ratelimit implements the fixed-window Rate Limiter (§4.1):
// per-(principal, endpoint) counters with a per-endpoint limit table and
// a default fallback.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/govplane/backplane/internal/config"
	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
)

// Limiter evaluates and mutates fixed-window rate counters.
type Limiter struct {
	repo   repository.RateCounterRepository
	limits config.RateLimiterConfig
	log    *zap.Logger
}

func New(repo repository.RateCounterRepository, limits config.RateLimiterConfig, log *zap.Logger) *Limiter {
	return &Limiter{repo: repo, limits: limits, log: log}
}

func (l *Limiter) limitFor(endpoint string) config.EndpointLimit {
	if lim, ok := l.limits.Endpoints[endpoint]; ok {
		return lim
	}
	return l.limits.Default
}

// windowed returns the counter to operate against, rolling it over to a
// fresh window when the previous one has elapsed. It never persists —
// callers decide whether to Upsert the result.
func (l *Limiter) windowed(c *models.RateCounter, principalID int, endpoint string, now time.Time) *models.RateCounter {
	lim := l.limitFor(endpoint)
	if c == nil {
		return &models.RateCounter{
			PrincipalID: principalID, Endpoint: endpoint,
			Limit: lim.Limit, WindowSeconds: lim.WindowSeconds,
			CurrentCount: 0, WindowStart: now,
		}
	}
	c.Limit = lim.Limit
	c.WindowSeconds = lim.WindowSeconds
	if now.Sub(c.WindowStart) >= time.Duration(lim.WindowSeconds)*time.Second {
		c.CurrentCount = 0
		c.WindowStart = now
	}
	return c
}

// Check reports whether principal may act against endpoint without
// mutating the counter.
func (l *Limiter) Check(ctx context.Context, principalID int, endpoint string) (allowed bool, remaining int, err error) {
	existing, err := l.repo.Get(ctx, principalID, endpoint)
	if err != nil {
		return false, 0, err
	}
	c := l.windowed(existing, principalID, endpoint, time.Now())
	allowed = c.CurrentCount < c.Limit
	remaining = c.Limit - c.CurrentCount
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		metrics.RecordRateLimitExceeded(endpoint)
	}
	return allowed, remaining, nil
}

// Increment applies one unit of consumption and persists the resulting
// counter, returning the new count.
func (l *Limiter) Increment(ctx context.Context, principalID int, endpoint string) (newCount int, err error) {
	existing, err := l.repo.Get(ctx, principalID, endpoint)
	if err != nil {
		return 0, err
	}
	c := l.windowed(existing, principalID, endpoint, time.Now())
	c.CurrentCount++
	if err := l.repo.Upsert(ctx, c); err != nil {
		return 0, err
	}
	if c.CurrentCount > c.Limit {
		metrics.RecordRateLimitExceeded(endpoint)
	}
	return c.CurrentCount, nil
}

// Reset zeros principal's counter for endpoint.
func (l *Limiter) Reset(ctx context.Context, principalID int, endpoint string) error {
	return l.repo.Reset(ctx, principalID, endpoint)
}

// Cleanup removes counter rows whose window started before olderThan.
func (l *Limiter) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	return l.repo.Cleanup(ctx, olderThan)
}
