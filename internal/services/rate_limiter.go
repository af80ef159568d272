package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// Default per-rule run thresholds. These are engine-level constants, not
// per-rule settings.
const (
	DefaultHourlyRunLimit = 20
	DefaultDailyRunLimit  = 200
)

// RateLimitDecision reports the window counts behind a limiting decision
type RateLimitDecision struct {
	Limited     bool  `json:"limited"`
	HourlyCount int64 `json:"hourly_count"`
	DailyCount  int64 `json:"daily_count"`
}

// RateLimiter counts a rule's non-skipped runs in trailing 1-hour and
// 24-hour windows. Counts are derived from persisted runs on every check,
// so concurrent engine instances stay consistent without shared memory.
type RateLimiter struct {
	runs        repositories.RunRepository
	hourlyLimit int64
	dailyLimit  int64
	logger      *zap.Logger
}

// NewRateLimiter creates a rate limiter; non-positive limits fall back to
// the defaults.
func NewRateLimiter(runs repositories.RunRepository, hourlyLimit, dailyLimit int64, logger *zap.Logger) *RateLimiter {
	if hourlyLimit <= 0 {
		hourlyLimit = DefaultHourlyRunLimit
	}
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyRunLimit
	}
	return &RateLimiter{
		runs:        runs,
		hourlyLimit: hourlyLimit,
		dailyLimit:  dailyLimit,
		logger:      logger,
	}
}

// CheckLimit reports whether the rule has exhausted either window. The
// current run is excluded from the counts, so a decision of limited means
// the thresholds were already reached by prior non-skipped runs.
func (l *RateLimiter) CheckLimit(ctx context.Context, orgID, ruleID, excludeRunID uint, now time.Time) (*RateLimitDecision, error) {
	hourly, daily, err := l.runs.CountWindow(ctx, ruleID, excludeRunID,
		now.Add(-time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	decision := &RateLimitDecision{
		HourlyCount: hourly,
		DailyCount:  daily,
		Limited:     hourly >= l.hourlyLimit || daily >= l.dailyLimit,
	}

	if decision.Limited {
		l.logger.Warn("rule rate limited",
			zap.Uint("org_id", orgID),
			zap.Uint("rule_id", ruleID),
			zap.Int64("hourly_count", hourly),
			zap.Int64("daily_count", daily))
	}

	return decision, nil
}
