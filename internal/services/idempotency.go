package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// DefaultProgressBucket is the percentage bucket width progress events are
// collapsed into before keying.
const DefaultProgressBucket = 5.0

// IdempotencyKeyBuilder derives the logical occurrence identifier of an
// event and the per-(org, rule) idempotency key guaranteeing at-most-one run
// per occurrence. Derivation is pure; the uniqueness guarantee itself lives
// in the runs table's unique constraint.
type IdempotencyKeyBuilder struct {
	progressBucket float64
}

// NewIdempotencyKeyBuilder creates a key builder with the given progress
// bucket width; zero or negative widths fall back to the default.
func NewIdempotencyKeyBuilder(progressBucket float64) *IdempotencyKeyBuilder {
	if progressBucket <= 0 {
		progressBucket = DefaultProgressBucket
	}
	return &IdempotencyKeyBuilder{progressBucket: progressBucket}
}

// EntityID derives the trigger-specific logical occurrence identifier. Some
// triggers deliberately key coarser than the raw event: progress updates
// collapse into percentage buckets and daily triggers collapse into calendar
// days.
func (b *IdempotencyKeyBuilder) EntityID(trigger models.TriggerKey, payload models.JSONMap, createdAt time.Time) string {
	switch trigger {
	case models.TriggerJobStatusUpdated:
		jobID := payloadUint(payload, "job_id")
		status := payloadString(payload, "status")
		return fmt.Sprintf("%d:%s:%d", jobID, status, createdAt.Unix())

	case models.TriggerJobProgressUpdated:
		jobID := payloadUint(payload, "job_id")
		progress, _ := payloadFloat(payload, "progress")
		return fmt.Sprintf("%d:progress:%g", jobID, b.ProgressBucket(progress))

	case models.TriggerTimeDaily:
		day := payloadString(payload, "day")
		if day == "" {
			day = createdAt.UTC().Format("2006-01-02")
		}
		return fmt.Sprintf("%s:%s", trigger, day)

	default:
		return fmt.Sprintf("%d:%d", referencedEntityID(trigger, payload), createdAt.Unix())
	}
}

// ProgressBucket rounds a percentage to the nearest bucket boundary
func (b *IdempotencyKeyBuilder) ProgressBucket(progress float64) float64 {
	return math.Round(progress/b.progressBucket) * b.progressBucket
}

// Key produces the run idempotency key for an occurrence of a rule
func (b *IdempotencyKeyBuilder) Key(orgID, ruleID uint, entityID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s", orgID, ruleID, entityID)))
	return hex.EncodeToString(sum[:])
}
