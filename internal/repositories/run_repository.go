package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

// CreateIdempotent inserts the run unless a run with the same idempotency
// key already exists. The unique constraint resolves concurrent duplicate
// deliveries: the first insert wins and the rest report created == false.
func (r *runRepository) CreateIdempotent(ctx context.Context, run *models.Run) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(run)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create run: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// GetByID retrieves a run with its steps, scoped to an org
func (r *runRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Run, error) {
	var run models.Run

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_index ASC")
		}).
		First(&run, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run by ID: %w", err)
	}

	return &run, nil
}

// Update updates a run
func (r *runRepository) Update(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

// ListByRule retrieves a rule's runs with pagination, newest first
func (r *runRepository) ListByRule(ctx context.Context, orgID, ruleID uint, limit, offset int) ([]*models.Run, error) {
	var runs []*models.Run

	query := r.db.WithContext(ctx).
		Where("org_id = ? AND rule_id = ?", orgID, ruleID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs by rule: %w", err)
	}

	return runs, nil
}

// CountWindow counts non-skipped runs in the trailing hour and day windows
// with a single conditional-aggregation query. The current run is excluded
// so the caller can compare counts directly against the thresholds.
func (r *runRepository) CountWindow(ctx context.Context, ruleID, excludeRunID uint, hourStart, dayStart time.Time) (int64, int64, error) {
	var counts struct {
		Hourly int64
		Daily  int64
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Run{}).
		Select("COUNT(*) FILTER (WHERE created_at >= ?) AS hourly, COUNT(*) AS daily", hourStart).
		Where("rule_id = ? AND id <> ? AND status <> ? AND created_at >= ?",
			ruleID, excludeRunID, models.RunStatusSkipped, dayStart).
		Scan(&counts).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count runs in window: %w", err)
	}

	return counts.Hourly, counts.Daily, nil
}

// GetStats aggregates run outcomes for a rule
func (r *runRepository) GetStats(ctx context.Context, orgID, ruleID uint) (*models.RunStats, error) {
	var stats models.RunStats

	if err := r.db.WithContext(ctx).
		Model(&models.Run{}).
		Select(`COUNT(*) AS total,
			COUNT(*) FILTER (WHERE matched) AS matched,
			COUNT(*) FILTER (WHERE status = ?) AS succeeded,
			COUNT(*) FILTER (WHERE status = ?) AS failed,
			COUNT(*) FILTER (WHERE status = ?) AS skipped,
			COUNT(*) FILTER (WHERE status = ?) AS rate_limited`,
			models.RunStatusSucceeded, models.RunStatusFailed,
			models.RunStatusSkipped, models.RunStatusRateLimited).
		Where("org_id = ? AND rule_id = ?", orgID, ruleID).
		Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}

	return &stats, nil
}

// CreateStep creates a run step
func (r *runRepository) CreateStep(ctx context.Context, step *models.RunStep) error {
	if err := r.db.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("failed to create run step: %w", err)
	}

	return nil
}

// UpdateStep updates a run step
func (r *runRepository) UpdateStep(ctx context.Context, step *models.RunStep) error {
	if err := r.db.WithContext(ctx).Save(step).Error; err != nil {
		return fmt.Errorf("failed to update run step: %w", err)
	}

	return nil
}

// ListSteps retrieves a run's steps in execution order
func (r *runRepository) ListSteps(ctx context.Context, runID uint) ([]*models.RunStep, error) {
	var steps []*models.RunStep

	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index ASC").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}

	return steps, nil
}
