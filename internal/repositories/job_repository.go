package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// GetByID retrieves a job by ID scoped to an org
func (r *jobRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Job, error) {
	var job models.Job

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&job, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", err)
	}

	return &job, nil
}

// Update updates a job
func (r *jobRepository) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// GetAssignment retrieves the current crew assignment for a job
func (r *jobRepository) GetAssignment(ctx context.Context, orgID, jobID uint) (*models.CrewAssignment, error) {
	var assignment models.CrewAssignment

	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND job_id = ?", orgID, jobID).
		Order("created_at DESC").
		First(&assignment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get crew assignment: %w", err)
	}

	return &assignment, nil
}

// MaxTaskSortOrder returns the highest task sort order for a job, 0 if none
func (r *jobRepository) MaxTaskSortOrder(ctx context.Context, jobID uint) (int, error) {
	var maxSort int

	if err := r.db.WithContext(ctx).
		Model(&models.JobTask{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(MAX(sort_order), 0)").
		Scan(&maxSort).Error; err != nil {
		return 0, fmt.Errorf("failed to get max task sort order: %w", err)
	}

	return maxSort, nil
}

// CreateTasks creates job tasks in a single insert
func (r *jobRepository) CreateTasks(ctx context.Context, tasks []*models.JobTask) error {
	if len(tasks) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Create(&tasks).Error; err != nil {
		return fmt.Errorf("failed to create job tasks: %w", err)
	}

	return nil
}

// CountOpenByOrg counts an org's jobs that are not completed or cancelled
func (r *jobRepository) CountOpenByOrg(ctx context.Context, orgID uint) (int64, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("org_id = ? AND status NOT IN ?", orgID,
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusCancelled}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count open jobs: %w", err)
	}

	return count, nil
}
