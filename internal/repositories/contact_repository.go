package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type contactRepository struct {
	db *gorm.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

// GetByID retrieves a contact by ID scoped to an org
func (r *contactRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Contact, error) {
	var contact models.Contact

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&contact, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact by ID: %w", err)
	}

	return &contact, nil
}

// ListForJob retrieves the contacts attached to a job
func (r *contactRepository) ListForJob(ctx context.Context, orgID, jobID uint) ([]models.Contact, error) {
	var contacts []models.Contact

	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND job_id = ?", orgID, jobID).
		Order("is_primary DESC, id ASC").
		Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts for job: %w", err)
	}

	return contacts, nil
}
