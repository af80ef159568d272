package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type checklistRepository struct {
	db *gorm.DB
}

// NewChecklistRepository creates a new checklist repository
func NewChecklistRepository(db *gorm.DB) ChecklistRepository {
	return &checklistRepository{db: db}
}

// GetTemplateByID retrieves a checklist template by ID scoped to an org
func (r *checklistRepository) GetTemplateByID(ctx context.Context, orgID, id uint) (*models.ChecklistTemplate, error) {
	var template models.ChecklistTemplate

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&template, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checklist template by ID: %w", err)
	}

	return &template, nil
}

// GetTemplateByName retrieves a checklist template by name scoped to an org
func (r *checklistRepository) GetTemplateByName(ctx context.Context, orgID uint, name string) (*models.ChecklistTemplate, error) {
	var template models.ChecklistTemplate

	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND name = ?", orgID, name).
		First(&template).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checklist template by name: %w", err)
	}

	return &template, nil
}
