package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type materialRepository struct {
	db *gorm.DB
}

// NewMaterialRepository creates a new material repository
func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepository{db: db}
}

// GetByID retrieves a material by ID scoped to an org
func (r *materialRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Material, error) {
	var material models.Material

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&material, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get material by ID: %w", err)
	}

	return &material, nil
}
