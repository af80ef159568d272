package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type orgRepository struct {
	db *gorm.DB
}

// NewOrgRepository creates a new org repository
func NewOrgRepository(db *gorm.DB) OrgRepository {
	return &orgRepository{db: db}
}

// GetSettings retrieves an org's settings
func (r *orgRepository) GetSettings(ctx context.Context, orgID uint) (*models.OrgSettings, error) {
	var settings models.OrgSettings

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&settings).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get org settings: %w", err)
	}

	return &settings, nil
}

// ListUsers retrieves all users of an org
func (r *orgRepository) ListUsers(ctx context.Context, orgID uint) ([]models.OrgUser, error) {
	var users []models.OrgUser

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list org users: %w", err)
	}

	return users, nil
}

// ListUsersByRole retrieves an org's users holding a role
func (r *orgRepository) ListUsersByRole(ctx context.Context, orgID uint, role models.OrgRole) ([]models.OrgUser, error) {
	var users []models.OrgUser

	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND role = ?", orgID, role).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list org users by role: %w", err)
	}

	return users, nil
}

// ListActiveOrgIDs returns the org IDs with automations enabled, used by the
// daily scheduler to fan out synthetic events.
func (r *orgRepository) ListActiveOrgIDs(ctx context.Context) ([]uint, error) {
	var orgIDs []uint

	if err := r.db.WithContext(ctx).
		Model(&models.OrgSettings{}).
		Where("automations_disabled = ?", false).
		Order("org_id ASC").
		Pluck("org_id", &orgIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active orgs: %w", err)
	}

	return orgIDs, nil
}
