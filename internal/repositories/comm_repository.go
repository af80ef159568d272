package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type commRepository struct {
	db *gorm.DB
}

// NewCommRepository creates a new communication repository
func NewCommRepository(db *gorm.DB) CommRepository {
	return &commRepository{db: db}
}

// GetTemplate retrieves a template by key and channel scoped to an org
func (r *commRepository) GetTemplate(ctx context.Context, orgID uint, key string, channel models.CommChannel) (*models.CommTemplate, error) {
	var template models.CommTemplate

	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND key = ? AND channel = ?", orgID, key, channel).
		First(&template).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get comm template: %w", err)
	}

	return &template, nil
}

// TemplateExists reports whether a template exists for the org and channel
func (r *commRepository) TemplateExists(ctx context.Context, orgID uint, key string, channel models.CommChannel) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&models.CommTemplate{}).
		Where("org_id = ? AND key = ? AND channel = ?", orgID, key, channel).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check comm template: %w", err)
	}

	return count > 0, nil
}

// CreateOutboxEntries records rendered messages handed to delivery
func (r *commRepository) CreateOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to create outbox entries: %w", err)
	}

	return nil
}
