package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Create persists a new event
func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetByID retrieves an event by ID scoped to an org
func (r *eventRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Event, error) {
	var event models.Event

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&event, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}

	return &event, nil
}
