package repositories

import (
	"context"
	"fmt"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// GetByID retrieves an invoice by ID scoped to an org
func (r *invoiceRepository) GetByID(ctx context.Context, orgID, id uint) (*models.Invoice, error) {
	var invoice models.Invoice

	if err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&invoice, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice by ID: %w", err)
	}

	return &invoice, nil
}

// CreateDraftIdempotent inserts a draft invoice unless one already exists
// for the same run, so re-executing an action after a fix cannot duplicate it.
func (r *invoiceRepository) CreateDraftIdempotent(ctx context.Context, invoice *models.Invoice) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).
		Create(invoice)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create draft invoice: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}
