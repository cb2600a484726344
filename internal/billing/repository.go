package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"vetclinic-backend/internal/models"

	"gorm.io/gorm"
)

type ListFilter struct {
	ClinicID            uint
	Status              models.InvoiceStatus
	NeedsReconciliation *bool
	Limit               int
}

// Repository persists invoices with their items.
type Repository interface {
	Get(ctx context.Context, id uint) (*models.Invoice, error)
	Create(ctx context.Context, inv *models.Invoice) error
	// Update saves the header and replaces the item list.
	Update(ctx context.Context, inv *models.Invoice) error
	MarkAllocated(ctx context.Context, id uint, paidAt time.Time, warnings []string) error
	MarkReconciled(ctx context.Context, id uint) error
	List(ctx context.Context, f ListFilter) ([]models.Invoice, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Get(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&inv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *GormRepository) Create(ctx context.Context, inv *models.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *GormRepository) Update(ctx context.Context, inv *models.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invoice{}).
			Where("id = ?", inv.ID).
			Select("number", "client_name", "pet_name", "status", "issue_date", "due_date", "notes", "total").
			Updates(inv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvoiceNotFound
		}

		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		for i := range inv.Items {
			inv.Items[i].ID = 0
			inv.Items[i].InvoiceID = inv.ID
		}
		if len(inv.Items) > 0 {
			if err := tx.Create(&inv.Items).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) MarkAllocated(ctx context.Context, id uint, paidAt time.Time, warnings []string) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stock_allocated":      true,
			"paid_at":              paidAt,
			"needs_reconciliation": len(warnings) > 0,
			"allocation_warnings":  strings.Join(warnings, "\n"),
		}).Error
}

func (r *GormRepository) MarkReconciled(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("needs_reconciliation", false).Error
}

func (r *GormRepository) List(ctx context.Context, f ListFilter) ([]models.Invoice, error) {
	dbq := r.db.WithContext(ctx).Model(&models.Invoice{})
	if f.ClinicID != 0 {
		dbq = dbq.Where("clinic_id = ?", f.ClinicID)
	}
	if f.Status != "" {
		dbq = dbq.Where("status = ?", f.Status)
	}
	if f.NeedsReconciliation != nil {
		dbq = dbq.Where("needs_reconciliation = ?", *f.NeedsReconciliation)
	}
	if f.Limit > 0 {
		dbq = dbq.Limit(f.Limit)
	}

	var invoices []models.Invoice
	err := dbq.Preload("Items").Order("issue_date DESC, id DESC").Find(&invoices).Error
	return invoices, err
}
