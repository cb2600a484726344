package stock

import (
	"context"
	"errors"
	"fmt"

	"vetclinic-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Postgres-backed Store. Inside Atomically it is bound to the
// transaction handle, so LockProduct's FOR UPDATE lock lives until commit.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) LockProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) SetProductStock(ctx context.Context, id uint, total int64) error {
	res := s.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Update("total_stock", total)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *GormStore) ActiveBatches(ctx context.Context, productID uint) ([]models.Batch, error) {
	var batches []models.Batch
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, models.BatchStatusActive).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

func (s *GormStore) ListBatches(ctx context.Context, productID uint) ([]models.Batch, error) {
	var batches []models.Batch
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

func (s *GormStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *GormStore) SaveBatch(ctx context.Context, b *models.Batch) error {
	res := s.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"quantity_on_hand": b.QuantityOnHand,
			"status":           b.Status,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %d not found", b.ID)
	}
	return nil
}

func (s *GormStore) AppendMovement(ctx context.Context, m *models.StockMovement) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error) {
	dbq := s.db.WithContext(ctx).Model(&models.StockMovement{})
	if f.ClinicID != 0 {
		dbq = dbq.Where("product_id IN (?)",
			s.db.Model(&models.Product{}).Select("id").Where("clinic_id = ?", f.ClinicID))
	}
	if f.ProductID != 0 {
		dbq = dbq.Where("product_id = ?", f.ProductID)
	}
	if f.ReferenceType != "" {
		dbq = dbq.Where("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceID != 0 {
		dbq = dbq.Where("reference_id = ?", f.ReferenceID)
	}
	if f.From != nil {
		dbq = dbq.Where("movement_date >= ?", *f.From)
	}
	if f.To != nil {
		dbq = dbq.Where("movement_date <= ?", *f.To)
	}
	if f.Limit > 0 {
		dbq = dbq.Limit(f.Limit)
	}

	var movements []models.StockMovement
	err := dbq.Order("movement_date DESC, id DESC").Find(&movements).Error
	return movements, err
}

func (s *GormStore) StockLevels(ctx context.Context, clinicID uint) ([]StockLevel, error) {
	dbq := s.db.WithContext(ctx).
		Table("products AS p").
		Select(`p.id AS product_id, p.name AS product_name, p.total_stock,
			COALESCE(SUM(CASE WHEN b.status = ? THEN b.quantity_on_hand ELSE 0 END), 0) AS batch_on_hand`,
			models.BatchStatusActive).
		Joins("JOIN batches b ON b.product_id = p.id").
		Group("p.id, p.name, p.total_stock").
		Order("p.id")
	if clinicID != 0 {
		dbq = dbq.Where("p.clinic_id = ?", clinicID)
	}

	var levels []StockLevel
	err := dbq.Scan(&levels).Error
	return levels, err
}

func (s *GormStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
