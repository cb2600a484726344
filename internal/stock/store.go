package stock

import (
	"context"
	"time"

	"vetclinic-backend/internal/models"
)

// Store is the persistence contract of the stock core. Every call is durable on
// its own; Atomically runs a group of calls in one transaction and rolls all of
// them back when fn returns an error.
type Store interface {
	FindProduct(ctx context.Context, id uint) (*models.Product, error)
	// LockProduct reads the product and holds a row lock on it until the
	// surrounding Atomically call finishes.
	LockProduct(ctx context.Context, id uint) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	SetProductStock(ctx context.Context, id uint, total int64) error

	// ActiveBatches returns the product's active batches, earliest expiry first.
	ActiveBatches(ctx context.Context, productID uint) ([]models.Batch, error)
	ListBatches(ctx context.Context, productID uint) ([]models.Batch, error)
	CreateBatch(ctx context.Context, b *models.Batch) error
	SaveBatch(ctx context.Context, b *models.Batch) error

	AppendMovement(ctx context.Context, m *models.StockMovement) error
	ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error)

	// StockLevels returns, for every product that has at least one batch, the
	// cached aggregate next to the sum of its active batches.
	StockLevels(ctx context.Context, clinicID uint) ([]StockLevel, error)

	Atomically(ctx context.Context, fn func(tx Store) error) error
}

type MovementFilter struct {
	ClinicID      uint
	ProductID     uint
	ReferenceType string
	ReferenceID   uint
	From          *time.Time
	To            *time.Time
	Limit         int
}

type StockLevel struct {
	ProductID   uint   `json:"product_id"`
	ProductName string `json:"product_name"`
	TotalStock  int64  `json:"total_stock"`
	BatchOnHand int64  `json:"batch_on_hand"`
}

func (l StockLevel) Drift() int64 {
	return l.TotalStock - l.BatchOnHand
}

// ProductLookup resolves products for read-only callers.
type ProductLookup interface {
	FindProduct(ctx context.Context, id uint) (*models.Product, error)
}

// ProductIndex is a ProductLookup that may serve stale data and must be told
// when a product's stock changed.
type ProductIndex interface {
	ProductLookup
	Invalidate(ids ...uint)
}

// storeIndex is the uncached index used when no cache is configured.
type storeIndex struct {
	ProductLookup
}

func (storeIndex) Invalidate(...uint) {}
