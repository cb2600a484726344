package stock

import (
	"context"
	"fmt"
	"time"

	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	RefTypeBatch   = "batch"
	RefTypeProduct = "product"
	RefTypeInvoice = "invoice"
)

// Service holds the stock operations that add to or realign inventory. All of
// them change the aggregate and the ledger in one transaction.
type Service struct {
	store Store
	index ProductIndex
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, index ProductIndex, log logrus.FieldLogger) *Service {
	if index == nil {
		index = storeIndex{store}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Service{store: store, index: index, log: log, now: time.Now}
}

// CreateProduct stores a new catalog entry. A positive initialStock is booked
// as an initial_stock movement without a batch.
func (s *Service) CreateProduct(ctx context.Context, p *models.Product, initialStock int64, actor string) error {
	if initialStock < 0 {
		return ErrInvalidQuantity
	}
	return s.store.Atomically(ctx, func(tx Store) error {
		p.TotalStock = initialStock
		if err := tx.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		if initialStock == 0 {
			return nil
		}
		return tx.AppendMovement(ctx, &models.StockMovement{
			ProductID:     p.ID,
			MovementType:  models.MovementInitialStock,
			Quantity:      initialStock,
			ReferenceType: RefTypeProduct,
			ReferenceID:   p.ID,
			MovementDate:  s.now(),
			Actor:         actor,
			PreviousStock: 0,
			NewStock:      initialStock,
		})
	})
}

type Receipt struct {
	BatchCode    string
	LotNumber    string
	ExpiryDate   time.Time
	ReceivedDate time.Time
	Quantity     int64
	CostPerUnit  decimal.Decimal
}

// ReceiveBatch books a delivered lot: a new active batch, the aggregate raised
// by the same quantity and a receipt movement.
func (s *Service) ReceiveBatch(ctx context.Context, productID uint, r Receipt, actor string) (*models.Batch, *models.StockMovement, error) {
	if r.Quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	received := r.ReceivedDate
	if received.IsZero() {
		received = s.now()
	}

	var (
		batch    models.Batch
		movement models.StockMovement
	)
	err := s.store.Atomically(ctx, func(tx Store) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrInactiveProduct
		}

		batch = models.Batch{
			ProductID:        p.ID,
			BatchCode:        r.BatchCode,
			LotNumber:        r.LotNumber,
			ExpiryDate:       r.ExpiryDate,
			ReceivedDate:     received,
			QuantityReceived: r.Quantity,
			QuantityOnHand:   r.Quantity,
			CostPerUnit:      r.CostPerUnit,
			Status:           models.BatchStatusActive,
		}
		if err := tx.CreateBatch(ctx, &batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		next := p.TotalStock + r.Quantity
		if err := tx.SetProductStock(ctx, p.ID, next); err != nil {
			return fmt.Errorf("update total stock: %w", err)
		}

		batchID := batch.ID
		movement = models.StockMovement{
			ProductID:     p.ID,
			BatchID:       &batchID,
			MovementType:  models.MovementReceipt,
			Quantity:      r.Quantity,
			ReferenceType: RefTypeBatch,
			ReferenceID:   batch.ID,
			MovementDate:  received,
			Actor:         actor,
			PreviousStock: p.TotalStock,
			NewStock:      next,
		}
		return tx.AppendMovement(ctx, &movement)
	})
	s.index.Invalidate(productID)
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": productID,
		"batch_id":   batch.ID,
		"quantity":   r.Quantity,
	}).Info("batch received")
	return &batch, &movement, nil
}

// Reconcile sets total_stock to the sum of the product's active batches. The
// returned movement is nil when nothing had drifted.
func (s *Service) Reconcile(ctx context.Context, productID uint, actor string) (*StockLevel, *models.StockMovement, error) {
	var (
		level    StockLevel
		movement *models.StockMovement
	)
	err := s.store.Atomically(ctx, func(tx Store) error {
		movement = nil
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		batches, err := tx.ListBatches(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("load batches: %w", err)
		}
		if len(batches) == 0 {
			return ErrNoBatches
		}

		level = StockLevel{ProductID: p.ID, ProductName: p.Name, TotalStock: p.TotalStock}
		for _, b := range batches {
			if b.Status == models.BatchStatusActive {
				level.BatchOnHand += b.QuantityOnHand
			}
		}
		if level.Drift() == 0 {
			return nil
		}

		if err := tx.SetProductStock(ctx, p.ID, level.BatchOnHand); err != nil {
			return fmt.Errorf("update total stock: %w", err)
		}
		m := models.StockMovement{
			ProductID:     p.ID,
			MovementType:  models.MovementReconciliation,
			Quantity:      -level.Drift(),
			ReferenceType: RefTypeProduct,
			ReferenceID:   p.ID,
			MovementDate:  s.now(),
			Actor:         actor,
			PreviousStock: p.TotalStock,
			NewStock:      level.BatchOnHand,
			Note:          "total_stock realigned with active batches",
		}
		if err := tx.AppendMovement(ctx, &m); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		movement = &m
		return nil
	})
	s.index.Invalidate(productID)
	if err != nil {
		return nil, nil, err
	}

	if movement != nil {
		s.log.WithFields(logrus.Fields{
			"product_id": productID,
			"previous":   movement.PreviousStock,
			"new":        movement.NewStock,
		}).Warn("stock reconciled")
		level.TotalStock = level.BatchOnHand
	}
	return &level, movement, nil
}

// WriteOff removes expired, damaged or lost units from one batch. qty may not
// exceed what the batch still holds.
func (s *Service) WriteOff(ctx context.Context, productID, batchID uint, qty int64, reason, actor string) (*models.Batch, *models.StockMovement, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}

	var (
		batch    models.Batch
		movement models.StockMovement
	)
	err := s.store.Atomically(ctx, func(tx Store) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		batches, err := tx.ListBatches(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("load batches: %w", err)
		}
		found := false
		for _, b := range batches {
			if b.ID == batchID {
				batch, found = b, true
				break
			}
		}
		if !found {
			return ErrBatchNotFound
		}
		if batch.Status != models.BatchStatusActive {
			return ErrBatchDepleted
		}
		if qty > batch.QuantityOnHand {
			return fmt.Errorf("%w: batch holds %d", ErrInvalidQuantity, batch.QuantityOnHand)
		}

		batch.Take(qty)
		if err := tx.SaveBatch(ctx, &batch); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		next := max(p.TotalStock-qty, 0)
		if err := tx.SetProductStock(ctx, p.ID, next); err != nil {
			return fmt.Errorf("update total stock: %w", err)
		}

		id := batch.ID
		movement = models.StockMovement{
			ProductID:     p.ID,
			BatchID:       &id,
			MovementType:  models.MovementWriteOff,
			Quantity:      -qty,
			ReferenceType: RefTypeBatch,
			ReferenceID:   batch.ID,
			MovementDate:  s.now(),
			Actor:         actor,
			PreviousStock: p.TotalStock,
			NewStock:      next,
			Note:          reason,
		}
		return tx.AppendMovement(ctx, &movement)
	})
	s.index.Invalidate(productID)
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": productID,
		"batch_id":   batchID,
		"quantity":   qty,
	}).Info("batch written off")
	return &batch, &movement, nil
}

// Consistency lists the products whose aggregate drifted from their batches.
func (s *Service) Consistency(ctx context.Context, clinicID uint) ([]StockLevel, error) {
	levels, err := s.store.StockLevels(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	drifted := make([]StockLevel, 0)
	for _, l := range levels {
		if l.Drift() != 0 {
			drifted = append(drifted, l)
		}
	}
	return drifted, nil
}

func (s *Service) Product(ctx context.Context, id uint) (*models.Product, error) {
	return s.store.FindProduct(ctx, id)
}

func (s *Service) Batches(ctx context.Context, productID uint) ([]models.Batch, error) {
	if _, err := s.store.FindProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListBatches(ctx, productID)
}

func (s *Service) Movements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error) {
	return s.store.ListMovements(ctx, f)
}
