package stocktest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"
)

// MemoryStore is an in-process Store. Atomically serializes transactions and
// restores a snapshot when fn fails, which gives it the same rollback behavior
// as the gorm store. Faults can be injected per operation for failure tests.
type MemoryStore struct {
	mu     sync.Mutex
	state  memState
	faults map[string]error
	now    func() time.Time
}

type memState struct {
	products     map[uint]models.Product
	batches      map[uint]models.Batch
	movements    []models.StockMovement
	nextProduct  uint
	nextBatch    uint
	nextMovement uint
}

// Operation names accepted by Fail.
const (
	OpSaveBatch       = "save_batch"
	OpSetProductStock = "set_product_stock"
	OpAppendMovement  = "append_movement"
	OpLockProduct     = "lock_product"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			products: map[uint]models.Product{},
			batches:  map[uint]models.Batch{},
		},
		faults: map[string]error{},
		now:    time.Now,
	}
}

// Fail makes every later op on the given entity id return err.
// For OpAppendMovement the id is the movement's product id.
func (s *MemoryStore) Fail(op string, id uint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(op, id)] = err
}

func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[string]error{}
}

// Movements returns a copy of the whole log in append order.
func (s *MemoryStore) Movements() []models.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StockMovement(nil), s.state.movements...)
}

func faultKey(op string, id uint) string {
	return fmt.Sprintf("%s:%d", op, id)
}

func (s *MemoryStore) tx() *memTx {
	return &memTx{s: s}
}

func (s *MemoryStore) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().FindProduct(ctx, id)
}

func (s *MemoryStore) LockProduct(ctx context.Context, id uint) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().LockProduct(ctx, id)
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateProduct(ctx, p)
}

func (s *MemoryStore) SetProductStock(ctx context.Context, id uint, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SetProductStock(ctx, id, total)
}

func (s *MemoryStore) ActiveBatches(ctx context.Context, productID uint) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ActiveBatches(ctx, productID)
}

func (s *MemoryStore) ListBatches(ctx context.Context, productID uint) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListBatches(ctx, productID)
}

func (s *MemoryStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateBatch(ctx, b)
}

func (s *MemoryStore) SaveBatch(ctx context.Context, b *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SaveBatch(ctx, b)
}

func (s *MemoryStore) AppendMovement(ctx context.Context, m *models.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().AppendMovement(ctx, m)
}

func (s *MemoryStore) ListMovements(ctx context.Context, f stock.MovementFilter) ([]models.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListMovements(ctx, f)
}

func (s *MemoryStore) StockLevels(ctx context.Context, clinicID uint) ([]stock.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().StockLevels(ctx, clinicID)
}

func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.tx()); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (st memState) clone() memState {
	c := st
	c.products = make(map[uint]models.Product, len(st.products))
	for k, v := range st.products {
		c.products[k] = v
	}
	c.batches = make(map[uint]models.Batch, len(st.batches))
	for k, v := range st.batches {
		c.batches[k] = v
	}
	c.movements = append([]models.StockMovement(nil), st.movements...)
	return c
}

// memTx operates on the store state without locking; the caller holds s.mu.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) fault(op string, id uint) error {
	return t.s.faults[faultKey(op, id)]
}

func (t *memTx) FindProduct(_ context.Context, id uint) (*models.Product, error) {
	p, ok := t.s.state.products[id]
	if !ok {
		return nil, stock.ErrProductNotFound
	}
	return &p, nil
}

func (t *memTx) LockProduct(ctx context.Context, id uint) (*models.Product, error) {
	if err := t.fault(OpLockProduct, id); err != nil {
		return nil, err
	}
	return t.FindProduct(ctx, id)
}

func (t *memTx) CreateProduct(_ context.Context, p *models.Product) error {
	t.s.state.nextProduct++
	p.ID = t.s.state.nextProduct
	now := t.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.s.state.products[p.ID] = *p
	return nil
}

func (t *memTx) SetProductStock(_ context.Context, id uint, total int64) error {
	if err := t.fault(OpSetProductStock, id); err != nil {
		return err
	}
	p, ok := t.s.state.products[id]
	if !ok {
		return stock.ErrProductNotFound
	}
	if total < 0 {
		return fmt.Errorf("total_stock would become negative (%d)", total)
	}
	p.TotalStock = total
	p.UpdatedAt = t.s.now()
	t.s.state.products[id] = p
	return nil
}

func (t *memTx) ActiveBatches(ctx context.Context, productID uint) ([]models.Batch, error) {
	all, _ := t.ListBatches(ctx, productID)
	out := all[:0]
	for _, b := range all {
		if b.Status == models.BatchStatusActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) ListBatches(_ context.Context, productID uint) ([]models.Batch, error) {
	out := make([]models.Batch, 0)
	for _, b := range t.s.state.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) CreateBatch(_ context.Context, b *models.Batch) error {
	if _, ok := t.s.state.products[b.ProductID]; !ok {
		return stock.ErrProductNotFound
	}
	t.s.state.nextBatch++
	b.ID = t.s.state.nextBatch
	now := t.s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.s.state.batches[b.ID] = *b
	return nil
}

func (t *memTx) SaveBatch(_ context.Context, b *models.Batch) error {
	if err := t.fault(OpSaveBatch, b.ID); err != nil {
		return err
	}
	if _, ok := t.s.state.batches[b.ID]; !ok {
		return fmt.Errorf("batch %d not found", b.ID)
	}
	if b.QuantityOnHand < 0 {
		return fmt.Errorf("quantity_on_hand would become negative (%d)", b.QuantityOnHand)
	}
	b.UpdatedAt = t.s.now()
	t.s.state.batches[b.ID] = *b
	return nil
}

func (t *memTx) AppendMovement(_ context.Context, m *models.StockMovement) error {
	if err := t.fault(OpAppendMovement, m.ProductID); err != nil {
		return err
	}
	t.s.state.nextMovement++
	m.ID = t.s.state.nextMovement
	m.CreatedAt = t.s.now()
	t.s.state.movements = append(t.s.state.movements, *m)
	return nil
}

func (t *memTx) ListMovements(_ context.Context, f stock.MovementFilter) ([]models.StockMovement, error) {
	out := make([]models.StockMovement, 0)
	// newest first, like the gorm store
	for i := len(t.s.state.movements) - 1; i >= 0; i-- {
		m := t.s.state.movements[i]
		if f.ProductID != 0 && m.ProductID != f.ProductID {
			continue
		}
		if f.ClinicID != 0 && t.s.state.products[m.ProductID].ClinicID != f.ClinicID {
			continue
		}
		if f.ReferenceType != "" && m.ReferenceType != f.ReferenceType {
			continue
		}
		if f.ReferenceID != 0 && m.ReferenceID != f.ReferenceID {
			continue
		}
		if f.From != nil && m.MovementDate.Before(*f.From) {
			continue
		}
		if f.To != nil && m.MovementDate.After(*f.To) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) StockLevels(_ context.Context, clinicID uint) ([]stock.StockLevel, error) {
	levels := map[uint]*stock.StockLevel{}
	for _, b := range t.s.state.batches {
		p, ok := t.s.state.products[b.ProductID]
		if !ok || (clinicID != 0 && p.ClinicID != clinicID) {
			continue
		}
		l, ok := levels[p.ID]
		if !ok {
			l = &stock.StockLevel{ProductID: p.ID, ProductName: p.Name, TotalStock: p.TotalStock}
			levels[p.ID] = l
		}
		if b.Status == models.BatchStatusActive {
			l.BatchOnHand += b.QuantityOnHand
		}
	}
	out := make([]stock.StockLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *memTx) Atomically(_ context.Context, fn func(tx stock.Store) error) error {
	return fn(t)
}
