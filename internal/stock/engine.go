package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// NoBatchPolicy decides whether a product without batches that cannot cover
// the whole demand is reported as a shortfall or clamped silently.
type NoBatchPolicy string

const (
	NoBatchReport NoBatchPolicy = "report"
	NoBatchClamp  NoBatchPolicy = "clamp"
)

func ParseNoBatchPolicy(s string) (NoBatchPolicy, error) {
	switch p := NoBatchPolicy(s); p {
	case NoBatchReport, NoBatchClamp:
		return p, nil
	case "":
		return NoBatchReport, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Reference identifies the document that causes a stock change. A non-zero
// ClinicID restricts the pass to that clinic's products.
type Reference struct {
	Type     string
	ID       uint
	ClinicID uint
	Actor    string
}

// Report collects what one allocation pass did. Errors never stop the pass.
type Report struct {
	Movements []models.StockMovement
	Errors    []*AllocationError
}

func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

func (r *Report) add(e *AllocationError) {
	r.Errors = append(r.Errors, e)
	allocationErrors.WithLabelValues(string(e.Kind)).Inc()
}

// Engine deducts stock for invoice lines, earliest-expiring batch first.
//
// Every line runs in its own store transaction with the product row locked, so
// the batch rows, the product aggregate and the movement log change together.
// A failed line rolls back alone and the pass moves on to the next one.
type Engine struct {
	store  Store
	index  ProductIndex
	policy NoBatchPolicy
	log    logrus.FieldLogger
	now    func() time.Time
}

type EngineOption func(*Engine)

// WithProductIndex resolves products through a cache before locking them.
func WithProductIndex(idx ProductIndex) EngineOption {
	return func(e *Engine) { e.index = idx }
}

func WithNoBatchPolicy(p NoBatchPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		index:  storeIndex{store},
		policy: NoBatchReport,
		log:    logger.Get(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate processes every line in order and returns the accumulated report.
// Lines without a product or with a non-positive quantity are skipped.
func (e *Engine) Allocate(ctx context.Context, ref Reference, lines []Line) *Report {
	start := time.Now()
	defer func() { allocationDuration.Observe(time.Since(start).Seconds()) }()

	report := &Report{}
	for _, l := range lines {
		if l.ProductID == 0 || l.Quantity <= 0 {
			continue
		}
		e.allocateLine(ctx, ref, l, report)
	}

	if !report.OK() {
		e.log.WithFields(logrus.Fields{
			"reference_type": ref.Type,
			"reference_id":   ref.ID,
			"errors":         report.Messages(),
		}).Warn("stock allocation incomplete")
	}
	return report
}

func (e *Engine) allocateLine(ctx context.Context, ref Reference, l Line, report *Report) {
	p, err := ClinicScoped(e.index, ref.ClinicID).FindProduct(ctx, l.ProductID)
	if err != nil {
		report.add(e.lineError(l.ProductID, "", err))
		return
	}

	var (
		movements []models.StockMovement
		short     int64
	)
	err = e.store.Atomically(ctx, func(tx Store) error {
		movements, short = nil, 0

		locked, err := tx.LockProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		batches, err := tx.ActiveBatches(ctx, locked.ID)
		if err != nil {
			return fmt.Errorf("load batches: %w", err)
		}
		if len(batches) == 0 {
			movements, short, err = e.fromAggregate(ctx, tx, ref, locked, l.Quantity)
		} else {
			movements, short, err = e.fromBatches(ctx, tx, ref, locked, batches, l.Quantity)
		}
		return err
	})
	e.index.Invalidate(p.ID)

	if err != nil {
		report.add(e.lineError(p.ID, p.Name, err))
		return
	}

	report.Movements = append(report.Movements, movements...)
	for _, m := range movements {
		unitsConsumed.Add(float64(-m.Quantity))
	}
	if short > 0 {
		report.add(&AllocationError{
			Kind:        KindShortfall,
			ProductID:   p.ID,
			ProductName: p.Name,
			Short:       short,
		})
	}
}

func (e *Engine) lineError(productID uint, name string, err error) *AllocationError {
	if errors.Is(err, ErrProductNotFound) {
		return &AllocationError{Kind: KindMissingProduct, ProductID: productID, Err: err}
	}
	return &AllocationError{Kind: KindWriteFailure, ProductID: productID, ProductName: name, Err: err}
}

// fromBatches walks the batches in expiry order. Active rows that are already
// empty are flipped to depleted on the way.
func (e *Engine) fromBatches(ctx context.Context, tx Store, ref Reference, p *models.Product, batches []models.Batch, qty int64) ([]models.StockMovement, int64, error) {
	var movements []models.StockMovement
	remaining := qty
	total := p.TotalStock

	for i := range batches {
		b := &batches[i]
		if b.QuantityOnHand <= 0 {
			b.Status = models.BatchStatusDepleted
			if err := tx.SaveBatch(ctx, b); err != nil {
				return nil, 0, fmt.Errorf("mark batch %s depleted: %w", b.BatchCode, err)
			}
			continue
		}
		if remaining == 0 {
			continue
		}

		take := b.Take(remaining)
		if err := tx.SaveBatch(ctx, b); err != nil {
			return nil, 0, fmt.Errorf("update batch %s: %w", b.BatchCode, err)
		}

		prev := total
		total = max(0, total-take)
		if err := tx.SetProductStock(ctx, p.ID, total); err != nil {
			return nil, 0, fmt.Errorf("update total stock: %w", err)
		}

		batchID := b.ID
		m, err := e.appendSale(ctx, tx, ref, p.ID, &batchID, take, prev, total)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
		remaining -= take
	}
	return movements, remaining, nil
}

// fromAggregate deducts directly from total_stock for products that have no
// active batches. The movement records what was actually applied.
func (e *Engine) fromAggregate(ctx context.Context, tx Store, ref Reference, p *models.Product, qty int64) ([]models.StockMovement, int64, error) {
	applied := min(qty, max(p.TotalStock, 0))
	short := qty - applied
	if e.policy == NoBatchClamp {
		short = 0
	}
	if applied == 0 {
		return nil, short, nil
	}

	prev := p.TotalStock
	next := prev - applied
	if err := tx.SetProductStock(ctx, p.ID, next); err != nil {
		return nil, 0, fmt.Errorf("update total stock: %w", err)
	}
	m, err := e.appendSale(ctx, tx, ref, p.ID, nil, applied, prev, next)
	if err != nil {
		return nil, 0, err
	}
	return []models.StockMovement{m}, short, nil
}

func (e *Engine) appendSale(ctx context.Context, tx Store, ref Reference, productID uint, batchID *uint, qty, prev, next int64) (models.StockMovement, error) {
	m := models.StockMovement{
		ProductID:     productID,
		BatchID:       batchID,
		MovementType:  models.MovementSale,
		Quantity:      -qty,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		MovementDate:  e.now(),
		Actor:         ref.Actor,
		PreviousStock: prev,
		NewStock:      next,
	}
	if err := tx.AppendMovement(ctx, &m); err != nil {
		return models.StockMovement{}, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}
