package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ItemInput struct {
	ProductID   *uint
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
}

// SaveRequest is a create (ID == 0) or a full update of an invoice.
type SaveRequest struct {
	ID         uint
	ClinicID   uint
	Number     string
	ClientName string
	PetName    string
	Status     models.InvoiceStatus
	IssueDate  time.Time
	DueDate    *time.Time
	Notes      string
	Items      []ItemInput
	Actor      string
}

// Lines returns the stock demand of the submitted items.
func (r SaveRequest) Lines() []stock.Line {
	lines := make([]stock.Line, 0, len(r.Items))
	for _, it := range r.Items {
		if it.ProductID == nil {
			continue
		}
		lines = append(lines, stock.Line{ProductID: *it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

type SaveResult struct {
	Invoice   *models.Invoice
	Allocated bool
	Warnings  []string
	Movements []models.StockMovement
}

// Workflow saves invoices and runs the stock allocation on the paid transition.
type Workflow struct {
	repo    Repository
	checker *stock.Checker
	engine  *stock.Engine
	locker  stock.Locker
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewWorkflow wires the orchestrator. checker must read the store directly:
// its answer is only trusted while the product locks are held.
func NewWorkflow(repo Repository, checker *stock.Checker, engine *stock.Engine, locker stock.Locker, log logrus.FieldLogger) *Workflow {
	if log == nil {
		log = logger.Get()
	}
	return &Workflow{
		repo:    repo,
		checker: checker,
		engine:  engine,
		locker:  locker,
		log:     log,
		now:     time.Now,
	}
}

func InvoiceLockKey(id uint) string {
	return fmt.Sprintf("invoice:%d", id)
}

func (w *Workflow) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if !ValidStatus(req.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}
	if req.ID == 0 && !CanCreateAs(req.Status) {
		return nil, fmt.Errorf("%w: new invoice cannot start as %s", ErrInvalidTransition, req.Status)
	}
	if req.ID == 0 && !TriggersAllocation(nil, req.Status) {
		inv, err := w.persist(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return &SaveResult{Invoice: inv}, nil
	}

	unlock, err := w.lock(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.ID == 0 {
		return w.saveAsPaid(ctx, req, nil)
	}

	// read only after the lock, a payment may have landed while we waited
	existing, err := w.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if !CanTransition(existing.Status, req.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, existing.Status, req.Status)
	}
	if TriggersAllocation(existing, req.Status) {
		return w.saveAsPaid(ctx, req, existing)
	}

	inv, err := w.persist(ctx, req, existing)
	if err != nil {
		return nil, err
	}
	return &SaveResult{Invoice: inv}, nil
}

// lock takes the invoice key for every update and, when the request asks for
// paid, the keys of the products it names.
func (w *Workflow) lock(ctx context.Context, req SaveRequest) (func(), error) {
	keys := make([]string, 0, len(req.Items)+1)
	if req.ID != 0 {
		keys = append(keys, InvoiceLockKey(req.ID))
	}
	if req.Status == models.InvoicePaid {
		for _, l := range stock.AggregateLines(req.Lines()) {
			keys = append(keys, stock.ProductLockKey(l.ProductID))
		}
	}
	unlock, err := w.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	return unlock, nil
}

// saveAsPaid runs check, save and allocation. The caller holds the invoice and
// product locks, so two payments cannot both pass the check on the same stock.
// Products are resolved within the invoice's clinic only.
func (w *Workflow) saveAsPaid(ctx context.Context, req SaveRequest, existing *models.Invoice) (*SaveResult, error) {
	lines := req.Lines()
	clinicID := req.ClinicID
	if existing != nil {
		clinicID = existing.ClinicID
	}

	avail, err := w.checker.ForClinic(clinicID).Check(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}
	if !avail.Sufficient() {
		return nil, avail.Shortage
	}

	inv, err := w.persist(ctx, req, existing)
	if err != nil {
		return nil, err
	}

	report := w.engine.Allocate(ctx, stock.Reference{
		Type:     stock.RefTypeInvoice,
		ID:       inv.ID,
		ClinicID: inv.ClinicID,
		Actor:    req.Actor,
	}, lines)
	warnings := report.Messages()

	paidAt := w.now()
	if err := w.repo.MarkAllocated(ctx, inv.ID, paidAt, warnings); err != nil {
		logger.LogError(logger.Get(), "billing", "saveAsPaid", "mark invoice allocated", inv.ID, err)
		warnings = append(warnings, "Stock was deducted but the invoice could not be flagged, review before saving again")
	}
	if len(warnings) > 0 {
		w.log.WithFields(logrus.Fields{
			"invoice_id": inv.ID,
			"warnings":   warnings,
		}).Warn("invoice paid with inventory needing review")
	}

	if fresh, err := w.repo.Get(ctx, inv.ID); err == nil {
		inv = fresh
	} else {
		inv.StockAllocated = true
		inv.PaidAt = &paidAt
		inv.NeedsReconciliation = len(warnings) > 0
		inv.AllocationWarnings = strings.Join(warnings, "\n")
	}

	return &SaveResult{
		Invoice:   inv,
		Allocated: true,
		Warnings:  warnings,
		Movements: report.Movements,
	}, nil
}

// MarkReconciled clears the review flag once staff fixed the stock by hand.
func (w *Workflow) MarkReconciled(ctx context.Context, id, clinicID uint) (*models.Invoice, error) {
	inv, err := w.load(ctx, SaveRequest{ID: id, ClinicID: clinicID})
	if err != nil {
		return nil, err
	}
	if !inv.NeedsReconciliation {
		return inv, nil
	}
	if err := w.repo.MarkReconciled(ctx, id); err != nil {
		return nil, fmt.Errorf("mark reconciled: %w", err)
	}
	inv.NeedsReconciliation = false
	return inv, nil
}

// load fetches the stored invoice, hiding invoices of other clinics.
func (w *Workflow) load(ctx context.Context, req SaveRequest) (*models.Invoice, error) {
	inv, err := w.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.ClinicID != 0 && inv.ClinicID != req.ClinicID {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

func (w *Workflow) persist(ctx context.Context, req SaveRequest, existing *models.Invoice) (*models.Invoice, error) {
	inv := buildInvoice(req, existing)
	if existing == nil {
		if inv.Number == "" {
			inv.Number = w.nextNumber(inv.IssueDate)
		}
		if err := w.repo.Create(ctx, inv); err != nil {
			return nil, fmt.Errorf("create invoice: %w", err)
		}
		return inv, nil
	}
	if err := w.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	return inv, nil
}

func (w *Workflow) nextNumber(issued time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", issued.Format("20060102"), suffix)
}

func buildInvoice(req SaveRequest, existing *models.Invoice) *models.Invoice {
	inv := &models.Invoice{
		ID:         req.ID,
		ClinicID:   req.ClinicID,
		Number:     req.Number,
		ClientName: req.ClientName,
		PetName:    req.PetName,
		Status:     req.Status,
		IssueDate:  req.IssueDate,
		DueDate:    req.DueDate,
		Notes:      req.Notes,
	}
	if existing != nil {
		inv.ClinicID = existing.ClinicID
		inv.StockAllocated = existing.StockAllocated
		inv.PaidAt = existing.PaidAt
		inv.NeedsReconciliation = existing.NeedsReconciliation
		inv.AllocationWarnings = existing.AllocationWarnings
		inv.CreatedAt = existing.CreatedAt
		if inv.Number == "" {
			inv.Number = existing.Number
		}
	}

	total := decimal.Zero
	inv.Items = make([]models.InvoiceItem, 0, len(req.Items))
	for _, it := range req.Items {
		lineTotal := it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))
		total = total.Add(lineTotal)
		inv.Items = append(inv.Items, models.InvoiceItem{
			InvoiceID:   req.ID,
			ProductID:   it.ProductID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       lineTotal,
		})
	}
	inv.Total = total
	return inv
}
