package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"vetclinic-backend/internal/models"
)

// memoryRepo is the Repository used by the workflow tests.
type memoryRepo struct {
	mu         sync.Mutex
	invoices   map[uint]models.Invoice
	next       uint
	failGet    error
	failCreate error
	failMark   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{invoices: map[uint]models.Invoice{}}
}

func cloneInvoice(inv models.Invoice) *models.Invoice {
	inv.Items = append([]models.InvoiceItem(nil), inv.Items...)
	return &inv
}

func (r *memoryRepo) Get(_ context.Context, id uint) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

func (r *memoryRepo) Create(_ context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	r.next++
	inv.ID = r.next
	for i := range inv.Items {
		inv.Items[i].InvoiceID = inv.ID
	}
	r.invoices[inv.ID] = *cloneInvoice(*inv)
	return nil
}

func (r *memoryRepo) Update(_ context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.invoices[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	next := *cloneInvoice(*inv)
	// flags are owned by MarkAllocated / MarkReconciled
	next.StockAllocated = old.StockAllocated
	next.PaidAt = old.PaidAt
	next.NeedsReconciliation = old.NeedsReconciliation
	next.AllocationWarnings = old.AllocationWarnings
	r.invoices[inv.ID] = next
	return nil
}

func (r *memoryRepo) MarkAllocated(_ context.Context, id uint, paidAt time.Time, warnings []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMark != nil {
		return r.failMark
	}
	inv := r.invoices[id]
	inv.StockAllocated = true
	inv.PaidAt = &paidAt
	inv.NeedsReconciliation = len(warnings) > 0
	inv.AllocationWarnings = strings.Join(warnings, "\n")
	r.invoices[id] = inv
	return nil
}

func (r *memoryRepo) MarkReconciled(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.invoices[id]
	inv.NeedsReconciliation = false
	r.invoices[id] = inv
	return nil
}

func (r *memoryRepo) List(_ context.Context, f ListFilter) ([]models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Invoice, 0)
	for _, inv := range r.invoices {
		if f.ClinicID != 0 && inv.ClinicID != f.ClinicID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.NeedsReconciliation != nil && inv.NeedsReconciliation != *f.NeedsReconciliation {
			continue
		}
		out = append(out, *cloneInvoice(inv))
	}
	return out, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invoices)
}

// gatedRepo parks the first Update that writes status until release is closed.
type gatedRepo struct {
	*memoryRepo
	status  models.InvoiceStatus
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRepo(repo *memoryRepo, status models.InvoiceStatus) *gatedRepo {
	return &gatedRepo{
		memoryRepo: repo,
		status:     status,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedRepo) Update(ctx context.Context, inv *models.Invoice) error {
	if inv.Status == g.status {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.memoryRepo.Update(ctx, inv)
}
