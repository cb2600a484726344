package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"
	"vetclinic-backend/internal/stock/stocktest"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *stocktest.MemoryStore
	repo  *memoryRepo
	wf    *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, _ := test.NewNullLogger()
	s := stocktest.NewMemoryStore()
	repo := newMemoryRepo()
	wf := NewWorkflow(repo, stock.NewChecker(s), stock.NewEngine(s, stock.WithLogger(l)), stock.NewLocalLocker(), l)
	return &fixture{store: s, repo: repo, wf: wf}
}

func (f *fixture) product(t *testing.T, name string, total int64, batches ...int64) *models.Product {
	t.Helper()
	ctx := context.Background()
	p := &models.Product{ClinicID: 1, Name: name, Unit: "pcs", TotalStock: total, IsActive: true}
	require.NoError(t, f.store.CreateProduct(ctx, p))
	for i, qty := range batches {
		require.NoError(t, f.store.CreateBatch(ctx, &models.Batch{
			ProductID:        p.ID,
			BatchCode:        name + "-" + string(rune('A'+i)),
			ExpiryDate:       time.Date(2025, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC),
			QuantityReceived: qty,
			QuantityOnHand:   qty,
			Status:           models.BatchStatusActive,
		}))
	}
	return p
}

func (f *fixture) stockOf(t *testing.T, id uint) int64 {
	t.Helper()
	p, err := f.store.FindProduct(context.Background(), id)
	require.NoError(t, err)
	return p.TotalStock
}

func request(status models.InvoiceStatus, items ...ItemInput) SaveRequest {
	return SaveRequest{
		ClinicID:   1,
		ClientName: "Jane Doe",
		PetName:    "Rex",
		Status:     status,
		IssueDate:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Items:      items,
		Actor:      "frontdesk@clinic.test",
	}
}

func item(productID uint, qty int64, price string) ItemInput {
	id := productID
	return ItemInput{ProductID: &id, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestWorkflow_DraftToPaidAllocatesStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Amoxicillin", 5, 5)
	ctx := context.Background()

	draft, err := f.wf.Save(ctx, request(models.InvoiceDraft, item(p.ID, 3, "2.50")))
	require.NoError(t, err)
	assert.False(t, draft.Allocated)
	assert.Equal(t, int64(5), f.stockOf(t, p.ID))

	req := request(models.InvoicePaid, item(p.ID, 3, "2.50"))
	req.ID = draft.Invoice.ID
	paid, err := f.wf.Save(ctx, req)

	require.NoError(t, err)
	assert.True(t, paid.Allocated)
	assert.Empty(t, paid.Warnings)
	assert.True(t, paid.Invoice.StockAllocated)
	assert.NotNil(t, paid.Invoice.PaidAt)
	assert.False(t, paid.Invoice.NeedsReconciliation)
	assert.Equal(t, int64(2), f.stockOf(t, p.ID))

	require.Len(t, paid.Movements, 1)
	assert.Equal(t, draft.Invoice.ID, paid.Movements[0].ReferenceID)
	assert.Equal(t, stock.RefTypeInvoice, paid.Movements[0].ReferenceType)
	assert.Equal(t, "frontdesk@clinic.test", paid.Movements[0].Actor)
}

func TestWorkflow_CreateAsPaidAllocatesStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Collar", 10)

	res, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(p.ID, 4, "12.00")))

	require.NoError(t, err)
	assert.True(t, res.Allocated)
	assert.Equal(t, int64(6), f.stockOf(t, p.ID))
	require.Len(t, res.Movements, 1)
	assert.Nil(t, res.Movements[0].BatchID)
	assert.Equal(t, res.Invoice.ID, res.Movements[0].ReferenceID)
	assert.NotEmpty(t, res.Invoice.Number)
}

func TestWorkflow_InsufficientStockAbortsSave(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Ketamine", 2)

	res, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(p.ID, 5, "1.00")))

	assert.Nil(t, res)
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "Ketamine", insufficient.ProductName)
	assert.Equal(t, 0, f.repo.count())
	assert.Empty(t, f.store.Movements())
	assert.Equal(t, int64(2), f.stockOf(t, p.ID))
}

func TestWorkflow_InsufficientStockKeepsExistingInvoiceUnpaid(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Ketamine", 2)
	ctx := context.Background()
	draft, err := f.wf.Save(ctx, request(models.InvoiceSent, item(p.ID, 5, "1.00")))
	require.NoError(t, err)

	req := request(models.InvoicePaid, item(p.ID, 5, "1.00"))
	req.ID = draft.Invoice.ID
	_, err = f.wf.Save(ctx, req)

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	stored, err := f.repo.Get(ctx, draft.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, stored.Status)
	assert.False(t, stored.StockAllocated)
}

func TestWorkflow_UnknownProductAbortsSave(t *testing.T) {
	f := newFixture(t)

	_, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(77, 1, "1.00")))

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, stock.UnknownProductName, insufficient.ProductName)
	assert.Equal(t, 0, f.repo.count())
}

func TestWorkflow_ShortfallWarnsButKeepsInvoicePaid(t *testing.T) {
	f := newFixture(t)
	// aggregate says 5, batches only hold 3
	p := f.product(t, "Meloxicam", 5, 1, 2)

	res, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(p.ID, 5, "3.00")))

	require.NoError(t, err)
	assert.Equal(t, []string{"Not enough stock deducted for Meloxicam (short 2)"}, res.Warnings)
	assert.Equal(t, models.InvoicePaid, res.Invoice.Status)
	assert.True(t, res.Invoice.StockAllocated)
	assert.True(t, res.Invoice.NeedsReconciliation)
	assert.Equal(t, "Not enough stock deducted for Meloxicam (short 2)", res.Invoice.AllocationWarnings)
	assert.Len(t, res.Movements, 2)

	batches, err := f.store.ListBatches(context.Background(), p.ID)
	require.NoError(t, err)
	for _, b := range batches {
		assert.Equal(t, int64(0), b.QuantityOnHand)
		assert.Equal(t, models.BatchStatusDepleted, b.Status)
	}
}

func TestWorkflow_ResavingPaidInvoiceDoesNotDeductAgain(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Vaccine", 10, 10)
	ctx := context.Background()

	first, err := f.wf.Save(ctx, request(models.InvoicePaid, item(p.ID, 2, "30.00")))
	require.NoError(t, err)
	require.Equal(t, int64(8), f.stockOf(t, p.ID))

	req := request(models.InvoicePaid, item(p.ID, 2, "30.00"))
	req.ID = first.Invoice.ID
	req.Notes = "receipt reprinted"
	again, err := f.wf.Save(ctx, req)

	require.NoError(t, err)
	assert.False(t, again.Allocated)
	assert.Equal(t, "receipt reprinted", again.Invoice.Notes)
	assert.True(t, again.Invoice.StockAllocated)
	assert.Equal(t, int64(8), f.stockOf(t, p.ID))
	assert.Len(t, f.store.Movements(), 1)
}

func TestWorkflow_RejectsInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Bandage", 10)
	ctx := context.Background()

	_, err := f.wf.Save(ctx, request(models.InvoiceOverdue))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.wf.Save(ctx, request("refunded"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	paid, err := f.wf.Save(ctx, request(models.InvoicePaid, item(p.ID, 1, "1.00")))
	require.NoError(t, err)
	req := request(models.InvoiceDraft, item(p.ID, 1, "1.00"))
	req.ID = paid.Invoice.ID
	_, err = f.wf.Save(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	cancelled, err := f.wf.Save(ctx, request(models.InvoiceDraft))
	require.NoError(t, err)
	req = request(models.InvoiceCancelled)
	req.ID = cancelled.Invoice.ID
	_, err = f.wf.Save(ctx, req)
	require.NoError(t, err)
	req.Status = models.InvoicePaid
	_, err = f.wf.Save(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWorkflow_OtherClinicCannotUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.wf.Save(ctx, request(models.InvoiceDraft))
	require.NoError(t, err)

	req := request(models.InvoiceSent)
	req.ID = draft.Invoice.ID
	req.ClinicID = 2
	_, err = f.wf.Save(ctx, req)

	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestWorkflow_ProductOfOtherClinicIsUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := &models.Product{ClinicID: 2, Name: "Other clinic vaccine", Unit: "dose", TotalStock: 10, IsActive: true}
	require.NoError(t, f.store.CreateProduct(ctx, foreign))

	_, err := f.wf.Save(ctx, request(models.InvoicePaid, item(foreign.ID, 7, "20.00")))

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, stock.UnknownProductName, insufficient.ProductName)
	assert.Equal(t, 0, f.repo.count())
	assert.Equal(t, int64(10), f.stockOf(t, foreign.ID))
	assert.Empty(t, f.store.Movements())

	draft, err := f.wf.Save(ctx, request(models.InvoiceDraft, item(foreign.ID, 7, "20.00")))
	require.NoError(t, err)
	req := request(models.InvoicePaid, item(foreign.ID, 7, "20.00"))
	req.ID = draft.Invoice.ID
	_, err = f.wf.Save(ctx, req)

	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), f.stockOf(t, foreign.ID))
}

func TestWorkflow_CancelInFlightHoldsOffPayment(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Insulin", 5, 5)
	ctx := context.Background()
	sent, err := f.wf.Save(ctx, request(models.InvoiceSent, item(p.ID, 3, "10.00")))
	require.NoError(t, err)

	gate := newGatedRepo(f.repo, models.InvoiceCancelled)
	l, _ := test.NewNullLogger()
	wf := NewWorkflow(gate, stock.NewChecker(f.store), stock.NewEngine(f.store, stock.WithLogger(l)), stock.NewLocalLocker(), l)

	save := func(status models.InvoiceStatus, done chan<- error) {
		req := request(status, item(p.ID, 3, "10.00"))
		req.ID = sent.Invoice.ID
		_, err := wf.Save(ctx, req)
		done <- err
	}

	cancelDone := make(chan error, 1)
	go save(models.InvoiceCancelled, cancelDone)
	<-gate.entered

	payDone := make(chan error, 1)
	go save(models.InvoicePaid, payDone)
	assert.Never(t, func() bool { return len(payDone) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"payment must wait for the cancel holding the invoice")
	close(gate.release)

	require.NoError(t, <-cancelDone)
	assert.ErrorIs(t, <-payDone, ErrInvalidTransition)

	stored, err := f.repo.Get(ctx, sent.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceCancelled, stored.Status)
	assert.False(t, stored.StockAllocated)
	assert.Equal(t, int64(5), f.stockOf(t, p.ID))
	assert.Empty(t, f.store.Movements())
}

func TestWorkflow_PersistFailureSkipsAllocation(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Gauze", 10)
	boom := errors.New("db down")
	f.repo.failCreate = boom

	_, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(p.ID, 1, "1.00")))

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.store.Movements())
	assert.Equal(t, int64(10), f.stockOf(t, p.ID))
}

func TestWorkflow_FlagFailureBecomesWarning(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Gauze", 10)
	f.repo.failMark = errors.New("db hiccup")

	res, err := f.wf.Save(context.Background(), request(models.InvoicePaid, item(p.ID, 1, "1.00")))

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "could not be flagged")
	assert.Equal(t, int64(9), f.stockOf(t, p.ID))
}

func TestWorkflow_ComputesTotalsAndKeepsServiceLines(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Ear drops", 10)
	consult := ItemInput{Description: "Consultation", Quantity: 1, UnitPrice: decimal.RequireFromString("45.00")}

	res, err := f.wf.Save(context.Background(), request(models.InvoicePaid, consult, item(p.ID, 3, "7.35")))

	require.NoError(t, err)
	require.Len(t, res.Invoice.Items, 2)
	assert.True(t, decimal.RequireFromString("22.05").Equal(res.Invoice.Items[1].Total))
	assert.True(t, decimal.RequireFromString("67.05").Equal(res.Invoice.Total))
	assert.Equal(t, int64(7), f.stockOf(t, p.ID))
}

func TestWorkflow_ConcurrentPaymentsCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Insulin", 5, 5)
	ctx := context.Background()

	ids := make([]uint, 2)
	for i := range ids {
		res, err := f.wf.Save(ctx, request(models.InvoiceSent, item(p.ID, 3, "10.00")))
		require.NoError(t, err)
		ids[i] = res.Invoice.ID
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(ids))
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			req := request(models.InvoicePaid, item(p.ID, 3, "10.00"))
			req.ID = id
			_, errs[i] = f.wf.Save(ctx, req)
		}(i, id)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		var insufficient *stock.InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &insufficient):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(2), f.stockOf(t, p.ID))
}

func TestWorkflow_ConcurrentPaymentOfSameInvoiceAllocatesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Syringe", 20, 20)
	ctx := context.Background()
	draft, err := f.wf.Save(ctx, request(models.InvoiceDraft, item(p.ID, 2, "0.50")))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request(models.InvoicePaid, item(p.ID, 2, "0.50"))
			req.ID = draft.Invoice.ID
			_, err := f.wf.Save(ctx, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(18), f.stockOf(t, p.ID))
	assert.Len(t, f.store.Movements(), 1)
}

func TestWorkflow_MarkReconciled(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Meloxicam", 5, 3)
	ctx := context.Background()
	res, err := f.wf.Save(ctx, request(models.InvoicePaid, item(p.ID, 5, "1.00")))
	require.NoError(t, err)
	require.True(t, res.Invoice.NeedsReconciliation)

	_, err = f.wf.MarkReconciled(ctx, res.Invoice.ID, 2)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	inv, err := f.wf.MarkReconciled(ctx, res.Invoice.ID, 1)
	require.NoError(t, err)
	assert.False(t, inv.NeedsReconciliation)
	stored, err := f.repo.Get(ctx, res.Invoice.ID)
	require.NoError(t, err)
	assert.False(t, stored.NeedsReconciliation)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.InvoiceStatus
		want     bool
	}{
		{models.InvoiceDraft, models.InvoiceSent, true},
		{models.InvoiceDraft, models.InvoicePaid, true},
		{models.InvoiceSent, models.InvoiceOverdue, true},
		{models.InvoiceOverdue, models.InvoicePaid, true},
		{models.InvoiceOverdue, models.InvoiceCancelled, true},
		{models.InvoicePaid, models.InvoicePaid, true},
		{models.InvoicePaid, models.InvoiceCancelled, false},
		{models.InvoiceCancelled, models.InvoiceDraft, false},
		{models.InvoiceDraft, models.InvoiceOverdue, false},
		{models.InvoiceOverdue, models.InvoiceSent, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTriggersAllocation(t *testing.T) {
	assert.True(t, TriggersAllocation(nil, models.InvoicePaid))
	assert.False(t, TriggersAllocation(nil, models.InvoiceDraft))
	assert.True(t, TriggersAllocation(&models.Invoice{Status: models.InvoiceOverdue}, models.InvoicePaid))
	assert.False(t, TriggersAllocation(&models.Invoice{Status: models.InvoicePaid, StockAllocated: true}, models.InvoicePaid))
	assert.False(t, TriggersAllocation(&models.Invoice{Status: models.InvoiceSent, StockAllocated: true}, models.InvoicePaid))
}
