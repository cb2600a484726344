package stock_test

import (
	"context"
	"errors"
	"testing"

	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"
	"vetclinic-backend/internal/stock/stocktest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateProductWithInitialStock(t *testing.T) {
	s := stocktest.NewMemoryStore()
	svc := stock.NewService(s, nil, nil)
	p := &models.Product{ClinicID: 1, Name: "Heartworm tablets", Unit: "tablet", IsActive: true}

	require.NoError(t, svc.CreateProduct(context.Background(), p, 12, "admin"))

	assert.NotZero(t, p.ID)
	assert.Equal(t, int64(12), product(t, s, p.ID).TotalStock)
	movements := s.Movements()
	require.Len(t, movements, 1)
	assert.Equal(t, models.MovementInitialStock, movements[0].MovementType)
	assert.Nil(t, movements[0].BatchID)
	assert.Equal(t, int64(12), movements[0].Quantity)
}

func TestService_CreateProductRejectsNegativeStock(t *testing.T) {
	svc := stock.NewService(stocktest.NewMemoryStore(), nil, nil)
	err := svc.CreateProduct(context.Background(), &models.Product{Name: "x"}, -1, "admin")
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestService_ReceiveBatch(t *testing.T) {
	s := stocktest.NewMemoryStore()
	p := seedProduct(t, s, "Cefalexin", 3)
	idx := &recordingIndex{ProductLookup: s}
	svc := stock.NewService(s, idx, nil)

	batch, movement, err := svc.ReceiveBatch(context.Background(), p.ID, stock.Receipt{
		BatchCode:   "CFX-24",
		LotNumber:   "L-778",
		ExpiryDate:  date(2026, 1, 1),
		Quantity:    20,
		CostPerUnit: decimal.RequireFromString("0.45"),
	}, "stockkeeper")

	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusActive, batch.Status)
	assert.Equal(t, int64(20), batch.QuantityOnHand)
	assert.Equal(t, int64(20), batch.QuantityReceived)
	assert.False(t, batch.ReceivedDate.IsZero())
	assert.Equal(t, int64(23), product(t, s, p.ID).TotalStock)

	assert.Equal(t, models.MovementReceipt, movement.MovementType)
	assert.Equal(t, int64(20), movement.Quantity)
	assert.Equal(t, int64(3), movement.PreviousStock)
	assert.Equal(t, int64(23), movement.NewStock)
	assert.Equal(t, stock.RefTypeBatch, movement.ReferenceType)
	assert.Equal(t, batch.ID, movement.ReferenceID)
	assert.Equal(t, []uint{p.ID}, idx.invalidated)
}

func TestService_ReceiveBatchValidation(t *testing.T) {
	s := stocktest.NewMemoryStore()
	svc := stock.NewService(s, nil, nil)
	inactive := &models.Product{ClinicID: 1, Name: "Old formula", IsActive: false}
	require.NoError(t, s.CreateProduct(context.Background(), inactive))

	_, _, err := svc.ReceiveBatch(context.Background(), inactive.ID, stock.Receipt{Quantity: 1}, "x")
	assert.ErrorIs(t, err, stock.ErrInactiveProduct)

	_, _, err = svc.ReceiveBatch(context.Background(), 999, stock.Receipt{Quantity: 1}, "x")
	assert.ErrorIs(t, err, stock.ErrProductNotFound)

	_, _, err = svc.ReceiveBatch(context.Background(), inactive.ID, stock.Receipt{Quantity: 0}, "x")
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestService_ReceiveBatchRollsBackOnFailure(t *testing.T) {
	s := stocktest.NewMemoryStore()
	p := seedProduct(t, s, "Fluids", 0)
	s.Fail(stocktest.OpAppendMovement, p.ID, errors.New("log down"))

	_, _, err := stock.NewService(s, nil, nil).ReceiveBatch(context.Background(), p.ID, stock.Receipt{BatchCode: "F1", Quantity: 5}, "x")

	require.Error(t, err)
	batches, _ := s.ListBatches(context.Background(), p.ID)
	assert.Empty(t, batches)
	assert.Equal(t, int64(0), product(t, s, p.ID).TotalStock)
}

func TestService_ConsistencyAndReconcile(t *testing.T) {
	s := stocktest.NewMemoryStore()
	ctx := context.Background()
	drifted := seedProduct(t, s, "Drifted", 9)
	seedBatch(t, s, drifted.ID, "D1", date(2025, 1, 1), 4)
	aligned := seedProduct(t, s, "Aligned", 2)
	seedBatch(t, s, aligned.ID, "A1", date(2025, 1, 1), 2)
	seedProduct(t, s, "No batches", 7)
	svc := stock.NewService(s, nil, nil)

	levels, err := svc.Consistency(ctx, 0)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, drifted.ID, levels[0].ProductID)
	assert.Equal(t, int64(5), levels[0].Drift())

	level, movement, err := svc.Reconcile(ctx, drifted.ID, "auditor")
	require.NoError(t, err)
	require.NotNil(t, movement)
	assert.Equal(t, models.MovementReconciliation, movement.MovementType)
	assert.Equal(t, int64(-5), movement.Quantity)
	assert.Equal(t, int64(9), movement.PreviousStock)
	assert.Equal(t, int64(4), movement.NewStock)
	assert.Equal(t, int64(4), level.TotalStock)
	assert.Equal(t, int64(4), product(t, s, drifted.ID).TotalStock)

	levels, err = svc.Consistency(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, levels)

	_, movement, err = svc.Reconcile(ctx, aligned.ID, "auditor")
	require.NoError(t, err)
	assert.Nil(t, movement)
}

func TestService_ReconcileWithoutBatches(t *testing.T) {
	s := stocktest.NewMemoryStore()
	p := seedProduct(t, s, "Loose stock", 3)

	_, _, err := stock.NewService(s, nil, nil).Reconcile(context.Background(), p.ID, "auditor")

	assert.ErrorIs(t, err, stock.ErrNoBatches)
}

func TestService_ConsistencyFiltersByClinic(t *testing.T) {
	s := stocktest.NewMemoryStore()
	other := &models.Product{ClinicID: 2, Name: "Other clinic", TotalStock: 5, IsActive: true}
	require.NoError(t, s.CreateProduct(context.Background(), other))
	seedBatch(t, s, other.ID, "O1", date(2025, 1, 1), 1)

	levels, err := stock.NewService(s, nil, nil).Consistency(context.Background(), 1)

	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestService_MovementsFilterByReference(t *testing.T) {
	s := stocktest.NewMemoryStore()
	p := seedProduct(t, s, "Wormer", 10)
	e := newTestEngine(s)
	e.Allocate(context.Background(), stock.Reference{Type: stock.RefTypeInvoice, ID: 1}, []stock.Line{{ProductID: p.ID, Quantity: 1}})
	e.Allocate(context.Background(), stock.Reference{Type: stock.RefTypeInvoice, ID: 2}, []stock.Line{{ProductID: p.ID, Quantity: 2}})

	got, err := stock.NewService(s, nil, nil).Movements(context.Background(), stock.MovementFilter{ReferenceType: stock.RefTypeInvoice, ReferenceID: 2})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(-2), got[0].Quantity)
}

func TestService_WriteOff(t *testing.T) {
	s := stocktest.NewMemoryStore()
	ctx := context.Background()
	p := seedProduct(t, s, "Rabies vaccine", 7)
	expired := seedBatch(t, s, p.ID, "R1", date(2024, 1, 31), 3)
	fresh := seedBatch(t, s, p.ID, "R2", date(2025, 1, 31), 4)
	idx := &recordingIndex{ProductLookup: s}
	svc := stock.NewService(s, idx, nil)

	b, m, err := svc.WriteOff(ctx, p.ID, expired.ID, 3, "expired", "vet")
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusDepleted, b.Status)
	assert.Equal(t, models.MovementWriteOff, m.MovementType)
	assert.Equal(t, int64(-3), m.Quantity)
	assert.Equal(t, "expired", m.Note)
	assert.Equal(t, int64(4), product(t, s, p.ID).TotalStock)
	assert.Contains(t, idx.invalidated, p.ID)

	_, _, err = svc.WriteOff(ctx, p.ID, expired.ID, 1, "again", "vet")
	assert.ErrorIs(t, err, stock.ErrBatchDepleted)

	_, _, err = svc.WriteOff(ctx, p.ID, fresh.ID, 5, "too many", "vet")
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, _, err = svc.WriteOff(ctx, p.ID, 999, 1, "unknown", "vet")
	assert.ErrorIs(t, err, stock.ErrBatchNotFound)

	other := seedProduct(t, s, "Other", 1)
	_, _, err = svc.WriteOff(ctx, other.ID, fresh.ID, 1, "wrong product", "vet")
	assert.ErrorIs(t, err, stock.ErrBatchNotFound)

	assert.Equal(t, int64(4), batchByID(t, s, p.ID, fresh.ID).QuantityOnHand)
	assert.Len(t, s.Movements(), 1)
}
