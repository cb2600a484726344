package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	mu          sync.Mutex
	products    map[uint]models.Product
	calls       int
	invalidated []uint
}

func (l *countingLoader) FindProduct(_ context.Context, id uint) (*models.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	p, ok := l.products[id]
	if !ok {
		return nil, stock.ErrProductNotFound
	}
	return &p, nil
}

func (l *countingLoader) Invalidate(ids ...uint) {
	l.invalidated = append(l.invalidated, ids...)
}

func (l *countingLoader) setStock(id uint, total int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.products[id]
	p.TotalStock = total
	l.products[id] = p
}

func newLoader() *countingLoader {
	return &countingLoader{products: map[uint]models.Product{
		1: {ID: 1, Name: "Carprofen", TotalStock: 10},
	}}
}

func TestProductCache_ReadsThroughOnce(t *testing.T) {
	loader := newLoader()
	c := NewProductCache(loader, 16, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := c.FindProduct(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Carprofen", p.Name)
	}
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, 1, c.Len())
}

func TestProductCache_ServesStaleWithinWindow(t *testing.T) {
	loader := newLoader()
	c := NewProductCache(loader, 16, time.Minute)
	_, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)

	loader.setStock(1, 3)
	p, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.TotalStock)
}

func TestProductCache_ExpiresAfterTTL(t *testing.T) {
	loader := newLoader()
	c := NewProductCache(loader, 16, 30*time.Millisecond)
	_, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)

	loader.setStock(1, 3)
	assert.Eventually(t, func() bool {
		p, err := c.FindProduct(context.Background(), 1)
		return err == nil && p.TotalStock == 3
	}, time.Second, 10*time.Millisecond)
}

func TestProductCache_InvalidatePropagates(t *testing.T) {
	loader := newLoader()
	c := NewProductCache(loader, 16, time.Minute)
	_, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)

	loader.setStock(1, 4)
	c.Invalidate(1)

	p, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.TotalStock)
	assert.Equal(t, []uint{1}, loader.invalidated)
	assert.Equal(t, 2, loader.calls)
}

func TestProductCache_DoesNotCacheMisses(t *testing.T) {
	loader := newLoader()
	c := NewProductCache(loader, 16, time.Minute)

	_, err := c.FindProduct(context.Background(), 2)
	assert.ErrorIs(t, err, stock.ErrProductNotFound)

	loader.mu.Lock()
	loader.products[2] = models.Product{ID: 2, Name: "Late arrival"}
	loader.mu.Unlock()

	p, err := c.FindProduct(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Late arrival", p.Name)
}

func TestProductCache_ReturnsCopies(t *testing.T) {
	c := NewProductCache(newLoader(), 16, time.Minute)
	p, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	p.TotalStock = 0

	again, err := c.FindProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.TotalStock)
}

func TestProductCache_BacksAvailabilityChecker(t *testing.T) {
	loader := newLoader()
	checker := stock.NewChecker(NewProductCache(loader, 16, time.Minute))

	got, err := checker.Check(context.Background(), []stock.Line{{ProductID: 1, Quantity: 11}})

	require.NoError(t, err)
	require.NotNil(t, got.Shortage)
	assert.Equal(t, "Carprofen", got.Shortage.ProductName)
}
