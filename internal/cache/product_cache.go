// Package cache holds the read-through product lookups used by the stock
// engine and the advisory availability endpoint.
package cache

import (
	"context"
	"time"

	"vetclinic-backend/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Loader is the slower source a cache tier reads through to.
type Loader interface {
	FindProduct(ctx context.Context, id uint) (*models.Product, error)
}

type invalidator interface {
	Invalidate(ids ...uint)
}

// ProductCache keeps products in memory for at most ttl. Readers may see a
// total_stock up to ttl old; callers that decide on stock under a lock must
// read the store instead.
type ProductCache struct {
	next Loader
	lru  *expirable.LRU[uint, models.Product]
}

func NewProductCache(next Loader, size int, ttl time.Duration) *ProductCache {
	return &ProductCache{
		next: next,
		lru:  expirable.NewLRU[uint, models.Product](size, nil, ttl),
	}
}

func (c *ProductCache) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	if p, ok := c.lru.Get(id); ok {
		return &p, nil
	}
	p, err := c.next.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.lru.Add(id, *p)
	out := *p
	return &out, nil
}

// Invalidate drops the ids here and in every tier below.
func (c *ProductCache) Invalidate(ids ...uint) {
	for _, id := range ids {
		c.lru.Remove(id)
	}
	if inv, ok := c.next.(invalidator); ok {
		inv.Invalidate(ids...)
	}
}

func (c *ProductCache) Len() int {
	return c.lru.Len()
}
