package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vetclinic-backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisTier shares cached products between service instances. A redis
// failure is logged and the lookup falls through to next.
type RedisTier struct {
	rdb  *redis.Client
	next Loader
	ttl  time.Duration
	log  logrus.FieldLogger
}

func NewRedisTier(rdb *redis.Client, next Loader, ttl time.Duration, log logrus.FieldLogger) *RedisTier {
	return &RedisTier{rdb: rdb, next: next, ttl: ttl, log: log}
}

func productKey(id uint) string {
	return fmt.Sprintf("vetclinic:product:%d", id)
}

func (r *RedisTier) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	val, err := r.rdb.Get(ctx, productKey(id)).Bytes()
	switch {
	case err == nil:
		var p models.Product
		if err := json.Unmarshal(val, &p); err == nil {
			return &p, nil
		}
		r.log.WithField("product_id", id).Warn("dropping unreadable cached product")
	case !errors.Is(err, redis.Nil):
		r.log.WithError(err).WithField("product_id", id).Warn("redis product lookup failed")
	}

	p, err := r.next.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(p); err == nil {
		if err := r.rdb.Set(ctx, productKey(id), raw, r.ttl).Err(); err != nil {
			r.log.WithError(err).WithField("product_id", id).Warn("redis product store failed")
		}
	}
	return p, nil
}

func (r *RedisTier) Invalidate(ids ...uint) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	if err := r.rdb.Del(context.Background(), keys...).Err(); err != nil {
		r.log.WithError(err).WithField("product_ids", ids).Warn("redis product invalidation failed")
	}
	if inv, ok := r.next.(invalidator); ok {
		inv.Invalidate(ids...)
	}
}
