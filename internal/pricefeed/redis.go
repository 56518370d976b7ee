package pricefeed

import (
	"CasinoLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache wraps a Source with a Redis read-through cache. Reads check
// Redis first and fall back to the primary; Store writes a fresh price
// through so other replicas see it before their TTL expires.
type RedisCache struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewRedisCache(primary Source, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisCache {
	return &RedisCache{primary: primary, rdb: rdb, ttl: ttl, metrics: metrics}
}

func (c *RedisCache) SpotPrice(ctx context.Context, symbolID string) (decimal.Decimal, error) {
	raw, err := c.rdb.Get(ctx, spotKey(symbolID)).Result()
	if err == nil {
		if p, perr := decimal.NewFromString(raw); perr == nil {
			c.result("hit")
			return p, nil
		}
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.result("error")
	} else {
		c.result("miss")
	}

	p, err := c.primary.SpotPrice(ctx, symbolID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	c.rdb.Set(ctx, spotKey(symbolID), p.String(), c.ttl)
	return p, nil
}

// Store writes a price through to Redis.
func (c *RedisCache) Store(ctx context.Context, symbolID string, price decimal.Decimal) error {
	if err := c.rdb.Set(ctx, spotKey(symbolID), price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", symbolID, err)
	}
	return nil
}

func (c *RedisCache) result(r string) {
	if c.metrics != nil {
		c.metrics.PriceCacheResults.WithLabelValues(r).Inc()
	}
}

func spotKey(symbolID string) string { return fmt.Sprintf("spot:%s", symbolID) }
