package cache

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/services/chainbalance"
)

const pricePrefix = "price:usd:"

// PriceCache fronts a PriceSource with short-lived Redis entries. Cache failures fall
// through to the source.
type PriceCache struct {
	redis  RedisClient
	source chainbalance.PriceSource
	ttl    time.Duration
	logger *zap.Logger
}

func NewPriceCache(redis RedisClient, source chainbalance.PriceSource, ttl time.Duration, logger *zap.Logger) *PriceCache {
	return &PriceCache{redis: redis, source: source, ttl: ttl, logger: logger}
}

func (c *PriceCache) USDPrice(ctx context.Context, symbol entities.Asset) (decimal.Decimal, error) {
	key := pricePrefix + string(symbol.Normalize())

	var cached decimal.Decimal
	err := c.redis.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("price cache read failed", zap.String("asset", string(symbol)), zap.Error(err))
	}

	price, err := c.source.USDPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.redis.Set(ctx, key, price, c.ttl); err != nil {
		c.logger.Warn("price cache write failed", zap.String("asset", string(symbol)), zap.Error(err))
	}
	return price, nil
}
