package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
)

func newTestClient(t *testing.T) (RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisClientFrom(rdb, "test:", zap.NewNop()), mr
}

func TestRedisClient_GetMiss(t *testing.T) {
	client, _ := newTestClient(t)

	var v string
	err := client.Get(context.Background(), "absent", &v)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisClient_PrefixesKeys(t *testing.T) {
	client, mr := newTestClient(t)

	require.NoError(t, client.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("test:k"))

	ok, err := client.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_Exclusive(t *testing.T) {
	client, mr := newTestClient(t)
	lock := NewDistributedLock(client)
	ctx := context.Background()

	release, ok, err := lock.TryLock(ctx, "deposit-pass", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryLock(ctx, "deposit-pass", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock:deposit-pass"))

	_, ok, err = lock.TryLock(ctx, "deposit-pass", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_ReleaseAfterExpiryKeepsNewHolder(t *testing.T) {
	client, mr := newTestClient(t)
	lock := NewDistributedLock(client)
	ctx := context.Background()

	release, ok, err := lock.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lock.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("test:lock:sweep"))
}

type countingPrices struct {
	calls int
	err   error
}

func (c *countingPrices) USDPrice(ctx context.Context, symbol entities.Asset) (decimal.Decimal, error) {
	c.calls++
	if c.err != nil {
		return decimal.Zero, c.err
	}
	return decimal.RequireFromString("2500.5"), nil
}

func TestPriceCache_CachesQuotes(t *testing.T) {
	client, mr := newTestClient(t)
	source := &countingPrices{}
	prices := NewPriceCache(client, source, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := prices.USDPrice(ctx, "eth")
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.RequireFromString("2500.5")))
	}
	assert.Equal(t, 1, source.calls)

	mr.FastForward(2 * time.Minute)
	_, err := prices.USDPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestPriceCache_SourceErrorNotCached(t *testing.T) {
	client, _ := newTestClient(t)
	source := &countingPrices{err: errors.New("feed down")}
	prices := NewPriceCache(client, source, time.Minute, zap.NewNop())

	_, err := prices.USDPrice(context.Background(), "BNB")
	assert.Error(t, err)
	_, err = prices.USDPrice(context.Background(), "BNB")
	assert.Error(t, err)
	assert.Equal(t, 2, source.calls)
}
