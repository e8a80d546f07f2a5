package di

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/infrastructure/cache"
	"github.com/luris-nation/wallet_service/internal/infrastructure/config"
	infraRepos "github.com/luris-nation/wallet_service/internal/infrastructure/repositories"
	"github.com/luris-nation/wallet_service/internal/infrastructure/repositories/memory"
	"github.com/luris-nation/wallet_service/pkg/keymutex"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

const testMnemonic = "test test test test test test test test test test test junk"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HDWALLET_MASTER_SEED", testMnemonic)

	cfg, err := config.LoadFrom(t.TempDir())
	require.NoError(t, err)

	cfg.HDWallet.LedgerStore = config.LedgerStoreMemory
	cfg.PriceFeed.Provider = "static"
	cfg.PriceFeed.CacheTTL = 0
	cfg.PriceFeed.StaticPrices = map[string]string{"matic": "0.50", "BNB": "600", "ETH": "3000"}
	cfg.Security.SecretsCacheTTL = 0

	for name, network := range cfg.Chains.Mainnet {
		network.RPC = "http://127.0.0.1:8545"
		cfg.Chains.Mainnet[name] = network
	}
	return cfg
}

func TestNewContainer_Memory(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Redis)
	assert.ElementsMatch(t,
		[]entities.Chain{entities.ChainPolygon, entities.ChainBSC, entities.ChainEthereum},
		c.ChainRegistry.Chains())

	polygon, err := c.ChainRegistry.Get(entities.ChainPolygon)
	require.NoError(t, err)
	assert.Equal(t, entities.Asset("MATIC"), polygon.Config.NativeSymbol)
	assert.Len(t, polygon.Config.Tokens, 2)

	price, err := c.PriceSource.USDPrice(context.Background(), "MATIC")
	require.NoError(t, err)
	assert.Equal(t, "0.5", price.String())

	assert.NotNil(t, c.Detector)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.DepositMonitor)
	assert.NotNil(t, c.HealthHandler)
	assert.Len(t, c.Closers(), 3)
	assert.IsType(t, &memory.DepositLedgerStore{}, c.DepositStore)
	assert.IsType(t, &keymutex.KeyMutex{}, c.DepositLocks)

	wallet, err := c.WalletLedger.GetWallet(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultCurrency, wallet.Currency)
}

func TestNewContainer_Postgres(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	cfg := testConfig(t)
	cfg.HDWallet.LedgerStore = config.LedgerStorePostgres

	c, err := NewContainer(context.Background(), cfg, db, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &infraRepos.DepositLedgerRepository{}, c.DepositStore)
	assert.IsType(t, &infraRepos.UserLocker{}, c.DepositLocks)
}

func TestNewContainer_AddressServiceDerivesFromConfiguredSeed(t *testing.T) {
	userID := uuid.New()
	cfg := testConfig(t)
	cfg.HDWallet.SeedUsers = []string{userID.String()}

	c, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	record, err := c.AddressService.GetUserDepositAddress(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), record.Index)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", record.Address)

	_, err = c.AddressService.GetUserDepositAddress(context.Background(), uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestNewContainer_RedisBackedComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Redis.Host = host
	cfg.Redis.Port, _ = strconv.Atoi(port)
	cfg.HDWallet.DistributedLock = true
	cfg.PriceFeed.CacheTTL = 30

	c, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Redis)
	assert.IsType(t, &memory.DepositLedgerStore{}, c.DepositStore)
	assert.IsType(t, &cache.PriceCache{}, c.PriceSource)

	_, err = c.PriceSource.USDPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, mr.Exists("wallet:price:usd:ETH"))
}

func TestNewContainer_Errors(t *testing.T) {
	t.Run("missing master seed", func(t *testing.T) {
		cfg := testConfig(t)
		t.Setenv("HDWALLET_MASTER_SEED", "")

		_, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "master seed")
	})

	t.Run("postgres without database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.HDWallet.LedgerStore = config.LedgerStorePostgres

		_, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
		require.Error(t, err)
	})

	t.Run("malformed seed user", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.HDWallet.SeedUsers = []string{"not-a-uuid"}

		_, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hdwallet.seed_users")
	})

	t.Run("invalid static price", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PriceFeed.StaticPrices = map[string]string{"ETH": "lots"}

		_, err := NewContainer(context.Background(), cfg, nil, logger.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid static price")
	})
}
