package di

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/luris-nation/wallet_service/internal/api/handlers"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/internal/domain/services/audit"
	"github.com/luris-nation/wallet_service/internal/domain/services/chainbalance"
	"github.com/luris-nation/wallet_service/internal/domain/services/deposit"
	"github.com/luris-nation/wallet_service/internal/domain/services/hdwallet"
	"github.com/luris-nation/wallet_service/internal/domain/services/sweep"
	"github.com/luris-nation/wallet_service/internal/infrastructure/adapters/evm"
	"github.com/luris-nation/wallet_service/internal/infrastructure/adapters/pricefeed"
	"github.com/luris-nation/wallet_service/internal/infrastructure/cache"
	"github.com/luris-nation/wallet_service/internal/infrastructure/config"
	"github.com/luris-nation/wallet_service/internal/infrastructure/database"
	infraRepos "github.com/luris-nation/wallet_service/internal/infrastructure/repositories"
	"github.com/luris-nation/wallet_service/internal/infrastructure/repositories/memory"
	"github.com/luris-nation/wallet_service/internal/workers/deposit_monitor"
	"github.com/luris-nation/wallet_service/pkg/keymutex"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/secrets"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  cache.RedisClient
	Logger *logger.Logger

	// Repositories
	DerivationRepo repositories.DerivationRepository
	DepositStore   repositories.DepositLedgerStore
	WalletLedger   repositories.WalletLedger
	UserRepo       repositories.UserRepository
	AuditRepo      repositories.AuditRepository

	// Chain access
	ChainRegistry *chainbalance.Registry
	PriceSource   chainbalance.PriceSource
	BalanceReader *chainbalance.Reader

	// Domain services
	SecretsManager *secrets.Manager
	Deriver        *hdwallet.Deriver
	AddressService *hdwallet.AddressService
	AuditService   *audit.Service
	Converter      *deposit.Converter
	CreditIssuer   *deposit.CreditIssuer
	Detector       *deposit.Detector
	Orchestrator   *sweep.Orchestrator
	UserLocks      *keymutex.KeyMutex
	// DepositLocks serialises detection and sweeping per user. It spans processes when the
	// ledger lives in Postgres.
	DepositLocks deposit.Locker

	// Workers and HTTP
	DepositMonitor *deposit_monitor.Worker
	HealthHandler  *handlers.HealthHandler

	closers []io.Closer
}

// NewContainer creates a new dependency injection container. db may be nil unless
// hdwallet.ledger_store is postgres.
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	container := &Container{
		Config:    cfg,
		DB:        db,
		Logger:    log,
		UserLocks: keymutex.New(),
	}

	steps := []func() error{
		container.initializeRedis,
		container.initializeRepositories,
		func() error { return container.initializeDeriver(ctx) },
		func() error { return container.initializeChains(ctx) },
		container.initializeDomainServices,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			container.Close()
			return nil, err
		}
	}
	container.initializeWorkers()
	container.initializeHealth()

	return container, nil
}

// needsRedis reports whether any configured component is backed by Redis.
func (c *Container) needsRedis() bool {
	return c.Config.HDWallet.DistributedLock || c.Config.PriceFeed.CacheTTL > 0
}

func (c *Container) initializeRedis() error {
	if !c.needsRedis() {
		return nil
	}
	client, err := cache.NewRedisClient(&c.Config.Redis, c.Logger.Zap())
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	c.Redis = client
	c.closers = append(c.closers, client)
	return nil
}

func (c *Container) initializeRepositories() error {
	if c.Config.HDWallet.LedgerStore == config.LedgerStorePostgres {
		if c.DB == nil {
			return fmt.Errorf("ledger store %q requires a database connection", config.LedgerStorePostgres)
		}
		c.DerivationRepo = infraRepos.NewDerivationRepository(c.DB)
		c.DepositStore = infraRepos.NewDepositLedgerRepository(c.DB)
		c.WalletLedger = infraRepos.NewWalletRepository(c.DB, entities.DefaultCurrency, c.Logger)
		c.UserRepo = infraRepos.NewUserRepository(c.DB)
		c.AuditRepo = infraRepos.NewAuditRepository(c.DB)
		c.DepositLocks = infraRepos.NewUserLocker(c.DB)
		return nil
	}

	// Memory state lives and dies with this process, so the in-process lock is enough.
	users := memory.NewUserRepository()
	for _, raw := range c.Config.HDWallet.SeedUsers {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("hdwallet.seed_users: %w", err)
		}
		users.Add(&entities.User{ID: id})
	}
	if n := len(c.Config.HDWallet.SeedUsers); n > 0 {
		c.Logger.Info("Seeded memory user store", "users", n)
	}

	c.DerivationRepo = memory.NewDerivationRepository()
	c.DepositStore = memory.NewDepositLedgerStore()
	c.WalletLedger = memory.NewWalletLedger(entities.DefaultCurrency)
	c.UserRepo = users
	c.AuditRepo = memory.NewAuditRepository()
	c.DepositLocks = c.UserLocks
	return nil
}

func (c *Container) initializeDeriver(ctx context.Context) error {
	sec := c.Config.Security

	var provider secrets.Provider
	switch sec.SecretsProvider {
	case "aws":
		awsProvider, err := secrets.NewAWSSecretsManagerProvider(ctx, sec.AWSSecretsRegion, sec.AWSSecretsPrefix,
			time.Duration(sec.SecretsCacheTTL)*time.Second)
		if err != nil {
			return fmt.Errorf("failed to initialize secrets provider: %w", err)
		}
		provider = awsProvider
	default:
		provider = secrets.NewEnvProvider()
		if sec.SecretsCacheTTL > 0 {
			provider = secrets.NewCachedProvider(provider, time.Duration(sec.SecretsCacheTTL)*time.Second)
		}
	}
	c.SecretsManager = secrets.NewManager(provider, sec.EncryptionKey)

	seed, err := c.SecretsManager.GetMasterSeed(ctx, c.Config.HDWallet.MasterSeedSecret, c.Config.HDWallet.MasterSeedEncrypted)
	if err != nil {
		return fmt.Errorf("failed to load master seed: %w", err)
	}
	deriver, err := hdwallet.NewDeriver(seed)
	if err != nil {
		return fmt.Errorf("failed to initialize deriver: %w", err)
	}
	c.Deriver = deriver
	return nil
}

func (c *Container) initializeChains(ctx context.Context) error {
	c.ChainRegistry = chainbalance.NewRegistry()

	for name, network := range c.Config.ActiveNetworks() {
		chain := entities.Chain(strings.ToLower(name))
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("chain %q: %w", name, err)
		}

		evmConfig := evm.Config{
			Chain:          chain,
			ChainID:        big.NewInt(network.ChainID),
			GasLimitNative: network.GasLimitNative,
			GasLimitToken:  network.GasLimitToken,
		}
		if network.MaxGasPriceGwei > 0 {
			evmConfig.MaxGasPrice = new(big.Int).Mul(big.NewInt(network.MaxGasPriceGwei), big.NewInt(1e9))
		}

		client, err := evm.Dial(ctx, network.RPC, evmConfig, c.Logger.Zap())
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", chain, err)
		}
		c.closers = append(c.closers, closerFunc(client.Close))

		c.ChainRegistry.Register(chainConfigFrom(chain, network), client)
		c.Logger.Info("Registered chain", "chain", chain, "chain_id", network.ChainID, "tokens", len(network.Tokens))
	}

	prices, err := c.buildPriceSource()
	if err != nil {
		return err
	}
	c.PriceSource = prices

	c.BalanceReader = chainbalance.NewReader(c.ChainRegistry, c.PriceSource, chainbalance.Config{
		PollTimeout: c.Config.HDWallet.PollTimeout(),
		Concurrency: c.Config.HDWallet.ReadConcurrency,
	}, c.Logger)
	return nil
}

func chainConfigFrom(chain entities.Chain, network config.NetworkConfig) entities.ChainConfig {
	tokens := make([]entities.TokenConfig, 0, len(network.Tokens))
	for _, t := range network.Tokens {
		tokens = append(tokens, entities.TokenConfig{
			Symbol:   entities.Asset(t.Symbol).Normalize(),
			Contract: t.Address,
			Decimals: t.Decimals,
			Stable:   t.Stable,
		})
	}
	decimals := network.NativeDecimals
	if decimals == 0 {
		decimals = 18
	}
	return entities.ChainConfig{
		Chain:          chain,
		ChainID:        network.ChainID,
		RPCURL:         network.RPC,
		NativeSymbol:   entities.Asset(network.NativeSymbol).Normalize(),
		NativeDecimals: decimals,
		Tokens:         tokens,
	}
}

func (c *Container) buildPriceSource() (chainbalance.PriceSource, error) {
	pf := c.Config.PriceFeed

	var source chainbalance.PriceSource
	switch pf.Provider {
	case "http":
		source = pricefeed.NewClient(pricefeed.Config{
			BaseURL:         pf.BaseURL,
			APIKey:          pf.APIKey,
			Timeout:         time.Duration(pf.Timeout) * time.Second,
			RateLimitPerSec: pf.RateLimitPerSec,
			AssetIDs:        pf.AssetIDs,
		}, c.Logger.Zap())
	default:
		static := make(chainbalance.StaticPriceSource, len(pf.StaticPrices))
		for symbol, raw := range pf.StaticPrices {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid static price for %s: %w", symbol, err)
			}
			static[entities.Asset(symbol).Normalize()] = price
		}
		source = static
	}

	if pf.CacheTTL > 0 && c.Redis != nil {
		source = cache.NewPriceCache(c.Redis, source, time.Duration(pf.CacheTTL)*time.Second, c.Logger.Zap())
	}
	return source, nil
}

func (c *Container) initializeDomainServices() error {
	hd := c.Config.HDWallet

	c.AuditService = audit.NewService(c.AuditRepo, c.Logger.Zap())

	converter, err := deposit.NewConverter(hd.Rate())
	if err != nil {
		return fmt.Errorf("failed to initialize converter: %w", err)
	}
	c.Converter = converter
	c.CreditIssuer = deposit.NewCreditIssuer(c.WalletLedger, c.AuditService, c.Logger)

	c.Detector = deposit.NewDetector(
		c.DerivationRepo,
		c.DepositStore,
		c.BalanceReader,
		c.CreditIssuer,
		c.Converter,
		c.DepositLocks,
		deposit.DetectorConfig{
			Chains: toChains(hd.WatchedChains),
			Assets: toAssets(hd.WatchedAssets),
		},
		c.Logger,
	)

	c.Orchestrator = sweep.NewOrchestrator(
		c.DerivationRepo,
		c.DepositStore,
		c.BalanceReader,
		c.Deriver,
		c.DepositLocks,
		c.AuditService,
		sweep.Config{
			MinAmountUSD: hd.MinSweepAmount(),
			BatchSize:    hd.SweepBatchSize,
		},
		c.Logger,
	)

	c.AddressService = hdwallet.NewAddressService(
		c.Deriver,
		c.UserRepo,
		c.DerivationRepo,
		c.UserLocks,
		c.AuditService,
		c.Logger,
	)
	return nil
}

func (c *Container) initializeWorkers() {
	workerConfig := deposit_monitor.DefaultConfig()
	workerConfig.Schedule = c.Config.HDWallet.PollSchedule
	workerConfig.Concurrency = c.Config.HDWallet.PollConcurrency
	workerConfig.PageSize = c.Config.HDWallet.SweepBatchSize

	var lock deposit_monitor.PassLock
	if c.Config.HDWallet.DistributedLock && c.Redis != nil {
		lock = cache.NewDistributedLock(c.Redis)
	}

	c.DepositMonitor = deposit_monitor.NewWorker(c.Detector, c.DerivationRepo, lock, workerConfig, c.Logger)
}

func (c *Container) initializeHealth() {
	checks := map[string]handlers.HealthCheck{}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, c.DB)
		}
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	c.HealthHandler = handlers.NewHealthHandler(checks, c.Logger.Zap())
}

// Closers returns the resources the container opened, for registration with the shutdown manager.
func (c *Container) Closers() []io.Closer {
	return c.closers
}

// Close releases chain connections and redis. The database is owned by the caller.
func (c *Container) Close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			c.Logger.Warn("Failed to close resource", "error", err)
		}
	}
	c.closers = nil
}

func toChains(names []string) []entities.Chain {
	if len(names) == 0 {
		return nil
	}
	out := make([]entities.Chain, 0, len(names))
	for _, n := range names {
		out = append(out, entities.Chain(strings.ToLower(n)))
	}
	return out
}

func toAssets(symbols []string) []entities.Asset {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]entities.Asset, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, entities.Asset(s).Normalize())
	}
	return out
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
