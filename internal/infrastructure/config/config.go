package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string          `mapstructure:"environment" validate:"required,oneof=development test staging production"`
	LogLevel    string          `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	HDWallet    HDWalletConfig  `mapstructure:"hdwallet"`
	Chains      ChainsConfig    `mapstructure:"chains"`
	PriceFeed   PriceFeedConfig `mapstructure:"price_feed"`
	Security    SecurityConfig  `mapstructure:"security"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// Ledger store backends
const (
	LedgerStoreMemory   = "memory"
	LedgerStorePostgres = "postgres"
)

// HDWalletConfig configures derivation, detection and sweeping.
type HDWalletConfig struct {
	// MasterSeedSecret names the secret holding the mnemonic or hex seed, never the seed itself.
	MasterSeedSecret    string   `mapstructure:"master_seed_secret" validate:"required"`
	MasterSeedEncrypted bool     `mapstructure:"master_seed_encrypted"`
	HotWalletAddress    string   `mapstructure:"hot_wallet_address"`
	MinSweepAmountUSD   string   `mapstructure:"min_sweep_amount_usd" validate:"required"`
	PollTimeoutMS       int      `mapstructure:"poll_timeout_ms" validate:"gt=0"`
	TestnetMode         bool     `mapstructure:"testnet_mode"`
	ConversionRate      string   `mapstructure:"conversion_rate" validate:"required"`
	PollSchedule        string   `mapstructure:"poll_schedule" validate:"required"`
	PollConcurrency     int      `mapstructure:"poll_concurrency" validate:"gt=0"`
	ReadConcurrency     int      `mapstructure:"read_concurrency" validate:"gt=0"`
	SweepBatchSize      int      `mapstructure:"sweep_batch_size" validate:"gt=0"`
	LedgerStore         string   `mapstructure:"ledger_store" validate:"oneof=memory postgres"`
	DistributedLock     bool     `mapstructure:"distributed_lock"`
	WatchedChains       []string `mapstructure:"watched_chains"`
	WatchedAssets       []string `mapstructure:"watched_assets"`
	// SeedUsers registers user ids with the memory store, which has no other way to learn them.
	SeedUsers []string `mapstructure:"seed_users" validate:"dive,uuid"`
}

func (h HDWalletConfig) PollTimeout() time.Duration {
	return time.Duration(h.PollTimeoutMS) * time.Millisecond
}

// Rate is the USD value of one internal unit.
func (h HDWalletConfig) Rate() decimal.Decimal {
	d, _ := decimal.NewFromString(h.ConversionRate)
	return d
}

func (h HDWalletConfig) MinSweepAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(h.MinSweepAmountUSD)
	return d
}

// ChainsConfig holds one endpoint set per environment; hdwallet.testnet_mode picks which.
type ChainsConfig struct {
	Mainnet map[string]NetworkConfig `mapstructure:"mainnet"`
	Testnet map[string]NetworkConfig `mapstructure:"testnet"`
}

type NetworkConfig struct {
	ChainID         int64         `mapstructure:"chain_id" validate:"gt=0"`
	RPC             string        `mapstructure:"rpc" validate:"required,url"`
	NativeSymbol    string        `mapstructure:"native_symbol" validate:"required"`
	NativeDecimals  int32         `mapstructure:"native_decimals"`
	GasLimitNative  uint64        `mapstructure:"gas_limit_native"`
	GasLimitToken   uint64        `mapstructure:"gas_limit_token"`
	MaxGasPriceGwei int64         `mapstructure:"max_gas_price_gwei"`
	Tokens          []TokenConfig `mapstructure:"tokens" validate:"dive"`
}

type TokenConfig struct {
	Symbol   string `mapstructure:"symbol" validate:"required"`
	Address  string `mapstructure:"address" validate:"required"`
	Decimals int32  `mapstructure:"decimals"`
	Stable   bool   `mapstructure:"stable"`
}

// PriceFeedConfig selects how native coins are valued.
type PriceFeedConfig struct {
	Provider        string            `mapstructure:"provider" validate:"oneof=static http"`
	BaseURL         string            `mapstructure:"base_url"`
	APIKey          string            `mapstructure:"api_key"`
	Timeout         int               `mapstructure:"timeout"`
	RateLimitPerSec float64           `mapstructure:"rate_limit_per_sec"`
	CacheTTL        int               `mapstructure:"cache_ttl"`
	AssetIDs        map[string]string `mapstructure:"asset_ids"`
	StaticPrices    map[string]string `mapstructure:"static_prices"`
}

type SecurityConfig struct {
	EncryptionKey    string `mapstructure:"encryption_key"`
	SecretsProvider  string `mapstructure:"secrets_provider" validate:"oneof=env aws"`
	AWSSecretsRegion string `mapstructure:"aws_secrets_region"`
	AWSSecretsPrefix string `mapstructure:"aws_secrets_prefix"`
	SecretsCacheTTL  int    `mapstructure:"secrets_cache_ttl"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// ActiveNetworks returns the endpoint set selected by hdwallet.testnet_mode.
func (c *Config) ActiveNetworks() map[string]NetworkConfig {
	if c.HDWallet.TestnetMode {
		return c.Chains.Testnet
	}
	return c.Chains.Mainnet
}

// Load loads configuration from .env, ./configs/config.yaml and the environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom("./configs", ".")
}

// LoadFrom reads config.yaml from the first matching path, then applies defaults and env overrides.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "wallet_service")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.query_timeout", 30)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "wallet:")

	v.SetDefault("hdwallet.master_seed_secret", "HDWALLET_MASTER_SEED")
	v.SetDefault("hdwallet.master_seed_encrypted", false)
	v.SetDefault("hdwallet.hot_wallet_address", "")
	v.SetDefault("hdwallet.min_sweep_amount_usd", "1.00")
	v.SetDefault("hdwallet.poll_timeout_ms", 10000)
	v.SetDefault("hdwallet.testnet_mode", false)
	v.SetDefault("hdwallet.conversion_rate", "0.10")
	v.SetDefault("hdwallet.poll_schedule", "@every 1m")
	v.SetDefault("hdwallet.poll_concurrency", 4)
	v.SetDefault("hdwallet.read_concurrency", 8)
	v.SetDefault("hdwallet.sweep_batch_size", 100)
	v.SetDefault("hdwallet.ledger_store", LedgerStorePostgres)
	v.SetDefault("hdwallet.distributed_lock", false)

	setNetworkDefaults(v, "chains.mainnet.polygon", 137, "https://polygon-rpc.com", "MATIC", []map[string]interface{}{
		{"symbol": "USDT", "address": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", "decimals": 6, "stable": true},
		{"symbol": "USDC", "address": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", "decimals": 6, "stable": true},
	})
	setNetworkDefaults(v, "chains.mainnet.bsc", 56, "https://bsc-dataseed.binance.org", "BNB", []map[string]interface{}{
		{"symbol": "USDT", "address": "0x55d398326f99059fF775485246999027B3197955", "decimals": 18, "stable": true},
		{"symbol": "USDC", "address": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", "decimals": 18, "stable": true},
	})
	setNetworkDefaults(v, "chains.mainnet.ethereum", 1, "https://eth.llamarpc.com", "ETH", []map[string]interface{}{
		{"symbol": "USDT", "address": "0xdAC17F958D2ee523a2206206994597C13D831ec7", "decimals": 6, "stable": true},
		{"symbol": "USDC", "address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "decimals": 6, "stable": true},
	})
	setNetworkDefaults(v, "chains.testnet.polygon", 80002, "https://rpc-amoy.polygon.technology", "MATIC", []map[string]interface{}{
		{"symbol": "USDC", "address": "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", "decimals": 6, "stable": true},
	})
	setNetworkDefaults(v, "chains.testnet.bsc", 97, "https://data-seed-prebsc-1-s1.binance.org:8545", "BNB", []map[string]interface{}{
		{"symbol": "USDT", "address": "0x337610d27c682E347C9cD60BD4b3b107C9d34dDd", "decimals": 18, "stable": true},
	})
	setNetworkDefaults(v, "chains.testnet.ethereum", 11155111, "https://rpc.sepolia.org", "ETH", []map[string]interface{}{
		{"symbol": "USDC", "address": "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", "decimals": 6, "stable": true},
	})

	v.SetDefault("price_feed.provider", "http")
	v.SetDefault("price_feed.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price_feed.timeout", 10)
	v.SetDefault("price_feed.rate_limit_per_sec", 1.0)
	v.SetDefault("price_feed.cache_ttl", 60)
	v.SetDefault("price_feed.asset_ids", map[string]string{
		"MATIC": "matic-network",
		"BNB":   "binancecoin",
		"ETH":   "ethereum",
	})

	v.SetDefault("security.secrets_provider", "env")
	v.SetDefault("security.aws_secrets_region", "us-east-1")
	v.SetDefault("security.aws_secrets_prefix", "wallet/")
	v.SetDefault("security.secrets_cache_ttl", 300)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 0.1)
}

func setNetworkDefaults(v *viper.Viper, prefix string, chainID int64, rpc, native string, tokens []map[string]interface{}) {
	v.SetDefault(prefix+".chain_id", chainID)
	v.SetDefault(prefix+".rpc", rpc)
	v.SetDefault(prefix+".native_symbol", native)
	v.SetDefault(prefix+".native_decimals", 18)
	v.SetDefault(prefix+".gas_limit_native", 21000)
	v.SetDefault(prefix+".gas_limit_token", 65000)
	v.SetDefault(prefix+".max_gas_price_gwei", 500)
	v.SetDefault(prefix+".tokens", tokens)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}
	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		v.Set("redis.host", redisURL)
	}
	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		v.Set("security.encryption_key", encKey)
	}
	if hot := os.Getenv("HOT_WALLET_ADDRESS"); hot != "" {
		v.Set("hdwallet.hot_wallet_address", hot)
	}
	if testnet := os.Getenv("TESTNET_MODE"); testnet != "" {
		if b, err := strconv.ParseBool(testnet); err == nil {
			v.Set("hdwallet.testnet_mode", b)
		}
	}
	if seeds := os.Getenv("HDWALLET_SEED_USERS"); seeds != "" {
		var ids []string
		for _, id := range strings.Split(seeds, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		v.Set("hdwallet.seed_users", ids)
	}
	if key := os.Getenv("PRICE_FEED_API_KEY"); key != "" {
		v.Set("price_feed.api_key", key)
	}

	// POLYGON_RPC_URL, BSC_RPC_URL, ETHEREUM_RPC_URL override the active endpoint set.
	network := "mainnet"
	if v.GetBool("hdwallet.testnet_mode") {
		network = "testnet"
	}
	for _, chain := range []string{"polygon", "bsc", "ethereum"} {
		if rpc := os.Getenv(strings.ToUpper(chain) + "_RPC_URL"); rpc != "" {
			v.Set(fmt.Sprintf("chains.%s.%s.rpc", network, chain), rpc)
		}
	}
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	rate, err := decimal.NewFromString(config.HDWallet.ConversionRate)
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("hdwallet.conversion_rate must be a positive decimal")
	}
	minSweep, err := decimal.NewFromString(config.HDWallet.MinSweepAmountUSD)
	if err != nil || minSweep.IsNegative() {
		return fmt.Errorf("hdwallet.min_sweep_amount_usd must be a non-negative decimal")
	}

	networks := config.ActiveNetworks()
	if len(networks) == 0 {
		return fmt.Errorf("no chains configured for the active network set")
	}
	for name, n := range networks {
		if err := validator.New().Struct(n); err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}
	}
	for _, name := range config.HDWallet.WatchedChains {
		if _, ok := networks[name]; !ok {
			return fmt.Errorf("hdwallet.watched_chains: %s is not configured", name)
		}
	}

	if config.HDWallet.MasterSeedEncrypted && config.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required when the master seed is encrypted")
	}
	if config.HDWallet.LedgerStore == LedgerStorePostgres && config.Database.URL == "" {
		return fmt.Errorf("database configuration is incomplete")
	}
	if config.HDWallet.LedgerStore == LedgerStorePostgres && len(config.HDWallet.SeedUsers) > 0 {
		return fmt.Errorf("hdwallet.seed_users only applies to the memory ledger store")
	}
	if config.PriceFeed.Provider == "http" && config.PriceFeed.BaseURL == "" {
		return fmt.Errorf("price_feed.base_url is required for the http provider")
	}
	if config.Tracing.Enabled && config.Tracing.CollectorURL == "" {
		return fmt.Errorf("tracing.collector_url is required when tracing is enabled")
	}

	return nil
}
