package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 100, cfg.HDWallet.SweepBatchSize)
	assert.True(t, cfg.HDWallet.Rate().Equal(decimal.RequireFromString("0.10")))
	assert.True(t, cfg.HDWallet.MinSweepAmount().Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(10000), cfg.HDWallet.PollTimeout().Milliseconds())
	assert.Contains(t, cfg.Database.URL, "postgres://postgres:@localhost:5432/wallet_service")

	networks := cfg.ActiveNetworks()
	require.Len(t, networks, 3)
	assert.Equal(t, int64(137), networks["polygon"].ChainID)
	require.Len(t, networks["bsc"].Tokens, 2)
	assert.Equal(t, int32(18), networks["bsc"].Tokens[0].Decimals)
}

func TestLoadFrom_TestnetModeSelectsTestnetEndpoints(t *testing.T) {
	t.Setenv("TESTNET_MODE", "true")
	t.Setenv("POLYGON_RPC_URL", "https://amoy.example.org")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	networks := cfg.ActiveNetworks()
	assert.Equal(t, int64(80002), networks["polygon"].ChainID)
	assert.Equal(t, "https://amoy.example.org", networks["polygon"].RPC)
	assert.Equal(t, int64(11155111), networks["ethereum"].ChainID)
	assert.Equal(t, "https://polygon-rpc.com", cfg.Chains.Mainnet["polygon"].RPC)
}

func TestLoadFrom_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
environment: test
hdwallet:
  conversion_rate: "0.25"
  hot_wallet_address: "0x1111111111111111111111111111111111111111"
  ledger_store: memory
  watched_chains: [polygon]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, LedgerStoreMemory, cfg.HDWallet.LedgerStore)
	assert.Equal(t, []string{"polygon"}, cfg.HDWallet.WatchedChains)
	assert.True(t, cfg.HDWallet.Rate().Equal(decimal.RequireFromString("0.25")))
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero conversion rate":   "hdwallet:\n  conversion_rate: \"0\"\n",
		"negative min sweep":     "hdwallet:\n  min_sweep_amount_usd: \"-1\"\n",
		"unknown ledger store":   "hdwallet:\n  ledger_store: etcd\n",
		"redis ledger store":     "hdwallet:\n  ledger_store: redis\n",
		"malformed seed user":    "hdwallet:\n  ledger_store: memory\n  seed_users: [alice]\n",
		"seed users on postgres": "hdwallet:\n  seed_users: [\"6f1c2a5e-8a8e-4c55-9d7b-0d4c2f7e9a10\"]\n",
		"unknown watched chain":  "hdwallet:\n  watched_chains: [solana]\n",
		"encrypted seed no key":  "hdwallet:\n  master_seed_encrypted: true\n",
		"bad environment":        "environment: moon\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
			_, err := LoadFrom(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_SeedUsersFromEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("hdwallet:\n  ledger_store: memory\n"), 0o600))
	t.Setenv("HDWALLET_SEED_USERS", "6f1c2a5e-8a8e-4c55-9d7b-0d4c2f7e9a10, 0b6c3f0e-1d2a-4e8f-b1c4-7a9e5d3f2b11")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"6f1c2a5e-8a8e-4c55-9d7b-0d4c2f7e9a10",
		"0b6c3f0e-1d2a-4e8f-b1c4-7a9e5d3f2b11",
	}, cfg.HDWallet.SeedUsers)
}
