// Package chainbalance reads native and ERC-20 balances across configured EVM chains and values
// them in USD.
package chainbalance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultConcurrency = 8
)

// Config tunes the reader.
type Config struct {
	// PollTimeout bounds every individual RPC call.
	PollTimeout time.Duration
	// Concurrency caps parallel reads for one address.
	Concurrency int
}

type Reader struct {
	registry *Registry
	prices   PriceSource
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time
}

func NewReader(registry *Registry, prices PriceSource, cfg Config, log *logger.Logger) *Reader {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Reader{
		registry: registry,
		prices:   prices,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Registry exposes the chain registry for callers that need to transfer.
func (r *Reader) Registry() *Registry {
	return r.registry
}

// CheckTokenBalance reads an ERC-20 balance. Failures yield Available=false, never an error.
func (r *Reader) CheckTokenBalance(ctx context.Context, address string, asset entities.Asset, chain entities.Chain) entities.AssetBalance {
	snap := r.readToken(ctx, address, asset, chain)
	return toAssetBalance(snap)
}

// CheckNativeBalance reads the chain's native coin balance.
func (r *Reader) CheckNativeBalance(ctx context.Context, address string, chain entities.Chain) entities.AssetBalance {
	snap := r.readNative(ctx, address, chain)
	return toAssetBalance(snap)
}

type readTarget struct {
	chain  entities.Chain
	asset  entities.Asset
	native bool
}

// ReadAll reads every requested (chain, asset) pair for address concurrently. An empty assets list
// means every configured token plus the native coin. Tokens not configured on a chain are ignored.
func (r *Reader) ReadAll(ctx context.Context, address string, chains []entities.Chain, assets []entities.Asset) *entities.BalanceReading {
	if len(chains) == 0 {
		chains = r.registry.Chains()
	}
	targets := r.targets(chains, assets)

	snapshots := make([]entities.ChainBalanceSnapshot, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			if t.native {
				snapshots[i] = r.readNative(ctx, address, t.chain)
			} else {
				snapshots[i] = r.readToken(ctx, address, t.asset, t.chain)
			}
			return nil
		})
	}
	_ = g.Wait()

	reading := &entities.BalanceReading{
		Address:   address,
		Snapshots: snapshots,
		TotalUSD:  decimal.Zero,
	}
	for _, s := range snapshots {
		if !s.Available {
			reading.Partial = true
			continue
		}
		reading.TotalUSD = reading.TotalUSD.Add(s.AmountUSD)
	}
	return reading
}

// TransferStatus asks the chain for the state of a broadcast transfer.
func (r *Reader) TransferStatus(ctx context.Context, chain entities.Chain, txRef string) (entities.TransferStatus, error) {
	client, err := r.registry.Get(chain)
	if err != nil {
		return "", errors.ChainUnavailableError(string(chain), "", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	status, err := client.RPC.TransferStatus(callCtx, txRef)
	if err != nil {
		return "", errors.ChainUnavailableError(string(chain), "", err)
	}
	return status, nil
}

func (r *Reader) targets(chains []entities.Chain, assets []entities.Asset) []readTarget {
	var out []readTarget
	for _, chain := range chains {
		client, err := r.registry.Get(chain)
		if err != nil {
			// surfaces as an unavailable native read
			out = append(out, readTarget{chain: chain, asset: entities.AssetNative, native: true})
			continue
		}
		cfg := client.Config

		if len(assets) == 0 {
			for _, tok := range cfg.Tokens {
				out = append(out, readTarget{chain: chain, asset: tok.Symbol})
			}
			out = append(out, readTarget{chain: chain, asset: cfg.NativeSymbol, native: true})
			continue
		}

		for _, a := range assets {
			a = a.Normalize()
			switch {
			case a == entities.AssetNative || a == cfg.NativeSymbol.Normalize():
				out = append(out, readTarget{chain: chain, asset: cfg.NativeSymbol, native: true})
			default:
				if tok, ok := cfg.Token(a); ok {
					out = append(out, readTarget{chain: chain, asset: tok.Symbol})
				}
			}
		}
	}
	return out
}

func (r *Reader) readToken(ctx context.Context, address string, asset entities.Asset, chain entities.Chain) entities.ChainBalanceSnapshot {
	snap := entities.ChainBalanceSnapshot{Address: address, Chain: chain, Asset: asset.Normalize()}

	client, err := r.registry.Get(chain)
	if err != nil {
		return r.unavailable(snap, err)
	}
	tok, ok := client.Config.Token(asset)
	if !ok {
		return r.unavailable(snap, fmt.Errorf("token %s not configured on %s", asset, chain))
	}
	snap.Asset = tok.Symbol

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	raw, err := client.RPC.GetTokenBalance(callCtx, tok.Contract, address)
	metrics.ChainReadDuration.WithLabelValues(string(chain), string(tok.Symbol)).Observe(time.Since(start).Seconds())
	if err != nil {
		return r.unavailable(snap, err)
	}

	amount := toDecimal(raw, tok.Decimals)
	price := decimal.NewFromInt(1)
	if !tok.Stable {
		price, err = r.prices.USDPrice(callCtx, tok.Symbol)
		if err != nil {
			return r.unavailable(snap, fmt.Errorf("price %s: %w", tok.Symbol, err))
		}
	}

	snap.AmountNative = amount
	snap.AmountUSD = amount.Mul(price)
	snap.PriceUSD = price
	snap.Available = true
	snap.ObservedAt = r.now().UTC()
	return snap
}

func (r *Reader) readNative(ctx context.Context, address string, chain entities.Chain) entities.ChainBalanceSnapshot {
	snap := entities.ChainBalanceSnapshot{Address: address, Chain: chain, Asset: entities.AssetNative, IsNative: true}

	client, err := r.registry.Get(chain)
	if err != nil {
		return r.unavailable(snap, err)
	}
	cfg := client.Config
	snap.Asset = cfg.NativeSymbol

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	raw, err := client.RPC.GetNativeBalance(callCtx, address)
	metrics.ChainReadDuration.WithLabelValues(string(chain), string(cfg.NativeSymbol)).Observe(time.Since(start).Seconds())
	if err != nil {
		return r.unavailable(snap, err)
	}

	amount := toDecimal(raw, cfg.NativeDecimals)
	price, err := r.prices.USDPrice(callCtx, cfg.NativeSymbol)
	if err != nil {
		if !amount.IsZero() {
			return r.unavailable(snap, fmt.Errorf("price %s: %w", cfg.NativeSymbol, err))
		}
		// an empty balance needs no valuation
		price = decimal.Zero
	}

	snap.AmountNative = amount
	snap.AmountUSD = amount.Mul(price)
	snap.PriceUSD = price
	snap.Available = true
	snap.ObservedAt = r.now().UTC()
	return snap
}

func (r *Reader) unavailable(snap entities.ChainBalanceSnapshot, cause error) entities.ChainBalanceSnapshot {
	snap.Available = false
	snap.AmountNative = decimal.Zero
	snap.AmountUSD = decimal.Zero
	snap.Error = errors.ChainUnavailableError(string(snap.Chain), string(snap.Asset), cause)
	snap.ObservedAt = r.now().UTC()

	metrics.ChainUnavailableTotal.WithLabelValues(string(snap.Chain), string(snap.Asset)).Inc()
	r.logger.Warn("Chain balance unavailable",
		"chain", snap.Chain,
		"asset", snap.Asset,
		"address", snap.Address,
		"error", cause)
	return snap
}

func toAssetBalance(s entities.ChainBalanceSnapshot) entities.AssetBalance {
	return entities.AssetBalance{
		BalanceNative: s.AmountNative,
		BalanceUSD:    s.AmountUSD,
		Available:     s.Available,
		Err:           s.Error,
	}
}

// toDecimal scales base units down by decimals.
func toDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToBaseUnits scales a decimal amount up by decimals, truncating any excess precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
