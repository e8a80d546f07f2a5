package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies an EVM network the engine watches.
type Chain string

const (
	ChainPolygon  Chain = "polygon"
	ChainBSC      Chain = "bsc"
	ChainEthereum Chain = "ethereum"
)

// Validate checks if the chain is supported
func (c Chain) Validate() error {
	switch c {
	case ChainPolygon, ChainBSC, ChainEthereum:
		return nil
	default:
		return fmt.Errorf("unsupported chain: %s", c)
	}
}

// SupportedChains lists every chain in sweep/poll order.
func SupportedChains() []Chain {
	return []Chain{ChainPolygon, ChainBSC, ChainEthereum}
}

// Asset is a token or native coin symbol.
type Asset string

// AssetNative selects a chain's native coin whatever its symbol.
const AssetNative Asset = "NATIVE"

func (a Asset) Normalize() Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(string(a))))
}

// TokenConfig describes an ERC-20 contract on one chain.
type TokenConfig struct {
	Symbol   Asset  `json:"symbol" mapstructure:"symbol"`
	Contract string `json:"contract" mapstructure:"contract"`
	Decimals int32  `json:"decimals" mapstructure:"decimals"`
	// Stable tokens are valued 1:1 in USD.
	Stable bool `json:"stable" mapstructure:"stable"`
}

// ChainConfig describes one network endpoint set.
type ChainConfig struct {
	Chain          Chain         `json:"chain"`
	ChainID        int64         `json:"chainId"`
	RPCURL         string        `json:"-"`
	NativeSymbol   Asset         `json:"nativeSymbol"`
	NativeDecimals int32         `json:"nativeDecimals"`
	Tokens         []TokenConfig `json:"tokens"`
}

// Token looks up a configured token by symbol.
func (c ChainConfig) Token(symbol Asset) (TokenConfig, bool) {
	symbol = symbol.Normalize()
	for _, t := range c.Tokens {
		if t.Symbol.Normalize() == symbol {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// AssetBalance is the result of a single balance read.
type AssetBalance struct {
	BalanceNative decimal.Decimal `json:"balanceNative"`
	BalanceUSD    decimal.Decimal `json:"balanceUsd"`
	Available     bool            `json:"available"`
	Err           error           `json:"-"`
}

// ChainBalanceSnapshot is one (address, chain, asset) observation.
type ChainBalanceSnapshot struct {
	Address      string          `json:"address"`
	Chain        Chain           `json:"chain"`
	Asset        Asset           `json:"asset"`
	IsNative     bool            `json:"isNative"`
	AmountNative decimal.Decimal `json:"amountNative"`
	AmountUSD    decimal.Decimal `json:"amountUsd"`
	// PriceUSD is the unit price AmountUSD was computed with. Zero when no price was needed.
	PriceUSD   decimal.Decimal `json:"priceUsd"`
	Available  bool            `json:"available"`
	Error      error           `json:"-"`
	ObservedAt time.Time       `json:"observedAt"`
}

// BalanceReading aggregates every snapshot for an address in one pass.
type BalanceReading struct {
	Address   string                 `json:"address"`
	Snapshots []ChainBalanceSnapshot `json:"snapshots"`
	// TotalUSD sums available snapshots only.
	TotalUSD decimal.Decimal `json:"totalUsd"`
	// Partial is set when at least one read was unavailable.
	Partial bool `json:"partial"`
}

// Unavailable returns the snapshots that could not be read.
func (r *BalanceReading) Unavailable() []ChainBalanceSnapshot {
	var out []ChainBalanceSnapshot
	for _, s := range r.Snapshots {
		if !s.Available {
			out = append(out, s)
		}
	}
	return out
}

// Chains returns the distinct chains in the reading, in snapshot order.
func (r *BalanceReading) Chains() []string {
	seen := make(map[Chain]bool)
	var out []string
	for _, s := range r.Snapshots {
		if !seen[s.Chain] {
			seen[s.Chain] = true
			out = append(out, string(s.Chain))
		}
	}
	return out
}

// TransferStatus is the on-chain state of a broadcast transfer.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)
