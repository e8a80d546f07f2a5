package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SweepOptions bounds one sweep invocation.
type SweepOptions struct {
	Chains        []Chain
	Tokens        []Asset
	IncludeNative bool
	// MinAmountUSD is the per-item floor. Nil takes the configured default; zero sweeps any
	// positive balance.
	MinAmountUSD *decimal.Decimal
	Limit        int
	Offset       int
}

type SweepItem struct {
	UserID       uuid.UUID       `json:"userId"`
	Address      string          `json:"address"`
	Chain        Chain           `json:"chain"`
	Asset        Asset           `json:"asset"`
	AmountNative decimal.Decimal `json:"amountNative"`
	AmountUSD    decimal.Decimal `json:"amountUsd"`
	TxRef        string          `json:"txRef"`
}

type SweepError struct {
	UserID  uuid.UUID `json:"userId"`
	Address string    `json:"address"`
	Chain   Chain     `json:"chain"`
	Asset   Asset     `json:"asset"`
	Reason  string    `json:"reason"`
}

// SweepSkip records an item left in place on purpose (unreadable or under the floor).
type SweepSkip struct {
	UserID    uuid.UUID       `json:"userId"`
	Address   string          `json:"address"`
	Chain     Chain           `json:"chain"`
	Asset     Asset           `json:"asset"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
	Reason    string          `json:"reason"`
}

// SweepResult summarises one BatchSweepDeposits call.
type SweepResult struct {
	HotWalletAddress string          `json:"hotWalletAddress"`
	Sweeps           []SweepItem     `json:"sweeps"`
	Errors           []SweepError    `json:"errors"`
	Skipped          []SweepSkip     `json:"skipped"`
	TotalSweptUSD    decimal.Decimal `json:"totalSweptUsd"`
	AddressesScanned int             `json:"addressesScanned"`
	StartedAt        time.Time       `json:"startedAt"`
	CompletedAt      time.Time       `json:"completedAt"`
}
