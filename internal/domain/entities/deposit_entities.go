package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldingKey names one (chain, asset) position in a DepositLedgerEntry.
func HoldingKey(chain Chain, asset Asset) string {
	return string(chain) + ":" + string(asset.Normalize())
}

// PendingSweep is a sweep transfer broadcast from a deposit address but not yet confirmed.
type PendingSweep struct {
	TxRef        string          `json:"txRef"`
	Chain        Chain           `json:"chain"`
	Asset        Asset           `json:"asset"`
	AmountNative decimal.Decimal `json:"amountNative"`
	AmountUSD    decimal.Decimal `json:"amountUsd"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// HoldingKey returns the position the sweep drew from.
func (p PendingSweep) HoldingKey() string {
	return HoldingKey(p.Chain, p.Asset)
}

// DepositLedgerEntry is the detector's memory of the last credited on-chain holdings for a user.
// It is not the source of truth for the user's currency balance.
type DepositLedgerEntry struct {
	UserID uuid.UUID `json:"userId" db:"user_id"`
	// Holdings maps HoldingKey to the last accounted quantity in the asset's own units. Only
	// quantity increases are credited, so price moves never mint currency.
	Holdings map[string]decimal.Decimal `json:"holdings" db:"-"`
	// LastKnownBalanceUSD values Holdings at the prices of the last committed observation.
	LastKnownBalanceUSD decimal.Decimal `json:"lastKnownBalanceUsd" db:"last_known_balance_usd"`
	// Sequence counts posted deposit credits and keys the next one. Only the detector advances it.
	Sequence int64 `json:"sequence" db:"sequence"`
	// Version counts writes. Stores refuse a Set whose Version differs from the stored one.
	Version       int64          `json:"version" db:"version"`
	PendingSweeps []PendingSweep `json:"pendingSweeps" db:"-"`
	UpdatedAt     time.Time      `json:"updatedAt" db:"updated_at"`
}

// NewDepositLedgerEntry returns the zero state for a user never seen before.
func NewDepositLedgerEntry(userID uuid.UUID) *DepositLedgerEntry {
	return &DepositLedgerEntry{
		UserID:              userID,
		Holdings:            make(map[string]decimal.Decimal),
		LastKnownBalanceUSD: decimal.Zero,
	}
}

// Holding returns the accounted quantity for key, zero when never seen.
func (e *DepositLedgerEntry) Holding(key string) decimal.Decimal {
	if q, ok := e.Holdings[key]; ok {
		return q
	}
	return decimal.Zero
}

// AdjustHolding adds delta to the quantity held under key.
func (e *DepositLedgerEntry) AdjustHolding(key string, delta decimal.Decimal) {
	if e.Holdings == nil {
		e.Holdings = make(map[string]decimal.Decimal)
	}
	e.Holdings[key] = e.Holding(key).Add(delta)
}

// PendingTotalUSD sums the unconfirmed sweeps.
func (e *DepositLedgerEntry) PendingTotalUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range e.PendingSweeps {
		total = total.Add(p.AmountUSD)
	}
	return total
}

// DepositDedupKey is the idempotency key of the next deposit credit for this entry.
func (e *DepositLedgerEntry) DepositDedupKey() string {
	return DepositDedupKey(e.UserID, e.Sequence)
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (e *DepositLedgerEntry) Clone() *DepositLedgerEntry {
	c := *e
	c.Holdings = make(map[string]decimal.Decimal, len(e.Holdings))
	for k, v := range e.Holdings {
		c.Holdings[k] = v
	}
	if e.PendingSweeps != nil {
		c.PendingSweeps = append([]PendingSweep(nil), e.PendingSweeps...)
	}
	return &c
}

func DepositDedupKey(userID uuid.UUID, sequence int64) string {
	return fmt.Sprintf("%s:%s:%d", CreditSourceCryptoDeposit, userID, sequence)
}

// PollOutcome classifies one detection poll.
type PollOutcome string

const (
	PollOutcomeCredited       PollOutcome = "credited"
	PollOutcomeDuplicate      PollOutcome = "duplicate"
	PollOutcomeBelowUnit      PollOutcome = "below_unit"
	PollOutcomeDecreased      PollOutcome = "decreased"
	PollOutcomeUnchanged      PollOutcome = "unchanged"
	PollOutcomeAwaitingSweep  PollOutcome = "awaiting_sweep"
	PollOutcomeSkippedPartial PollOutcome = "skipped_partial"
	PollOutcomeConflict       PollOutcome = "conflict"
	PollOutcomeNoAddress      PollOutcome = "no_address"
	PollOutcomeError          PollOutcome = "error"
)

// PollResult reports what a detection poll did for one user.
type PollResult struct {
	UserID      uuid.UUID          `json:"userId"`
	Outcome     PollOutcome        `json:"outcome"`
	ObservedUSD decimal.Decimal    `json:"observedUsd"`
	PreviousUSD decimal.Decimal    `json:"previousUsd"`
	DeltaUSD    decimal.Decimal    `json:"deltaUsd"`
	Units       int64              `json:"units"`
	Transaction *WalletTransaction `json:"transaction,omitempty"`
}
