// Package deposit detects on-chain deposits to user addresses and credits them as internal units.
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/metrics"
	"github.com/luris-nation/wallet_service/pkg/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// BalanceReader reads balances and transfer states across chains.
type BalanceReader interface {
	ReadAll(ctx context.Context, address string, chains []entities.Chain, assets []entities.Asset) *entities.BalanceReading
	TransferStatus(ctx context.Context, chain entities.Chain, txRef string) (entities.TransferStatus, error)
}

// Issuer applies credits.
type Issuer interface {
	IssueDepositCredit(ctx context.Context, userID uuid.UUID, units int64, meta entities.CreditMetadata) (*entities.CreditResult, error)
}

// Locker serialises work per user. Implementations backed by the deposit ledger's database hold
// across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

// DetectorConfig selects what is watched.
type DetectorConfig struct {
	Chains []entities.Chain
	Assets []entities.Asset
}

// stalePendingAfter is how long a sweep may stay unconfirmed before each poll warns about it.
const stalePendingAfter = time.Hour

// Detector runs the per-user deposit state machine over DepositLedgerEntry.
type Detector struct {
	records   repositories.DerivationRepository
	store     repositories.DepositLedgerStore
	reader    BalanceReader
	issuer    Issuer
	converter *Converter
	locker    Locker
	cfg       DetectorConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewDetector(
	records repositories.DerivationRepository,
	store repositories.DepositLedgerStore,
	reader BalanceReader,
	issuer Issuer,
	converter *Converter,
	locker Locker,
	cfg DetectorConfig,
	log *logger.Logger,
) *Detector {
	return &Detector{
		records:   records,
		store:     store,
		reader:    reader,
		issuer:    issuer,
		converter: converter,
		locker:    locker,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Poll runs one detection cycle for userID.
func (d *Detector) Poll(ctx context.Context, userID uuid.UUID) (result *entities.PollResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "deposit.poll", attribute.String("user_id", userID.String()))
	defer func() {
		outcome := entities.PollOutcomeError
		if result != nil && err == nil {
			outcome = result.Outcome
			span.SetAttributes(attribute.String("outcome", string(outcome)))
		}
		metrics.DepositPollsTotal.WithLabelValues(string(outcome)).Inc()
		tracing.EndSpan(span, err)
	}()

	record, err := d.records.GetByUserID(ctx, userID)
	if err != nil {
		if errors.IsNotFound(err) {
			return &entities.PollResult{UserID: userID, Outcome: entities.PollOutcomeNoAddress}, nil
		}
		return nil, fmt.Errorf("failed to load derivation record: %w", err)
	}

	unlock, err := d.locker.Acquire(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	defer unlock()

	stored, err := d.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit ledger entry: %w", err)
	}
	entry := stored.Clone()
	result = &entities.PollResult{UserID: userID, PreviousUSD: stored.LastKnownBalanceUSD}

	reconciled, ok := d.reconcilePendingSweeps(ctx, entry)
	if !ok {
		result.Outcome = entities.PollOutcomeSkippedPartial
		return result, nil
	}
	if len(entry.PendingSweeps) > 0 {
		// A balance read is not ordered against a sweep confirming, so holdings are only compared
		// once every sweep has settled.
		result.Outcome = entities.PollOutcomeAwaitingSweep
		if reconciled {
			return result, d.commit(ctx, entry, result)
		}
		return result, nil
	}

	reading := d.reader.ReadAll(ctx, record.Address, d.cfg.Chains, d.cfg.Assets)
	if reading.Partial {
		for _, s := range reading.Unavailable() {
			d.logger.Warn("Skipping deposit detection on partial read",
				"user_id", userID,
				"chain", s.Chain,
				"asset", s.Asset,
				"error", s.Error)
		}
		result.Outcome = entities.PollOutcomeSkippedPartial
		if reconciled {
			return result, d.commit(ctx, entry, result)
		}
		return result, nil
	}
	result.ObservedUSD = reading.TotalUSD

	obs := observe(entry, reading)
	switch {
	case len(obs.unpriced) > 0:
		d.logger.Warn("Skipping deposit detection, no price for increased holding",
			"user_id", userID,
			"holdings", obs.unpriced)
		result.Outcome = entities.PollOutcomeSkippedPartial
		if reconciled {
			return result, d.commit(ctx, entry, result)
		}
		return result, nil

	case len(obs.increases) > 0:
		return d.credit(ctx, entry, reading, obs, result, reconciled)

	case len(obs.decreases) > 0:
		d.logger.Info("Deposit address holdings decreased",
			"user_id", userID,
			"previous_usd", entry.LastKnownBalanceUSD.String(),
			"observed_usd", reading.TotalUSD.String())
		result.Outcome = entities.PollOutcomeDecreased
		result.DeltaUSD = obs.decreaseUSD
		obs.applyDecreases(entry)
		entry.LastKnownBalanceUSD = reading.TotalUSD
		return result, d.commit(ctx, entry, result)

	default:
		// Price moves alone revalue holdings without crediting anything.
		result.Outcome = entities.PollOutcomeUnchanged
		if reconciled {
			entry.LastKnownBalanceUSD = reading.TotalUSD
			return result, d.commit(ctx, entry, result)
		}
		return result, nil
	}
}

func (d *Detector) credit(
	ctx context.Context,
	entry *entities.DepositLedgerEntry,
	reading *entities.BalanceReading,
	obs *observation,
	result *entities.PollResult,
	reconciled bool,
) (*entities.PollResult, error) {
	units := d.converter.Units(obs.increaseUSD)
	result.DeltaUSD = obs.increaseUSD
	result.Units = units

	if units == 0 {
		// Sub-unit dust stays uncredited until it adds up to a whole unit.
		result.Outcome = entities.PollOutcomeBelowUnit
		if len(obs.decreases) > 0 {
			obs.applyDecreases(entry)
			return result, d.commit(ctx, entry, result)
		}
		if reconciled {
			return result, d.commit(ctx, entry, result)
		}
		return result, nil
	}

	meta := entities.CreditMetadata{
		Source:             entities.CreditSourceCryptoDeposit,
		DedupKey:           entry.DepositDedupKey(),
		ObservedBalanceUSD: reading.TotalUSD,
		PreviousBalanceUSD: entry.LastKnownBalanceUSD,
		DeltaUSD:           obs.increaseUSD,
		Increases:          obs.increases,
		ConversionRate:     d.converter.Rate(),
		Chains:             reading.Chains(),
		ObservedAt:         d.now().UTC(),
	}

	credit, err := d.issuer.IssueDepositCredit(ctx, entry.UserID, units, meta)
	if err != nil {
		return nil, err
	}

	result.Transaction = credit.Transaction
	if credit.Duplicate {
		// A previous cycle posted this sequence but its entry write was lost. Apply what that
		// credit paid for on top of the current entry; anything beyond it is picked up next cycle.
		prior := credit.Transaction.Metadata
		increases := prior.Increases
		if len(increases) == 0 {
			increases = obs.increases
		}
		for key, qty := range increases {
			entry.AdjustHolding(key, qty)
		}
		entry.LastKnownBalanceUSD = entry.LastKnownBalanceUSD.Add(prior.DeltaUSD)
		result.Outcome = entities.PollOutcomeDuplicate
		result.Units = 0
	} else {
		obs.applyAll(entry)
		entry.LastKnownBalanceUSD = reading.TotalUSD
		result.Outcome = entities.PollOutcomeCredited
	}
	entry.Sequence++

	if err := d.commit(ctx, entry, result); err != nil {
		return nil, err
	}
	return result, nil
}

// observation compares a complete reading against the accounted holdings.
type observation struct {
	quantities  map[string]decimal.Decimal
	increases   map[string]decimal.Decimal
	decreases   map[string]decimal.Decimal
	increaseUSD decimal.Decimal
	decreaseUSD decimal.Decimal
	unpriced    []string
}

func observe(entry *entities.DepositLedgerEntry, reading *entities.BalanceReading) *observation {
	obs := &observation{
		quantities:  make(map[string]decimal.Decimal),
		increases:   make(map[string]decimal.Decimal),
		decreases:   make(map[string]decimal.Decimal),
		increaseUSD: decimal.Zero,
		decreaseUSD: decimal.Zero,
	}
	for _, snap := range reading.Snapshots {
		key := entities.HoldingKey(snap.Chain, snap.Asset)
		obs.quantities[key] = snap.AmountNative

		delta := snap.AmountNative.Sub(entry.Holding(key))
		switch delta.Sign() {
		case 1:
			if !snap.PriceUSD.IsPositive() {
				obs.unpriced = append(obs.unpriced, key)
				continue
			}
			obs.increases[key] = delta
			obs.increaseUSD = obs.increaseUSD.Add(delta.Mul(snap.PriceUSD))
		case -1:
			obs.decreases[key] = delta
			obs.decreaseUSD = obs.decreaseUSD.Add(delta.Mul(snap.PriceUSD))
		}
	}
	return obs
}

func (o *observation) applyDecreases(entry *entities.DepositLedgerEntry) {
	for key, delta := range o.decreases {
		entry.AdjustHolding(key, delta)
	}
}

func (o *observation) applyAll(entry *entities.DepositLedgerEntry) {
	o.applyDecreases(entry)
	for key, delta := range o.increases {
		entry.AdjustHolding(key, delta)
	}
}

// reconcilePendingSweeps drops settled sweeps from entry. A failed sweep returns its quantity to
// the holdings. ok is false when any status could not be determined.
func (d *Detector) reconcilePendingSweeps(ctx context.Context, entry *entities.DepositLedgerEntry) (changed bool, ok bool) {
	if len(entry.PendingSweeps) == 0 {
		return false, true
	}

	kept := entry.PendingSweeps[:0:0]
	for _, p := range entry.PendingSweeps {
		status, err := d.reader.TransferStatus(ctx, p.Chain, p.TxRef)
		if err != nil {
			d.logger.Warn("Pending sweep status unknown",
				"user_id", entry.UserID,
				"tx_ref", p.TxRef,
				"chain", p.Chain,
				"error", err)
			return false, false
		}

		switch status {
		case entities.TransferStatusConfirmed:
			changed = true
		case entities.TransferStatusFailed:
			d.logger.Warn("Sweep transfer failed on chain, restoring holdings",
				"user_id", entry.UserID,
				"tx_ref", p.TxRef,
				"asset", p.Asset,
				"amount", p.AmountNative.String())
			entry.AdjustHolding(p.HoldingKey(), p.AmountNative)
			entry.LastKnownBalanceUSD = entry.LastKnownBalanceUSD.Add(p.AmountUSD)
			changed = true
		default:
			if age := d.now().Sub(p.CreatedAt); !p.CreatedAt.IsZero() && age > stalePendingAfter {
				d.logger.Warn("Sweep transfer still unconfirmed, deposits held back",
					"user_id", entry.UserID,
					"tx_ref", p.TxRef,
					"chain", p.Chain,
					"age", age)
			}
			kept = append(kept, p)
		}
	}
	entry.PendingSweeps = kept
	return changed, true
}

// commit writes entry back. Losing the race to another writer is not an error: the other write
// stands and the next cycle starts from it.
func (d *Detector) commit(ctx context.Context, entry *entities.DepositLedgerEntry, result *entities.PollResult) error {
	entry.UpdatedAt = d.now().UTC()
	err := d.store.Set(ctx, entry)
	if errors.IsConflict(err) {
		d.logger.Warn("Deposit ledger entry changed during poll",
			"user_id", entry.UserID,
			"outcome", result.Outcome)
		result.Outcome = entities.PollOutcomeConflict
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save deposit ledger entry: %w", err)
	}
	return nil
}
