// Package sweep moves deposited funds from derived user addresses to the custody hot wallet.
package sweep

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/internal/domain/services/chainbalance"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/metrics"
	"github.com/luris-nation/wallet_service/pkg/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	hotWalletSetting = "hdwallet.hot_wallet_address"
	defaultBatchSize = 100

	// recordAttempts bounds retries when the deposit ledger entry changes under recordPending.
	recordAttempts = 3

	skipReasonUnavailable = "balance unavailable"
	skipReasonNoGas       = "balance does not cover network fee"
)

// KeyDeriver yields signing keys for derivation indices.
type KeyDeriver interface {
	DerivePrivateKey(index uint32) (*ecdsa.PrivateKey, error)
}

// BalanceReader is the slice of chainbalance.Reader the orchestrator uses.
type BalanceReader interface {
	ReadAll(ctx context.Context, address string, chains []entities.Chain, assets []entities.Asset) *entities.BalanceReading
	Registry() *chainbalance.Registry
}

// Locker serialises work per user with the deposit detector.
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

type Auditor interface {
	SweepCompleted(result *entities.SweepResult)
}

// Config carries defaults applied to unset SweepOptions fields.
type Config struct {
	MinAmountUSD decimal.Decimal
	BatchSize    int
}

type Orchestrator struct {
	records repositories.DerivationRepository
	store   repositories.DepositLedgerStore
	reader  BalanceReader
	deriver KeyDeriver
	locker  Locker
	audit   Auditor
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time
}

func NewOrchestrator(
	records repositories.DerivationRepository,
	store repositories.DepositLedgerStore,
	reader BalanceReader,
	deriver KeyDeriver,
	locker Locker,
	audit Auditor,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Orchestrator{
		records: records,
		store:   store,
		reader:  reader,
		deriver: deriver,
		locker:  locker,
		audit:   audit,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
}

// ValidateHotWallet reports a ConfigurationError unless addr is a non-zero hex address.
func ValidateHotWallet(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.ConfigurationError(hotWalletSetting, "hot wallet address is not set")
	}
	if !common.IsHexAddress(addr) {
		return errors.ConfigurationError(hotWalletSetting, "hot wallet address is not a valid hex address")
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return errors.ConfigurationError(hotWalletSetting, "hot wallet address is the zero address")
	}
	return nil
}

// BatchSweepDeposits sweeps every derived address in the batch selected by opts to hotWalletAddress.
// Each transfer is independent: failures land in Errors, unreadable or small balances in Skipped.
// Empty opts.Tokens means every configured token plus the native coin.
func (o *Orchestrator) BatchSweepDeposits(ctx context.Context, hotWalletAddress string, opts entities.SweepOptions) (result *entities.SweepResult, err error) {
	if err := ValidateHotWallet(hotWalletAddress); err != nil {
		return nil, err
	}
	hot := common.HexToAddress(hotWalletAddress).Hex()
	opts = o.withDefaults(opts)

	ctx, span := tracing.StartSpan(ctx, "sweep.batch",
		attribute.String("hot_wallet", hot),
		attribute.Int("limit", opts.Limit),
		attribute.Int("offset", opts.Offset))
	defer func() { tracing.EndSpan(span, err) }()

	records, err := o.records.List(ctx, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list derivation records: %w", err)
	}

	result = &entities.SweepResult{
		HotWalletAddress: hot,
		Sweeps:           []entities.SweepItem{},
		Errors:           []entities.SweepError{},
		Skipped:          []entities.SweepSkip{},
		TotalSweptUSD:    decimal.Zero,
		StartedAt:        o.now().UTC(),
	}

	o.logger.Info("Sweep started",
		"hot_wallet", hot,
		"addresses", len(records),
		"offset", opts.Offset,
		"min_amount_usd", opts.MinAmountUSD.String())

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if strings.EqualFold(rec.Address, hot) {
			continue
		}
		result.AddressesScanned++
		o.sweepRecord(ctx, rec, hot, opts, result)
	}

	for _, s := range result.Sweeps {
		result.TotalSweptUSD = result.TotalSweptUSD.Add(s.AmountUSD)
	}
	result.CompletedAt = o.now().UTC()

	o.logger.Info("Sweep completed",
		"hot_wallet", hot,
		"swept", len(result.Sweeps),
		"errors", len(result.Errors),
		"skipped", len(result.Skipped),
		"total_swept_usd", result.TotalSweptUSD.String(),
		"duration", result.CompletedAt.Sub(result.StartedAt))

	if o.audit != nil {
		o.audit.SweepCompleted(result)
	}
	return result, ctx.Err()
}

func (o *Orchestrator) withDefaults(opts entities.SweepOptions) entities.SweepOptions {
	if opts.Limit <= 0 {
		opts.Limit = o.cfg.BatchSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.MinAmountUSD == nil {
		floor := o.cfg.MinAmountUSD
		opts.MinAmountUSD = &floor
	}
	if len(opts.Chains) == 0 {
		opts.Chains = o.reader.Registry().Chains()
	}
	return opts
}

// sweepRecord holds the user lock from balance read to ledger update so the detector never sees a
// transfer that has not been recorded as pending.
func (o *Orchestrator) sweepRecord(ctx context.Context, rec *entities.DerivationRecord, hot string, opts entities.SweepOptions, result *entities.SweepResult) {
	unlock, err := o.locker.Acquire(ctx, rec.UserID.String())
	if err != nil {
		o.failRecord(result, rec, fmt.Errorf("lock user: %w", err))
		return
	}
	defer unlock()

	assets := opts.Tokens
	if len(assets) > 0 && opts.IncludeNative {
		assets = append(append([]entities.Asset(nil), assets...), entities.AssetNative)
	}
	reading := o.reader.ReadAll(ctx, rec.Address, opts.Chains, assets)

	var key *ecdsa.PrivateKey
	var pending []entities.PendingSweep

	// Tokens first: a native sweep would leave no gas for token transfers.
	for _, pass := range []bool{false, true} {
		for _, snap := range reading.Snapshots {
			if snap.IsNative != pass {
				continue
			}
			if !snap.Available {
				o.skip(result, rec, snap, skipReasonUnavailable)
				continue
			}
			if !snap.AmountNative.IsPositive() {
				continue
			}
			if snap.AmountUSD.LessThan(*opts.MinAmountUSD) {
				o.skip(result, rec, snap, errors.InsufficientAmountError(snap.AmountUSD.StringFixed(2), opts.MinAmountUSD.String()).Error())
				continue
			}

			if key == nil {
				k, err := o.signingKey(rec)
				if err != nil {
					o.fail(result, rec, snap, err)
					return
				}
				key = k
			}

			item, err := o.transfer(ctx, rec, snap, key, hot)
			if err != nil {
				if errors.IsInsufficientAmount(err) {
					o.skip(result, rec, snap, skipReasonNoGas)
					continue
				}
				o.fail(result, rec, snap, err)
				continue
			}

			result.Sweeps = append(result.Sweeps, *item)
			metrics.SweepItemsTotal.WithLabelValues(string(snap.Chain), string(snap.Asset), "swept").Inc()
			metrics.SweptUSDTotal.WithLabelValues(string(snap.Chain)).Add(item.AmountUSD.InexactFloat64())
			pending = append(pending, entities.PendingSweep{
				TxRef:        item.TxRef,
				Chain:        item.Chain,
				Asset:        item.Asset,
				AmountNative: item.AmountNative,
				AmountUSD:    item.AmountUSD,
				CreatedAt:    o.now().UTC(),
			})
		}
	}

	if len(pending) > 0 {
		o.recordPending(ctx, rec, pending)
	}
}

func (o *Orchestrator) signingKey(rec *entities.DerivationRecord) (*ecdsa.PrivateKey, error) {
	key, err := o.deriver.DerivePrivateKey(rec.Index)
	if err != nil {
		return nil, fmt.Errorf("derive key for index %d: %w", rec.Index, err)
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey).Hex(); !strings.EqualFold(derived, rec.Address) {
		return nil, errors.ConfigurationError("hdwallet.master_seed",
			fmt.Sprintf("index %d derives %s, record holds %s", rec.Index, derived, rec.Address))
	}
	return key, nil
}

func (o *Orchestrator) transfer(ctx context.Context, rec *entities.DerivationRecord, snap entities.ChainBalanceSnapshot, key *ecdsa.PrivateKey, hot string) (*entities.SweepItem, error) {
	client, err := o.reader.Registry().Get(snap.Chain)
	if err != nil {
		return nil, errors.TransferError(string(snap.Chain), string(snap.Asset), err)
	}
	cfg := client.Config

	req := chainbalance.TransferRequest{PrivateKey: key, To: hot}
	amountNative := snap.AmountNative
	amountUSD := snap.AmountUSD

	if snap.IsNative {
		fee, err := client.RPC.NativeTransferFee(ctx)
		if err != nil {
			return nil, errors.TransferError(string(snap.Chain), string(snap.Asset), fmt.Errorf("estimate fee: %w", err))
		}
		balance := chainbalance.ToBaseUnits(snap.AmountNative, cfg.NativeDecimals)
		send := new(big.Int).Sub(balance, fee)
		if send.Sign() <= 0 {
			return nil, errors.InsufficientAmountError(snap.AmountUSD.StringFixed(2), "fee")
		}
		req.Amount = send
		amountNative = decimal.NewFromBigInt(send, -cfg.NativeDecimals)
		amountUSD = snap.AmountUSD.Mul(amountNative).Div(snap.AmountNative)
	} else {
		tok, ok := cfg.Token(snap.Asset)
		if !ok {
			return nil, errors.TransferError(string(snap.Chain), string(snap.Asset), fmt.Errorf("token not configured"))
		}
		req.Contract = tok.Contract
		req.Amount = chainbalance.ToBaseUnits(snap.AmountNative, tok.Decimals)
	}

	txRef, err := client.RPC.Transfer(ctx, req)
	if err != nil {
		return nil, errors.TransferError(string(snap.Chain), string(snap.Asset), err)
	}

	o.logger.Info("Swept deposit",
		"user_id", rec.UserID,
		"chain", snap.Chain,
		"asset", snap.Asset,
		"amount", amountNative.String(),
		"amount_usd", amountUSD.String(),
		"tx_ref", txRef)

	return &entities.SweepItem{
		UserID:       rec.UserID,
		Address:      rec.Address,
		Chain:        snap.Chain,
		Asset:        snap.Asset,
		AmountNative: amountNative,
		AmountUSD:    amountUSD,
		TxRef:        txRef,
	}, nil
}

// recordPending lowers the detector's holdings by the swept quantities. They are not clamped at
// zero: a deposit swept before it was credited must still be credited later. The credit sequence is
// left alone so a credit whose entry write was lost still replays under its original key.
func (o *Orchestrator) recordPending(ctx context.Context, rec *entities.DerivationRecord, pending []entities.PendingSweep) {
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		var entry *entities.DepositLedgerEntry
		entry, err = o.store.Get(ctx, rec.UserID)
		if err != nil {
			break
		}
		for _, p := range pending {
			entry.AdjustHolding(p.HoldingKey(), p.AmountNative.Neg())
			entry.LastKnownBalanceUSD = entry.LastKnownBalanceUSD.Sub(p.AmountUSD)
			entry.PendingSweeps = append(entry.PendingSweeps, p)
		}
		entry.UpdatedAt = o.now().UTC()
		err = o.store.Set(ctx, entry)
		if !errors.IsConflict(err) {
			break
		}
		o.logger.Warn("Deposit ledger entry changed while recording sweeps, retrying",
			"user_id", rec.UserID,
			"attempt", attempt)
	}
	if err != nil {
		refs := make([]string, 0, len(pending))
		for _, p := range pending {
			refs = append(refs, p.TxRef)
		}
		o.logger.Error("Failed to record pending sweeps, deposit ledger needs manual reconciliation",
			"user_id", rec.UserID,
			"tx_refs", refs,
			"error", err)
	}
}

func (o *Orchestrator) skip(result *entities.SweepResult, rec *entities.DerivationRecord, snap entities.ChainBalanceSnapshot, reason string) {
	metrics.SweepItemsTotal.WithLabelValues(string(snap.Chain), string(snap.Asset), "skipped").Inc()
	result.Skipped = append(result.Skipped, entities.SweepSkip{
		UserID:    rec.UserID,
		Address:   rec.Address,
		Chain:     snap.Chain,
		Asset:     snap.Asset,
		AmountUSD: snap.AmountUSD,
		Reason:    reason,
	})
}

func (o *Orchestrator) failRecord(result *entities.SweepResult, rec *entities.DerivationRecord, err error) {
	o.logger.Error("Sweep skipped address",
		"user_id", rec.UserID,
		"address", rec.Address,
		"error", err)
	result.Errors = append(result.Errors, entities.SweepError{
		UserID:  rec.UserID,
		Address: rec.Address,
		Reason:  err.Error(),
	})
}

func (o *Orchestrator) fail(result *entities.SweepResult, rec *entities.DerivationRecord, snap entities.ChainBalanceSnapshot, err error) {
	metrics.SweepItemsTotal.WithLabelValues(string(snap.Chain), string(snap.Asset), "failed").Inc()
	o.logger.Error("Sweep transfer failed",
		"user_id", rec.UserID,
		"chain", snap.Chain,
		"asset", snap.Asset,
		"error", err)
	result.Errors = append(result.Errors, entities.SweepError{
		UserID:  rec.UserID,
		Address: rec.Address,
		Chain:   snap.Chain,
		Asset:   snap.Asset,
		Reason:  err.Error(),
	})
}
