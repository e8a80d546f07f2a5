package deposit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/metrics"
)

// CreditAuditor receives applied deposit credits.
type CreditAuditor interface {
	DepositCredited(userID uuid.UUID, tx *entities.WalletTransaction)
}

// CreditIssuer applies idempotent deposit credits through the wallet ledger.
type CreditIssuer struct {
	ledger repositories.WalletLedger
	audit  CreditAuditor
	logger *logger.Logger
}

func NewCreditIssuer(ledger repositories.WalletLedger, audit CreditAuditor, log *logger.Logger) *CreditIssuer {
	return &CreditIssuer{ledger: ledger, audit: audit, logger: log}
}

// IssueDepositCredit credits units to the user. A repeated meta.DedupKey returns the original
// transaction with Duplicate set and moves nothing.
func (s *CreditIssuer) IssueDepositCredit(ctx context.Context, userID uuid.UUID, units int64, meta entities.CreditMetadata) (*entities.CreditResult, error) {
	if units <= 0 {
		return nil, errors.ValidationError("units", "units must be positive")
	}
	if meta.DedupKey == "" {
		return nil, errors.ValidationError("dedup_key", "dedup key is required")
	}
	if meta.Source == "" {
		meta.Source = entities.CreditSourceCryptoDeposit
	}
	if err := meta.Source.Validate(); err != nil {
		return nil, errors.ValidationError("source", err.Error())
	}
	meta.Version = entities.CreditMetadataVersion

	res, err := s.ledger.AddFunds(ctx, entities.WalletPosting{
		UserID:        userID,
		Amount:        units,
		Description:   fmt.Sprintf("Crypto deposit of $%s", meta.DeltaUSD.StringFixed(2)),
		PaymentMethod: entities.PaymentMethodCrypto,
		DedupKey:      meta.DedupKey,
		Metadata:      meta,
	})
	if err != nil {
		s.logger.Error("Deposit credit failed",
			"user_id", userID,
			"dedup_key", meta.DedupKey,
			"units", units,
			"error", err)
		return nil, errors.LedgerError("add_funds", err)
	}

	metrics.CreditsIssuedTotal.WithLabelValues(string(meta.Source), fmt.Sprintf("%t", res.Duplicate)).Inc()

	if res.Duplicate {
		s.logger.Info("Deposit credit already applied",
			"user_id", userID,
			"dedup_key", meta.DedupKey,
			"transaction_id", res.Transaction.ID)
	} else {
		metrics.CreditedUnitsTotal.Add(float64(units))
		s.logger.Info("Deposit credited",
			"user_id", userID,
			"dedup_key", meta.DedupKey,
			"units", units,
			"delta_usd", meta.DeltaUSD.String(),
			"transaction_id", res.Transaction.ID)
		if s.audit != nil {
			s.audit.DepositCredited(userID, res.Transaction)
		}
	}

	return &entities.CreditResult{
		Wallet:      res.Wallet,
		Transaction: res.Transaction,
		Duplicate:   res.Duplicate,
	}, nil
}
