package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/infrastructure/database"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

const walletTransactionColumns = `id, user_id, type, amount, description, payment_method, status, dedup_key, metadata, created_at`

// errDedupRace signals a unique violation on dedup_key inside the posting transaction.
var errDedupRace = errors.New("dedup key inserted concurrently")

// WalletRepository is the PostgreSQL wallet ledger. Postings lock the wallet row, so all
// movements for one user are serialised.
type WalletRepository struct {
	db       *sqlx.DB
	currency string
	logger   *logger.Logger
}

func NewWalletRepository(db *sqlx.DB, currency string, logger *logger.Logger) *WalletRepository {
	if currency == "" {
		currency = entities.DefaultCurrency
	}
	return &WalletRepository{db: db, currency: currency, logger: logger}
}

func (r *WalletRepository) AddFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error) {
	return r.post(ctx, posting, entities.WalletTransactionCredit)
}

func (r *WalletRepository) DeductFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error) {
	return r.post(ctx, posting, entities.WalletTransactionDebit)
}

func (r *WalletRepository) post(ctx context.Context, posting entities.WalletPosting, kind entities.WalletTransactionType) (*entities.PostingResult, error) {
	if posting.Amount <= 0 {
		return nil, domainerrors.ValidationError("amount", "amount must be positive")
	}

	var result *entities.PostingResult
	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		wallet, err := r.lockWallet(ctx, tx, posting.UserID)
		if err != nil {
			return err
		}

		if posting.DedupKey != "" {
			existing, err := r.transactionByDedupKey(ctx, tx, posting.DedupKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result = &entities.PostingResult{Wallet: wallet, Transaction: existing, Duplicate: true}
				return nil
			}
		}

		delta := posting.Amount
		if kind == entities.WalletTransactionDebit {
			if wallet.Balance < posting.Amount {
				return domainerrors.ConflictError("wallet", "insufficient balance")
			}
			delta = -posting.Amount
		}

		now := time.Now().UTC()
		if err := tx.GetContext(ctx, wallet, `
			UPDATE wallets SET balance = balance + $2, updated_at = $3
			WHERE user_id = $1
			RETURNING user_id, balance, currency, updated_at`,
			posting.UserID, delta, now); err != nil {
			return fmt.Errorf("failed to update wallet balance: %w", err)
		}

		txn := &entities.WalletTransaction{
			ID:            uuid.New(),
			UserID:        posting.UserID,
			Type:          kind,
			Amount:        posting.Amount,
			Description:   posting.Description,
			PaymentMethod: posting.PaymentMethod,
			Status:        entities.WalletTransactionCompleted,
			Metadata:      posting.Metadata,
			CreatedAt:     now,
		}
		if posting.DedupKey != "" {
			key := posting.DedupKey
			txn.DedupKey = &key
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO wallet_transactions (`+walletTransactionColumns+`)
			VALUES (:id, :user_id, :type, :amount, :description, :payment_method, :status, :dedup_key, :metadata, :created_at)`, txn)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return errDedupRace
			}
			return fmt.Errorf("failed to insert wallet transaction: %w", err)
		}

		result = &entities.PostingResult{Wallet: wallet, Transaction: txn}
		return nil
	})

	if errors.Is(err, errDedupRace) {
		r.logger.Warn("Dedup key raced, returning original posting", "dedup_key", posting.DedupKey)
		return r.duplicateResult(ctx, posting)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *WalletRepository) lockWallet(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*entities.Wallet, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID, r.currency); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var wallet entities.Wallet
	if err := tx.GetContext(ctx, &wallet,
		`SELECT user_id, balance, currency, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *WalletRepository) transactionByDedupKey(ctx context.Context, q sqlx.QueryerContext, key string) (*entities.WalletTransaction, error) {
	var txn entities.WalletTransaction
	err := sqlx.GetContext(ctx, q, &txn, `SELECT `+walletTransactionColumns+` FROM wallet_transactions WHERE dedup_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up dedup key: %w", err)
	}
	return &txn, nil
}

func (r *WalletRepository) duplicateResult(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error) {
	txn, err := r.transactionByDedupKey(ctx, r.db, posting.DedupKey)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domainerrors.InternalError("dedup key conflict without a stored posting", nil)
	}
	wallet, err := r.GetWallet(ctx, posting.UserID)
	if err != nil {
		return nil, err
	}
	return &entities.PostingResult{Wallet: wallet, Transaction: txn, Duplicate: true}, nil
}

// GetWallet returns a zero-balance wallet for users who have never been credited.
func (r *WalletRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	var wallet entities.Wallet
	err := r.db.GetContext(ctx, &wallet, `SELECT user_id, balance, currency, updated_at FROM wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &entities.Wallet{UserID: userID, Currency: r.currency}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}
