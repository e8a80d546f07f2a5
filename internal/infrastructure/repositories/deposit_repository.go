package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
)

type depositLedgerRow struct {
	UserID              uuid.UUID       `db:"user_id"`
	LastKnownBalanceUSD decimal.Decimal `db:"last_known_balance_usd"`
	Holdings            []byte          `db:"holdings"`
	Sequence            int64           `db:"sequence"`
	Version             int64           `db:"version"`
	PendingSweeps       []byte          `db:"pending_sweeps"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// DepositLedgerRepository persists detector state in the deposit_ledger table
type DepositLedgerRepository struct {
	db *sqlx.DB
}

func NewDepositLedgerRepository(db *sqlx.DB) *DepositLedgerRepository {
	return &DepositLedgerRepository{db: db}
}

func (r *DepositLedgerRepository) Get(ctx context.Context, userID uuid.UUID) (*entities.DepositLedgerEntry, error) {
	var row depositLedgerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, last_known_balance_usd, holdings, sequence, version, pending_sweeps, updated_at
		FROM deposit_ledger WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.NewDepositLedgerEntry(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit ledger entry: %w", err)
	}

	entry := &entities.DepositLedgerEntry{
		UserID:              row.UserID,
		Holdings:            make(map[string]decimal.Decimal),
		LastKnownBalanceUSD: row.LastKnownBalanceUSD,
		Sequence:            row.Sequence,
		Version:             row.Version,
		UpdatedAt:           row.UpdatedAt,
	}
	if len(row.Holdings) > 0 {
		if err := json.Unmarshal(row.Holdings, &entry.Holdings); err != nil {
			return nil, fmt.Errorf("failed to decode holdings: %w", err)
		}
	}
	if len(row.PendingSweeps) > 0 {
		if err := json.Unmarshal(row.PendingSweeps, &entry.PendingSweeps); err != nil {
			return nil, fmt.Errorf("failed to decode pending sweeps: %w", err)
		}
	}
	return entry, nil
}

// Set writes entry only if the stored version still equals entry.Version, then bumps
// entry.Version. A lost race returns a conflict error and writes nothing.
func (r *DepositLedgerRepository) Set(ctx context.Context, entry *entities.DepositLedgerEntry) error {
	holdings := entry.Holdings
	if holdings == nil {
		holdings = map[string]decimal.Decimal{}
	}
	rawHoldings, err := json.Marshal(holdings)
	if err != nil {
		return fmt.Errorf("failed to encode holdings: %w", err)
	}
	pending := entry.PendingSweeps
	if pending == nil {
		pending = []entities.PendingSweep{}
	}
	rawPending, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending sweeps: %w", err)
	}

	var res sql.Result
	if entry.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO deposit_ledger (user_id, last_known_balance_usd, holdings, sequence, version, pending_sweeps, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			ON CONFLICT (user_id) DO NOTHING`,
			entry.UserID, entry.LastKnownBalanceUSD, rawHoldings, entry.Sequence, rawPending, entry.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE deposit_ledger SET
				last_known_balance_usd = $2,
				holdings = $3,
				sequence = $4,
				version = version + 1,
				pending_sweeps = $5,
				updated_at = $6
			WHERE user_id = $1 AND version = $7`,
			entry.UserID, entry.LastKnownBalanceUSD, rawHoldings, entry.Sequence, rawPending, entry.UpdatedAt, entry.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save deposit ledger entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save deposit ledger entry: %w", err)
	}
	if n == 0 {
		return domainerrors.ConflictError("deposit ledger entry", fmt.Sprintf("version %d is no longer current", entry.Version))
	}
	entry.Version++
	return nil
}
