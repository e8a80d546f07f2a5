package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/infrastructure/database"
)

// derivationLockKey is the pg advisory lock guarding index allocation.
const derivationLockKey int64 = 0x68647761 // "hdwa"

const derivationColumns = `user_id, derivation_index, derivation_path, address, created_at`

// DerivationRepository stores HD derivation records in PostgreSQL
type DerivationRepository struct {
	db *sqlx.DB
}

func NewDerivationRepository(db *sqlx.DB) *DerivationRepository {
	return &DerivationRepository{db: db}
}

func (r *DerivationRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.DerivationRecord, error) {
	var rec entities.DerivationRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+derivationColumns+` FROM hd_derivation_records WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundError("DERIVATION_RECORD")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get derivation record: %w", err)
	}
	return &rec, nil
}

// Allocate serialises index selection across processes with a transaction-scoped advisory lock.
func (r *DerivationRepository) Allocate(ctx context.Context, userID uuid.UUID, build func(index uint32) (*entities.DerivationRecord, error)) (*entities.DerivationRecord, error) {
	var result *entities.DerivationRecord

	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, derivationLockKey); err != nil {
			return fmt.Errorf("failed to acquire allocation lock: %w", err)
		}

		var existing entities.DerivationRecord
		err := tx.GetContext(ctx, &existing, `SELECT `+derivationColumns+` FROM hd_derivation_records WHERE user_id = $1`, userID)
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check existing derivation record: %w", err)
		}

		var next int64
		if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(derivation_index) + 1, 0) FROM hd_derivation_records`); err != nil {
			return fmt.Errorf("failed to compute next derivation index: %w", err)
		}
		if next > math.MaxInt32 {
			return domainerrors.InternalError("derivation index space exhausted", nil)
		}

		rec, err := build(uint32(next))
		if err != nil {
			return err
		}
		if rec.Index != uint32(next) || rec.UserID != userID {
			return domainerrors.InternalError("derivation record does not match allocation", nil)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO hd_derivation_records (user_id, derivation_index, derivation_path, address, created_at)
			VALUES (:user_id, :derivation_index, :derivation_path, :address, :created_at)`, rec)
		if err != nil {
			return fmt.Errorf("failed to insert derivation record: %w", err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *DerivationRepository) List(ctx context.Context, limit, offset int) ([]*entities.DerivationRecord, error) {
	records := []*entities.DerivationRecord{}
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+derivationColumns+` FROM hd_derivation_records ORDER BY derivation_index LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list derivation records: %w", err)
	}
	return records, nil
}

func (r *DerivationRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM hd_derivation_records`); err != nil {
		return 0, fmt.Errorf("failed to count derivation records: %w", err)
	}
	return n, nil
}
