package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var derivationCols = []string{"user_id", "derivation_index", "derivation_path", "address", "created_at"}

func TestDerivationRepository_AllocateNextIndex(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDerivationRepository(db)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(derivationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM hd_derivation_records WHERE user_id`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(derivationCols))
	mock.ExpectQuery(regexp.QuoteMeta(`COALESCE(MAX(derivation_index) + 1, 0)`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectExec(`INSERT INTO hd_derivation_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var built uint32
	rec, err := repo.Allocate(context.Background(), userID, func(index uint32) (*entities.DerivationRecord, error) {
		built = index
		return &entities.DerivationRecord{
			UserID:    userID,
			Index:     index,
			Path:      entities.DerivationPath(index),
			Address:   "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
			CreatedAt: time.Now().UTC(),
		}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, uint32(3), built)
	assert.Equal(t, uint32(3), rec.Index)
	assert.Equal(t, "m/44'/60'/0'/0/3", rec.Path)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDerivationRepository_AllocateReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDerivationRepository(db)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM hd_derivation_records WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(derivationCols).
			AddRow(userID.String(), int64(7), "m/44'/60'/0'/0/7", "0xabc", time.Now()))
	mock.ExpectCommit()

	rec, err := repo.Allocate(context.Background(), userID, func(uint32) (*entities.DerivationRecord, error) {
		t.Fatal("build must not run for an existing user")
		return nil, nil
	})

	require.NoError(t, err)
	assert.Equal(t, uint32(7), rec.Index)
	assert.Equal(t, userID, rec.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDerivationRepository_GetByUserIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDerivationRepository(db)

	mock.ExpectQuery(`FROM hd_derivation_records WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(derivationCols))

	_, err := repo.GetByUserID(context.Background(), uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))
}

var depositLedgerCols = []string{"user_id", "last_known_balance_usd", "holdings", "sequence", "version", "pending_sweeps", "updated_at"}

func TestDepositLedgerRepository_GetUnknownUserReturnsZeroEntry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDepositLedgerRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`FROM deposit_ledger WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(depositLedgerCols))

	entry, err := repo.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, entry.UserID)
	assert.True(t, entry.LastKnownBalanceUSD.IsZero())
	assert.Equal(t, int64(0), entry.Sequence)
	assert.Equal(t, int64(0), entry.Version)
}

func TestDepositLedgerRepository_GetDecodesState(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDepositLedgerRepository(db)
	userID := uuid.New()

	holdings := `{"polygon:USDT":"15.5","polygon:MATIC":"2"}`
	pending := `[{"txRef":"0xfeed","chain":"polygon","asset":"USDT","amountNative":"25","amountUsd":"25","createdAt":"2026-01-01T00:00:00Z"}]`
	mock.ExpectQuery(`FROM deposit_ledger WHERE user_id`).
		WillReturnRows(sqlmock.NewRows(depositLedgerCols).
			AddRow(userID.String(), "40.5", []byte(holdings), int64(4), int64(9), []byte(pending), time.Now()))

	entry, err := repo.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, entry.LastKnownBalanceUSD.Equal(decimal.RequireFromString("40.5")))
	assert.True(t, entry.Holding("polygon:USDT").Equal(decimal.RequireFromString("15.5")))
	assert.True(t, entry.Holding("polygon:MATIC").Equal(decimal.NewFromInt(2)))
	assert.Equal(t, int64(4), entry.Sequence)
	assert.Equal(t, int64(9), entry.Version)
	require.Len(t, entry.PendingSweeps, 1)
	assert.Equal(t, "0xfeed", entry.PendingSweeps[0].TxRef)
	assert.True(t, entry.PendingSweeps[0].AmountNative.Equal(decimal.NewFromInt(25)))
	assert.True(t, entry.PendingTotalUSD().Equal(decimal.NewFromInt(25)))
}

func TestDepositLedgerRepository_SetFirstWriteInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDepositLedgerRepository(db)
	entry := entities.NewDepositLedgerEntry(uuid.New())
	entry.Sequence = 1

	mock.ExpectExec(`INSERT INTO deposit_ledger .* ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(entry.UserID, sqlmock.AnyArg(), []byte("{}"), int64(1), []byte("[]"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Set(context.Background(), entry))
	assert.Equal(t, int64(1), entry.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositLedgerRepository_SetComparesVersion(t *testing.T) {
	tests := []struct {
		name     string
		version  int64
		affected int64
		conflict bool
	}{
		{name: "current version is written", version: 3, affected: 1},
		{name: "stale version is refused", version: 3, affected: 0, conflict: true},
		{name: "concurrent first write is refused", version: 0, affected: 0, conflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewDepositLedgerRepository(db)
			entry := entities.NewDepositLedgerEntry(uuid.New())
			entry.Version = tt.version
			entry.Sequence = 2
			entry.AdjustHolding("polygon:USDT", decimal.NewFromInt(-5))

			if tt.version == 0 {
				mock.ExpectExec(`INSERT INTO deposit_ledger`).
					WillReturnResult(sqlmock.NewResult(0, tt.affected))
			} else {
				mock.ExpectExec(regexp.QuoteMeta(`WHERE user_id = $1 AND version = $7`)).
					WithArgs(entry.UserID, sqlmock.AnyArg(), []byte(`{"polygon:USDT":"-5"}`), int64(2), []byte("[]"), sqlmock.AnyArg(), tt.version).
					WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			err := repo.Set(context.Background(), entry)
			if tt.conflict {
				assert.True(t, domainerrors.IsConflict(err))
				assert.Equal(t, tt.version, entry.Version)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.version+1, entry.Version)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserLocker_HoldsSessionLock(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewUserLocker(db)
	key := uuid.NewString()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock($1, hashtext($2))`)).
		WithArgs(userLockClass, key).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1, hashtext($2))`)).
		WithArgs(userLockClass, key).
		WillReturnResult(sqlmock.NewResult(0, 0))

	unlock, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, locker.local.Len())
}

func TestUserLocker_FailedLockReleasesLocalMutex(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewUserLocker(db)

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock`)).
		WillReturnError(context.DeadlineExceeded)

	_, err := locker.Acquire(context.Background(), "user-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, locker.local.Len())
}

var (
	walletCols = []string{"user_id", "balance", "currency", "updated_at"}
	txCols     = []string{"id", "user_id", "type", "amount", "description", "payment_method", "status", "dedup_key", "metadata", "created_at"}
)

func TestWalletRepository_AddFundsDuplicateDedupKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWalletRepository(db, "", logger.NewNop())
	userID := uuid.New()
	key := entities.DepositDedupKey(userID, 0)
	txID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO wallets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow(userID.String(), int64(50), "LRS", time.Now()))
	mock.ExpectQuery(`FROM wallet_transactions WHERE dedup_key`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(txCols).AddRow(
			txID.String(), userID.String(), "credit", int64(50), "Crypto deposit", "crypto", "completed",
			key, []byte(`{"version":1,"source":"crypto_deposit","observedBalanceUsd":"5"}`), time.Now()))
	mock.ExpectCommit()

	res, err := repo.AddFunds(context.Background(), entities.WalletPosting{
		UserID:   userID,
		Amount:   50,
		DedupKey: key,
	})

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, txID, res.Transaction.ID)
	assert.Equal(t, int64(50), res.Wallet.Balance)
	assert.True(t, res.Transaction.Metadata.ObservedBalanceUSD.Equal(decimal.NewFromInt(5)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_DeductFundsInsufficientBalance(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWalletRepository(db, "", logger.NewNop())
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO wallets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow(userID.String(), int64(10), "LRS", time.Now()))
	mock.ExpectRollback()

	_, err := repo.DeductFunds(context.Background(), entities.WalletPosting{UserID: userID, Amount: 11})

	assert.True(t, domainerrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_RejectsNonPositiveAmount(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewWalletRepository(db, "", logger.NewNop())

	_, err := repo.AddFunds(context.Background(), entities.WalletPosting{UserID: uuid.New(), Amount: 0})
	assert.True(t, domainerrors.IsInvalidInput(err))
}
