package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
)

// DerivationRepository persists DerivationRecords. Implementations serialise Allocate so two users
// can never be handed the same index, including across processes.
type DerivationRepository interface {
	// GetByUserID returns ErrNotFound when the user has no address yet.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.DerivationRecord, error)
	// Allocate returns the user's existing record, or calls build with the next free index
	// (highest existing + 1, or 0) and persists its result atomically.
	Allocate(ctx context.Context, userID uuid.UUID, build func(index uint32) (*entities.DerivationRecord, error)) (*entities.DerivationRecord, error)
	// List pages through records ordered by index.
	List(ctx context.Context, limit, offset int) ([]*entities.DerivationRecord, error)
	Count(ctx context.Context) (int, error)
}

// DepositLedgerStore keeps the detector's per-user state.
type DepositLedgerStore interface {
	// Get returns the zero entry when the user has never been polled.
	Get(ctx context.Context, userID uuid.UUID) (*entities.DepositLedgerEntry, error)
	Set(ctx context.Context, entry *entities.DepositLedgerEntry) error
}

// WalletLedger owns internal-currency balances. Each call is atomic per user and honours
// WalletPosting.DedupKey: a repeated key returns the original posting with Duplicate set.
type WalletLedger interface {
	AddFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error)
	DeductFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
}

type AuditRepository interface {
	Append(ctx context.Context, event *entities.AuditEvent) error
}
