package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
)

// WalletLedger is an in-memory WalletLedger with dedup-key idempotency.
type WalletLedger struct {
	mu           sync.Mutex
	currency     string
	wallets      map[uuid.UUID]*entities.Wallet
	transactions []*entities.WalletTransaction
	byDedupKey   map[string]*entities.WalletTransaction
}

func NewWalletLedger(currency string) *WalletLedger {
	if currency == "" {
		currency = entities.DefaultCurrency
	}
	return &WalletLedger{
		currency:   currency,
		wallets:    make(map[uuid.UUID]*entities.Wallet),
		byDedupKey: make(map[string]*entities.WalletTransaction),
	}
}

func (l *WalletLedger) AddFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error) {
	return l.post(ctx, posting, entities.WalletTransactionCredit)
}

func (l *WalletLedger) DeductFunds(ctx context.Context, posting entities.WalletPosting) (*entities.PostingResult, error) {
	return l.post(ctx, posting, entities.WalletTransactionDebit)
}

func (l *WalletLedger) post(ctx context.Context, posting entities.WalletPosting, kind entities.WalletTransactionType) (*entities.PostingResult, error) {
	if posting.Amount <= 0 {
		return nil, errors.ValidationError("amount", "amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wallet := l.walletLocked(posting.UserID)

	if posting.DedupKey != "" {
		if tx, ok := l.byDedupKey[posting.DedupKey]; ok {
			w, t := *wallet, *tx
			return &entities.PostingResult{Wallet: &w, Transaction: &t, Duplicate: true}, nil
		}
	}

	if kind == entities.WalletTransactionDebit {
		if wallet.Balance < posting.Amount {
			return nil, errors.ConflictError("wallet", "insufficient balance")
		}
		wallet.Balance -= posting.Amount
	} else {
		wallet.Balance += posting.Amount
	}
	now := time.Now().UTC()
	wallet.UpdatedAt = now

	tx := &entities.WalletTransaction{
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
		tx.DedupKey = &key
		l.byDedupKey[key] = tx
	}
	l.transactions = append(l.transactions, tx)

	w, t := *wallet, *tx
	return &entities.PostingResult{Wallet: &w, Transaction: &t}, nil
}

func (l *WalletLedger) GetWallet(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := *l.walletLocked(userID)
	return &w, nil
}

// Transactions returns every posting for a user in insertion order.
func (l *WalletLedger) Transactions(userID uuid.UUID) []entities.WalletTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []entities.WalletTransaction
	for _, tx := range l.transactions {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out
}

func (l *WalletLedger) walletLocked(userID uuid.UUID) *entities.Wallet {
	w, ok := l.wallets[userID]
	if !ok {
		w = &entities.Wallet{UserID: userID, Currency: l.currency, UpdatedAt: time.Now().UTC()}
		l.wallets[userID] = w
	}
	return w
}
