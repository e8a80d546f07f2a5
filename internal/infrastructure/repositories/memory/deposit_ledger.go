package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
)

type DepositLedgerStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entities.DepositLedgerEntry
}

func NewDepositLedgerStore() *DepositLedgerStore {
	return &DepositLedgerStore{entries: make(map[uuid.UUID]*entities.DepositLedgerEntry)}
}

func (s *DepositLedgerStore) Get(ctx context.Context, userID uuid.UUID) (*entities.DepositLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[userID]; ok {
		return e.Clone(), nil
	}
	return entities.NewDepositLedgerEntry(userID), nil
}

// Set stores entry if its Version matches the stored one and bumps entry.Version.
func (s *DepositLedgerStore) Set(ctx context.Context, entry *entities.DepositLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.entries[entry.UserID]; ok {
		current = e.Version
	}
	if current != entry.Version {
		return errors.ConflictError("deposit ledger entry", "version changed since read")
	}

	entry.Version++
	stored := entry.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.entries[entry.UserID] = stored
	return nil
}
