// Package memory holds in-process implementations of the wallet repositories, used by tests and
// single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
)

type DerivationRepository struct {
	mu      sync.RWMutex
	byUser  map[uuid.UUID]*entities.DerivationRecord
	ordered []*entities.DerivationRecord
}

func NewDerivationRepository() *DerivationRepository {
	return &DerivationRepository{byUser: make(map[uuid.UUID]*entities.DerivationRecord)}
}

func (r *DerivationRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.DerivationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byUser[userID]
	if !ok {
		return nil, errors.NotFoundError("DERIVATION_RECORD")
	}
	cp := *rec
	return &cp, nil
}

// Allocate holds the write lock across index selection and insert.
func (r *DerivationRepository) Allocate(ctx context.Context, userID uuid.UUID, build func(index uint32) (*entities.DerivationRecord, error)) (*entities.DerivationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byUser[userID]; ok {
		cp := *rec
		return &cp, nil
	}

	var next uint32
	if n := len(r.ordered); n > 0 {
		next = r.ordered[n-1].Index + 1
	}

	rec, err := build(next)
	if err != nil {
		return nil, err
	}
	if rec.Index != next || rec.UserID != userID {
		return nil, errors.InternalError("derivation record does not match allocation", nil)
	}

	stored := *rec
	r.byUser[userID] = &stored
	r.ordered = append(r.ordered, &stored)

	cp := stored
	return &cp, nil
}

func (r *DerivationRepository) List(ctx context.Context, limit, offset int) ([]*entities.DerivationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset >= len(r.ordered) {
		return []*entities.DerivationRecord{}, nil
	}
	end := len(r.ordered)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*entities.DerivationRecord, 0, end-offset)
	for _, rec := range r.ordered[offset:end] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *DerivationRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered), nil
}

// Put inserts a record as-is. Test seeding only.
func (r *DerivationRepository) Put(rec *entities.DerivationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *rec
	r.byUser[rec.UserID] = &stored
	r.ordered = append(r.ordered, &stored)
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Index < r.ordered[j].Index })
}
