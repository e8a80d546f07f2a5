package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*entities.User
}

func NewUserRepository(users ...*entities.User) *UserRepository {
	r := &UserRepository{users: make(map[uuid.UUID]*entities.User)}
	for _, u := range users {
		r.Add(u)
	}
	return r
}

func (r *UserRepository) Add(u *entities.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.users[u.ID] = &cp
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFoundError("USER")
	}
	cp := *u
	return &cp, nil
}

type AuditRepository struct {
	mu     sync.Mutex
	events []*entities.AuditEvent
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, event *entities.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *AuditRepository) Events() []*entities.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entities.AuditEvent(nil), r.events...)
}
