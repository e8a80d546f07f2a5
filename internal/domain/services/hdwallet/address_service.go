package hdwallet

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

// AddressDeriver is the part of Deriver the address service needs.
type AddressDeriver interface {
	DeriveAddress(index uint32) (*entities.DerivedAddress, error)
}

// Locker serialises work per user. Shared with the deposit detector and sweep.
type Locker interface {
	Lock(key string) func()
}

// AuditLogger receives address assignment events.
type AuditLogger interface {
	AddressAssigned(record *entities.DerivationRecord)
}

type AddressService struct {
	deriver AddressDeriver
	users   repositories.UserRepository
	records repositories.DerivationRepository
	locker  Locker
	audit   AuditLogger
	logger  *logger.Logger
}

func NewAddressService(
	deriver AddressDeriver,
	users repositories.UserRepository,
	records repositories.DerivationRepository,
	locker Locker,
	audit AuditLogger,
	log *logger.Logger,
) *AddressService {
	return &AddressService{
		deriver: deriver,
		users:   users,
		records: records,
		locker:  locker,
		audit:   audit,
		logger:  log,
	}
}

// GetUserDepositAddress returns the user's deposit address, allocating the next index on first use.
func (s *AddressService) GetUserDepositAddress(ctx context.Context, userID uuid.UUID) (*entities.DerivationRecord, error) {
	if userID == uuid.Nil {
		return nil, errors.ValidationError("user_id", "user id is required")
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFoundError("USER")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	existing, err := s.records.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load derivation record: %w", err)
	}

	unlock := s.locker.Lock(userID.String())
	defer unlock()

	created := false
	record, err := s.records.Allocate(ctx, userID, func(index uint32) (*entities.DerivationRecord, error) {
		derived, err := s.deriver.DeriveAddress(index)
		if err != nil {
			return nil, err
		}
		created = true
		return &entities.DerivationRecord{
			UserID:    userID,
			Index:     derived.Index,
			Path:      derived.Path,
			Address:   derived.Address,
			CreatedAt: time.Now().UTC(),
		}, nil
	})
	if err != nil {
		var domainErr *errors.DomainError
		if stderrors.As(err, &domainErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to allocate deposit address: %w", err)
	}

	if created {
		s.logger.Info("Deposit address assigned",
			"user_id", userID,
			"index", record.Index,
			"path", record.Path)
		if s.audit != nil {
			s.audit.AddressAssigned(record)
		}
	}

	return record, nil
}
