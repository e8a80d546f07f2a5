package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/repositories"
	"github.com/luris-nation/wallet_service/pkg/security"
	"go.uber.org/zap"
)

const asyncWriteTimeout = 5 * time.Second

type Service struct {
	repo    repositories.AuditRepository
	logger  *zap.Logger
	pending sync.WaitGroup
}

func NewService(repo repositories.AuditRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Log writes an audit event and returns the repository error, if any.
func (s *Service) Log(ctx context.Context, userID *uuid.UUID, action entities.AuditAction, resource, resourceID string, details map[string]interface{}) error {
	event := &entities.AuditEvent{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    security.MaskMap(details),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Append(ctx, event); err != nil {
		fields := []zap.Field{
			zap.Error(err),
			zap.String("action", string(action)),
		}
		if userID != nil {
			fields = append(fields, zap.String("user_id", userID.String()))
		}
		s.logger.Error("failed to append audit event", fields...)
		return err
	}
	return nil
}

// LogAsync writes the event in the background. Failures are logged, never returned.
func (s *Service) LogAsync(userID *uuid.UUID, action entities.AuditAction, resource, resourceID string, details map[string]interface{}) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		_ = s.Log(ctx, userID, action, resource, resourceID, details)
	}()
}

// Flush waits for in-flight async writes or until ctx is done.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown lets the service be drained by the graceful shutdown manager.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.Flush(ctx)
}

// DepositCredited records a credit issued from an on-chain deposit.
func (s *Service) DepositCredited(userID uuid.UUID, tx *entities.WalletTransaction) {
	uid := userID
	s.LogAsync(&uid, entities.AuditActionDepositCredited, "wallet_transaction", tx.ID.String(), map[string]interface{}{
		"amount":               tx.Amount,
		"dedup_key":            tx.Metadata.DedupKey,
		"observed_balance_usd": tx.Metadata.ObservedBalanceUSD.String(),
		"delta_usd":            tx.Metadata.DeltaUSD.String(),
		"conversion_rate":      tx.Metadata.ConversionRate.String(),
		"chains":               tx.Metadata.Chains,
	})
}

// AddressAssigned records a newly allocated deposit address.
func (s *Service) AddressAssigned(record *entities.DerivationRecord) {
	uid := record.UserID
	s.LogAsync(&uid, entities.AuditActionAddressAssigned, "derivation_record", record.Path, map[string]interface{}{
		"index":   record.Index,
		"address": record.Address,
	})
}

// SweepCompleted summarises a sweep run in one event.
func (s *Service) SweepCompleted(result *entities.SweepResult) {
	s.LogAsync(nil, entities.AuditActionSweepCompleted, "sweep", result.StartedAt.Format(time.RFC3339), map[string]interface{}{
		"hot_wallet":        result.HotWalletAddress,
		"sweeps":            len(result.Sweeps),
		"errors":            len(result.Errors),
		"skipped":           len(result.Skipped),
		"addresses_scanned": result.AddressesScanned,
		"total_swept_usd":   result.TotalSweptUSD.String(),
		"duration_ms":       result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	})
}
