package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingRepo struct {
	mu     sync.Mutex
	events []*entities.AuditEvent
	err    error
}

func (r *recordingRepo) Append(ctx context.Context, event *entities.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func TestService_SweepCompletedMasksAddresses(t *testing.T) {
	repo := &recordingRepo{}
	svc := NewService(repo, zap.NewNop())

	start := time.Now()
	svc.SweepCompleted(&entities.SweepResult{
		HotWalletAddress: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Sweeps:           make([]entities.SweepItem, 4),
		Errors:           make([]entities.SweepError, 1),
		TotalSweptUSD:    decimal.NewFromInt(4),
		StartedAt:        start,
		CompletedAt:      start.Add(time.Second),
	})
	require.NoError(t, svc.Flush(context.Background()))

	require.Len(t, repo.events, 1)
	ev := repo.events[0]
	assert.Equal(t, entities.AuditActionSweepCompleted, ev.Action)
	assert.Nil(t, ev.UserID)
	assert.Equal(t, "0xf39F...2266", ev.Details["hot_wallet"])
	assert.Equal(t, 4, ev.Details["sweeps"])
	assert.Equal(t, "4", ev.Details["total_swept_usd"])
}

func TestService_LogReturnsRepositoryError(t *testing.T) {
	repo := &recordingRepo{err: errors.New("db down")}
	svc := NewService(repo, zap.NewNop())

	uid := uuid.New()
	err := svc.Log(context.Background(), &uid, entities.AuditActionDepositCredited, "wallet_transaction", "x", nil)
	assert.Error(t, err)

	// async path swallows the error
	svc.LogAsync(&uid, entities.AuditActionDepositCredited, "wallet_transaction", "x", nil)
	assert.NoError(t, svc.Flush(context.Background()))
}
