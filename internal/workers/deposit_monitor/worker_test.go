package deposit_monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/infrastructure/repositories/memory"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

type scriptedPoller struct {
	mu       sync.Mutex
	polled   []uuid.UUID
	outcomes map[uuid.UUID]*entities.PollResult
	failing  map[uuid.UUID]bool
}

func (p *scriptedPoller) Poll(ctx context.Context, userID uuid.UUID) (*entities.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polled = append(p.polled, userID)
	if p.failing[userID] {
		return nil, errors.New("ledger unavailable")
	}
	if res, ok := p.outcomes[userID]; ok {
		return res, nil
	}
	return &entities.PollResult{UserID: userID, Outcome: entities.PollOutcomeUnchanged}, nil
}

type stubLock struct {
	held     bool
	released bool
}

func (l *stubLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error { l.released = true; return nil }, true, nil
}

func seedRecords(n int) (*memory.DerivationRepository, []uuid.UUID) {
	repo := memory.NewDerivationRepository()
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		repo.Put(&entities.DerivationRecord{UserID: ids[i], Index: uint32(i), Path: entities.DerivationPath(uint32(i))})
	}
	return repo, ids
}

func TestRunOnce_PollsEveryUserAcrossPages(t *testing.T) {
	repo, ids := seedRecords(7)
	poller := &scriptedPoller{
		outcomes: map[uuid.UUID]*entities.PollResult{
			ids[0]: {UserID: ids[0], Outcome: entities.PollOutcomeCredited, Units: 50},
			ids[5]: {UserID: ids[5], Outcome: entities.PollOutcomeCredited, Units: 1},
			ids[6]: {UserID: ids[6], Outcome: entities.PollOutcomeSkippedPartial},
		},
		failing: map[uuid.UUID]bool{ids[3]: true},
	}
	w := NewWorker(poller, repo, nil, &Config{Concurrency: 2, PageSize: 3, Schedule: "@every 1m"}, logger.NewNop())

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, poller.polled, 7)
	assert.ElementsMatch(t, ids, poller.polled)
	assert.Equal(t, 7, summary.Users)
	assert.Equal(t, int64(51), summary.CreditedUnits)
	assert.Equal(t, 2, summary.Outcomes[entities.PollOutcomeCredited])
	assert.Equal(t, 1, summary.Outcomes[entities.PollOutcomeSkippedPartial])
	assert.Equal(t, 3, summary.Outcomes[entities.PollOutcomeUnchanged])
	assert.Equal(t, 1, summary.Errors)
}

func TestRunOnce_NoRecords(t *testing.T) {
	repo, _ := seedRecords(0)
	w := NewWorker(&scriptedPoller{}, repo, nil, nil, logger.NewNop())

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Users)
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	repo, _ := seedRecords(2)
	poller := &scriptedPoller{}
	w := NewWorker(poller, repo, &stubLock{held: true}, nil, logger.NewNop())

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Empty(t, poller.polled)
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	repo, _ := seedRecords(2)
	lock := &stubLock{}
	w := NewWorker(&scriptedPoller{}, repo, lock, nil, logger.NewNop())

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, lock.released)
}

func TestStartAndShutdown(t *testing.T) {
	repo, _ := seedRecords(1)
	w := NewWorker(&scriptedPoller{}, repo, nil, &Config{Schedule: "@every 1h", Concurrency: 1, PageSize: 10, PassTimeout: time.Minute}, logger.NewNop())

	require.NoError(t, w.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Shutdown(ctx))
}

func TestStart_InvalidSchedule(t *testing.T) {
	repo, _ := seedRecords(0)
	w := NewWorker(&scriptedPoller{}, repo, nil, &Config{Schedule: "not a schedule"}, logger.NewNop())
	assert.Error(t, w.Start())
}
