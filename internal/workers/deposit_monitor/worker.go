package deposit_monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/metrics"
)

const passLockName = "deposit-pass"

// ErrPassInProgress is returned by RunOnce when another replica holds the pass lock.
var ErrPassInProgress = errors.New("deposit pass already running")

// Poller runs deposit detection for one user
type Poller interface {
	Poll(ctx context.Context, userID uuid.UUID) (*entities.PollResult, error)
}

// RecordLister pages through users holding a deposit address
type RecordLister interface {
	List(ctx context.Context, limit, offset int) ([]*entities.DerivationRecord, error)
}

// PassLock keeps passes from overlapping across replicas
type PassLock interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// Config holds worker configuration
type Config struct {
	Schedule    string
	Concurrency int
	PageSize    int
	PassTimeout time.Duration
	LockTTL     time.Duration
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule:    "@every 1m",
		Concurrency: 4,
		PageSize:    100,
		PassTimeout: 10 * time.Minute,
		LockTTL:     15 * time.Minute,
	}
}

// PassSummary reports one detection pass over every deposit address.
type PassSummary struct {
	StartedAt     time.Time                    `json:"startedAt"`
	Duration      time.Duration                `json:"duration"`
	Users         int                          `json:"users"`
	Outcomes      map[entities.PollOutcome]int `json:"outcomes"`
	CreditedUnits int64                        `json:"creditedUnits"`
	Errors        int                          `json:"errors"`
}

// Worker polls every user holding a deposit address on a cron schedule
type Worker struct {
	detector Poller
	records  RecordLister
	lock     PassLock
	config   *Config
	cron     *cron.Cron
	logger   *logger.Logger
}

// NewWorker creates a deposit monitor. lock may be nil for single-replica deployments.
func NewWorker(detector Poller, records RecordLister, lock PassLock, config *Config, log *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	cl := cronLogger{log}
	return &Worker{
		detector: detector,
		records:  records,
		lock:     lock,
		config:   config,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:   log,
	}
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.PassTimeout)
		defer cancel()

		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
			w.logger.Error("Deposit pass failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Deposit monitor started", "schedule", w.config.Schedule, "concurrency", w.config.Concurrency)
	return nil
}

// Shutdown stops scheduling and waits for a running pass to finish or ctx to expire.
func (w *Worker) Shutdown(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("Deposit monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce polls every user with a deposit address. Per-user failures are counted, not returned.
func (w *Worker) RunOnce(ctx context.Context) (*PassSummary, error) {
	if w.lock != nil {
		release, ok, err := w.lock.TryLock(ctx, passLockName, w.config.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			w.logger.Debug("Deposit pass skipped, lock held elsewhere")
			return nil, ErrPassInProgress
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				w.logger.Warn("Failed to release deposit pass lock", "error", err)
			}
		}()
	}

	summary := &PassSummary{
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[entities.PollOutcome]int),
	}
	var mu sync.Mutex

	for offset := 0; ; offset += w.config.PageSize {
		page, err := w.records.List(ctx, w.config.PageSize, offset)
		if err != nil {
			return summary, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.config.Concurrency)
		for _, rec := range page {
			userID := rec.UserID
			g.Go(func() error {
				res, err := w.detector.Poll(gctx, userID)

				mu.Lock()
				defer mu.Unlock()
				summary.Users++
				if err != nil {
					summary.Errors++
					summary.Outcomes[entities.PollOutcomeError]++
					w.logger.Warn("Deposit poll failed", "user_id", userID, "error", err)
					return nil
				}
				summary.Outcomes[res.Outcome]++
				if res.Outcome == entities.PollOutcomeCredited {
					summary.CreditedUnits += res.Units
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < w.config.PageSize || ctx.Err() != nil {
			break
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	metrics.DepositPassDuration.Observe(summary.Duration.Seconds())

	w.logger.Info("Deposit pass completed",
		"users", summary.Users,
		"credited_units", summary.CreditedUnits,
		"credited", summary.Outcomes[entities.PollOutcomeCredited],
		"skipped_partial", summary.Outcomes[entities.PollOutcomeSkippedPartial],
		"awaiting_sweep", summary.Outcomes[entities.PollOutcomeAwaitingSweep],
		"conflicts", summary.Outcomes[entities.PollOutcomeConflict],
		"errors", summary.Errors,
		"duration", summary.Duration.String())

	return summary, ctx.Err()
}

// cronLogger routes robfig/cron logging into the service logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
