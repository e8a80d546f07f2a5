package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luris-nation/wallet_service/pkg/logger"
)

// Shutdowner is any component that can drain within a deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to Shutdowner.
type ShutdownFunc func(ctx context.Context) error

func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type ShutdownManager struct {
	server      *http.Server
	closers     []io.Closer
	shutdowners []Shutdowner
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, timeout time.Duration, log *logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		server:  server,
		timeout: timeout,
		logger:  log,
	}
}

// Register adds a component drained before the HTTP server stops, in registration order.
func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// RegisterCloser adds a resource closed after everything else (database, redis).
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.closers = append(sm.closers, c)
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then drains.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	sm.Shutdown()
}

// Shutdown drains every registered component.
func (sm *ShutdownManager) Shutdown() {
	sm.logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	for _, s := range sm.shutdowners {
		if err := s.Shutdown(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "error", err)
		}
	}

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, c := range sm.closers {
		if err := c.Close(); err != nil {
			sm.logger.Warn("Resource close error", "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
