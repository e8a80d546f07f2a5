package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/luris-nation/wallet_service/internal/api/routes"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	domainerrors "github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/luris-nation/wallet_service/internal/domain/services/sweep"
	"github.com/luris-nation/wallet_service/internal/infrastructure/config"
	"github.com/luris-nation/wallet_service/internal/infrastructure/database"
	"github.com/luris-nation/wallet_service/internal/infrastructure/di"
	"github.com/luris-nation/wallet_service/pkg/graceful"
	"github.com/luris-nation/wallet_service/pkg/logger"
	"github.com/luris-nation/wallet_service/pkg/tracing"
)

func main() {
	var (
		runSweep   = flag.Bool("sweep", false, "run one batch sweep to the hot wallet and exit")
		sweepChain = flag.String("chains", "", "comma-separated chains to sweep (default: all configured)")
		sweepToken = flag.String("tokens", "", "comma-separated tokens to sweep (default: all configured)")
		noNative   = flag.Bool("skip-native", false, "leave native coin balances in place")
		minUSD     = flag.String("min-usd", "", "override hdwallet.min_sweep_amount_usd")
		limit      = flag.Int("limit", 0, "maximum records to sweep (default: hdwallet.sweep_batch_size)")
		offset     = flag.Int("offset", 0, "record offset to start sweeping from")
		assignTo   = flag.String("assign-address", "", "print the deposit address of the given user id, allocating one if needed, and exit")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	var db *sqlx.DB
	if cfg.HDWallet.LedgerStore == config.LedgerStorePostgres {
		db, err = database.NewConnection(cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		if err := database.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
	}

	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	if *assignTo != "" {
		code := runAssignAddress(ctx, container, *assignTo, log)
		container.Close()
		if db != nil {
			_ = db.Close()
		}
		_ = tracingShutdown(ctx)
		os.Exit(code)
	}

	if *runSweep {
		opts := entities.SweepOptions{
			Chains:        splitChains(*sweepChain),
			Tokens:        splitAssets(*sweepToken),
			IncludeNative: !*noNative,
			Limit:         *limit,
			Offset:        *offset,
		}
		if *minUSD != "" {
			floor, err := decimal.NewFromString(*minUSD)
			if err != nil || floor.IsNegative() {
				log.Fatal("Invalid -min-usd", "value", *minUSD, "error", err)
			}
			opts.MinAmountUSD = &floor
		}
		code := runBatchSweep(ctx, container, opts, log)
		container.Close()
		if db != nil {
			_ = db.Close()
		}
		_ = tracingShutdown(ctx)
		os.Exit(code)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.SetupRoutes(container.HealthHandler, log)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	if db != nil {
		go database.ReportStats(statsCtx, db, 30*time.Second)
	}

	if err := container.DepositMonitor.Start(); err != nil {
		log.Fatal("Failed to start deposit monitor", "error", err)
	}

	shutdown := graceful.NewShutdownManager(server, time.Duration(cfg.Server.ShutdownTimeout)*time.Second, log)
	shutdown.Register(container.DepositMonitor)
	shutdown.Register(container.AuditService)
	shutdown.Register(graceful.ShutdownFunc(func(context.Context) error {
		stopStats()
		return nil
	}))
	shutdown.Register(graceful.ShutdownFunc(tracingShutdown))
	for _, c := range container.Closers() {
		shutdown.RegisterCloser(c)
	}
	if db != nil {
		shutdown.RegisterCloser(db)
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"testnet", cfg.HDWallet.TestnetMode,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown(ctx)
}

// runBatchSweep sweeps once and prints the result as JSON. A non-zero exit means
// the sweep could not run or some transfers failed.
func runBatchSweep(ctx context.Context, container *di.Container, opts entities.SweepOptions, log *logger.Logger) int {
	hot := container.Config.HDWallet.HotWalletAddress
	if err := sweep.ValidateHotWallet(hot); err != nil {
		log.Error("Hot wallet is not configured", "error", err)
		return 2
	}

	result, err := container.Orchestrator.BatchSweepDeposits(ctx, hot, opts)
	if err != nil {
		log.Error("Batch sweep failed", "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Error("Failed to encode sweep result", "error", err)
		return 1
	}

	if err := container.AuditService.Flush(ctx); err != nil {
		log.Warn("Failed to flush audit events", "error", err)
	}
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

// runAssignAddress prints the user's deposit record as JSON. Exit 2 means the user id is
// malformed or unknown.
func runAssignAddress(ctx context.Context, container *di.Container, raw string, log *logger.Logger) int {
	userID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		log.Error("Invalid -assign-address user id", "value", raw, "error", err)
		return 2
	}

	record, err := container.AddressService.GetUserDepositAddress(ctx, userID)
	if err != nil {
		log.Error("Failed to assign deposit address", "user_id", userID, "error", err)
		if domainerrors.IsNotFound(err) || domainerrors.IsInvalidInput(err) {
			return 2
		}
		return 1
	}

	if err := container.AuditService.Flush(ctx); err != nil {
		log.Warn("Failed to flush audit events", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		log.Error("Failed to encode deposit address", "error", err)
		return 1
	}
	return 0
}

func splitChains(s string) []entities.Chain {
	var out []entities.Chain
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, entities.Chain(strings.ToLower(part)))
		}
	}
	return out
}

func splitAssets(s string) []entities.Asset {
	var out []entities.Asset
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, entities.Asset(part).Normalize())
		}
	}
	return out
}
