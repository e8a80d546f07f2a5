package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_service"

var (
	// DepositPollsTotal counts per-user detection outcomes.
	DepositPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposit_polls_total",
		Help:      "Deposit detection polls by outcome",
	}, []string{"outcome"})

	DepositPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deposit_pass_duration_seconds",
		Help:      "Duration of a full deposit detection pass",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	CreditsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credits_issued_total",
		Help:      "Deposit credits applied to wallets",
	}, []string{"source", "duplicate"})

	CreditedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credited_units_total",
		Help:      "Internal currency units minted from on-chain deposits",
	})

	ChainReadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_read_duration_seconds",
		Help:      "Latency of chain balance reads",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain", "asset"})

	ChainUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_unavailable_total",
		Help:      "Chain balance reads that failed or timed out",
	}, []string{"chain", "asset"})

	SweepItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_items_total",
		Help:      "Sweep items by status",
	}, []string{"chain", "asset", "status"})

	SweptUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_usd_total",
		Help:      "USD value moved to the hot wallet",
	}, []string{"chain"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections",
		Help:      "Database connection pool statistics",
	}, []string{"state"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Operational HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)
