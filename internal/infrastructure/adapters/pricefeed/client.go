// Package pricefeed quotes native coins in USD from a CoinGecko-compatible API.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/pkg/metrics"
	"github.com/luris-nation/wallet_service/pkg/retry"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateLimitPerSec bounds outbound requests; zero disables limiting.
	RateLimitPerSec float64
	// AssetIDs maps asset symbols to provider coin ids.
	AssetIDs map[string]string
}

// Client implements chainbalance.PriceSource.
type Client struct {
	config         Config
	httpClient     *http.Client
	limiter        *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
	retrier        *retry.Retrier
	logger         *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	ids := make(map[string]string, len(config.AssetIDs))
	for symbol, id := range config.AssetIDs {
		ids[strings.ToUpper(symbol)] = id
	}
	config.AssetIDs = ids

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimitPerSec), 1)
	}

	st := gobreaker.Settings{
		Name:        "PriceFeed",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = 2
	policy.InitialBackoff = 250 * time.Millisecond

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		limiter:        limiter,
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		retrier:        retry.NewRetrier(policy, logger),
		logger:         logger,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("price feed returned %d: %s", e.code, e.body)
}

// IsRetryable treats throttling and server errors as transient.
func (e *statusError) IsRetryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (c *Client) USDPrice(ctx context.Context, symbol entities.Asset) (decimal.Decimal, error) {
	id, ok := c.config.AssetIDs[string(symbol.Normalize())]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price feed id for %s", symbol)
	}

	price, err := retry.Value(ctx, c.retrier, func(ctx context.Context) (decimal.Decimal, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return decimal.Zero, err
		}
		res, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, id)
		})
		if err != nil {
			return decimal.Zero, err
		}
		return res.(decimal.Decimal), nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to price %s: %w", symbol, err)
	}
	return price, nil
}

func (c *Client) fetch(ctx context.Context, id string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	raw, ok := payload[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price response has no usd quote for %s", id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", raw, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", id)
	}

	c.logger.Debug("Fetched USD price", zap.String("id", id), zap.String("price", price.String()))
	return price, nil
}
