package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

// HealthHandler serves /health
type HealthHandler struct {
	checks    map[string]HealthCheck
	timeout   time.Duration
	logger    *zap.Logger
	startTime time.Time
}

func NewHealthHandler(checks map[string]HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		timeout:   3 * time.Second,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Health returns 503 when any dependency check fails
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]checkResult, len(names)),
	}
	statusCode := http.StatusOK

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			response.Checks[name] = checkResult{Status: "unhealthy", Error: err.Error()}
			response.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		response.Checks[name] = checkResult{Status: "healthy"}
	}

	c.JSON(statusCode, response)
}
