package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luris-nation/wallet_service/internal/api/handlers"
	"github.com/luris-nation/wallet_service/internal/api/middleware"
	"github.com/luris-nation/wallet_service/pkg/logger"
)

// SetupRoutes builds the operational HTTP surface: health and Prometheus metrics.
func SetupRoutes(health *handlers.HealthHandler, log *logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	router.GET("/health", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
