package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/rating-service/internal/logging"
	"github.com/kneutral-org/rating-service/internal/metrics"
	"github.com/kneutral-org/rating-service/internal/middleware"
)

// HealthChecker reports whether dependencies are reachable.
type HealthChecker interface {
	Err(ctx context.Context) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	MaxPayloadSize int64
	Health         HealthChecker
}

// NewRouter builds the gin engine with middleware, /health, /metrics and the
// /api/v1 routes.
func NewRouter(h *Handler, cfg RouterConfig, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	// Match on the escaped path so an encoded '/' in a lock key reaches the
	// handler and is rejected there instead of missing the route.
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(logging.RequestLogger(logger))
	router.Use(httpMetrics())

	router.GET("/health", healthHandler(cfg.Health))
	metrics.RegisterMetricsEndpoint(router)

	v1 := router.Group("/api/v1")
	if cfg.MaxPayloadSize > 0 {
		v1.Use(middleware.PayloadLimitErrorHandler(logger))
		v1.Use(middleware.PayloadLimit(cfg.MaxPayloadSize, logger))
	}
	h.RegisterRoutes(v1)

	return router
}

func healthHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			if err := checker.Err(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	}
}

func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, time.Since(start).Seconds())
	}
}
