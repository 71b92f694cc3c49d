package http

import (
	"rillview/internal/infrastructure/middleware"
	"rillview/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	SessionID string
	Token     string
	RateLimit middleware.RateLimitConfig
}

// NewRouter builds the admin engine with the middleware chain in the order
// recovery, tracing, rate limiting, error rendering.
func NewRouter(cfg RouterConfig, handler *SessionHandler, log *zap.SugaredLogger) *gin.Engine {
	ctxLog := logger.NewContextLogger(log.Desugar())

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(ctxLog),
		middleware.TracingMiddleware(cfg.SessionID),
		middleware.NewHTTPRateLimitMiddleware(cfg.RateLimit),
		middleware.ErrorHandlerMiddleware(ctxLog),
	)

	handler.SetupRoutes(router, middleware.AdminTokenMiddleware(cfg.Token))
	return router
}
