package middleware

import (
	"rillview/pkg/logger"
	"rillview/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per admin request, named after the
// matched route rather than the raw path, and tags the request context with
// the session id for ContextLogger.
func TracingMiddleware(sessionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceAdminRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			tracing.SessionIDKey.String(sessionID),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		c.Request = c.Request.WithContext(logger.WithSessionID(ctx, sessionID))

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
