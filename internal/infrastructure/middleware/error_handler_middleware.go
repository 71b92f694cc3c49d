package middleware

import (
	"errors"
	"net/http"

	"rillview/internal/core/domain"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps session errors to HTTP statuses. Commands against a
// session that is not connected are a conflict with its current state.
func statusFor(err error) (int, apperrors.ErrorCode, string) {
	switch {
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrSessionActive):
		return http.StatusConflict, apperrors.ErrCodeConflict, err.Error()
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.HTTPStatus, appErr.Code, appErr.Message
	}
	return http.StatusInternalServerError, apperrors.ErrCodeInternal, "Internal server error"
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error as a JSON body. Log lines carry the request's trace and session.
func ErrorHandlerMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, code, message := statusFor(err)

		fields := []interface{}{
			"code", code,
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err,
		}
		reqLog := log.Sugar(c.Request.Context())
		if status >= http.StatusInternalServerError {
			reqLog.Errorw("admin request failed", fields...)
		} else {
			reqLog.Infow("admin request rejected", fields...)
		}

		body := gin.H{
			"error":   string(code),
			"message": message,
		}
		if appErr := apperrors.GetAppError(err); appErr != nil && len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(status, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Sugar(c.Request.Context()).Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
