package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/pkg/apperrors"
	"github.com/tomevault/tomevault/internal/pkg/logger"
)

// ErrorHandler renders the last handler error as the standard error
// envelope. It must run inside RequestLogger so the rendered response
// is what the log record captures.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, "Server Error", err)
		}

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		meta := gin.H{"status": appErr.HTTPStatus}
		if len(appErr.Fields) > 0 {
			meta["errors"] = appErr.Fields
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"message": appErr.Message,
			"meta":    meta,
		})
	}
}

// NotFound is the route-less fallback.
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Resource not found.",
			"meta":    gin.H{"status": http.StatusNotFound, "path": c.Request.URL.Path},
		})
	}
}
