package middleware

import (
	"net/http"

	"peercall/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Success bool           `json:"success"`
	Code    errors.Code    `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

var internalError = errorBody{Code: errors.CodeInternal, Error: "Internal server error"}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error, unless the handler already wrote a response. Bodies share the
// {success, code, error} shape of the signaling endpoint.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		appErr := errors.As(last.Err)
		if appErr == nil {
			logger.Errorw("Unhandled request error", "method", c.Request.Method, "path", c.Request.URL.Path, "error", last.Err)
			c.JSON(http.StatusInternalServerError, internalError)
			return
		}

		logger.Debugw("Request rejected",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", appErr.Status,
			"code", appErr.Code,
			"error", appErr,
		)
		c.JSON(appErr.Status, errorBody{Code: appErr.Code, Error: appErr.Message, Details: appErr.Details})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the usual body.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Handler panicked", "method", c.Request.Method, "path", c.Request.URL.Path, "panic", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, internalError)
			}
		}()
		c.Next()
	}
}
