package middleware

import (
	"fmt"
	"net/http"
	"time"

	"peercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// TracingMiddleware continues a trace propagated in the request headers and
// wraps the handler in a server span. Only 5xx responses mark the span as
// failed; poll requests tag the room and action they touch.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, route)
		span.SetAttributes(
			semconv.HTTPHostKey.String(c.Request.Host),
			semconv.HTTPUserAgentKey.String(c.Request.UserAgent()),
			semconv.HTTPClientIPKey.String(c.ClientIP()),
		)
		if room := c.Query("roomId"); room != "" {
			span.SetAttributes(tracing.RoomIDKey.String(room))
		}
		if action := c.Query("action"); action != "" {
			span.SetAttributes(tracing.SignalTypeKey.String(action))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPStatusCodeKey.Int(status),
			tracing.DurationKey.Int64(time.Since(start).Milliseconds()),
		)

		var err error
		if status >= http.StatusInternalServerError {
			err = fmt.Errorf("%d %s", status, http.StatusText(status))
			if last := c.Errors.Last(); last != nil {
				err = fmt.Errorf("%w: %v", err, last.Err)
			}
		}
		tracing.End(span, err)
	}
}
