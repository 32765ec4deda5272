package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// quietPaths are logged at debug so probes do not drown out trigger traffic.
var quietPaths = map[string]struct{}{
	"/healthz": {},
}

// Middleware tags each request with a request_id and logs one summary line when it
// finishes. The scoped logger is stored on the gin context and on the request context,
// so engine code reached from a handler logs under the same request_id through From.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		// Auth may have re-scoped the logger with the caller.
		final := FromGin(c)
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			final.Error("request", attrs...)
		case status >= http.StatusBadRequest:
			final.Warn("request", attrs...)
		default:
			if _, quiet := quietPaths[path]; quiet {
				final.Debug("request", attrs...)
				return
			}
			final.Info("request", attrs...)
		}
	}
}

// FromGin returns the request-scoped logger stored by Middleware, or slog.Default.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
