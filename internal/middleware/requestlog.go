package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carshare/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestLogMiddleware tags each request with an id and writes one access log
// line through the service logger once the handler returns.
func RequestLogMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"actor", c.GetHeader("X-Actor-Type") + ":" + c.GetHeader("X-Actor-ID"),
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.Last().Error())
		}

		switch {
		case status >= 500:
			log.Error("request failed", args...)
		case status >= 400:
			log.Warn("request rejected", args...)
		default:
			log.Info("request served", args...)
		}
	}
}
