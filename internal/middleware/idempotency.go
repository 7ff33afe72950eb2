package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/logger"
	"carshare/internal/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	replayHeader      = "Idempotent-Replay"
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a mutating request
// that repeats an Idempotency-Key. Keys are scoped to the caller and path, so
// two actors cannot collide on the same key. A nil store disables replay.
func IdempotencyMiddleware(store redis.ResponseStore, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scoped := scopedKey(c, key)

		data, err := store.Get(ctx, scoped)
		if err != nil {
			// Redis error - proceed without idempotency.
			log.Warn("idempotency lookup failed", "error", err, "path", c.Request.URL.Path)
			c.Next()
			return
		}

		if data != nil {
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				for k, v := range cached.Headers {
					for _, val := range v {
						c.Header(k, val)
					}
				}
				c.Header(replayHeader, "true")
				c.Data(cached.StatusCode, "application/json", cached.Body)
				c.Abort()
				return
			}
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		if !cacheable(c.Writer.Status()) {
			return
		}
		response := cachedResponse{
			StatusCode: c.Writer.Status(),
			Body:       w.body.Bytes(),
			Headers:    extractResponseHeaders(c),
		}
		payload, err := json.Marshal(&response)
		if err != nil {
			return
		}
		if err := store.Set(ctx, scoped, payload, idempotencyTTL); err != nil {
			log.Warn("idempotency store failed", "error", err, "path", c.Request.URL.Path)
		}
	}
}

// cacheable excludes conflicts and server errors, which a retry may resolve.
func cacheable(status int) bool {
	return status >= 200 && status < 500 && status != http.StatusConflict
}

func scopedKey(c *gin.Context, key string) string {
	return c.GetHeader("X-Actor-Type") + ":" + c.GetHeader("X-Actor-ID") + ":" + c.Request.URL.Path + ":" + key
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	// Only cache Content-Type header.
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
