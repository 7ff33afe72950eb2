package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SweepAuthMiddleware admits only requests bearing the shared sweep secret.
// An empty secret rejects every request.
func SweepAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid sweep credentials",
				"kind":  "unauthenticated",
			})
			return
		}
		c.Next()
	}
}
