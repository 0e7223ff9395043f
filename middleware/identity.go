package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	UserIDKey    = "user_id"
	UserIDHeader = "X-User-ID"
)

// Identity reads the caller's user id from the X-User-ID header, falling back
// to the userId query parameter. The id is trusted as supplied; requests
// without one are rejected with 401.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if id == "" {
			id = strings.TrimSpace(c.Query("userId"))
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}

// GetUserID retrieves the caller's user id set by Identity.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(UserIDKey); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
