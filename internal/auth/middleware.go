package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware guards the admin routes with the configured auth.api_key. The key
// is read from "Authorization: Bearer <key>" or "x-api-key: <key>".
func Middleware(apiKey string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			deny(c, http.StatusInternalServerError, "admin_misconfigured", "auth.api_key is not set")
			return
		}
		got := PresentedKey(c.Request)
		if got == "" {
			deny(c, http.StatusUnauthorized, "missing_api_key", "admin key required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			deny(c, http.StatusUnauthorized, "invalid_api_key", "unauthorized")
			return
		}
		c.Next()
	}
}

// PresentedKey returns the admin key a request carries, or "".
func PresentedKey(r *http.Request) string {
	if v, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

func deny(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"message": msg, "type": "admin_error", "code": code},
	})
}
