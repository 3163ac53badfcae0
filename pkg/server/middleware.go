package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiKeyAuth accepts "Authorization: Bearer <key>". Quotes around the value
// are ignored.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.ReplaceAll(c.GetHeader("Authorization"), `"`, "")
		got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
		if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.String(http.StatusUnauthorized, "Missing or invalid API key.")
			c.Abort()
			return
		}
		c.Next()
	}
}
