package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyHeaderKey is the header clients present their key in.
const APIKeyHeaderKey = "X-API-Key"

// AuthConfig holds authentication middleware configuration.
type AuthConfig struct {
	// APIKey is the single shared key. Empty disables authentication:
	// a LAN-only deployment commonly runs open.
	APIKey string
	// SkipPaths never require a key (health, metrics). A trailing *
	// matches by prefix.
	SkipPaths []string
}

// AuthMiddleware validates the X-API-Key header against the configured
// key.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.APIKey == "" {
			c.Next()
			return
		}

		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		presented := c.GetHeader(APIKeyHeaderKey)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(config.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"hint":  "provide " + APIKeyHeaderKey + " header",
			})
			return
		}

		c.Next()
	}
}

// matchPath checks if a request path matches a pattern.
// Supports wildcards: /api/* matches /api/anything.
func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return path == pattern
}
