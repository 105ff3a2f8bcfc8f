package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyProvider returns the currently configured access key. A live
// callback keeps management-plane key rotation effective without a restart.
type APIKeyProvider func() string

// APIKeyAuth enforces the configured access key. Without a configured key
// every request passes. The key may arrive as a Bearer token, x-api-key,
// x-goog-api-key, or the key query parameter.
func APIKeyAuth(provider APIKeyProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := provider()
		if apiKey == "" {
			c.Next()
			return
		}

		if requestKey(c) == apiKey {
			c.Next()
			return
		}

		writeUnauthorized(c)
		c.Abort()
	}
}

// requestKey extracts the client-supplied key, first non-empty source wins.
func requestKey(c *gin.Context) string {
	if auth := headerValue(c, "Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return strings.TrimSpace(token)
		}
		return auth
	}
	if key := headerValue(c, "x-api-key"); key != "" {
		return key
	}
	if key := headerValue(c, "x-goog-api-key"); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("key"))
}

// headerValue returns the first non-empty trimmed value for a header.
func headerValue(c *gin.Context, name string) string {
	for _, value := range c.Request.Header.Values(name) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// writeUnauthorized renders 401 in the protocol shape matching the path.
func writeUnauthorized(c *gin.Context) {
	path := c.Request.URL.Path
	switch {
	case strings.HasPrefix(path, "/v1/messages"):
		c.JSON(http.StatusUnauthorized, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "invalid api key",
			},
		})
	case strings.HasPrefix(path, "/v1beta"):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    http.StatusUnauthorized,
				"message": "API key not valid",
				"status":  "UNAUTHENTICATED",
			},
		})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"message": "invalid api key",
				"type":    "authentication_error",
			},
		})
	}
}
