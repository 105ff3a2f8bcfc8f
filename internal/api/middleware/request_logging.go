// Package middleware holds the gin middleware shared by every frontend:
// API key enforcement and optional request/response logging.
package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/AntigravityProxyAPI/internal/logging"
)

// RequestLogging captures request and response bodies through the request
// logger. With logging disabled the middleware is a passthrough.
func RequestLogging(logger logging.RequestLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !logger.IsEnabled() {
			c.Next()
			return
		}

		info, err := captureRequestInfo(c)
		if err != nil {
			c.Next()
			return
		}

		wrapper := newResponseWriterWrapper(c.Writer, logger, info)
		c.Writer = wrapper

		c.Next()

		_ = wrapper.Finalize(c)
	}
}

// captureRequestInfo snapshots the request line, headers, and body. The body
// is restored so the handler still reads it.
func captureRequestInfo(c *gin.Context) (*requestInfo, error) {
	url := c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		url += "?" + c.Request.URL.RawQuery
	}

	headers := make(map[string][]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		headers[key] = values
	}

	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(data))
		body = data
	}

	return &requestInfo{
		URL:     url,
		Method:  c.Request.Method,
		Headers: headers,
		Body:    body,
	}, nil
}
