// Package upstream implements the HTTP client for the antigravity internal
// generation endpoints. It owns endpoint failover between the production and
// daily hosts, request headers, and the unary response unwrap; retry policy
// and account rotation live a level up.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/util"
)

const (
	prodBaseURL  = "https://cloudcode-pa.googleapis.com/v1internal"
	dailyBaseURL = "https://daily-cloudcode-pa.googleapis.com/v1internal"

	generatePath = ":generateContent"
	streamPath   = ":streamGenerateContent?alt=sse"

	defaultUserAgent = "antigravity/1.11.9 windows/amd64"
	apiClientHeader  = "gl-go/1.21 gccl/antigravity"

	// anthropicBeta is attached whenever the upstream model is a claude one.
	anthropicBeta = "claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

	defaultTimeout = 60 * time.Second
)

// Request is one upstream generation call.
type Request struct {
	Model       string
	AccessToken string
	ProxyURL    string
	Body        []byte
}

// Client dispatches generation calls against the ordered endpoint list.
type Client struct {
	cfg       *config.Config
	baseURLs  []string
	userAgent string
}

// NewClient builds a client whose endpoint order and user agent honor the
// environment overrides. With backend_canary enabled the daily host is tried
// first.
func NewClient(cfg *config.Config) *Client {
	c := &Client{
		cfg:       cfg,
		baseURLs:  resolveBaseURLs(cfg),
		userAgent: defaultUserAgent,
	}
	if ua := os.Getenv("PROXY_REQUEST_USER_AGENT"); ua != "" {
		c.userAgent = ua
	}
	return c
}

// UpdateConfig swaps the configuration after a reload. Environment endpoint
// overrides keep precedence over the canary flag.
func (c *Client) UpdateConfig(cfg *config.Config) {
	c.cfg = cfg
	c.baseURLs = resolveBaseURLs(cfg)
}

func resolveBaseURLs(cfg *config.Config) []string {
	urls := []string{prodBaseURL, dailyBaseURL}
	if cfg != nil && cfg.Proxy.BackendCanaryEnabled {
		urls = []string{dailyBaseURL, prodBaseURL}
	}

	for _, key := range []string{"PROXY_INTERNAL_BASE_URLS", "ANTIGRAVITY_INTERNAL_BASE_URLS"} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		var overrides []string
		for _, entry := range strings.Split(raw, ",") {
			entry = strings.TrimRight(strings.TrimSpace(entry), "/")
			if entry != "" {
				overrides = append(overrides, entry)
			}
		}
		if len(overrides) > 0 {
			return overrides
		}
		break
	}
	return urls
}

// BaseURLs exposes the resolved endpoint order.
func (c *Client) BaseURLs() []string {
	return append([]string(nil), c.baseURLs...)
}

func (c *Client) httpClient(proxyURL string) *http.Client {
	timeout := defaultTimeout
	if c.cfg != nil && c.cfg.Proxy.RequestTimeout > 0 {
		timeout = time.Duration(c.cfg.Proxy.RequestTimeout) * time.Second
	}
	if timeout < time.Second {
		timeout = time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if proxyURL == "" && c.cfg != nil && c.cfg.Proxy.UpstreamProxy.Enabled {
		proxyURL = c.cfg.Proxy.UpstreamProxy.URL
	}
	if proxyURL != "" {
		util.SetProxy(proxyURL, httpClient)
	}
	return httpClient
}

func (c *Client) newRequest(ctx context.Context, baseURL, path string, req Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Goog-Api-Client", apiClientHeader)
	if strings.Contains(strings.ToLower(req.Model), "claude") {
		httpReq.Header.Set("anthropic-beta", anthropicBeta)
	}
	return httpReq, nil
}

// shouldFailover reports whether the next endpoint should be tried. Auth
// failures are account problems, not host problems, so they never fail over.
func shouldFailover(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	}
	return false
}

func upstreamError(statusCode int, body []byte) *interfaces.ErrorMessage {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return interfaces.NewErrorMessage(statusCode, fmt.Errorf("upstream status %d: %s", statusCode, message))
}

// Generate performs a unary generateContent call and returns the unwrapped
// response body.
func (c *Client) Generate(ctx context.Context, req Request) ([]byte, *interfaces.ErrorMessage) {
	body, errMsg := c.do(ctx, generatePath, req)
	if errMsg != nil {
		return nil, errMsg
	}
	defer func() { _ = body.Close() }()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, interfaces.NewErrorMessage(http.StatusBadGateway, fmt.Errorf("read upstream response: %w", err))
	}
	if inner := gjson.GetBytes(raw, "response"); inner.Exists() {
		raw = []byte(inner.Raw)
	}
	return raw, nil
}

// StreamGenerate opens a streamGenerateContent SSE call and returns the
// response body for the caller to scan.
func (c *Client) StreamGenerate(ctx context.Context, req Request) (io.ReadCloser, *interfaces.ErrorMessage) {
	return c.do(ctx, streamPath, req)
}

func (c *Client) do(ctx context.Context, path string, req Request) (io.ReadCloser, *interfaces.ErrorMessage) {
	httpClient := c.httpClient(req.ProxyURL)

	var lastErr *interfaces.ErrorMessage
	for i, baseURL := range c.baseURLs {
		httpReq, err := c.newRequest(ctx, baseURL, path, req)
		if err != nil {
			return nil, interfaces.NewErrorMessage(http.StatusInternalServerError, err)
		}

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, interfaces.NewErrorMessage(http.StatusRequestTimeout, ctx.Err())
			}
			lastErr = interfaces.NewErrorMessage(http.StatusBadGateway, err)
			if i < len(c.baseURLs)-1 {
				log.Warnf("upstream: %s unreachable, trying next endpoint: %v", baseURL, err)
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		lastErr = upstreamError(resp.StatusCode, respBody)

		if shouldFailover(resp.StatusCode) && i < len(c.baseURLs)-1 {
			log.Warnf("upstream: %s returned %d, trying next endpoint", baseURL, resp.StatusCode)
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}
