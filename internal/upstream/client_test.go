package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
)

// newTestClient points the client at test servers. The suffix mirrors the
// real endpoints, whose base URLs end in a path segment that the method name
// is appended to with a colon.
func newTestClient(t *testing.T, urls ...string) *Client {
	for i, u := range urls {
		urls[i] = u + "/v1internal"
	}
	t.Setenv("PROXY_INTERNAL_BASE_URLS", strings.Join(urls, ","))
	return NewClient(&config.Config{})
}

func TestGenerateUnwrapsResponseEnvelope(t *testing.T) {
	var gotPath, gotAuth, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]},"traceId":"t"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, errMsg := client.Generate(context.Background(), Request{Model: "gemini-3-flash", AccessToken: "tok", Body: []byte(`{}`)})

	require.Nil(t, errMsg)
	assert.Equal(t, "/v1internal:generateContent", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Contains(t, string(body), `"candidates"`)
	assert.NotContains(t, string(body), "traceId")
}

func TestAnthropicBetaHeaderOnlyForClaudeModels(t *testing.T) {
	var gotBeta string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("anthropic-beta")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, errMsg := client.Generate(context.Background(), Request{Model: "claude-sonnet-4-5", Body: []byte(`{}`)})
	require.Nil(t, errMsg)
	assert.Equal(t, anthropicBeta, gotBeta)

	_, errMsg = client.Generate(context.Background(), Request{Model: "gemini-3-flash", Body: []byte(`{}`)})
	require.Nil(t, errMsg)
	assert.Empty(t, gotBeta)
}

func TestFailoverOnServerErrors(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"ok":true}}`))
	}))
	defer second.Close()

	client := newTestClient(t, first.URL, second.URL)
	body, errMsg := client.Generate(context.Background(), Request{Model: "m", Body: []byte(`{}`)})

	require.Nil(t, errMsg)
	assert.Contains(t, string(body), `"ok":true`)
}

func TestNoFailoverOnAuthErrors(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"permission denied"}}`))
	}))
	defer first.Close()

	secondCalled := false
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		secondCalled = true
		_, _ = w.Write([]byte(`{}`))
	}))
	defer second.Close()

	client := newTestClient(t, first.URL, second.URL)
	_, errMsg := client.Generate(context.Background(), Request{Model: "m", Body: []byte(`{}`)})

	require.NotNil(t, errMsg)
	assert.Equal(t, http.StatusForbidden, errMsg.StatusCode)
	assert.Contains(t, errMsg.Error.Error(), "permission denied")
	assert.False(t, secondCalled)
}

func TestStreamGenerateReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("data: {\"response\":{}}\n\n"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, errMsg := client.StreamGenerate(context.Background(), Request{Model: "m", Body: []byte(`{}`)})

	require.Nil(t, errMsg)
	defer func() { _ = body.Close() }()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data: ")
}

func TestEnvOverridesTrimTrailingSlash(t *testing.T) {
	t.Setenv("PROXY_INTERNAL_BASE_URLS", "https://a.example.com/, https://b.example.com")
	client := NewClient(&config.Config{})
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, client.BaseURLs())
}

func TestCanaryPutsDailyFirst(t *testing.T) {
	cfg := &config.Config{}
	cfg.Proxy.BackendCanaryEnabled = true
	client := NewClient(cfg)
	assert.Equal(t, []string{dailyBaseURL, prodBaseURL}, client.BaseURLs())
}
