package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
	_ "github.com/router-for-me/AntigravityProxyAPI/internal/translator"
	"github.com/router-for-me/AntigravityProxyAPI/internal/upstream"
)

type memStore struct {
	accounts []*auth.Account
}

func (s *memStore) List(context.Context) ([]*auth.Account, error) { return s.accounts, nil }
func (s *memStore) Get(_ context.Context, id string) (*auth.Account, error) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}
func (s *memStore) Save(context.Context, *auth.Account) error { return nil }
func (s *memStore) Delete(context.Context, string) error      { return nil }

type generateCall struct {
	req upstream.Request
}

type fakeBackend struct {
	generateCalls []generateCall
	streamCalls   []generateCall

	generate func(call int, req upstream.Request) ([]byte, *interfaces.ErrorMessage)
	stream   func(call int, req upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage)
}

func (b *fakeBackend) Generate(_ context.Context, req upstream.Request) ([]byte, *interfaces.ErrorMessage) {
	call := len(b.generateCalls)
	b.generateCalls = append(b.generateCalls, generateCall{req})
	return b.generate(call, req)
}

func (b *fakeBackend) StreamGenerate(_ context.Context, req upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
	call := len(b.streamCalls)
	b.streamCalls = append(b.streamCalls, generateCall{req})
	if b.stream == nil {
		return nil, interfaces.NewErrorMessage(http.StatusBadGateway, errors.New("no stream backend"))
	}
	return b.stream(call, req)
}

func farFuture() int64 { return time.Now().Add(2 * time.Hour).Unix() }

func testAccount(id string) *auth.Account {
	return &auth.Account{
		ID:       id,
		Provider: "google",
		Email:    id + "@example.com",
		IsActive: true,
		Token: auth.Token{
			AccessToken:     "token-" + id,
			RefreshToken:    "refresh-" + id,
			ExpiryTimestamp: farFuture(),
			ProjectID:       "project-" + id,
		},
	}
}

func newTestOrchestrator(t *testing.T, backend Backend, accounts ...*auth.Account) *Orchestrator {
	t.Helper()
	tokenPool := pool.NewTokenPool(&memStore{accounts: accounts}, nil)
	require.NoError(t, tokenPool.Reload(context.Background()))

	cfg := &config.Config{RequestRetry: 3}
	o := New(cfg, tokenPool, backend)
	o.sleep = func(time.Duration) {}
	o.randFloat = func() float64 { return 0.5 }
	return o
}

const simpleGemini = `{"contents":[{"parts":[{"text":"hi"}]}]}`

func okUnary(text string) []byte {
	return []byte(fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1}}`, text))
}

func TestExecuteRotatesPastRateLimitedAccount(t *testing.T) {
	backend := &fakeBackend{
		generate: func(call int, _ upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			if call == 0 {
				return nil, interfaces.NewErrorMessage(http.StatusTooManyRequests, errors.New("rate_limit exceeded"))
			}
			return okUnary("ok"), nil
		},
	}
	a, b := testAccount("a"), testAccount("b")
	o := newTestOrchestrator(t, backend, a, b)

	out, errMsg := o.Execute(context.Background(), constant.Gemini, "gemini-3-flash", []byte(simpleGemini))
	require.Nil(t, errMsg)
	assert.Equal(t, "ok", gjson.GetBytes(out, "candidates.0.content.parts.0.text").String())

	// Two distinct accounts were tried; the failing one is cooling down.
	require.Len(t, backend.generateCalls, 2)
	assert.NotEqual(t, backend.generateCalls[0].req.AccessToken, backend.generateCalls[1].req.AccessToken)
	_, coolingA := o.pool.CooldownUntil("a")
	_, coolingB := o.pool.CooldownUntil("b")
	assert.True(t, coolingA)
	assert.False(t, coolingB)
}

func TestExecuteSurfacesFatalErrorImmediately(t *testing.T) {
	backend := &fakeBackend{
		generate: func(int, upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			return nil, interfaces.NewErrorMessage(http.StatusBadRequest, errors.New("invalid argument"))
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"), testAccount("b"))

	_, errMsg := o.Execute(context.Background(), constant.Gemini, "gemini-3-flash", []byte(simpleGemini))
	require.NotNil(t, errMsg)
	assert.Equal(t, http.StatusBadRequest, errMsg.StatusCode)
	assert.Len(t, backend.generateCalls, 1)
}

func TestExecuteProjectContextInlineRetry(t *testing.T) {
	backend := &fakeBackend{
		generate: func(call int, req upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			if call == 0 {
				return nil, interfaces.NewErrorMessage(http.StatusBadRequest, errors.New("error #3501: no google cloud project"))
			}
			return okUnary("rescued"), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	out, errMsg := o.Execute(context.Background(), constant.Gemini, "gemini-3-flash", []byte(simpleGemini))
	require.Nil(t, errMsg)
	assert.Equal(t, "rescued", gjson.GetBytes(out, "candidates.0.content.parts.0.text").String())

	// Same account both times; the retry clears the project field.
	require.Len(t, backend.generateCalls, 2)
	assert.Equal(t, "project-a", gjson.GetBytes(backend.generateCalls[0].req.Body, "project").String())
	assert.Equal(t, "", gjson.GetBytes(backend.generateCalls[1].req.Body, "project").String())
	_, cooling := o.pool.CooldownUntil("a")
	assert.False(t, cooling)
}

func TestExecuteClaudeQuotaDowngrade(t *testing.T) {
	backend := &fakeBackend{
		generate: func(call int, req upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			if call == 0 {
				return nil, interfaces.NewErrorMessage(http.StatusTooManyRequests, errors.New("resource has been exhausted"))
			}
			return okUnary("downgraded"), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	body := []byte(`{"model":"claude-sonnet-4-5-thinking","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	out, errMsg := o.Execute(context.Background(), constant.Claude, "claude-sonnet-4-5-thinking", body)
	require.Nil(t, errMsg)

	require.Len(t, backend.generateCalls, 2)
	assert.Equal(t, "claude-sonnet-4-5-thinking", gjson.GetBytes(backend.generateCalls[0].req.Body, "model").String())
	assert.Equal(t, "gemini-2.5-flash", gjson.GetBytes(backend.generateCalls[1].req.Body, "model").String())
	assert.Equal(t, "gemini-2.5-flash", backend.generateCalls[1].req.Model)

	// The client still sees the model it asked for.
	assert.Equal(t, "claude-sonnet-4-5-thinking", gjson.GetBytes(out, "model").String())
}

func TestExecuteEmptyUnaryStreamRescue(t *testing.T) {
	backend := &fakeBackend{
		generate: func(int, upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			return []byte(`{"candidates":[{"content":{}}]}`), nil
		},
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			sse := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hello \"}]}}]}}\n\n" +
				"data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"world\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":2,\"candidatesTokenCount\":3}}}\n\n"
			return io.NopCloser(strings.NewReader(sse)), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	out, errMsg := o.Execute(context.Background(), constant.Gemini, "gemini-3-flash", []byte(simpleGemini))
	require.Nil(t, errMsg)

	// The two text frames merged into one part.
	parts := gjson.GetBytes(out, "candidates.0.content.parts").Array()
	require.Len(t, parts, 1)
	assert.Equal(t, "hello world", parts[0].Get("text").String())
	assert.Equal(t, "STOP", gjson.GetBytes(out, "candidates.0.finishReason").String())
	assert.Equal(t, int64(3), gjson.GetBytes(out, "usageMetadata.candidatesTokenCount").Int())
}

func TestExecuteEmptyEverywhereIsEmptyStreamError(t *testing.T) {
	backend := &fakeBackend{
		generate: func(int, upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			return []byte(`{}`), nil
		},
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			return io.NopCloser(strings.NewReader("")), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	_, errMsg := o.Execute(context.Background(), constant.Gemini, "gemini-3-flash", []byte(simpleGemini))
	require.NotNil(t, errMsg)
	assert.ErrorIs(t, errMsg.Error, interfaces.ErrEmptyResponseStream)
}

func collectStream(t *testing.T, dataChan <-chan []byte, errChan <-chan *interfaces.ErrorMessage) ([]string, *interfaces.ErrorMessage) {
	t.Helper()
	var chunks []string
	var errMsg *interfaces.ErrorMessage
	for dataChan != nil || errChan != nil {
		select {
		case chunk, ok := <-dataChan:
			if !ok {
				dataChan = nil
				continue
			}
			chunks = append(chunks, string(chunk))
		case e, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			errMsg = e
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not finish")
		}
	}
	return chunks, errMsg
}

func TestExecuteStreamOpenAIChunks(t *testing.T) {
	backend := &fakeBackend{
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			sse := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hi\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":1,\"candidatesTokenCount\":1}}}\n\n"
			return io.NopCloser(strings.NewReader(sse)), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	dataChan, errChan := o.ExecuteStream(context.Background(), constant.OpenAI, "gpt-4o", body)
	chunks, errMsg := collectStream(t, dataChan, errChan)

	require.Nil(t, errMsg)
	require.Len(t, chunks, 2)

	first := gjson.Parse(chunks[0])
	assert.Equal(t, "chat.completion.chunk", first.Get("object").String())
	assert.Equal(t, "gpt-4o", first.Get("model").String())
	assert.Equal(t, "Hi", first.Get("choices.0.delta.content").String())
	assert.Equal(t, "stop", gjson.Parse(chunks[1]).Get("choices.0.finish_reason").String())
}

func TestExecuteStreamClaudeEventSequence(t *testing.T) {
	backend := &fakeBackend{
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			sse := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hi\"}]},\"finishReason\":\"STOP\"}]}}\n\n"
			return io.NopCloser(strings.NewReader(sse)), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":10,"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	dataChan, errChan := o.ExecuteStream(context.Background(), constant.Claude, "claude-sonnet-4-5", body)
	chunks, errMsg := collectStream(t, dataChan, errChan)

	require.Nil(t, errMsg)
	var events []string
	for _, chunk := range chunks {
		line, _, _ := strings.Cut(chunk, "\n")
		events = append(events, strings.TrimPrefix(line, "event: "))
	}
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}, events)
}

func TestExecuteStreamEmptyStreamErrorForClaude(t *testing.T) {
	backend := &fakeBackend{
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			return io.NopCloser(strings.NewReader("")), nil
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	dataChan, errChan := o.ExecuteStream(context.Background(), constant.Claude, "claude-sonnet-4-5", body)
	chunks, errMsg := collectStream(t, dataChan, errChan)

	assert.Empty(t, chunks)
	require.NotNil(t, errMsg)
	assert.ErrorIs(t, errMsg.Error, interfaces.ErrEmptyResponseStream)
}

func TestExecuteStreamFallsBackToUnaryForOpenAI(t *testing.T) {
	longText := strings.Repeat("0123456789", 25)
	backend := &fakeBackend{
		generate: func(int, upstream.Request) ([]byte, *interfaces.ErrorMessage) {
			return okUnary(longText), nil
		},
		stream: func(int, upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage) {
			return nil, interfaces.NewErrorMessage(http.StatusBadGateway, errors.New("socket hang up"))
		},
	}
	o := newTestOrchestrator(t, backend, testAccount("a"))

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	dataChan, errChan := o.ExecuteStream(context.Background(), constant.OpenAI, "gpt-4o", body)
	chunks, errMsg := collectStream(t, dataChan, errChan)

	require.Nil(t, errMsg)
	// Three stream attempts before falling back.
	assert.Len(t, backend.streamCalls, 3)

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		parsed := gjson.Parse(chunk)
		delta := parsed.Get("choices.0.delta.content").String()
		assert.LessOrEqual(t, len(delta), 80)
		rebuilt.WriteString(delta)
	}
	assert.Equal(t, longText, rebuilt.String())
	assert.Equal(t, "stop", gjson.Parse(chunks[len(chunks)-1]).Get("choices.0.finish_reason").String())
}

func TestCalculateRetryDelayBounds(t *testing.T) {
	o := &Orchestrator{randFloat: func() float64 { return 0.5 }}

	assert.Equal(t, 500*time.Millisecond, o.calculateRetryDelay(0))
	assert.Equal(t, time.Second, o.calculateRetryDelay(1))
	assert.Equal(t, 8*time.Second, o.calculateRetryDelay(10))

	// Jitter swings the delay by up to a quarter either way.
	low := &Orchestrator{randFloat: func() float64 { return 0 }}
	high := &Orchestrator{randFloat: func() float64 { return 1 }}
	assert.Equal(t, 375*time.Millisecond, low.calculateRetryDelay(0))
	assert.Equal(t, 625*time.Millisecond, high.calculateRetryDelay(0))
}

func TestSessionKeys(t *testing.T) {
	assert.Equal(t, "anthropic:s1", sessionKey(constant.Claude, []byte(`{"metadata":{"session_id":"s1"}}`)))
	assert.Equal(t, "anthropic:u1", sessionKey(constant.Claude, []byte(`{"metadata":{"user_id":"u1"}}`)))
	assert.Equal(t, "openai:s2", sessionKey(constant.OpenAI, []byte(`{"extra":{"sessionId":"s2"}}`)))

	// Non-string or absent identities produce no key.
	assert.Empty(t, sessionKey(constant.Claude, []byte(`{"metadata":{"session_id":7}}`)))
	assert.Empty(t, sessionKey(constant.OpenAI, []byte(`{}`)))
	assert.Empty(t, sessionKey(constant.Gemini, []byte(`{"metadata":{"session_id":"x"}}`)))
}

func TestClassifyErrorTable(t *testing.T) {
	cases := []struct {
		status  int
		message string
		want    interfaces.ErrorKind
	}{
		{401, "unauthorized", interfaces.KindForbidden},
		{403, "permission_denied", interfaces.KindForbidden},
		{500, "invalid_grant", interfaces.KindForbidden},
		{429, "rate_limit exceeded", interfaces.KindRateLimited},
		{429, "quota exceeded for minute", interfaces.KindQuotaExhausted},
		{403, "quota exceeded for minute", interfaces.KindForbidden},
		{400, "quota exceeded for minute", interfaces.KindQuotaExhausted},
		{500, "resource has been exhausted", interfaces.KindQuotaExhausted},
		{503, "service unavailable", interfaces.KindTransient},
		{408, "", interfaces.KindTransient},
		{502, "socket hang up", interfaces.KindTransient},
		{500, "empty response stream", interfaces.KindEmptyResponseStream},
		{400, "error #3501 for project", interfaces.KindProjectContext},
		{404, "resource projects/p-123 could not be found", interfaces.KindProjectContext},
		{400, "google cloud project lacks a code assist license", interfaces.KindProjectContext},
		{400, "invalid argument", interfaces.KindBadRequest},
		{418, "teapot", interfaces.KindFatal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.status, tc.message), "%d %q", tc.status, tc.message)
	}
}

func TestApplyImageVariant(t *testing.T) {
	payload := []byte(`{"model":"gemini-3-pro-image-4k-16x9","request":{"contents":[]}}`)

	model, out := applyImageVariant("gemini-3-pro-image-4k-16x9", payload)
	assert.Equal(t, "gemini-3-pro-image", model)
	assert.Equal(t, "gemini-3-pro-image", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "4K", gjson.GetBytes(out, "request.generationConfig.imageConfig.imageSize").String())
	assert.Equal(t, "16:9", gjson.GetBytes(out, "request.generationConfig.imageConfig.aspectRatio").String())

	// The bare image model and non-image models pass through untouched.
	model, out = applyImageVariant("gemini-3-pro-image", payload)
	assert.Equal(t, "gemini-3-pro-image", model)
	assert.Equal(t, payload, out)

	model, _ = applyImageVariant("gemini-3-flash", payload)
	assert.Equal(t, "gemini-3-flash", model)
}
