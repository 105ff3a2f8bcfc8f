// Package orchestrator drives one client request through the account pool
// and the upstream client: account selection, the retry loop with backoff,
// error classification, the inline project-context and quota fallbacks, and
// the stream/unary rescue paths. Handlers hand it raw protocol bodies; it
// hands back translated protocol responses.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
	"github.com/router-for-me/AntigravityProxyAPI/internal/registry"
	"github.com/router-for-me/AntigravityProxyAPI/internal/translator/translator"
	"github.com/router-for-me/AntigravityProxyAPI/internal/upstream"
)

const (
	defaultAttempts = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second

	// quotaDowngradeModel absorbs Anthropic-surface traffic when the claude
	// models run out of quota.
	quotaDowngradeModel = "gemini-2.5-flash"
)

// Backend is the upstream surface the orchestrator drives.
type Backend interface {
	Generate(ctx context.Context, req upstream.Request) ([]byte, *interfaces.ErrorMessage)
	StreamGenerate(ctx context.Context, req upstream.Request) (io.ReadCloser, *interfaces.ErrorMessage)
}

// Orchestrator coordinates the pool, the translators, and the upstream
// client for one proxy instance.
type Orchestrator struct {
	cfg    *config.Config
	pool   *pool.TokenPool
	client Backend

	// sleep and randFloat are hooks for tests.
	sleep     func(time.Duration)
	randFloat func() float64
}

// New wires an orchestrator over the given pool and backend.
func New(cfg *config.Config, tokenPool *pool.TokenPool, client Backend) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		pool:      tokenPool,
		client:    client,
		sleep:     time.Sleep,
		randFloat: rand.Float64,
	}
}

// UpdateConfig swaps the configuration after a reload and forwards it to
// the backend when it accepts one.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	o.cfg = cfg
	if backend, ok := o.client.(interface{ UpdateConfig(*config.Config) }); ok {
		backend.UpdateConfig(cfg)
	}
}

func (o *Orchestrator) attempts() int {
	if o.cfg != nil && o.cfg.RequestRetry > 0 {
		return o.cfg.RequestRetry
	}
	return defaultAttempts
}

// calculateRetryDelay returns the backoff before retry number attempt
// (0-based): exponential from 500ms, doubled each step, capped at 8s, with
// a ±25% jitter.
func (o *Orchestrator) calculateRetryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	jitter := 0.75 + o.randFloat()*0.5
	return time.Duration(float64(delay) * jitter)
}

// resolveModel maps the client model name onto the upstream model ID using
// the configured overrides.
func (o *Orchestrator) resolveModel(model string) string {
	var custom, anthropic map[string]string
	if o.cfg != nil {
		custom = o.cfg.Proxy.CustomMapping
		anthropic = o.cfg.Proxy.AnthropicMapping
	}
	return registry.ResolveModelRoute(model, custom, custom, anthropic)
}

// applyImageVariant folds an image variant model ID into the base image
// model plus its generation knobs on the envelope.
func applyImageVariant(upstreamModel string, payload []byte) (string, []byte) {
	base, size, aspect, ok := registry.ParseImageVariant(upstreamModel)
	if !ok || (size == "" && aspect == "") {
		return upstreamModel, payload
	}
	payload, _ = sjson.SetBytes(payload, "model", base)
	if size != "" {
		payload, _ = sjson.SetBytes(payload, "request.generationConfig.imageConfig.imageSize", size)
	}
	if aspect != "" {
		payload, _ = sjson.SetBytes(payload, "request.generationConfig.imageConfig.aspectRatio", aspect)
	}
	return base, payload
}

func (o *Orchestrator) selectAccount(ctx context.Context, sessionKey string, attempted []string) (*auth.Account, *interfaces.ErrorMessage) {
	account, err := o.pool.SelectNext(ctx, pool.SelectOptions{SessionKey: sessionKey, ExcludeAccountIDs: attempted})
	if err != nil {
		return nil, interfaces.NewErrorMessage(http.StatusServiceUnavailable, err)
	}
	if account == nil {
		return nil, interfaces.NewErrorMessage(http.StatusServiceUnavailable, errors.New("no available accounts in the pool"))
	}
	return account, nil
}

// markAccount applies the cooldown policy for one classified failure and
// reports whether the retry loop should continue.
func (o *Orchestrator) markAccount(account *auth.Account, kind interfaces.ErrorKind) bool {
	switch kind {
	case interfaces.KindForbidden:
		o.pool.MarkForbidden(account.ID)
		return true
	case interfaces.KindRateLimited, interfaces.KindQuotaExhausted:
		o.pool.MarkRateLimited(account.ID)
		return true
	case interfaces.KindTransient, interfaces.KindEmptyResponseStream, interfaces.KindProjectContext:
		return true
	}
	return false
}

func accountRequest(account *auth.Account, model string, payload []byte) upstream.Request {
	body, _ := sjson.SetBytes(payload, "project", account.Token.ProjectID)
	return upstream.Request{
		Model:       model,
		AccessToken: account.Token.AccessToken,
		ProxyURL:    account.Token.UpstreamProxyURL,
		Body:        body,
	}
}

func downgradeRequest(req upstream.Request) upstream.Request {
	req.Model = quotaDowngradeModel
	req.Body, _ = sjson.SetBytes(req.Body, "model", quotaDowngradeModel)
	return req
}

// Execute runs one non-streaming generation request end to end and returns
// the response translated back into the client protocol.
func (o *Orchestrator) Execute(ctx context.Context, handlerType, modelName string, rawJSON []byte) ([]byte, *interfaces.ErrorMessage) {
	upstreamModel := o.resolveModel(modelName)
	payload := translator.Request(handlerType, constant.Antigravity, upstreamModel, rawJSON, false)
	upstreamModel, payload = applyImageVariant(upstreamModel, payload)
	key := sessionKey(handlerType, rawJSON)

	var attempted []string
	var lastErr *interfaces.ErrorMessage

	for attempt := 0; attempt < o.attempts(); attempt++ {
		if attempt > 0 {
			o.sleep(o.calculateRetryDelay(attempt - 1))
		}

		account, errMsg := o.selectAccount(ctx, key, attempted)
		if errMsg != nil {
			return nil, errMsg
		}
		attempted = appendUnique(attempted, account.ID)

		body, errMsg := o.generateWithAccount(ctx, account, handlerType, upstreamModel, payload)
		if errMsg == nil {
			var param any
			out := translator.ResponseNonStream(handlerType, constant.Antigravity, ctx, modelName, rawJSON, payload, body, &param)
			return []byte(out), nil
		}

		lastErr = errMsg
		kind := ClassifyError(errMsg.StatusCode, errMsg.Error.Error())
		log.Warnf("request attempt %d/%d with account %s failed (%s): %v", attempt+1, o.attempts(), account.Email, kind, errMsg.Error)
		if !o.markAccount(account, kind) {
			return nil, errMsg
		}
	}
	return nil, lastErr
}

// generateWithAccount performs one unary attempt including the inline
// project-context retry, the Anthropic quota downgrade, and the empty-unary
// stream rescue.
func (o *Orchestrator) generateWithAccount(ctx context.Context, account *auth.Account, handlerType, upstreamModel string, payload []byte) ([]byte, *interfaces.ErrorMessage) {
	req := accountRequest(account, upstreamModel, payload)

	body, errMsg := o.client.Generate(ctx, req)
	if errMsg != nil {
		if isProjectContextError(errMsg.Error.Error()) {
			log.Infof("project context rejected for account %s, retrying without project", account.Email)
			retryReq := req
			retryReq.Body, _ = sjson.SetBytes(req.Body, "project", "")
			body, errMsg = o.client.Generate(ctx, retryReq)
		}
	}
	if errMsg != nil && handlerType == constant.Claude && upstreamModel != quotaDowngradeModel &&
		isQuotaExhausted(errMsg.Error.Error()) {
		log.Infof("claude quota exhausted for account %s, downgrading to %s", account.Email, quotaDowngradeModel)
		body, errMsg = o.client.Generate(ctx, downgradeRequest(req))
	}
	if errMsg != nil {
		return nil, errMsg
	}

	if !gjson.GetBytes(body, "candidates.0.content.parts").Exists() {
		return o.rescueEmptyUnary(ctx, req)
	}
	return body, nil
}

// rescueEmptyUnary retries an empty unary result over the streaming endpoint
// and folds the stream back into a unary response.
func (o *Orchestrator) rescueEmptyUnary(ctx context.Context, req upstream.Request) ([]byte, *interfaces.ErrorMessage) {
	log.Debug("unary response had no parts, retrying over the stream endpoint")
	stream, errMsg := o.client.StreamGenerate(ctx, req)
	if errMsg != nil {
		return nil, errMsg
	}
	defer func() { _ = stream.Close() }()

	body, err := accumulateStream(stream)
	if err != nil {
		return nil, interfaces.NewErrorMessage(http.StatusBadGateway, err)
	}
	if body == nil {
		return nil, interfaces.NewErrorMessage(http.StatusInternalServerError, interfaces.ErrEmptyResponseStream)
	}
	return body, nil
}

// ExecuteStream runs one streaming generation request. Chunks arrive on the
// first channel ready to frame; a terminal failure arrives on the second.
func (o *Orchestrator) ExecuteStream(ctx context.Context, handlerType, modelName string, rawJSON []byte) (<-chan []byte, <-chan *interfaces.ErrorMessage) {
	dataChan := make(chan []byte, 64)
	errChan := make(chan *interfaces.ErrorMessage, 1)

	go func() {
		defer close(dataChan)
		defer close(errChan)

		upstreamModel := o.resolveModel(modelName)
		payload := translator.Request(handlerType, constant.Antigravity, upstreamModel, rawJSON, true)
		upstreamModel, payload = applyImageVariant(upstreamModel, payload)
		key := sessionKey(handlerType, rawJSON)

		var attempted []string
		var lastErr *interfaces.ErrorMessage

		for attempt := 0; attempt < o.attempts(); attempt++ {
			if attempt > 0 {
				o.sleep(o.calculateRetryDelay(attempt - 1))
			}

			account, errMsg := o.selectAccount(ctx, key, attempted)
			if errMsg != nil {
				errChan <- errMsg
				return
			}
			attempted = appendUnique(attempted, account.ID)

			stream, errMsg := o.openStream(ctx, account, handlerType, upstreamModel, payload)
			if errMsg == nil {
				o.relayStream(ctx, handlerType, modelName, rawJSON, payload, stream, dataChan, errChan)
				return
			}

			lastErr = errMsg
			kind := ClassifyError(errMsg.StatusCode, errMsg.Error.Error())
			log.Warnf("stream attempt %d/%d with account %s failed (%s): %v", attempt+1, o.attempts(), account.Email, kind, errMsg.Error)
			if !o.markAccount(account, kind) {
				errChan <- errMsg
				return
			}
		}

		// Streams that never opened can still be served for OpenAI clients
		// by running the request unary and slicing the result.
		if handlerType == constant.OpenAI {
			o.streamFromUnary(ctx, handlerType, modelName, rawJSON, dataChan, errChan)
			return
		}
		errChan <- lastErr
	}()

	return dataChan, errChan
}

// openStream opens one streaming attempt, applying the same inline fallbacks
// as the unary path before any body bytes flow.
func (o *Orchestrator) openStream(ctx context.Context, account *auth.Account, handlerType, upstreamModel string, payload []byte) (io.ReadCloser, *interfaces.ErrorMessage) {
	req := accountRequest(account, upstreamModel, payload)

	stream, errMsg := o.client.StreamGenerate(ctx, req)
	if errMsg != nil {
		if isProjectContextError(errMsg.Error.Error()) {
			log.Infof("project context rejected for account %s, retrying without project", account.Email)
			retryReq := req
			retryReq.Body, _ = sjson.SetBytes(req.Body, "project", "")
			stream, errMsg = o.client.StreamGenerate(ctx, retryReq)
		}
	}
	if errMsg != nil && handlerType == constant.Claude && upstreamModel != quotaDowngradeModel &&
		isQuotaExhausted(errMsg.Error.Error()) {
		log.Infof("claude quota exhausted for account %s, downgrading to %s", account.Email, quotaDowngradeModel)
		stream, errMsg = o.client.StreamGenerate(ctx, downgradeRequest(req))
	}
	return stream, errMsg
}

// relayStream scans the upstream SSE body and forwards translated chunks.
// An upstream body that ends without any data payload surfaces as an empty
// stream error for protocols that cannot express an empty turn.
func (o *Orchestrator) relayStream(ctx context.Context, handlerType, modelName string, rawJSON, payload []byte, stream io.ReadCloser, dataChan chan<- []byte, errChan chan<- *interfaces.ErrorMessage) {
	defer func() { _ = stream.Close() }()

	var param any
	sawData := false

	scanner := newStreamScanner(stream)
	for scanner.Scan() {
		framePayload := ssePayload(scanner.Bytes())
		if framePayload == nil {
			continue
		}
		sawData = true
		for _, chunk := range translator.Response(handlerType, constant.Antigravity, ctx, modelName, rawJSON, payload, framePayload, &param) {
			select {
			case dataChan <- []byte(chunk):
			case <-ctx.Done():
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		errChan <- interfaces.NewErrorMessage(http.StatusBadGateway, err)
		return
	}

	if !sawData && handlerType != constant.OpenAI {
		errChan <- interfaces.NewErrorMessage(http.StatusInternalServerError, interfaces.ErrEmptyResponseStream)
		return
	}

	for _, chunk := range translator.Response(handlerType, constant.Antigravity, ctx, modelName, rawJSON, payload, []byte("[DONE]"), &param) {
		select {
		case dataChan <- []byte(chunk):
		case <-ctx.Done():
			return
		}
	}
}

// streamFromUnary serves a streaming OpenAI request from the unary path,
// slicing the completed answer into synthetic deltas.
func (o *Orchestrator) streamFromUnary(ctx context.Context, handlerType, modelName string, rawJSON []byte, dataChan chan<- []byte, errChan chan<- *interfaces.ErrorMessage) {
	log.Info("stream could not be opened, serving the request unary and slicing the result")
	body, errMsg := o.Execute(ctx, handlerType, modelName, rawJSON)
	if errMsg != nil {
		errChan <- errMsg
		return
	}
	for _, chunk := range chatCompletionToChunks(body) {
		select {
		case dataChan <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
