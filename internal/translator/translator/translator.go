// Package translator keeps the registry of request and response conversions
// between client protocols and the antigravity backend. Conversion pairs
// register themselves from init functions; lookups that miss pass the payload
// through untouched.
package translator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
)

var (
	requests  = make(map[string]map[string]interfaces.TranslateRequestFunc)
	responses = make(map[string]map[string]interfaces.TranslateResponse)
)

// Register installs the request and response conversions for a from/to
// protocol pair. Later registrations for the same pair win.
func Register(from, to string, request interfaces.TranslateRequestFunc, response interfaces.TranslateResponse) {
	log.Debugf("registering translator from %s to %s", from, to)
	if _, ok := requests[from]; !ok {
		requests[from] = make(map[string]interfaces.TranslateRequestFunc)
	}
	requests[from][to] = request

	if _, ok := responses[from]; !ok {
		responses[from] = make(map[string]interfaces.TranslateResponse)
	}
	responses[from][to] = response
}

// Request converts a client request body into the backend format. Unregistered
// pairs return the body unchanged.
func Request(from, to, modelName string, rawJSON []byte, stream bool) []byte {
	if convert, ok := requests[from][to]; ok {
		return convert(modelName, rawJSON, stream)
	}
	return rawJSON
}

// Response converts one backend stream payload into zero or more client
// frames. The backend signals end of stream with a literal "[DONE]" payload.
func Response(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if convert, ok := responses[from][to]; ok && convert.Stream != nil {
		return convert.Stream(ctx, modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return []string{string(rawJSON)}
}

// ResponseNonStream converts a complete backend response body into the client
// format.
func ResponseNonStream(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	if convert, ok := responses[from][to]; ok && convert.NonStream != nil {
		return convert.NonStream(ctx, modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return string(rawJSON)
}
