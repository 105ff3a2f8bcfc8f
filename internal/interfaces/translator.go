package interfaces

import "context"

// TranslateRequestFunc converts a client-protocol request body into the
// backend request body. The stream flag tells the translator whether the
// caller intends to consume the result as a stream.
type TranslateRequestFunc func(modelName string, rawJSON []byte, stream bool) []byte

// TranslateResponseStreamFunc converts one backend stream payload into zero or
// more client-protocol chunks. param carries translator state across calls
// within one stream; the final call receives the literal payload "[DONE]".
type TranslateResponseStreamFunc func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string

// TranslateResponseNonStreamFunc converts a complete backend response body
// into the client-protocol response body.
type TranslateResponseNonStreamFunc func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string

// TranslateResponse bundles the stream and non-stream response directions of
// one protocol pair.
type TranslateResponse struct {
	Stream    TranslateResponseStreamFunc
	NonStream TranslateResponseNonStreamFunc
}
