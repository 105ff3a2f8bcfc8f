// Package interfaces defines the shared error contracts for the Antigravity
// Proxy API server. Failures cross component boundaries as values carrying the
// upstream HTTP status and a classification kind; free-text matching against
// provider messages happens only where errors enter the system.
package interfaces

import "errors"

// ErrorMessage wraps a request failure with the HTTP status code reported by
// the upstream endpoint (0 when no response was received). Only the message
// text is retained; sockets and response objects never travel inside it.
type ErrorMessage struct {
	StatusCode int
	Error      error
}

// NewErrorMessage builds an ErrorMessage from a status code and an error.
func NewErrorMessage(statusCode int, err error) *ErrorMessage {
	return &ErrorMessage{StatusCode: statusCode, Error: err}
}

// String renders the wrapped message, or an empty string for a nil receiver.
func (e *ErrorMessage) String() string {
	if e == nil || e.Error == nil {
		return ""
	}
	return e.Error.Error()
}

// ErrorKind classifies a failure for retry and account marking decisions.
type ErrorKind int

const (
	// KindFatal is anything that gains nothing from another attempt.
	KindFatal ErrorKind = iota

	// KindTransient covers transport drops, timeouts, and 5xx class noise.
	// Retried without marking the account.
	KindTransient

	// KindRateLimited marks quota pressure on the account. The account is
	// cooled for a short period and the request moves on.
	KindRateLimited

	// KindForbidden marks revoked or rejected credentials. The account is
	// cooled for a long period and the request moves on.
	KindForbidden

	// KindProjectContext identifies the upstream project/licensing
	// mismatch answered by one inline retry without project context.
	KindProjectContext

	// KindQuotaExhausted identifies the hard quota exhaustion answered by
	// an inline model downgrade on the Anthropic surface.
	KindQuotaExhausted

	// KindEmptyResponseStream reports a success envelope with no usable
	// candidate content after all fallbacks ran.
	KindEmptyResponseStream

	// KindBadRequest is a caller mistake; surfaced immediately.
	KindBadRequest
)

// String names the kind for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindProjectContext:
		return "project_context"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindEmptyResponseStream:
		return "empty_response_stream"
	case KindBadRequest:
		return "bad_request"
	default:
		return "fatal"
	}
}

// ErrEmptyResponseStream is surfaced when a generation produced no candidate
// content even after the streaming fallback ran.
var ErrEmptyResponseStream = errors.New("empty response stream")
