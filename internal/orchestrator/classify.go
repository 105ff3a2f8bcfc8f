package orchestrator

import (
	"regexp"
	"strings"

	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
)

var projectNotFoundPattern = regexp.MustCompile(`(?i)resource projects/\S+ could not be found`)

// isProjectContextError detects the upstream complaints that mean the request
// carried a project the account cannot use. These recover by resending with
// an empty project field.
func isProjectContextError(message string) bool {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "#3501"):
		return true
	case strings.Contains(lower, "google cloud project") && strings.Contains(lower, "code assist license"):
		return true
	case projectNotFoundPattern.MatchString(message):
		return true
	case strings.Contains(lower, "project") && strings.Contains(lower, "not found"):
		return true
	}
	return false
}

// isQuotaExhausted detects hard quota exhaustion, which on the Anthropic
// surface triggers the model downgrade before the account rotates out.
func isQuotaExhausted(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota")
}

// ClassifyError buckets an upstream failure for the retry loop. Substring
// matching happens here and nowhere else.
func ClassifyError(statusCode int, message string) interfaces.ErrorKind {
	lower := strings.ToLower(message)

	if isProjectContextError(message) {
		return interfaces.KindProjectContext
	}

	switch {
	case statusCode == 401, statusCode == 403,
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid_grant"),
		strings.Contains(lower, "permission_denied"),
		strings.Contains(lower, "forbidden"):
		return interfaces.KindForbidden
	}

	if isQuotaExhausted(lower) {
		return interfaces.KindQuotaExhausted
	}

	switch {
	case statusCode == 429,
		strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate_limit"):
		return interfaces.KindRateLimited
	}

	if strings.Contains(lower, "empty response stream") {
		return interfaces.KindEmptyResponseStream
	}

	switch {
	case statusCode == 408, statusCode >= 500,
		strings.Contains(lower, "socket hang up"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection reset"):
		return interfaces.KindTransient
	}

	if statusCode == 400 {
		return interfaces.KindBadRequest
	}
	return interfaces.KindFatal
}
