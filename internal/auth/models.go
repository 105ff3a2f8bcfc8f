// Package auth holds the account records the proxy rotates over, the stores
// that persist them, and the token refresher that keeps their credentials
// usable. Account records originate from an external login tool; this package
// never runs a consent flow.
package auth

import (
	"regexp"
	"time"
)

// Provider values accepted in account records.
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// Account status labels. Advisory; selection acts on cooldowns, not status.
const (
	StatusActive      = "active"
	StatusRateLimited = "rate_limited"
	StatusExpired     = "expired"
)

// Account is one credentialed identity in the rotation pool.
type Account struct {
	// ID is the stable unique identifier for the account.
	ID string `json:"id"`

	// Provider names the credential family, "google" or "anthropic".
	Provider string `json:"provider"`

	// Email labels the account in logs and management views.
	Email string `json:"email"`

	// Token carries the credential material. Always present for pool members.
	Token Token `json:"token"`

	// Quota is advisory usage information carried through untouched.
	Quota *Quota `json:"quota,omitempty"`

	// Status is an advisory label, one of active, rate_limited, expired.
	Status string `json:"status,omitempty"`

	// IsActive marks whether the account should participate in rotation.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Token is the credential material attached to an account.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	// TokenType is the authorization scheme, normally "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the advisory lifetime in seconds reported at issuance.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// ExpiryTimestamp is the authoritative expiry as unix seconds.
	ExpiryTimestamp int64 `json:"expiry_timestamp"`

	// ProjectID scopes upstream calls to a cloud project when present.
	ProjectID string `json:"project_id,omitempty"`

	// SessionID is kept for record portability; requests never send it.
	SessionID string `json:"session_id,omitempty"`

	// UpstreamProxyURL overrides the global upstream proxy for this account.
	UpstreamProxyURL string `json:"upstream_proxy_url,omitempty"`
}

// Quota is advisory usage data attached to an account record.
type Quota struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// ExpiresWithin reports whether the token expires within d of now.
func (t *Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	return time.Unix(t.ExpiryTimestamp, 0).Sub(now) < d
}

var syntheticProjectID = regexp.MustCompile(`(?i)^cloud-code-\d+$`)

// IsSyntheticProjectID reports whether a project id is a placeholder minted by
// the upstream onboarding flow. Such ids must not be sent back upstream.
func IsSyntheticProjectID(projectID string) bool {
	return syntheticProjectID.MatchString(projectID)
}
