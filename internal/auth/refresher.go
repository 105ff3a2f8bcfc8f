package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/router-for-me/AntigravityProxyAPI/internal/util"
)

// OAuth client used by the upstream IDE distribution. Records created by the
// companion login tool carry refresh tokens bound to this client.
const (
	antigravityClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	antigravityClientSecret = "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"
)

// TokenRefresher exchanges a refresh token for fresh credential material.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// GoogleTokenRefresher implements TokenRefresher against the Google OAuth
// endpoint using the antigravity client credentials.
type GoogleTokenRefresher struct {
	conf     *oauth2.Config
	proxyURL string
}

// NewGoogleTokenRefresher builds a refresher. proxyURL optionally routes the
// token exchange through an outbound proxy; empty means direct.
func NewGoogleTokenRefresher(proxyURL string) *GoogleTokenRefresher {
	return &GoogleTokenRefresher{
		conf: &oauth2.Config{
			ClientID:     antigravityClientID,
			ClientSecret: antigravityClientSecret,
			Endpoint:     google.Endpoint,
		},
		proxyURL: proxyURL,
	}
}

// Refresh exchanges the refresh token for a fresh access token. The returned
// Token keeps the original refresh token unless the endpoint rotated it.
func (r *GoogleTokenRefresher) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("auth: refresh token is empty")
	}
	if r.proxyURL != "" {
		httpClient := util.SetProxy(r.proxyURL, &http.Client{Timeout: 30 * time.Second})
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: token refresh failed: %w", err)
	}

	token := &Token{
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    fresh.TokenType,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if fresh.RefreshToken != "" {
		token.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		token.ExpiryTimestamp = fresh.Expiry.Unix()
		token.ExpiresIn = int64(time.Until(fresh.Expiry).Seconds())
	}
	return token, nil
}
