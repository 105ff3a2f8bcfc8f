// Package pool implements the account rotation pool: an in-memory view of the
// persisted accounts with cooldown tracking, sticky session bindings, and
// round-robin selection. The pool is the only component that touches the
// token refresher, and it never holds its lock across that network call.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
)

const (
	// rateLimitCooldown keeps an account out of rotation after a 429-class mark.
	rateLimitCooldown = 5 * time.Minute

	// forbiddenCooldown keeps an account out of rotation after a 401/403-class mark.
	forbiddenCooldown = 30 * time.Minute

	// sessionTTL is how long a session key stays pinned to an account,
	// counted from the most recent finalized selection.
	sessionTTL = 10 * time.Minute

	// refreshSkew refreshes tokens that expire within this window.
	refreshSkew = 300 * time.Second
)

// SelectOptions narrows one selection tick.
type SelectOptions struct {
	// SessionKey pins the request to a previously bound account when set.
	SessionKey string

	// ExcludeAccountIDs removes accounts already tried for this request.
	ExcludeAccountIDs []string
}

type sessionBinding struct {
	accountID string
	expiresAt time.Time
}

// TokenPool maintains the rotation state over a CloudAccountStore.
type TokenPool struct {
	store     auth.CloudAccountStore
	refresher auth.TokenRefresher

	mu        sync.Mutex
	accounts  []*auth.Account
	cooldowns map[string]time.Time
	bindings  map[string]sessionBinding

	currentIndex atomic.Uint64

	// now is a clock hook for tests.
	now func() time.Time
}

// NewTokenPool builds an empty pool; call Reload to populate it.
func NewTokenPool(store auth.CloudAccountStore, refresher auth.TokenRefresher) *TokenPool {
	return &TokenPool{
		store:     store,
		refresher: refresher,
		cooldowns: make(map[string]time.Time),
		bindings:  make(map[string]sessionBinding),
		now:       time.Now,
	}
}

// Reload replaces the in-memory account list from the store. Inactive
// accounts and records without credential material never enter rotation.
// Rotation order and the rotation cursor are preserved across reloads.
func (p *TokenPool) Reload(ctx context.Context) error {
	records, err := p.store.List(ctx)
	if err != nil {
		return err
	}

	accounts := make([]*auth.Account, 0, len(records))
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		if !record.IsActive {
			log.Debugf("token pool: skipping inactive account %s", record.Email)
			continue
		}
		if record.Token.AccessToken == "" && record.Token.RefreshToken == "" {
			log.Warnf("token pool: skipping account %s with no credential material", record.Email)
			continue
		}
		accounts = append(accounts, record)
	}

	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()

	log.Infof("token pool: loaded %d account(s)", len(accounts))
	return nil
}

// GetAccountCount returns the number of accounts currently in rotation.
func (p *TokenPool) GetAccountCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// MarkRateLimited cools the account for the short rate-limit period.
func (p *TokenPool) MarkRateLimited(idOrEmail string) {
	p.mark(idOrEmail, rateLimitCooldown, "rate limited")
}

// MarkForbidden cools the account for the long forbidden period.
func (p *TokenPool) MarkForbidden(idOrEmail string) {
	p.mark(idOrEmail, forbiddenCooldown, "forbidden")
}

func (p *TokenPool) mark(idOrEmail string, d time.Duration, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := idOrEmail
	email := idOrEmail
	for _, a := range p.accounts {
		if a.ID == idOrEmail || a.Email == idOrEmail {
			id, email = a.ID, a.Email
			break
		}
	}

	until := p.now().Add(d)
	p.cooldowns[id] = until
	log.Warnf("token pool: account %s (%s) marked %s, cooling down until %s", email, id, reason, until.Format(time.RFC3339))
}

// CooldownUntil reports the cooldown deadline for an account id, if any.
func (p *TokenPool) CooldownUntil(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.cooldowns[id]
	if !ok || !until.After(p.now()) {
		return time.Time{}, false
	}
	return until, true
}

// SelectNext picks the account for one request attempt. It returns nil when
// the pool is empty even after a reload; every other path yields an account,
// bypassing cooldowns if that is what it takes to keep serving.
func (p *TokenPool) SelectNext(ctx context.Context, opts SelectOptions) (*auth.Account, error) {
	if p.GetAccountCount() == 0 {
		if err := p.Reload(ctx); err != nil {
			log.Warnf("token pool: reload on empty pool failed: %v", err)
		}
	}

	p.mu.Lock()
	if len(p.accounts) == 0 {
		p.mu.Unlock()
		return nil, nil
	}

	now := p.now()
	p.expireBindingsLocked(now)

	// Drop the accounts this request already tried. When that leaves
	// nothing the exclusions lose: a degraded answer beats no answer.
	excluded := make(map[string]struct{}, len(opts.ExcludeAccountIDs))
	for _, id := range opts.ExcludeAccountIDs {
		excluded[id] = struct{}{}
	}
	base := make([]*auth.Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if _, skip := excluded[a.ID]; !skip {
			base = append(base, a)
		}
	}
	if len(base) == 0 && len(opts.ExcludeAccountIDs) > 0 {
		log.Warnf("token pool: all %d account(s) excluded for this request, considering every account again", len(p.accounts))
		base = append(base, p.accounts...)
	}

	candidates := make([]*auth.Account, 0, len(base))
	for _, a := range base {
		if until, ok := p.cooldowns[a.ID]; ok && until.After(now) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		log.Warn("token pool: bypassing cooldown to keep service available")
		candidates = base
	}

	var selected *auth.Account
	if opts.SessionKey != "" {
		if binding, ok := p.bindings[opts.SessionKey]; ok {
			for _, a := range candidates {
				if a.ID == binding.accountID {
					selected = a
					break
				}
			}
		}
	}
	if selected == nil {
		idx := p.currentIndex.Add(1) - 1
		selected = candidates[idx%uint64(len(candidates))]
	}

	selected.LastUsed = now
	p.mu.Unlock()

	return p.finalize(ctx, selected, opts.SessionKey, now), nil
}

// finalize refreshes near-expiry credentials, scrubs synthetic project ids,
// and binds the session key. The refresher runs outside the pool lock; its
// result is published under the lock afterwards.
func (p *TokenPool) finalize(ctx context.Context, selected *auth.Account, sessionKey string, now time.Time) *auth.Account {
	p.mu.Lock()
	needsRefresh := selected.Token.ExpiresWithin(now, refreshSkew)
	refreshToken := selected.Token.RefreshToken
	email := selected.Email
	p.mu.Unlock()

	if needsRefresh && p.refresher != nil {
		fresh, err := p.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			log.Warnf("token pool: refresh for account %s failed, proceeding with stale token: %v", email, err)
		} else {
			p.mu.Lock()
			fresh.ProjectID = selected.Token.ProjectID
			fresh.SessionID = selected.Token.SessionID
			fresh.UpstreamProxyURL = selected.Token.UpstreamProxyURL
			selected.Token = *fresh
			persisted := *selected
			p.mu.Unlock()

			if err = p.store.Save(ctx, &persisted); err != nil {
				log.Warnf("token pool: persisting refreshed token for account %s failed: %v", email, err)
			}
		}
	}

	p.mu.Lock()
	if auth.IsSyntheticProjectID(selected.Token.ProjectID) {
		log.Debugf("token pool: discarding synthetic project id %q for account %s", selected.Token.ProjectID, selected.Email)
		selected.Token.ProjectID = ""
	}
	if sessionKey != "" {
		p.bindings[sessionKey] = sessionBinding{
			accountID: selected.ID,
			expiresAt: now.Add(sessionTTL),
		}
	}
	snapshot := *selected
	p.mu.Unlock()

	return &snapshot
}

func (p *TokenPool) expireBindingsLocked(now time.Time) {
	for key, binding := range p.bindings {
		if !binding.expiresAt.After(now) {
			delete(p.bindings, key)
		}
	}
}
