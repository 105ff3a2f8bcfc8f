// Package management implements the /v0/management API: a config snapshot,
// live settings updates, and account pool inspection. Every route answers
// 403 until a management secret key is configured.
package management

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
)

// Handler serves the management routes.
type Handler struct {
	mu             sync.Mutex
	cfg            *config.Config
	configFilePath string
	store          auth.CloudAccountStore
	pool           *pool.TokenPool

	// onConfigChange pushes a persisted update into the running server.
	onConfigChange func(*config.Config)
}

// NewHandler creates a management handler over the live config and pool.
func NewHandler(cfg *config.Config, configFilePath string, store auth.CloudAccountStore, tokenPool *pool.TokenPool, onConfigChange func(*config.Config)) *Handler {
	return &Handler{
		cfg:            cfg,
		configFilePath: configFilePath,
		store:          store,
		pool:           tokenPool,
		onConfigChange: onConfigChange,
	}
}

// SetConfig swaps the config reference after a hot reload.
func (h *Handler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// RegisterRoutes attaches the management API under the given group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(h.Middleware())
	group.GET("/config", h.GetConfig)
	group.PATCH("/debug", h.PatchDebug)
	group.PATCH("/request-timeout", h.PatchRequestTimeout)
	group.PATCH("/api-key", h.PatchAPIKey)
	group.PATCH("/custom-mapping", h.PatchCustomMapping)
	group.PATCH("/anthropic-mapping", h.PatchAnthropicMapping)
	group.GET("/accounts", h.GetAccounts)
	group.POST("/accounts/reload", h.ReloadAccounts)
}

// Middleware enforces the management secret key. A "$2"-prefixed secret is
// verified as a bcrypt hash, anything else by constant-time comparison.
func (h *Handler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.Lock()
		secret := h.cfg.RemoteManagement.SecretKey
		h.mu.Unlock()
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management secret key not set"})
			return
		}

		provided := managementKey(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing management key"})
			return
		}

		if !secretMatches(secret, provided) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}

func managementKey(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
		return header
	}
	return c.GetHeader("X-Management-Key")
}

func secretMatches(secret, provided string) bool {
	if strings.HasPrefix(secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1
}

// GetConfig returns the current configuration. The management secret itself
// is redacted.
func (h *Handler) GetConfig(c *gin.Context) {
	h.mu.Lock()
	snapshot := *h.cfg
	h.mu.Unlock()
	snapshot.RemoteManagement.SecretKey = "<redacted>"
	c.JSON(http.StatusOK, snapshot)
}

// PatchDebug updates the debug flag.
func (h *Handler) PatchDebug(c *gin.Context) {
	var body struct {
		Value *bool `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"value\": bool}"})
		return
	}
	h.applyUpdate(c, func(cfg *config.Config) { cfg.Debug = *body.Value })
}

// PatchRequestTimeout updates the upstream request timeout in seconds.
func (h *Handler) PatchRequestTimeout(c *gin.Context) {
	var body struct {
		Value *int `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil || *body.Value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"value\": seconds > 0}"})
		return
	}
	h.applyUpdate(c, func(cfg *config.Config) { cfg.Proxy.RequestTimeout = *body.Value })
}

// PatchAPIKey updates the client-facing API key. An empty value disables
// the guard.
func (h *Handler) PatchAPIKey(c *gin.Context) {
	var body struct {
		Value *string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"value\": string}"})
		return
	}
	h.applyUpdate(c, func(cfg *config.Config) { cfg.Proxy.APIKey = *body.Value })
}

// PatchCustomMapping replaces the custom model mapping table.
func (h *Handler) PatchCustomMapping(c *gin.Context) {
	h.patchMapping(c, func(cfg *config.Config, mapping map[string]string) {
		cfg.Proxy.CustomMapping = mapping
	})
}

// PatchAnthropicMapping replaces the Claude family mapping table.
func (h *Handler) PatchAnthropicMapping(c *gin.Context) {
	h.patchMapping(c, func(cfg *config.Config, mapping map[string]string) {
		cfg.Proxy.AnthropicMapping = mapping
	})
}

func (h *Handler) patchMapping(c *gin.Context, set func(*config.Config, map[string]string)) {
	var body struct {
		Value map[string]string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"value\": {name: target}}"})
		return
	}
	h.applyUpdate(c, func(cfg *config.Config) { set(cfg, body.Value) })
}

// applyUpdate mutates the config, persists it, and pushes the change into
// the running server.
func (h *Handler) applyUpdate(c *gin.Context, mutate func(*config.Config)) {
	h.mu.Lock()
	mutate(h.cfg)
	err := config.SaveConfig(h.configFilePath, h.cfg)
	cfg := h.cfg
	h.mu.Unlock()

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to save config: %v", err)})
		return
	}
	if h.onConfigChange != nil {
		h.onConfigChange(cfg)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAccounts lists the pool members with their live status.
func (h *Handler) GetAccounts(c *gin.Context) {
	accounts, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to list accounts: %v", err)})
		return
	}

	now := time.Now()
	entries := make([]gin.H, 0, len(accounts))
	for _, account := range accounts {
		entry := gin.H{
			"id":        account.ID,
			"provider":  account.Provider,
			"email":     account.Email,
			"status":    account.Status,
			"is_active": account.IsActive,
			"last_used": account.LastUsed,
		}
		if until, cooling := h.pool.CooldownUntil(account.ID); cooling {
			entry["cooldown_until"] = until
			entry["cooldown_remaining_seconds"] = int(until.Sub(now).Seconds())
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(entries),
		"accounts": entries,
	})
}

// ReloadAccounts reloads the pool from the account store.
func (h *Handler) ReloadAccounts(c *gin.Context) {
	if err := h.pool.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("reload failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"count":  h.pool.GetAccountCount(),
	})
}
