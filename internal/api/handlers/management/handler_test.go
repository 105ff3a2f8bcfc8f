package management

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
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
	return nil, os.ErrNotExist
}
func (s *memStore) Save(context.Context, *auth.Account) error { return nil }
func (s *memStore) Delete(context.Context, string) error      { return nil }

func newTestHandler(t *testing.T, secret string) (*Handler, *gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &config.Config{RemoteManagement: config.RemoteManagement{SecretKey: secret}}
	cfg.ApplyDefaults()
	require.NoError(t, config.SaveConfig(configPath, cfg))

	store := &memStore{accounts: []*auth.Account{
		{ID: "acc-1", Provider: "google", Email: "one@example.com", Status: "active", IsActive: true, Token: auth.Token{AccessToken: "t", ExpiryTimestamp: farFuture().Unix()}},
	}}
	tokenPool := pool.NewTokenPool(store, nil)
	require.NoError(t, tokenPool.Reload(context.Background()))

	handler := NewHandler(cfg, configPath, store, tokenPool, nil)
	r := gin.New()
	handler.RegisterRoutes(r.Group("/v0/management"))
	return handler, r, configPath
}

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}

func TestManagementMiddlewareRejectsWithoutKey(t *testing.T) {
	_, r, _ := newTestHandler(t, "top-secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v0/management/config", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagementMiddlewarePlainSecret(t *testing.T) {
	_, r, _ := newTestHandler(t, "top-secret")

	req := httptest.NewRequest("GET", "/v0/management/config", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<redacted>", gjson.Get(w.Body.String(), "RemoteManagement.SecretKey").String())
}

func TestManagementMiddlewareBcryptSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("top-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	_, r, _ := newTestHandler(t, string(hash))

	req := httptest.NewRequest("GET", "/v0/management/config", nil)
	req.Header.Set("X-Management-Key", "top-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/v0/management/config", nil)
	req.Header.Set("X-Management-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagementPatchDebugPersists(t *testing.T) {
	handler, r, configPath := newTestHandler(t, "top-secret")

	req := httptest.NewRequest("PATCH", "/v0/management/debug", bytes.NewBufferString(`{"value":true}`))
	req.Header.Set("Authorization", "Bearer top-secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, handler.cfg.Debug)

	reloaded, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	assert.True(t, reloaded.Debug)
}

func TestManagementAccountsAndReload(t *testing.T) {
	_, r, _ := newTestHandler(t, "top-secret")

	req := httptest.NewRequest("GET", "/v0/management/accounts", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "count").Int())
	assert.Equal(t, "one@example.com", gjson.Get(body, "accounts.0.email").String())

	req = httptest.NewRequest("POST", "/v0/management/accounts/reload", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "count").Int())
}
