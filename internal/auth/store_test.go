package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAccount(id, email string) *Account {
	return &Account{
		ID:       id,
		Provider: ProviderGoogle,
		Email:    email,
		Token: Token{
			AccessToken:     "ya29." + id,
			RefreshToken:    "1//refresh-" + id,
			TokenType:       "Bearer",
			ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
			ProjectID:       "bright-sunset-38291",
		},
		Status:    StatusActive,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestFileAccountStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileAccountStore(dir)
	ctx := context.Background()

	acct := sampleAccount("acct-1", "one@example.com")
	require.NoError(t, store.Save(ctx, acct))
	require.NoError(t, store.Save(ctx, sampleAccount("acct-2", "two@example.com")))

	got, err := store.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "one@example.com", got.Email)
	assert.Equal(t, acct.Token.RefreshToken, got.Token.RefreshToken)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete(ctx, "acct-1"))
	_, err = store.Get(ctx, "acct-1")
	assert.Error(t, err)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileAccountStoreListSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	store := NewFileAccountStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleAccount("acct-1", "one@example.com")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileAccountStoreIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Records written by older tooling may omit the id field.
	body := []byte(`{"provider":"google","email":"legacy@example.com","token":{"access_token":"a","refresh_token":"r","token_type":"Bearer","expiry_timestamp":1}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy@example.com.json"), body, 0o600))

	store := NewFileAccountStore(dir)
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "legacy@example.com", list[0].ID)
}

func TestFileAccountStoreMissingDir(t *testing.T) {
	store := NewFileAccountStore(filepath.Join(t.TempDir(), "absent"))
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBoltAccountStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")
	store := NewBoltAccountStore(path)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleAccount("acct-1", "one@example.com")))
	require.NoError(t, store.Save(ctx, sampleAccount("acct-2", "two@example.com")))

	got, err := store.Get(ctx, "acct-2")
	require.NoError(t, err)
	assert.Equal(t, "two@example.com", got.Email)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete(ctx, "acct-2"))
	_, err = store.Get(ctx, "acct-2")
	assert.Error(t, err)
}

func TestBoltAccountStoreMissingFile(t *testing.T) {
	store := NewBoltAccountStore(filepath.Join(t.TempDir(), "absent.db"))
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewAccountStoreBackendSelection(t *testing.T) {
	dir := t.TempDir()

	fileStore, err := NewAccountStore("file", dir, "")
	require.NoError(t, err)
	assert.IsType(t, &FileAccountStore{}, fileStore)

	boltStore, err := NewAccountStore("bolt", dir, "")
	require.NoError(t, err)
	assert.IsType(t, &BoltAccountStore{}, boltStore)

	_, err = NewAccountStore("redis", dir, "")
	assert.Error(t, err)
}
