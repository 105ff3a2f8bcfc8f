package auth

import (
	"context"
	"fmt"
	"path/filepath"
)

// CloudAccountStore persists account records. The pool reads accounts from it
// on reload and writes refreshed tokens back through it; everything else about
// record lifecycle (creation, removal) belongs to external tooling.
type CloudAccountStore interface {
	// List returns every persisted account.
	List(ctx context.Context) ([]*Account, error)

	// Get returns the account with the given id, or an error when absent.
	Get(ctx context.Context, id string) (*Account, error)

	// Save creates or replaces the persisted record for the account.
	Save(ctx context.Context, account *Account) error

	// Delete removes the persisted record for the given id.
	Delete(ctx context.Context, id string) error
}

// NewAccountStore builds the configured store backend. backend is "file" or
// "bolt"; dir is the auth directory; boltPath overrides the bbolt file
// location and defaults to <dir>/accounts.db.
func NewAccountStore(backend, dir, boltPath string) (CloudAccountStore, error) {
	switch backend {
	case "", "file":
		return NewFileAccountStore(dir), nil
	case "bolt":
		if boltPath == "" {
			boltPath = filepath.Join(dir, "accounts.db")
		}
		return NewBoltAccountStore(boltPath), nil
	default:
		return nil, fmt.Errorf("auth: unknown account store backend %q", backend)
	}
}
