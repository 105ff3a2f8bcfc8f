package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var accountsBucket = []byte("accounts")

// BoltAccountStore implements CloudAccountStore on a single bbolt file.
// Records live in the accounts bucket keyed by account id. The database is
// opened per operation so the file stays shareable with external tooling.
type BoltAccountStore struct {
	path string
}

// NewBoltAccountStore builds a bbolt-backed store at path.
func NewBoltAccountStore(path string) *BoltAccountStore {
	return &BoltAccountStore{path: path}
}

// List returns every account in the accounts bucket.
func (s *BoltAccountStore) List(ctx context.Context) ([]*Account, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return []*Account{}, nil
	}
	db, err := s.open(time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	accounts := make([]*Account, 0)
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var account Account
			if e := json.Unmarshal(v, &account); e != nil {
				// Skip malformed entries instead of failing the whole load.
				return nil
			}
			accounts = append(accounts, &account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Get returns the account with the given id.
func (s *BoltAccountStore) Get(ctx context.Context, id string) (*Account, error) {
	db, err := s.open(time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	var account *Account
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(id)); v != nil {
			var a Account
			if e := json.Unmarshal(v, &a); e != nil {
				return e
			}
			account = &a
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account boltstore: account %s not found", id)
	}
	return account, nil
}

// Save creates or replaces the record for the account.
func (s *BoltAccountStore) Save(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account boltstore: account id is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	db, err := s.open(2 * time.Second)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	return db.Update(func(tx *bolt.Tx) error {
		b, errCreate := tx.CreateBucketIfNotExists(accountsBucket)
		if errCreate != nil {
			return errCreate
		}
		data, errMarshal := json.Marshal(account)
		if errMarshal != nil {
			return errMarshal
		}
		return b.Put([]byte(account.ID), data)
	})
}

// Delete removes the record for the given id.
func (s *BoltAccountStore) Delete(ctx context.Context, id string) error {
	db, err := s.open(2 * time.Second)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return fmt.Errorf("account boltstore: account %s not found", id)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("account boltstore: account %s not found", id)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltAccountStore) open(timeout time.Duration) (*bolt.DB, error) {
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: timeout})
}
