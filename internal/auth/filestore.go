package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FileAccountStore implements CloudAccountStore backed by one JSON file per
// account under a directory. Files are named <id>.json; writes go through a
// temp file and rename so watchers never observe a half-written record.
type FileAccountStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileAccountStore builds a file-backed store rooted at dir.
func NewFileAccountStore(dir string) *FileAccountStore {
	return &FileAccountStore{dir: dir}
}

// List enumerates all account JSON files under the store directory.
func (s *FileAccountStore) List(ctx context.Context) ([]*Account, error) {
	if s.dir == "" {
		return nil, fmt.Errorf("account filestore: directory not configured")
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return []*Account{}, nil
	}
	accounts := make([]*Account, 0)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, errWalk error) error {
		if errWalk != nil {
			return errWalk
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		account, errRead := s.readFile(path)
		if errRead != nil {
			// Keep scanning so one bad file cannot hide the rest.
			log.Warnf("account filestore: skipping %s: %v", d.Name(), errRead)
			return nil
		}
		if account != nil {
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Get returns the account with the given id.
func (s *FileAccountStore) Get(ctx context.Context, id string) (*Account, error) {
	account, err := s.readFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("account filestore: account %s not found", id)
		}
		return nil, err
	}
	return account, nil
}

// Save creates or replaces the record for the account.
func (s *FileAccountStore) Save(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account filestore: account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("account filestore: create dir failed: %w", err)
	}

	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return fmt.Errorf("account filestore: marshal failed: %w", err)
	}

	path := s.pathFor(account.ID)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("account filestore: write failed: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("account filestore: rename failed: %w", err)
	}
	return nil
}

// Delete removes the record for the given id.
func (s *FileAccountStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("account filestore: account %s not found", id)
		}
		return err
	}
	return nil
}

func (s *FileAccountStore) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileAccountStore) readFile(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var account Account
	if err = json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if account.ID == "" {
		// Records written by older tooling keyed on the file name.
		account.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &account, nil
}
