// Package watcher hot-reloads the proxy: it watches the configuration file
// and the auth directory, pushing config changes into the server and
// refreshing the account pool when credential files change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
)

// authReloadDebounce coalesces bursts of auth-dir events, such as an OAuth
// flow rewriting a credential file several times in a row.
const authReloadDebounce = 500 * time.Millisecond

// Watcher monitors the config file and auth directory.
type Watcher struct {
	configPath string
	authDir    string
	watcher    *fsnotify.Watcher

	onConfig func(*config.Config)
	onAuth   func(context.Context)

	mu             sync.Mutex
	lastConfigHash string
	authTimer      *time.Timer
}

// NewWatcher creates a watcher. onConfig receives every successfully parsed
// config change; onAuth fires debounced after auth-dir changes.
func NewWatcher(configPath, authDir string, onConfig func(*config.Config), onAuth func(context.Context)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath: configPath,
		authDir:    authDir,
		watcher:    fsWatcher,
		onConfig:   onConfig,
		onAuth:     onAuth,
	}, nil
}

// Start begins watching. It returns after registering the paths; events are
// handled on a background goroutine until the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.configPath); err != nil {
		log.Errorf("failed to watch config file %s: %v", w.configPath, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)

	if w.authDir != "" {
		if err := w.watcher.Add(w.authDir); err != nil {
			log.Errorf("failed to watch auth directory %s: %v", w.authDir, err)
			return err
		}
		log.Debugf("watching auth directory: %s", w.authDir)
	}

	w.mu.Lock()
	w.lastConfigHash = fileHash(w.configPath)
	w.mu.Unlock()

	go w.processEvents(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.authTimer != nil {
		w.authTimer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if w.isConfigEvent(event.Name) {
		// Editors replace the file, which can drop the inotify watch.
		_ = w.watcher.Remove(w.configPath)
		_ = w.watcher.Add(w.configPath)
		w.reloadConfig()
		return
	}

	if w.authDir != "" && filepath.Dir(event.Name) == filepath.Clean(w.authDir) {
		if strings.HasSuffix(event.Name, ".json") {
			w.scheduleAuthReload(ctx)
		}
	}
}

func (w *Watcher) isConfigEvent(name string) bool {
	cleaned := filepath.Clean(name)
	return cleaned == filepath.Clean(w.configPath) || filepath.Base(cleaned) == filepath.Base(w.configPath)
}

// reloadConfig re-parses the config file and pushes it out when its content
// actually changed.
func (w *Watcher) reloadConfig() {
	hash := fileHash(w.configPath)
	w.mu.Lock()
	unchanged := hash != "" && hash == w.lastConfigHash
	if !unchanged {
		w.lastConfigHash = hash
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous config: %v", err)
		return
	}
	log.Info("configuration file changed, applying new config")
	if w.onConfig != nil {
		w.onConfig(cfg)
	}
}

// scheduleAuthReload restarts the debounce timer for an auth-dir change.
func (w *Watcher) scheduleAuthReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.authTimer != nil {
		w.authTimer.Stop()
	}
	w.authTimer = time.AfterFunc(authReloadDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		log.Info("auth directory changed, reloading account pool")
		if w.onAuth != nil {
			w.onAuth(ctx)
		}
	})
}

func fileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
