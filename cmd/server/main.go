package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api"
	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/logging"
	"github.com/router-for-me/AntigravityProxyAPI/internal/orchestrator"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
	_ "github.com/router-for-me/AntigravityProxyAPI/internal/translator"
	"github.com/router-for-me/AntigravityProxyAPI/internal/upstream"
	"github.com/router-for-me/AntigravityProxyAPI/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	expandAuthDir(cfg)

	logging.SetLogLevel(cfg.Debug)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	store, err := auth.NewAccountStore(cfg.AccountStore, cfg.AuthDir, cfg.BoltPath)
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}

	proxyURL := ""
	if cfg.Proxy.UpstreamProxy.Enabled {
		proxyURL = cfg.Proxy.UpstreamProxy.URL
	}
	refresher := auth.NewGoogleTokenRefresher(proxyURL)
	tokenPool := pool.NewTokenPool(store, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = tokenPool.Reload(ctx); err != nil {
		log.Warnf("initial account load failed: %v", err)
	}
	log.Infof("loaded %d account(s) from %s store", tokenPool.GetAccountCount(), cfg.AccountStore)

	client := upstream.NewClient(cfg)
	orch := orchestrator.New(cfg, tokenPool, client)
	server := api.NewServer(cfg, orch, store, tokenPool, configPath)

	fileWatcher, err := watcher.NewWatcher(configPath, cfg.AuthDir,
		func(newCfg *config.Config) {
			expandAuthDir(newCfg)
			server.UpdateConfig(newCfg)
		},
		func(ctx context.Context) {
			if err := tokenPool.Reload(ctx); err != nil {
				log.Errorf("account pool reload failed: %v", err)
			}
		},
	)
	if err != nil {
		log.Fatalf("failed to create file watcher: %v", err)
	}
	if err = fileWatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start file watcher: %v", err)
	}
	defer func() { _ = fileWatcher.Stop() }()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("received %s, shutting down", sig)
	case err = <-errChan:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = server.Stop(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
}

// expandAuthDir resolves a leading "~" in the auth directory.
func expandAuthDir(cfg *config.Config) {
	if !strings.HasPrefix(cfg.AuthDir, "~") {
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to get home directory: %v", err)
	}
	cfg.AuthDir = filepath.Join(home, strings.TrimPrefix(cfg.AuthDir, "~"))
}
