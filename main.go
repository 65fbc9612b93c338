// polychat - compare responses from multiple LLMs side by side.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jeranaias/polychat/internal/chat"
	"github.com/jeranaias/polychat/internal/cloud"
	"github.com/jeranaias/polychat/internal/config"
	"github.com/jeranaias/polychat/internal/index"
	"github.com/jeranaias/polychat/internal/server"
	"github.com/jeranaias/polychat/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		portFlag    = flag.Int("port", 0, "HTTP port (overrides config)")
		configFlag  = flag.String("config", "", "path to config file")
		dataDirFlag = flag.String("data-dir", "", "data directory (overrides config)")
		versionFlag = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("polychat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*portFlag, *configFlag, *dataDirFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(port int, configPath, dataDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if port != 0 {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	idx, err := index.Open(filepath.Join(st.Dir, "messages.db"))
	if err != nil {
		// Content search degrades to title search
		log.Printf("INDEX_UNAVAILABLE | error=%v", err)
		idx = nil
	} else {
		defer idx.Close()
	}

	gateway := cloud.NewClient(cfg.Cloud.OpenRouterKey).
		WithBaseURL(cfg.Cloud.BaseURL).
		WithTimeout(time.Duration(cfg.Cloud.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.Cloud.MaxRetries).
		WithRequestsPerSecond(cfg.Cloud.RequestsPerSecond)

	app := chat.NewApp(gateway, st, searchIndexOrNil(idx))

	// Config-level key takes precedence over the stored credential
	bootCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if cfg.Cloud.OpenRouterKey != "" {
		if _, err := app.SetCredential(bootCtx, cfg.Cloud.OpenRouterKey); err != nil {
			log.Printf("CREDENTIAL_ERROR | error=%v", err)
		}
	}
	app.Bootstrap(bootCtx)
	cancel()

	srv := server.NewServer(app, cfg.Server.Port).
		WithAllowedOrigin(cfg.Server.AllowedOrigin)

	watcher := watchConfig(configPath, app)
	if watcher != nil {
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%v", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig loads from an explicit path when given, otherwise from
// the default locations.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("CONFIG_WARNING | %v", err)
		if cfg == nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the conversation store at the configured directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	var st *store.Store
	var err error
	if cfg.Storage.DataDir != "" {
		st, err = store.New(cfg.Storage.DataDir)
	} else {
		st, err = store.NewDefault()
	}
	if err != nil {
		return nil, err
	}
	st.MaxConversations = cfg.Storage.MaxConversations
	return st, nil
}

// searchIndexOrNil keeps a typed nil out of the SearchIndex interface.
func searchIndexOrNil(idx *index.Index) chat.SearchIndex {
	if idx == nil {
		return nil
	}
	return idx
}

// watchConfig reloads the cloud settings when the config file changes.
// A reload never disturbs in-flight rounds: the gateway applies the new
// key and the app revalidates, nothing else restarts.
func watchConfig(configPath string, app *chat.App) *config.Watcher {
	path := configPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return nil
		}
		path = p
	}

	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.Watch(path, func(next *config.Config) {
		log.Printf("CONFIG_RELOADED | path=%s", path)
		if next.Cloud.OpenRouterKey != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if _, err := app.SetCredential(ctx, next.Cloud.OpenRouterKey); err != nil {
				log.Printf("CREDENTIAL_ERROR | error=%v", err)
			}
			cancel()
		}
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		return nil
	}
	return watcher
}
