// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package main is the entry point for the Replaylog server.
//
// Replaylog polls a music service's recently-played endpoint, merges new
// plays into a deduplicated local history and serves that history plus
// derived aggregates over HTTP.
//
// # Startup
//
//  1. Configuration: defaults, then config.yaml, then environment (Koanf v2)
//  2. Event store: badger, sqlite, duckdb or csv (DATABASE_DRIVER)
//  3. Aggregate service over the store, primed from existing history
//  4. Credential provider: OAuth2 refresh grant, or a fixed token
//  5. Upstream client, paginated fetcher and sync scheduler
//  6. Merge notifier (Watermill), WebSocket hub and HTTP API
//  7. Supervisor tree (suture) running the hub, notifier, scheduler and server
//
// # Example
//
//	export UPSTREAM_BASE_URL=https://api.example.com/v1
//	export AUTH_TOKEN_URL=https://accounts.example.com/api/token
//	export AUTH_CLIENT_ID=...
//	export AUTH_CLIENT_SECRET=...
//	export AUTH_REFRESH_TOKEN=...
//	./replaylog
//
// SIGINT or SIGTERM stops the scheduler after its in-flight run, drains
// HTTP connections and closes the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/replaylog/internal/aggregate"
	"github.com/tomtom215/replaylog/internal/api"
	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/cache"
	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/database"
	"github.com/tomtom215/replaylog/internal/eventprocessor"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/supervisor"
	"github.com/tomtom215/replaylog/internal/supervisor/services"
	"github.com/tomtom215/replaylog/internal/sync"
	ws "github.com/tomtom215/replaylog/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // sequential wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("version", version).
		Str("driver", cfg.Database.Driver).
		Str("db_path", cfg.Database.Path).
		Str("auth_mode", cfg.Security.AuthMode).
		Dur("sync_interval", cfg.Sync.Interval).
		Int("window_size", cfg.Aggregate.WindowSize).
		Msg("Starting Replaylog")

	store, err := database.Open(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aggregator := aggregate.NewService(store, cfg.Aggregate.WindowSize)
	if snap, err := aggregator.Refresh(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial aggregate build failed")
	} else {
		logging.Info().Int("events", snap.EventCount).Msg("Aggregate snapshot primed")
	}

	tokens, tokenStore, err := initTokenProvider(&cfg.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize credential provider")
	}
	defer func() {
		if err := tokenStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing token store")
		}
	}()

	client := sync.NewClient(&cfg.Upstream, nil)
	fetcher := sync.NewFetcher(client, cfg.Upstream.PageLimit, cfg.Upstream.MaxPages)
	syncManager := sync.NewManager(&cfg.Sync, tokens, fetcher, store)
	syncManager.SetAggregator(aggregator)

	notifier, err := eventprocessor.NewNotifier(&cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize merge notifier")
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing merge notifier")
		}
	}()
	syncManager.SetNotifier(notifier)

	wsHub := ws.NewHub()

	handler := api.NewHandler(api.Dependencies{
		Store:      store,
		Aggregator: aggregator,
		Sync:       syncManager,
		Notifier:   notifier,
		Hub:        wsHub,
		Cache:      cache.New("api", 5*time.Minute),
		Config:     cfg,
		Version:    version,
	})
	defer handler.Close()

	notifier.AddHandler("cache-invalidation", eventprocessor.CacheInvalidationHandler(handler))
	notifier.AddHandler("websocket-broadcast", eventprocessor.BroadcastHandler(wsHub))
	notifier.AddHandler("stats-broadcast", eventprocessor.StatsBroadcastHandler(aggregator, wsHub))

	jwtManager := initJWT(cfg)
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (SECURITY_RATE_LIMIT_DISABLED=true)")
	}

	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(&cfg.Security)), jwtManager)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddMessagingService(services.NewRunnerService("websocket-hub", wsHub))
	tree.AddMessagingService(services.NewRunnerService("merge-notifier", notifier))
	tree.AddSyncService(services.NewSyncService(syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Replaylog stopped")
}

// initTokenProvider opens the refresh token store and builds the
// credential provider. The store must be closed by the caller.
func initTokenProvider(cfg *config.AuthConfig) (auth.TokenProvider, auth.TokenStore, error) {
	enc, err := auth.NewTokenEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("token encryption: %w", err)
	}

	var store auth.TokenStore
	if cfg.TokenStorePath != "" {
		badgerStore, err := auth.NewBadgerTokenStore(cfg.TokenStorePath, enc)
		if err != nil {
			return nil, nil, fmt.Errorf("open token store: %w", err)
		}
		store = badgerStore
		logging.Info().
			Str("path", cfg.TokenStorePath).
			Bool("encrypted", enc.IsEnabled()).
			Msg("Refresh token persisted to BadgerDB")
	} else {
		store = auth.NewMemoryTokenStore()
		logging.Info().Msg("Refresh token kept in memory only (AUTH_TOKEN_STORE_PATH not set)")
	}

	provider := auth.NewTokenProvider(cfg, store, nil)
	if cfg.TokenURL == "" {
		logging.Warn().Msg("No token endpoint configured; using a fixed access token that cannot be refreshed")
	}
	return provider, store, nil
}

func initJWT(cfg *config.Config) *auth.JWTManager {
	if cfg.Security.AuthMode != "jwt" {
		logging.Warn().Msg("Authentication is DISABLED for mutating endpoints (SECURITY_AUTH_MODE=none)")
		return nil
	}
	manager, err := auth.NewJWTManager(cfg.Security.JWTSecret, 0)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	logging.Info().Msg("JWT authentication enabled for mutating endpoints")
	return manager
}
