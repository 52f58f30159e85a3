// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package main is the entry point for the Audiomark server.
//
// Audiomark keeps a listener's audiobook playback positions in sync
// between a local durable store and the Audible cloud service. The local
// player reports positions over HTTP; a background reconciler compares
// them with the remote side and the furthest-ahead position wins.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Database: DuckDB-backed position store and catalog
//  3. Vault: machine-bound encrypted credential for the remote service
//  4. Remote client: rate-limited Audible client behind a circuit breaker
//  5. Sync manager: periodic and on-demand reconciliation
//  6. HTTP server: REST API plus Prometheus metrics
//
// Components 5 and 6 run under a Suture supervisor tree; a crash in the
// sync layer restarts only the sync manager while the API keeps serving.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults.
//
// Key environment variables:
//   - DUCKDB_PATH: position store path (default /data/audiomark.duckdb)
//   - VAULT_PATH: encrypted credential path (default /data/credentials.enc)
//   - AUDIBLE_URL: remote service base URL
//   - SYNC_INTERVAL: periodic full-sync interval, 0 disables (default 15m)
//   - HTTP_PORT: listen port (default 9913)
//
// # Credential Bootstrap
//
// When AUDIOMARK_CREDENTIAL is set at startup, its value is encrypted
// into the vault (replacing any stored credential) and the variable
// should then be removed from the environment. The credential never
// appears in logs or API responses.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: stops
// accepting new connections, waits for in-flight requests and any
// running sync batch, then checkpoints and closes the database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiomark/audiomark/internal/api"
	"github.com/audiomark/audiomark/internal/audible"
	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/supervisor"
	"github.com/audiomark/audiomark/internal/syncer"
	"github.com/audiomark/audiomark/internal/vault"
)

// credentialEnvVar seeds the vault at startup when set.
const credentialEnvVar = "AUDIOMARK_CREDENTIAL"

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("vault_path", cfg.Vault.Path).
		Str("audible_url", cfg.Audible.URL).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("Configuration loaded")

	store, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	credentialVault := vault.New(cfg.Vault)
	if seed := os.Getenv(credentialEnvVar); seed != "" {
		if err := credentialVault.StoreSecret(seed); err != nil {
			logging.Fatal().Err(err).Msg("Failed to store bootstrap credential")
		}
		logging.Info().Msg("Credential stored from environment; unset " + credentialEnvVar)
	}
	if !credentialVault.Stored() {
		logging.Warn().
			Str("path", credentialVault.Path()).
			Msg("No credential stored - remote sync will fail until one is provided")
	}

	remoteClient := audible.NewBreakerClient(
		audible.NewClient(cfg.Audible, credentialVault),
		cfg.Audible,
	)

	reconciler := syncer.NewReconciler(store, remoteClient)
	syncManager := syncer.NewManager(reconciler, store, credentialVault, cfg.Sync)

	router := api.NewRouter(store, syncManager, credentialVault, remoteClient, &cfg.API)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(supervisor.NewSyncService(syncManager))
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
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

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
