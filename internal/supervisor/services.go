// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// services.go - suture.Service adapters for the sync manager and HTTP server
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/audiomark/audiomark/internal/logging"
)

// SyncManager is the lifecycle surface of the reconciliation manager.
// *syncer.Manager satisfies this.
type SyncManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService adapts the sync manager to suture.Service.
type SyncService struct {
	manager SyncManager
}

// NewSyncService wraps a sync manager for supervision.
func NewSyncService(manager SyncManager) *SyncService {
	return &SyncService{manager: manager}
}

// Serve implements suture.Service. Starts the manager and blocks until
// the context is canceled, then stops it and waits for in-flight work.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		logging.Warn().Err(err).Msg("Sync manager stop reported an error")
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *SyncService) String() string {
	return "sync-manager"
}

// HTTPService adapts an http.Server to suture.Service with graceful
// shutdown.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an HTTP server for supervision.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. Runs ListenAndServe and drains
// in-flight requests on context cancellation.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown exceeded deadline")
		return err
	}

	logging.Info().Msg("HTTP server stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *HTTPService) String() string {
	return "http-server"
}
