// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package api provides the HTTP surface: position read/write, single-item
// and batch sync triggers, catalog registration, capability status, and
// health probes. All payloads use the models.APIResponse envelope.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// Store is the catalog and position surface the handlers need.
// *database.Store satisfies this.
type Store interface {
	UpsertItem(ctx context.Context, item *models.SyncableItem) error
	GetItem(ctx context.Context, itemID string) (*models.SyncableItem, error)
	ListItems(ctx context.Context) ([]models.SyncableItem, error)
	ListSyncable(ctx context.Context) ([]models.SyncableItem, error)
	GetPosition(ctx context.Context, itemID string) (*models.PositionRecord, error)
	SetLocalPosition(ctx context.Context, itemID string, positionMS int64, now time.Time) error
	History(ctx context.Context, itemID string, limit int) ([]models.HistoryEntry, error)
	Ping(ctx context.Context) error
}

// SyncRunner is the scheduler surface the handlers need.
// *syncer.Manager satisfies this.
type SyncRunner interface {
	SyncOne(ctx context.Context, itemID string) (models.ItemSyncResult, error)
	TriggerSyncAll(ctx context.Context) (*models.SyncRun, error)
	LastSyncTime() time.Time
}

// CredentialStatus is the vault surface the status probe needs.
// *vault.Vault satisfies this.
type CredentialStatus interface {
	Stored() bool
	RetrieveSecret() (string, error)
}

// RemoteStatus reports whether the remote client would currently admit a
// request. *audible.BreakerClient satisfies this.
type RemoteStatus interface {
	Available() bool
}

// Router wires handlers to their collaborators.
type Router struct {
	store       Store
	syncRunner  SyncRunner
	credentials CredentialStatus
	remote      RemoteStatus
	cfg         *config.APIConfig
}

// NewRouter creates a Router over the given collaborators.
func NewRouter(store Store, syncRunner SyncRunner, credentials CredentialStatus, remote RemoteStatus, cfg *config.APIConfig) *Router {
	return &Router{
		store:       store,
		syncRunner:  syncRunner,
		credentials: credentials,
		remote:      remote,
		cfg:         cfg,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestMetrics)

	r.Handle("/metrics", promhttp.Handler())

	// Health probes stay outside the API rate limit so monitoring
	// cannot starve itself.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.Health)
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if router.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		}

		r.Get("/status", router.Status)

		r.Post("/sync", router.SyncAll)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", router.ListItems)
			r.Post("/", router.CreateItem)
			r.Get("/syncable", router.ListSyncable)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/position", router.GetPosition)
				r.Put("/position", router.PutPosition)
				r.Post("/sync", router.SyncItem)
				r.Get("/history", router.History)
			})
		})
	})

	return r
}

// requestMetrics records per-route counters and latency. The endpoint
// label uses the chi route pattern, not the raw path, to keep metric
// cardinality bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
