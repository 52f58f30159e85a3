// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// handlers_sync.go - sync triggers, capability status, health probes
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiomark/audiomark/internal/models"
	"github.com/audiomark/audiomark/internal/syncer"
)

// SyncItem handles POST /api/v1/items/{id}/sync.
// Reconciles one item immediately and reports the action taken.
func (router *Router) SyncItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := chi.URLParam(r, "id")

	result, err := router.syncRunner.SyncOne(r.Context(), itemID)
	if errors.Is(err, syncer.ErrNotSyncable) {
		respondError(w, http.StatusConflict, "NOT_SYNCABLE", "item has no remote counterpart", nil)
		return
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if result.Action == models.ActionFailed {
		respondSyncFailure(w, result)
		return
	}

	respondSuccess(w, http.StatusOK, result, start)
}

// SyncAll handles POST /api/v1/sync.
// Runs one batch over the whole syncable catalog. A batch that ran is
// always a 200 with aggregate counts, even when some items failed;
// per-item failures are in the items array. Only a batch that could not
// start at all (bad credential, store failure) is an error response.
func (router *Router) SyncAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	run, err := router.syncRunner.TriggerSyncAll(r.Context())
	if err != nil {
		if isAuthError(err) {
			respondError(w, http.StatusUnauthorized, "AUTH_ERROR",
				"stored credential is missing, corrupt, or bound to a different machine", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "batch sync could not start", err)
		return
	}

	respondSuccess(w, http.StatusOK, run, start)
}

// Status handles GET /api/v1/status.
// A capability probe callers should check before attempting a sync.
// CredentialStored reports whether the stored credential actually
// decrypts on this machine; AuthFileExists only that the file is there.
// The two diverge when the credential file was copied from another host.
func (router *Router) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	_, retrieveErr := router.credentials.RetrieveSecret()

	resp := models.StatusResponse{
		RemoteClientAvailable: router.remote.Available(),
		CredentialStored:      retrieveErr == nil,
		AuthFileExists:        router.credentials.Stored(),
	}
	if last := router.syncRunner.LastSyncTime(); !last.IsZero() {
		resp.LastSyncTime = &last
	}

	respondSuccess(w, http.StatusOK, resp, start)
}

// Health handles GET /api/v1/health.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondSuccess(w, http.StatusOK, map[string]string{"status": "healthy"}, start)
}

// HealthLive handles GET /api/v1/health/live. Process liveness only.
func (router *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, start)
}

// HealthReady handles GET /api/v1/health/ready.
// Ready means the store answers; the remote service being down does not
// make the process unready, it just degrades sync.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := router.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DATABASE_ERROR", "store is not reachable", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, start)
}
