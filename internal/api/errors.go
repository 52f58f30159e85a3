// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// errors.go - mapping from the internal error taxonomy to HTTP responses
package api

import (
	"errors"
	"net/http"

	"github.com/audiomark/audiomark/internal/audible"
	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/models"
	"github.com/audiomark/audiomark/internal/vault"
)

// respondStoreError maps store errors to their HTTP shape.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, database.ErrInvalidPosition):
		respondError(w, http.StatusBadRequest, "INVALID_POSITION", "position_ms must be non-negative", nil)
	default:
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "store operation failed", err)
	}
}

// respondSyncFailure maps a failed single-item reconciliation. Auth
// failures surface as 401; everything else involving the remote service
// is a 502 so callers know to retry later rather than fix their request.
func respondSyncFailure(w http.ResponseWriter, result models.ItemSyncResult) {
	if isAuthError(result.Cause) {
		respondError(w, http.StatusUnauthorized, "AUTH_ERROR",
			"stored credential is missing, corrupt, or rejected by the remote service", result.Cause)
		return
	}
	respondError(w, http.StatusBadGateway, "REMOTE_UNAVAILABLE", result.Error, result.Cause)
}

func isAuthError(err error) bool {
	return errors.Is(err, vault.ErrAuthFailed) || errors.Is(err, audible.ErrAuthFailed)
}
