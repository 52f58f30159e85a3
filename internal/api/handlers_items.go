// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// handlers_items.go - catalog registration, position read/write, history
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/models"
)

// CreateItem handles POST /api/v1/items.
// Registration is an upsert: re-posting an existing item updates its
// metadata without touching the stored position.
func (router *Router) CreateItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.ItemCreateRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now().UTC()},
			Error:    apiErr,
		})
		return
	}

	item := &models.SyncableItem{
		ItemID:     req.ItemID,
		Title:      req.Title,
		Author:     req.Author,
		ASIN:       req.ASIN,
		DurationMS: req.DurationMS,
	}
	if err := router.store.UpsertItem(r.Context(), item); err != nil {
		respondStoreError(w, err)
		return
	}

	logging.Info().
		Str("item_id", sanitizeLogValue(item.ItemID)).
		Bool("syncable", item.Syncable()).
		Msg("Item registered")

	respondSuccess(w, http.StatusCreated, item, start)
}

// ListItems handles GET /api/v1/items.
func (router *Router) ListItems(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	items, err := router.store.ListItems(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, items, start)
}

// ListSyncable handles GET /api/v1/items/syncable.
func (router *Router) ListSyncable(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	items, err := router.store.ListSyncable(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, items, start)
}

// GetPosition handles GET /api/v1/items/{id}/position.
func (router *Router) GetPosition(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := chi.URLParam(r, "id")

	item, err := router.store.GetItem(r.Context(), itemID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	rec, err := router.store.GetPosition(r.Context(), itemID)
	if errors.Is(err, database.ErrNotFound) {
		// Registered but never played; report position zero.
		rec = &models.PositionRecord{ItemID: itemID}
	} else if err != nil {
		respondStoreError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, models.PositionResponse{
		PositionRecord:  *rec,
		PercentComplete: percentComplete(rec.LocalPositionMS, item.DurationMS),
	}, start)
}

// PutPosition handles PUT /api/v1/items/{id}/position.
// The local player reports progress here; the write lands locally and is
// reconciled with the remote service on the next sync run.
func (router *Router) PutPosition(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := chi.URLParam(r, "id")

	var req models.PositionUpdateRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		respondError(w, http.StatusBadRequest, "INVALID_POSITION", "position_ms must be a non-negative integer", nil)
		return
	}

	if err := router.store.SetLocalPosition(r.Context(), itemID, req.PositionMS, time.Now().UTC()); err != nil {
		respondStoreError(w, err)
		return
	}

	rec, err := router.store.GetPosition(r.Context(), itemID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	item, err := router.store.GetItem(r.Context(), itemID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, models.PositionResponse{
		PositionRecord:  *rec,
		PercentComplete: percentComplete(rec.LocalPositionMS, item.DurationMS),
	}, start)
}

// History handles GET /api/v1/items/{id}/history?limit=.
// Entries are returned newest first.
func (router *Router) History(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := chi.URLParam(r, "id")

	if _, err := router.store.GetItem(r.Context(), itemID); err != nil {
		respondStoreError(w, err)
		return
	}

	// A non-positive limit would read as "no limit" at the store layer
	// and bypass the page-size ceiling.
	limit := getIntParam(r, "limit", router.cfg.DefaultPageSize)
	if limit <= 0 {
		limit = router.cfg.DefaultPageSize
	}
	if limit > router.cfg.MaxPageSize {
		limit = router.cfg.MaxPageSize
	}

	entries, err := router.store.History(r.Context(), itemID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, entries, start)
}
