// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package models defines the shared data types for Audiomark.
//
// Domain types:
//   - SyncableItem: a catalog entry and its optional Audible ASIN
//   - PositionRecord: per-item local and remote-observed positions
//   - HistoryEntry: append-only log of every position change
//   - SyncRun / ItemSyncResult: outcome of a batch or single-item sync
//
// API types:
//   - APIResponse: standardized response envelope for all HTTP endpoints
//   - Metadata: response timing metadata
//   - APIError: structured error payload
package models
