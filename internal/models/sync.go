// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package models

import (
	"time"
)

// Action identifies the outcome of reconciling a single item.
type Action string

// Reconciliation outcomes. Exactly one is recorded per item per sync run.
const (
	// ActionPulled means the remote position was further ahead and was
	// written into the local store.
	ActionPulled Action = "pulled_from_audible"

	// ActionPushed means the local position was further ahead and was
	// uploaded to the remote service.
	ActionPushed Action = "pushed_to_audible"

	// ActionAlreadySynced means local and remote agreed; no write was
	// performed on either side.
	ActionAlreadySynced Action = "already_synced"

	// ActionFailed means the item could not be reconciled (remote error,
	// store error). The item is retried on the next run.
	ActionFailed Action = "failed"
)

// PositionSource identifies who produced a position value in the history log.
type PositionSource string

const (
	// SourceLocal is a position reported by the local player.
	SourceLocal PositionSource = "local"

	// SourceRemote is a position observed from the remote service and
	// adopted locally (a pull).
	SourceRemote PositionSource = "remote"

	// SourceSync is a position confirmed by a successful push to the
	// remote service.
	SourceSync PositionSource = "sync"
)

// SyncableItem is a catalog entry that participates in position sync.
// An item without an ASIN exists locally only and is skipped by the
// reconciler.
//
// Fields:
//   - ItemID: Stable local identifier (assigned by the catalog)
//   - Title: Display title
//   - Author: Primary author, may be empty
//   - ASIN: Audible catalog identifier; nil when the item has no
//     Audible counterpart
//   - DurationMS: Total runtime in milliseconds (0 when unknown)
type SyncableItem struct {
	ItemID     string  `json:"item_id"`
	Title      string  `json:"title"`
	Author     string  `json:"author,omitempty"`
	ASIN       *string `json:"asin,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// Syncable reports whether the item can be reconciled with the remote
// service. Items without an ASIN are local-only.
func (i *SyncableItem) Syncable() bool {
	return i.ASIN != nil && *i.ASIN != ""
}

// PositionRecord holds the current playback position for one item, plus
// the last position observed on the remote side. Remote fields are nil
// until the first successful reconciliation.
//
// Positions are milliseconds from the start of the book. LocalUpdatedAt
// is the wall-clock time of the last local write; it is informational
// only and never participates in conflict resolution, which compares
// positions, not timestamps.
type PositionRecord struct {
	ItemID           string     `json:"item_id"`
	LocalPositionMS  int64      `json:"local_position_ms"`
	LocalUpdatedAt   time.Time  `json:"local_updated_at"`
	RemotePositionMS *int64     `json:"remote_position_ms,omitempty"`
	RemoteUpdatedAt  *time.Time `json:"remote_updated_at,omitempty"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
}

// InSync reports whether local and last-observed remote positions agree.
// A record that has never seen a remote position is not in sync.
func (r *PositionRecord) InSync() bool {
	return r.RemotePositionMS != nil && *r.RemotePositionMS == r.LocalPositionMS
}

// HistoryEntry is one row of the append-only position log. Every change
// to an item's position is recorded with its source, so a listener can
// recover from a bad sync by inspecting the trail.
type HistoryEntry struct {
	ItemID     string         `json:"item_id"`
	PositionMS int64          `json:"position_ms"`
	Source     PositionSource `json:"source"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ItemSyncResult is the per-item outcome inside a sync run.
//
// FinalPositionMS is the position both sides agree on after the item was
// reconciled; it is zero when Action is ActionFailed. Retryable is only
// meaningful for failures and mirrors the remote error classification.
type ItemSyncResult struct {
	ItemID          string `json:"item_id"`
	ASIN            string `json:"asin,omitempty"`
	Action          Action `json:"action"`
	FinalPositionMS int64  `json:"final_position_ms,omitempty"`
	Error           string `json:"error,omitempty"`
	Retryable       bool   `json:"retryable,omitempty"`

	// Cause carries the underlying error for in-process callers that
	// need errors.Is classification. Never serialized.
	Cause error `json:"-"`
}

// SyncRun summarizes one batch reconciliation pass over the syncable
// catalog. The four counters always sum to Total.
type SyncRun struct {
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Total         int              `json:"total"`
	Pulled        int              `json:"pulled"`
	Pushed        int              `json:"pushed"`
	AlreadySynced int              `json:"already_synced"`
	Failed        int              `json:"failed"`
	Items         []ItemSyncResult `json:"items,omitempty"`
}

// Record tallies one item result into the run counters.
func (r *SyncRun) Record(res ItemSyncResult) {
	r.Items = append(r.Items, res)
	r.Total++
	switch res.Action {
	case ActionPulled:
		r.Pulled++
	case ActionPushed:
		r.Pushed++
	case ActionAlreadySynced:
		r.AlreadySynced++
	case ActionFailed:
		r.Failed++
	}
}
