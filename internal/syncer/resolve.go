// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package syncer reconciles local playback positions with the remote
// service. The decision logic is a pure function (Resolve); the
// Reconciler performs the I/O a decision calls for; the Manager runs
// periodic and on-demand batch syncs.
package syncer

import (
	"github.com/audiomark/audiomark/internal/models"
)

// Resolve decides the sync action for one item by comparing positions.
// This is a pure decision function with no I/O; both single-item and
// batch sync call this to get a consistent decision.
//
// The rule is furthest-ahead-wins: whichever side has listened further
// into the book is the truth. Timestamps never participate, so the
// decision is deterministic and idempotent: running it twice on the
// same state yields already_synced the second time.
//
//	remote absent      -> push (local is the only copy)
//	remote > local     -> pull
//	local > remote     -> push
//	local == remote    -> already synced
func Resolve(localMS, remoteMS int64, remoteAbsent bool) models.Action {
	if remoteAbsent {
		return models.ActionPushed
	}
	switch {
	case remoteMS > localMS:
		return models.ActionPulled
	case localMS > remoteMS:
		return models.ActionPushed
	default:
		return models.ActionAlreadySynced
	}
}
