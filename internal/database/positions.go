// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// GetPosition returns the position record for one item, or ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, itemID string) (*models.PositionRecord, error) {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("select", "positions", time.Since(start), err) }()

	rec := &models.PositionRecord{}
	err = s.conn.QueryRowContext(ctx, `
		SELECT item_id, local_position_ms, local_updated_at,
		       remote_position_ms, remote_updated_at, synced_at
		FROM positions WHERE item_id = ?`, itemID).
		Scan(&rec.ItemID, &rec.LocalPositionMS, &rec.LocalUpdatedAt,
			&rec.RemotePositionMS, &rec.RemoteUpdatedAt, &rec.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, fmt.Errorf("position for %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", itemID, err)
	}
	return rec, nil
}

// SetLocalPosition records a player progress report. The write is
// serialized per item, rejects negative positions with
// ErrInvalidPosition, and appends a history entry with source=local.
func (s *Store) SetLocalPosition(ctx context.Context, itemID string, positionMS int64, now time.Time) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("update", "positions", time.Since(start), err) }()

	if positionMS < 0 {
		err = fmt.Errorf("%w: position_ms %d is negative", ErrInvalidPosition, positionMS)
		return err
	}

	mu := s.acquireItemLock(itemID)
	defer mu.Unlock()

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	s.warnPastEnd(item, positionMS)

	res, err := s.conn.ExecContext(ctx, `
		UPDATE positions
		SET local_position_ms = ?, local_updated_at = ?
		WHERE item_id = ?`,
		positionMS, now.UTC(), itemID)
	if err != nil {
		return fmt.Errorf("set local position %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Position row is seeded by UpsertItem; recover if it is missing.
		if _, err = s.conn.ExecContext(ctx, `
			INSERT INTO positions (item_id, local_position_ms, local_updated_at)
			VALUES (?, ?, ?)`,
			itemID, positionMS, now.UTC()); err != nil {
			return fmt.Errorf("insert position %s: %w", itemID, err)
		}
	}

	return s.appendHistory(ctx, itemID, positionMS, models.SourceLocal, now)
}

// SetRemoteObserved records a position learned from the remote service.
//
// With source=remote (a pull) the local position advances to the pulled
// value. With source=sync (a confirmed push) both sides are recorded at
// the pushed value. Either way remote_position_ms reflects what the
// remote service now holds, and a history entry is appended with the
// given source.
func (s *Store) SetRemoteObserved(ctx context.Context, itemID string, positionMS int64, source models.PositionSource, now time.Time) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("update", "positions", time.Since(start), err) }()

	if positionMS < 0 {
		err = fmt.Errorf("%w: position_ms %d is negative", ErrInvalidPosition, positionMS)
		return err
	}
	if source != models.SourceRemote && source != models.SourceSync {
		err = fmt.Errorf("unexpected position source %q", source)
		return err
	}

	mu := s.acquireItemLock(itemID)
	defer mu.Unlock()

	if _, err = s.GetItem(ctx, itemID); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE positions
		SET local_position_ms = ?, local_updated_at = ?,
		    remote_position_ms = ?, remote_updated_at = ?
		WHERE item_id = ?`,
		positionMS, now.UTC(), positionMS, now.UTC(), itemID)
	if err != nil {
		return fmt.Errorf("set remote observed %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = s.conn.ExecContext(ctx, `
			INSERT INTO positions (item_id, local_position_ms, local_updated_at,
				remote_position_ms, remote_updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			itemID, positionMS, now.UTC(), positionMS, now.UTC()); err != nil {
			return fmt.Errorf("insert position %s: %w", itemID, err)
		}
	}

	return s.appendHistory(ctx, itemID, positionMS, source, now)
}

// MarkSynced stamps the item's last successful reconciliation time.
func (s *Store) MarkSynced(ctx context.Context, itemID string, now time.Time) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("update", "positions", time.Since(start), err) }()

	_, err = s.conn.ExecContext(ctx, `
		UPDATE positions SET synced_at = ? WHERE item_id = ?`,
		now.UTC(), itemID)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", itemID, err)
	}
	return nil
}

// warnPastEnd logs when a reported position runs past the book duration
// beyond the tolerance. The value is stored as given; the position may
// be legitimate when the catalog duration is stale.
func (s *Store) warnPastEnd(item *models.SyncableItem, positionMS int64) {
	if item.DurationMS <= 0 {
		return
	}
	if positionMS > item.DurationMS+durationTolerance.Milliseconds() {
		logging.Warn().
			Str("item_id", item.ItemID).
			Int64("position_ms", positionMS).
			Int64("duration_ms", item.DurationMS).
			Msg("Position exceeds item duration")
	}
}
