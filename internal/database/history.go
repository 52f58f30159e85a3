// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// appendHistory writes one row to the append-only position log.
// Callers hold the per-item lock.
func (s *Store) appendHistory(ctx context.Context, itemID string, positionMS int64, source models.PositionSource, now time.Time) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("insert", "position_history", time.Since(start), err) }()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO position_history (item_id, position_ms, source, recorded_at)
		VALUES (?, ?, ?, ?)`,
		itemID, positionMS, string(source), now.UTC())
	if err != nil {
		return fmt.Errorf("append history %s: %w", itemID, err)
	}
	return nil
}

// History returns the most recent history entries for an item, newest
// first. A limit of 0 or less returns all entries.
func (s *Store) History(ctx context.Context, itemID string, limit int) ([]models.HistoryEntry, error) {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("select", "position_history", time.Since(start), err) }()

	query := `
		SELECT item_id, position_ms, source, recorded_at
		FROM position_history
		WHERE item_id = ?
		ORDER BY recorded_at DESC`
	args := []interface{}{itemID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", itemID, err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var source string
		if err := rows.Scan(&e.ItemID, &e.PositionMS, &source, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Source = models.PositionSource(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
