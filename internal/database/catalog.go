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

	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// UpsertItem inserts or updates a catalog item. A new item also gets a
// zeroed position row so position reads never miss.
func (s *Store) UpsertItem(ctx context.Context, item *models.SyncableItem) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("upsert", "items", time.Since(start), err) }()

	if item.ItemID == "" {
		err = errors.New("item_id must not be empty")
		return err
	}

	mu := s.acquireItemLock(item.ItemID)
	defer mu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO items (item_id, title, author, asin, duration_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			asin = excluded.asin,
			duration_ms = excluded.duration_ms`,
		item.ItemID, item.Title, item.Author, item.ASIN, item.DurationMS)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ItemID, err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO positions (item_id, local_position_ms, local_updated_at)
		VALUES (?, 0, ?)
		ON CONFLICT (item_id) DO NOTHING`,
		item.ItemID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seed position row for %s: %w", item.ItemID, err)
	}

	return nil
}

// GetItem returns one catalog item, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, itemID string) (*models.SyncableItem, error) {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("select", "items", time.Since(start), err) }()

	item := &models.SyncableItem{}
	err = s.conn.QueryRowContext(ctx, `
		SELECT item_id, title, author, asin, duration_ms
		FROM items WHERE item_id = ?`, itemID).
		Scan(&item.ItemID, &item.Title, &item.Author, &item.ASIN, &item.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil // not a query failure for metrics
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return item, nil
}

// ListItems returns the full catalog ordered by item_id.
func (s *Store) ListItems(ctx context.Context) ([]models.SyncableItem, error) {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("select", "items", time.Since(start), err) }()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT item_id, title, author, asin, duration_ms
		FROM items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListSyncable returns the items with a non-empty ASIN ordered by
// item_id. The query is always fresh so items added mid-run appear in
// the next batch.
func (s *Store) ListSyncable(ctx context.Context) ([]models.SyncableItem, error) {
	start := time.Now()
	var err error
	defer func() { metrics.RecordDBQuery("select", "items", time.Since(start), err) }()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT item_id, title, author, asin, duration_ms
		FROM items
		WHERE asin IS NOT NULL AND asin <> ''
		ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list syncable items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]models.SyncableItem, error) {
	var items []models.SyncableItem
	for rows.Next() {
		var item models.SyncableItem
		if err := rows.Scan(&item.ItemID, &item.Title, &item.Author, &item.ASIN, &item.DurationMS); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
