// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package database implements the local position store on DuckDB.
//
// The store holds three tables:
//   - items: the syncable catalog surface (id, title, author, asin, duration)
//   - positions: one row per item with local and remote-observed positions
//   - position_history: append-only log of every position change
//
// Writes to a position row are serialized with a per-item mutex so a
// player progress report and a sync pull cannot interleave their
// read-modify-write cycles.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/logging"
)

// Store errors
var (
	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidPosition indicates a negative or otherwise malformed position.
	ErrInvalidPosition = errors.New("invalid position")
)

// durationTolerance is the slack allowed before a position past the end
// of the book is logged as suspicious. Player position reports routinely
// overshoot by a few hundred milliseconds at the end of a chapter.
const durationTolerance = 5 * time.Second

// Store is the DuckDB-backed position store.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// Per-item write locks for read-modify-write position updates
	itemLocks sync.Map
}

// New creates a new store, opening the database and initializing the schema.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted
	// network environments
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		conn: conn,
		cfg:  cfg,
	}

	s.configureConnectionPool()

	if err := s.initialize(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close database after init error")
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

func (s *Store) configureConnectionPool() {
	s.conn.SetMaxOpenConns(runtime.NumCPU())
	s.conn.SetMaxIdleConns(2)
	s.conn.SetConnMaxLifetime(time.Hour)
	s.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates tables and indexes.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			item_id     VARCHAR PRIMARY KEY,
			title       VARCHAR NOT NULL,
			author      VARCHAR NOT NULL DEFAULT '',
			asin        VARCHAR,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			item_id            VARCHAR PRIMARY KEY,
			local_position_ms  BIGINT NOT NULL DEFAULT 0,
			local_updated_at   TIMESTAMP NOT NULL,
			remote_position_ms BIGINT,
			remote_updated_at  TIMESTAMP,
			synced_at          TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS position_history (
			item_id     VARCHAR NOT NULL,
			position_ms BIGINT NOT NULL,
			source      VARCHAR NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_item ON position_history (item_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_items_asin ON items (asin)`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	// Flush the WAL after schema initialization so a crash before the
	// first checkpoint cannot leave DDL replay on the next startup.
	if err := s.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after schema initialization")
	}

	return nil
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}

	return s.conn.Close()
}

// Checkpoint forces a WAL flush to the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// Conn exposes the underlying connection for tests.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// acquireItemLock acquires the per-item write mutex.
func (s *Store) acquireItemLock(itemID string) *sync.Mutex {
	muInterface, _ := s.itemLocks.LoadOrStore(itemID, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		s.itemLocks.Store(itemID, mu)
	}
	mu.Lock()
	return mu
}
