// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package config loads and validates Audiomark configuration.
//
// Configuration is layered with Koanf v2:
//  1. Defaults: built-in sensible defaults for all settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all application configuration.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access
// from multiple goroutines.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Audible  AudibleConfig  `koanf:"audible"`
	Vault    VaultConfig    `koanf:"vault"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings for the local position store.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/audiomark.duckdb)
//   - DUCKDB_MAX_MEMORY: DuckDB memory limit (default: 512MB)
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// AudibleConfig holds remote service connection settings.
//
// Environment Variables:
//   - AUDIBLE_URL: API base URL (default: https://api.audible.com)
//   - AUDIBLE_TIMEOUT: Per-request timeout (default: 30s)
//   - AUDIBLE_RATE_LIMIT: Max requests per second across all calls (default: 1)
//   - AUDIBLE_RATE_BURST: Rate limiter burst size (default: 1)
type AudibleConfig struct {
	URL       string        `koanf:"url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
	RateBurst int           `koanf:"rate_burst"`

	// Circuit breaker tuning.
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
	BreakerFailures    uint32        `koanf:"breaker_failures"`
}

// VaultConfig holds credential vault settings.
//
// Environment Variables:
//   - VAULT_PATH: Encrypted credential file path (default: /data/credentials.enc)
type VaultConfig struct {
	Path string `koanf:"path"`
}

// SyncConfig holds reconciliation scheduler settings.
//
// Environment Variables:
//   - SYNC_INTERVAL: Periodic full-sync interval, 0 disables the ticker (default: 15m)
//   - SYNC_ON_STARTUP: Run a full sync when the manager starts (default: true)
//   - SYNC_ITEM_TIMEOUT: Per-item reconciliation deadline (default: 1m)
type SyncConfig struct {
	Interval    time.Duration `koanf:"interval"`
	OnStartup   bool          `koanf:"on_startup"`
	ItemTimeout time.Duration `koanf:"item_timeout"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 9913)
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read/write timeout (default: 30s)
type ServerConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig holds API response limits and rate limiting.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks the loaded configuration for malformed or out-of-range
// values. It is called by Load(); call it directly when constructing a
// Config by hand in tests.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateAudible(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must be >= 0, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateAudible() error {
	if c.Audible.URL == "" {
		return fmt.Errorf("audible.url must not be empty")
	}
	u, err := url.Parse(c.Audible.URL)
	if err != nil {
		return fmt.Errorf("audible.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("audible.url must use http or https, got %q", u.Scheme)
	}
	if c.Audible.Timeout <= 0 {
		return fmt.Errorf("audible.timeout must be positive, got %s", c.Audible.Timeout)
	}
	if c.Audible.RateLimit <= 0 {
		return fmt.Errorf("audible.rate_limit must be positive, got %g", c.Audible.RateLimit)
	}
	if c.Audible.RateBurst < 1 {
		return fmt.Errorf("audible.rate_burst must be >= 1, got %d", c.Audible.RateBurst)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must be >= 0, got %s", c.Sync.Interval)
	}
	if c.Sync.ItemTimeout <= 0 {
		return fmt.Errorf("sync.item_timeout must be positive, got %s", c.Sync.ItemTimeout)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
