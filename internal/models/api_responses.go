// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package models

import (
	"time"
)

// APIResponse represents a standardized API response wrapper used by all HTTP endpoints.
// It provides consistent structure for both successful and error responses.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"item_id": "bk-001", "local_position_ms": 3600000},
//	  "metadata": {
//	    "timestamp": "2026-08-28T12:00:00Z",
//	    "query_time_ms": 4
//	  }
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "INVALID_POSITION",
//	    "message": "position_ms must be non-negative",
//	    "details": {"field": "position_ms"}
//	  },
//	  "metadata": {"timestamp": "2026-08-28T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
//
// Fields:
//   - Timestamp: Server time when response was generated (RFC3339 format)
//   - QueryTimeMS: Handler execution time in milliseconds
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Common error codes:
//   - VALIDATION_ERROR: Invalid input parameters
//   - INVALID_POSITION: Negative or malformed position value
//   - NOT_FOUND: Item doesn't exist
//   - NOT_SYNCABLE: Item has no ASIN and cannot be reconciled
//   - REMOTE_UNAVAILABLE: Remote service unreachable or circuit open
//   - AUTH_ERROR: Stored credential missing, corrupt, or rejected
//   - DATABASE_ERROR: Store read/write failure
//   - RATE_LIMIT_EXCEEDED: Too many requests
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PositionUpdateRequest is the body of PUT /api/v1/items/{id}/position.
type PositionUpdateRequest struct {
	PositionMS int64 `json:"position_ms" validate:"min=0"`
}

// ItemCreateRequest is the body of POST /api/v1/items.
type ItemCreateRequest struct {
	ItemID     string  `json:"item_id" validate:"required,max=128"`
	Title      string  `json:"title" validate:"required,max=512"`
	Author     string  `json:"author" validate:"max=256"`
	ASIN       *string `json:"asin,omitempty" validate:"omitempty,len=10"`
	DurationMS int64   `json:"duration_ms" validate:"min=0"`
}

// PositionResponse is the payload returned by the position endpoints.
// PercentComplete is derived from the item duration and capped at 100.
type PositionResponse struct {
	PositionRecord
	PercentComplete float64 `json:"percent_complete,omitempty"`
}

// StatusResponse is the payload of GET /api/v1/status.
type StatusResponse struct {
	RemoteClientAvailable bool       `json:"remote_client_available"`
	CredentialStored      bool       `json:"credential_stored"`
	AuthFileExists        bool       `json:"auth_file_exists"`
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
}
