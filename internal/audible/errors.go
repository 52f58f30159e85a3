// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package audible

import (
	"errors"
	"fmt"
)

// Client errors
var (
	// ErrRemoteNotFound indicates the remote service has never seen a
	// position for the ASIN. This is a valid state, not a failure: the
	// reconciler treats it as "local wins".
	ErrRemoteNotFound = errors.New("no remote position for item")

	// ErrAuthFailed indicates the device credential was rejected
	// (HTTP 401/403). Not retryable without operator intervention.
	ErrAuthFailed = errors.New("remote service rejected credential")
)

// RemoteError classifies a failed remote call. Retryable errors
// (429, 5xx, transport failures) leave the item eligible for the next
// sync run; non-retryable errors (4xx) indicate a request the remote
// service will keep refusing.
type RemoteError struct {
	Op        string // "fetch_position", "authorize", "push_position"
	Status    int    // HTTP status, 0 for transport errors
	Retryable bool
	Err       error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("audible %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("audible %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err represents a transient remote failure.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
