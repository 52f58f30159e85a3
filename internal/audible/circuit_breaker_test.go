// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package audible

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/audiomark/audiomark/internal/config"
)

func newBreakerUnderTest(t *testing.T, handler http.Handler, failures uint32) *BreakerClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.AudibleConfig{
		URL:             srv.URL,
		Timeout:         5 * time.Second,
		RateLimit:       1000,
		RateBurst:       100,
		BreakerFailures: failures,
		BreakerTimeout:  time.Minute,
	}
	return NewBreakerClient(NewClient(cfg, &staticTokens{token: "device-token"}), cfg)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	bc := newBreakerUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}), 3)

	if !bc.Available() {
		t.Fatal("breaker not available before any request")
	}

	for i := 0; i < 3; i++ {
		if _, err := bc.FetchPosition(context.Background(), "B000000001"); err == nil {
			t.Fatal("expected failure")
		}
	}

	if bc.Available() {
		t.Error("breaker still available after consecutive failures")
	}

	// Requests are now rejected without reaching the service, as a
	// retryable RemoteError.
	_, err := bc.FetchPosition(context.Background(), "B000000001")
	if err == nil {
		t.Fatal("expected open-circuit rejection")
	}
	if !IsRetryable(err) {
		t.Errorf("open-circuit rejection not retryable: %v", err)
	}
}

func TestBreaker_NotFoundDoesNotCount(t *testing.T) {
	bc := newBreakerUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no position", http.StatusNotFound)
	}), 2)

	// Many absent positions in a row; absence is a valid answer and must
	// never trip the breaker.
	for i := 0; i < 10; i++ {
		_, err := bc.FetchPosition(context.Background(), "B000000001")
		if !errors.Is(err, ErrRemoteNotFound) {
			t.Fatalf("err = %v, want ErrRemoteNotFound", err)
		}
	}

	if !bc.Available() {
		t.Error("breaker opened on remote-absent responses")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	var calls atomic.Int64
	bc := newBreakerUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail every other request; consecutive failures never reach 3.
		if calls.Add(1)%2 == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"asin": "B000000001", "position_ms": 1000, "updated_at": time.Now().UTC(),
		})
	}), 3)

	for i := 0; i < 12; i++ {
		_, _ = bc.FetchPosition(context.Background(), "B000000001")
	}

	if !bc.Available() {
		t.Error("breaker opened despite interleaved successes")
	}
}

func TestBreaker_PassesThroughResults(t *testing.T) {
	bc := newBreakerUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"asin": "B000000001", "position_ms": 4242, "updated_at": time.Now().UTC(),
			})
		}
	}), 5)

	ms, err := bc.FetchPosition(context.Background(), "B000000001")
	if err != nil || ms != 4242 {
		t.Errorf("FetchPosition = %d, %v", ms, err)
	}

	token, err := bc.ObtainWriteAuthorization(context.Background(), "B000000001")
	if err != nil || token != "tok" {
		t.Errorf("ObtainWriteAuthorization = %q, %v", token, err)
	}

	if err := bc.PushPosition(context.Background(), "B000000001", 5000, token); err != nil {
		t.Errorf("PushPosition: %v", err)
	}
}
