// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package audible

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/audiomark/audiomark/internal/config"
)

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) RetrieveSecret() (string, error) {
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.AudibleConfig{
		URL:       srv.URL,
		Timeout:   5 * time.Second,
		RateLimit: 1000,
		RateBurst: 100,
	}, &staticTokens{token: "device-token"})
}

func TestFetchPosition(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.0/lastPositions/B000000001" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer device-token" {
			t.Errorf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"asin":        "B000000001",
			"position_ms": 7_200_000,
			"updated_at":  time.Now().UTC(),
		})
	}))

	ms, err := client.FetchPosition(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("FetchPosition: %v", err)
	}
	if ms != 7_200_000 {
		t.Errorf("position = %d, want 7200000", ms)
	}
}

func TestFetchPosition_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no position", http.StatusNotFound)
	}))

	_, err := client.FetchPosition(context.Background(), "B000000001")
	if !errors.Is(err, ErrRemoteNotFound) {
		t.Errorf("err = %v, want ErrRemoteNotFound", err)
	}
	// Absence is a state, not a retryable outage.
	if IsRetryable(err) {
		t.Error("ErrRemoteNotFound classified as retryable")
	}
}

func TestFetchPosition_AuthRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))

	_, err := client.FetchPosition(context.Background(), "B000000001")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
	if IsRetryable(err) {
		t.Error("auth rejection classified as retryable")
	}
}

func TestFetchPosition_ServerErrorRetryable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.FetchPosition(context.Background(), "B000000001")
	if !IsRetryable(err) {
		t.Errorf("5xx should be retryable, got %v", err)
	}

	var rerr *RemoteError
	if !errors.As(err, &rerr) || rerr.Status != http.StatusInternalServerError {
		t.Errorf("err = %v, want RemoteError with status 500", err)
	}
}

func TestFetchPosition_CredentialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached the server despite missing credential")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.AudibleConfig{
		URL:       srv.URL,
		Timeout:   5 * time.Second,
		RateLimit: 1000,
		RateBurst: 100,
	}, &staticTokens{err: fmt.Errorf("no credential file")})

	_, err := client.FetchPosition(context.Background(), "B000000001")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestObtainWriteAuthorization(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/1.0/annotations/authorize" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body struct {
			ASIN string `json:"asin"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ASIN != "B000000001" {
			t.Errorf("asin = %q", body.ASIN)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "write-token-abc"})
	}))

	token, err := client.ObtainWriteAuthorization(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("ObtainWriteAuthorization: %v", err)
	}
	if token != "write-token-abc" {
		t.Errorf("token = %q", token)
	}
}

func TestObtainWriteAuthorization_EmptyToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))

	_, err := client.ObtainWriteAuthorization(context.Background(), "B000000001")
	if err == nil {
		t.Fatal("expected error for empty token")
	}
	if IsRetryable(err) {
		t.Error("empty authorization token classified as retryable")
	}
}

func TestPushPosition(t *testing.T) {
	var got struct {
		PositionMS int64  `json:"position_ms"`
		Token      string `json:"token"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.PushPosition(context.Background(), "B000000001", 7_200_000, "write-token")
	if err != nil {
		t.Fatalf("PushPosition: %v", err)
	}
	if got.PositionMS != 7_200_000 || got.Token != "write-token" {
		t.Errorf("pushed body = %+v", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		retryable bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusNotFound, true, false},
		{http.StatusUnauthorized, true, false},
		{http.StatusForbidden, true, false},
		{http.StatusTooManyRequests, true, true},
		{http.StatusInternalServerError, true, true},
		{http.StatusBadGateway, true, true},
		{http.StatusBadRequest, true, false},
	}

	for _, tt := range tests {
		err := classifyStatus("test", tt.status)
		if (err != nil) != tt.wantErr {
			t.Errorf("classifyStatus(%d) error = %v, wantErr %v", tt.status, err, tt.wantErr)
			continue
		}
		if err != nil && IsRetryable(err) != tt.retryable {
			t.Errorf("classifyStatus(%d) retryable = %v, want %v", tt.status, IsRetryable(err), tt.retryable)
		}
	}
}
