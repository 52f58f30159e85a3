// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/audiomark/audiomark/internal/audible"
	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/models"
	"github.com/audiomark/audiomark/internal/syncer"
	"github.com/audiomark/audiomark/internal/vault"
)

type fakeStore struct {
	items     map[string]models.SyncableItem
	positions map[string]models.PositionRecord
	history   map[string][]models.HistoryEntry
	pingErr   error

	lastHistoryLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:     make(map[string]models.SyncableItem),
		positions: make(map[string]models.PositionRecord),
		history:   make(map[string][]models.HistoryEntry),
	}
}

func (s *fakeStore) UpsertItem(_ context.Context, item *models.SyncableItem) error {
	s.items[item.ItemID] = *item
	if _, ok := s.positions[item.ItemID]; !ok {
		s.positions[item.ItemID] = models.PositionRecord{ItemID: item.ItemID}
	}
	return nil
}

func (s *fakeStore) GetItem(_ context.Context, itemID string) (*models.SyncableItem, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &item, nil
}

func (s *fakeStore) ListItems(_ context.Context) ([]models.SyncableItem, error) {
	var out []models.SyncableItem
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

func (s *fakeStore) ListSyncable(_ context.Context) ([]models.SyncableItem, error) {
	var out []models.SyncableItem
	for _, item := range s.items {
		if item.Syncable() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPosition(_ context.Context, itemID string) (*models.PositionRecord, error) {
	rec, ok := s.positions[itemID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) SetLocalPosition(_ context.Context, itemID string, positionMS int64, now time.Time) error {
	if positionMS < 0 {
		return fmt.Errorf("%w: negative", database.ErrInvalidPosition)
	}
	if _, ok := s.items[itemID]; !ok {
		return database.ErrNotFound
	}
	rec := s.positions[itemID]
	rec.ItemID = itemID
	rec.LocalPositionMS = positionMS
	rec.LocalUpdatedAt = now
	s.positions[itemID] = rec
	s.history[itemID] = append(s.history[itemID], models.HistoryEntry{
		ItemID: itemID, PositionMS: positionMS, Source: models.SourceLocal, RecordedAt: now,
	})
	return nil
}

func (s *fakeStore) History(_ context.Context, itemID string, limit int) ([]models.HistoryEntry, error) {
	s.lastHistoryLimit = limit
	entries := s.history[itemID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *fakeStore) Ping(_ context.Context) error {
	return s.pingErr
}

type fakeSyncRunner struct {
	oneResult models.ItemSyncResult
	oneErr    error
	run       *models.SyncRun
	runErr    error
	lastSync  time.Time
}

func (f *fakeSyncRunner) SyncOne(_ context.Context, itemID string) (models.ItemSyncResult, error) {
	return f.oneResult, f.oneErr
}

func (f *fakeSyncRunner) TriggerSyncAll(_ context.Context) (*models.SyncRun, error) {
	return f.run, f.runErr
}

func (f *fakeSyncRunner) LastSyncTime() time.Time {
	return f.lastSync
}

type fakeCredentials struct {
	stored      bool
	retrieveErr error
}

func (f *fakeCredentials) Stored() bool { return f.stored }

func (f *fakeCredentials) RetrieveSecret() (string, error) {
	if f.retrieveErr != nil {
		return "", f.retrieveErr
	}
	return "secret", nil
}

type fakeRemoteStatus struct {
	available bool
}

func (f *fakeRemoteStatus) Available() bool { return f.available }

type testEnv struct {
	store   *fakeStore
	runner  *fakeSyncRunner
	creds   *fakeCredentials
	remote  *fakeRemoteStatus
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  newFakeStore(),
		runner: &fakeSyncRunner{},
		creds:  &fakeCredentials{stored: true},
		remote: &fakeRemoteStatus{available: true},
	}
	router := NewRouter(env.store, env.runner, env.creds, env.remote, &config.APIConfig{
		DefaultPageSize: 100,
		MaxPageSize:     1000,
	})
	env.handler = router.Setup()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not an API envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return rec, resp
}

func checkStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, want, rec.Body.String())
	}
}

func checkErrorCode(t *testing.T, resp models.APIResponse, want string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatal("expected error payload")
	}
	if resp.Error.Code != want {
		t.Errorf("error code = %q, want %q", resp.Error.Code, want)
	}
}

func TestCreateAndGetPosition(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items", models.ItemCreateRequest{
		ItemID:     "bk-001",
		Title:      "Test Book",
		DurationMS: 1_000_000,
	})
	checkStatus(t, rec, http.StatusCreated)
	if resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}

	rec, resp = env.do(t, http.MethodPut, "/api/v1/items/bk-001/position",
		models.PositionUpdateRequest{PositionMS: 250_000})
	checkStatus(t, rec, http.StatusOK)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/items/bk-001/position", nil)
	checkStatus(t, rec, http.StatusOK)

	var pos models.PositionResponse
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &pos); err != nil {
		t.Fatalf("decode position payload: %v", err)
	}
	if pos.LocalPositionMS != 250_000 {
		t.Errorf("local position = %d, want 250000", pos.LocalPositionMS)
	}
	if pos.PercentComplete != 25 {
		t.Errorf("percent complete = %v, want 25", pos.PercentComplete)
	}
}

func TestCreateItem_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items", models.ItemCreateRequest{
		ItemID: "bk-001",
		// Title missing
	})
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, resp, "VALIDATION_ERROR")
}

func TestPutPosition_NegativeRejected(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.UpsertItem(context.Background(), &models.SyncableItem{ItemID: "bk-001", Title: "T"})

	rec, resp := env.do(t, http.MethodPut, "/api/v1/items/bk-001/position",
		map[string]int64{"position_ms": -5})
	checkStatus(t, rec, http.StatusBadRequest)
	checkErrorCode(t, resp, "INVALID_POSITION")
}

func TestGetPosition_UnknownItem(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/items/missing/position", nil)
	checkStatus(t, rec, http.StatusNotFound)
	checkErrorCode(t, resp, "NOT_FOUND")
}

func TestSyncItem(t *testing.T) {
	env := newTestEnv(t)
	env.runner.oneResult = models.ItemSyncResult{
		ItemID:          "bk-001",
		ASIN:            "B000000001",
		Action:          models.ActionPulled,
		FinalPositionMS: 7_200_000,
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items/bk-001/sync", nil)
	checkStatus(t, rec, http.StatusOK)

	var result models.ItemSyncResult
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode sync payload: %v", err)
	}
	if result.Action != models.ActionPulled || result.FinalPositionMS != 7_200_000 {
		t.Errorf("result = %+v", result)
	}
}

func TestSyncItem_NotSyncable(t *testing.T) {
	env := newTestEnv(t)
	env.runner.oneErr = fmt.Errorf("item bk-001: %w", syncer.ErrNotSyncable)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items/bk-001/sync", nil)
	checkStatus(t, rec, http.StatusConflict)
	checkErrorCode(t, resp, "NOT_SYNCABLE")
}

func TestSyncItem_RemoteUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.runner.oneResult = models.ItemSyncResult{
		ItemID:    "bk-001",
		Action:    models.ActionFailed,
		Error:     "fetch remote position: remote service unavailable",
		Retryable: true,
		Cause: &audible.RemoteError{Op: "fetch_position", Status: 503, Retryable: true,
			Err: fmt.Errorf("remote service unavailable")},
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items/bk-001/sync", nil)
	checkStatus(t, rec, http.StatusBadGateway)
	checkErrorCode(t, resp, "REMOTE_UNAVAILABLE")
}

func TestSyncItem_AuthError(t *testing.T) {
	env := newTestEnv(t)
	env.runner.oneResult = models.ItemSyncResult{
		ItemID: "bk-001",
		Action: models.ActionFailed,
		Error:  "fetch remote position: authorization rejected",
		Cause:  fmt.Errorf("fetch: %w", audible.ErrAuthFailed),
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/items/bk-001/sync", nil)
	checkStatus(t, rec, http.StatusUnauthorized)
	checkErrorCode(t, resp, "AUTH_ERROR")
}

func TestSyncAll(t *testing.T) {
	env := newTestEnv(t)
	env.runner.run = &models.SyncRun{
		RunID:         "run-1",
		Total:         724,
		Pulled:        300,
		Pushed:        250,
		AlreadySynced: 150,
		Failed:        24,
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	checkStatus(t, rec, http.StatusOK)

	var run models.SyncRun
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("decode run payload: %v", err)
	}
	if sum := run.Pulled + run.Pushed + run.AlreadySynced + run.Failed; sum != run.Total {
		t.Errorf("counts sum to %d, total %d", sum, run.Total)
	}
}

func TestSyncAll_BadCredential(t *testing.T) {
	env := newTestEnv(t)
	env.runner.runErr = fmt.Errorf("credential probe: %w", vault.ErrAuthFailed)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	checkStatus(t, rec, http.StatusUnauthorized)
	checkErrorCode(t, resp, "AUTH_ERROR")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.remote.available = true
	env.creds.stored = true
	env.runner.lastSync = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/status", nil)
	checkStatus(t, rec, http.StatusOK)

	var status models.StatusResponse
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if !status.RemoteClientAvailable || !status.CredentialStored || !status.AuthFileExists {
		t.Errorf("status = %+v, want all capabilities true", status)
	}
	if status.LastSyncTime == nil {
		t.Error("last sync time missing")
	}
}

// TestStatus_CopiedCredentialFile covers the case where the credential
// file exists but cannot be decrypted on this machine.
func TestStatus_CopiedCredentialFile(t *testing.T) {
	env := newTestEnv(t)
	env.creds.stored = true
	env.creds.retrieveErr = fmt.Errorf("%w: decryption failed", vault.ErrAuthFailed)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/status", nil)
	checkStatus(t, rec, http.StatusOK)

	var status models.StatusResponse
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if !status.AuthFileExists {
		t.Error("auth_file_exists = false, want true")
	}
	if status.CredentialStored {
		t.Error("credential_stored = true for an undecryptable file")
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.store.UpsertItem(ctx, &models.SyncableItem{ItemID: "bk-001", Title: "T"})
	for i := 1; i <= 5; i++ {
		_ = env.store.SetLocalPosition(ctx, "bk-001", int64(i*1000), time.Now())
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/items/bk-001/history?limit=3", nil)
	checkStatus(t, rec, http.StatusOK)

	var entries []models.HistoryEntry
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("decode history payload: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("history entries = %d, want 3", len(entries))
	}
}

// TestHistory_LimitClamped verifies the limit reaching the store is
// always within [1, MaxPageSize]: a negative limit must not read as
// "return everything".
func TestHistory_LimitClamped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.store.UpsertItem(ctx, &models.SyncableItem{ItemID: "bk-001", Title: "T"})
	_ = env.store.SetLocalPosition(ctx, "bk-001", 1000, time.Now())

	rec, _ := env.do(t, http.MethodGet, "/api/v1/items/bk-001/history?limit=-1", nil)
	checkStatus(t, rec, http.StatusOK)
	if env.store.lastHistoryLimit != 100 {
		t.Errorf("store limit for ?limit=-1 is %d, want default 100", env.store.lastHistoryLimit)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/items/bk-001/history?limit=0", nil)
	checkStatus(t, rec, http.StatusOK)
	if env.store.lastHistoryLimit != 100 {
		t.Errorf("store limit for ?limit=0 is %d, want default 100", env.store.lastHistoryLimit)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/items/bk-001/history?limit=999999", nil)
	checkStatus(t, rec, http.StatusOK)
	if env.store.lastHistoryLimit != 1000 {
		t.Errorf("store limit for ?limit=999999 is %d, want cap 1000", env.store.lastHistoryLimit)
	}
}

func TestHealthReady(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	checkStatus(t, rec, http.StatusOK)

	env.store.pingErr = fmt.Errorf("connection refused")
	rec, resp := env.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	checkStatus(t, rec, http.StatusServiceUnavailable)
	checkErrorCode(t, resp, "DATABASE_ERROR")
}

func TestListSyncableEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asin := "B000000001"
	_ = env.store.UpsertItem(ctx, &models.SyncableItem{ItemID: "bk-a", Title: "A", ASIN: &asin})
	_ = env.store.UpsertItem(ctx, &models.SyncableItem{ItemID: "bk-b", Title: "B"})

	rec, resp := env.do(t, http.MethodGet, "/api/v1/items/syncable", nil)
	checkStatus(t, rec, http.StatusOK)

	var items []models.SyncableItem
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode items payload: %v", err)
	}
	if len(items) != 1 || items[0].ItemID != "bk-a" {
		t.Errorf("syncable items = %+v, want only bk-a", items)
	}
}
