// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// fakes_test.go - in-memory store, remote client, and credential fakes
// shared by the reconciler and manager tests.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/audiomark/audiomark/internal/audible"
	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	items     map[string]models.SyncableItem
	positions map[string]models.PositionRecord
	history   []models.HistoryEntry

	getPositionErr error
	listErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:     make(map[string]models.SyncableItem),
		positions: make(map[string]models.PositionRecord),
	}
}

func (s *fakeStore) addItem(itemID, asin string, localMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := models.SyncableItem{ItemID: itemID, Title: "Title " + itemID}
	if asin != "" {
		item.ASIN = &asin
	}
	s.items[itemID] = item
	s.positions[itemID] = models.PositionRecord{ItemID: itemID, LocalPositionMS: localMS}
}

func (s *fakeStore) localPosition(itemID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[itemID].LocalPositionMS
}

func (s *fakeStore) GetItem(_ context.Context, itemID string) (*models.SyncableItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &item, nil
}

func (s *fakeStore) ListSyncable(_ context.Context) ([]models.SyncableItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []models.SyncableItem
	for _, item := range s.items {
		if item.Syncable() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPosition(_ context.Context, itemID string) (*models.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getPositionErr != nil {
		return nil, s.getPositionErr
	}
	rec, ok := s.positions[itemID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) SetRemoteObserved(_ context.Context, itemID string, positionMS int64, source models.PositionSource, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.positions[itemID]
	rec.ItemID = itemID
	rec.LocalPositionMS = positionMS
	rec.LocalUpdatedAt = now
	rec.RemotePositionMS = &positionMS
	rec.RemoteUpdatedAt = &now
	s.positions[itemID] = rec

	s.history = append(s.history, models.HistoryEntry{
		ItemID:     itemID,
		PositionMS: positionMS,
		Source:     source,
		RecordedAt: now,
	})
	return nil
}

func (s *fakeStore) MarkSynced(_ context.Context, itemID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.positions[itemID]
	rec.ItemID = itemID
	rec.SyncedAt = &now
	s.positions[itemID] = rec
	return nil
}

type fakeRemote struct {
	mu        sync.Mutex
	positions map[string]int64 // asin -> position; missing = remote absent

	fetchErr     error
	authorizeErr error
	pushErr      error
	failASINs    map[string]error // per-ASIN fetch failures

	fetchCalls     int
	authorizeCalls int
	pushCalls      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{positions: make(map[string]int64)}
}

func (r *fakeRemote) FetchPosition(_ context.Context, asin string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetchCalls++
	if r.fetchErr != nil {
		return 0, r.fetchErr
	}
	if err, ok := r.failASINs[asin]; ok {
		return 0, err
	}
	ms, ok := r.positions[asin]
	if !ok {
		return 0, fmt.Errorf("fetch_position: %w", audible.ErrRemoteNotFound)
	}
	return ms, nil
}

func (r *fakeRemote) ObtainWriteAuthorization(_ context.Context, asin string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authorizeCalls++
	if r.authorizeErr != nil {
		return "", r.authorizeErr
	}
	return "token-" + asin, nil
}

func (r *fakeRemote) PushPosition(_ context.Context, asin string, positionMS int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushCalls++
	if r.pushErr != nil {
		return r.pushErr
	}
	if token == "" {
		return fmt.Errorf("push without authorization token")
	}
	r.positions[asin] = positionMS
	return nil
}

func (r *fakeRemote) Available() bool {
	return true
}

func (r *fakeRemote) remotePosition(asin string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.positions[asin]
	return ms, ok
}

type fakeCredentials struct {
	err error
}

func (c *fakeCredentials) RetrieveSecret() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "secret", nil
}
