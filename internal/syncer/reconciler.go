// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/audiomark/audiomark/internal/audible"
	"github.com/audiomark/audiomark/internal/database"
	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// ErrNotSyncable indicates the item has no ASIN and cannot be reconciled.
var ErrNotSyncable = errors.New("item has no remote counterpart")

// RemoteClient is the remote-service surface the reconciler needs.
// *audible.BreakerClient satisfies this.
type RemoteClient interface {
	FetchPosition(ctx context.Context, asin string) (int64, error)
	ObtainWriteAuthorization(ctx context.Context, asin string) (string, error)
	PushPosition(ctx context.Context, asin string, positionMS int64, token string) error
	Available() bool
}

// PositionStore is the store surface the reconciler needs.
// *database.Store satisfies this.
type PositionStore interface {
	GetItem(ctx context.Context, itemID string) (*models.SyncableItem, error)
	ListSyncable(ctx context.Context) ([]models.SyncableItem, error)
	GetPosition(ctx context.Context, itemID string) (*models.PositionRecord, error)
	SetRemoteObserved(ctx context.Context, itemID string, positionMS int64, source models.PositionSource, now time.Time) error
	MarkSynced(ctx context.Context, itemID string, now time.Time) error
}

// Reconciler reconciles one item at a time between the local store and
// the remote service. It is stateless; all durable state lives in the
// store.
type Reconciler struct {
	store  PositionStore
	client RemoteClient
}

// NewReconciler creates a reconciler over a store and a remote client.
func NewReconciler(store PositionStore, client RemoteClient) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
	}
}

// SyncItem reconciles a single item. The outcome is always reported as
// an ItemSyncResult; I/O failures become Action=failed with the error
// recorded, never a panic or partial write.
//
// The local position is never modified on a failed run: the remote read
// happens before any local write, and a push writes locally only after
// the remote service confirmed the upload.
func (r *Reconciler) SyncItem(ctx context.Context, item *models.SyncableItem) models.ItemSyncResult {
	result := models.ItemSyncResult{ItemID: item.ItemID}
	if !item.Syncable() {
		result.Action = models.ActionFailed
		result.Error = ErrNotSyncable.Error()
		result.Cause = ErrNotSyncable
		return result
	}
	asin := *item.ASIN
	result.ASIN = asin

	// Missing position row means the item has never been played locally.
	var localMS int64
	if rec, err := r.store.GetPosition(ctx, item.ItemID); err == nil {
		localMS = rec.LocalPositionMS
	} else if !errors.Is(err, database.ErrNotFound) {
		return r.fail(result, fmt.Errorf("read local position: %w", err), false)
	}

	remoteMS, err := r.client.FetchPosition(ctx, asin)
	remoteAbsent := false
	switch {
	case errors.Is(err, audible.ErrRemoteNotFound):
		remoteAbsent = true
	case err != nil:
		return r.fail(result, fmt.Errorf("fetch remote position: %w", err), audible.IsRetryable(err))
	}

	now := time.Now().UTC()
	action := Resolve(localMS, remoteMS, remoteAbsent)

	switch action {
	case models.ActionPulled:
		if err := r.store.SetRemoteObserved(ctx, item.ItemID, remoteMS, models.SourceRemote, now); err != nil {
			return r.fail(result, fmt.Errorf("apply pulled position: %w", err), false)
		}
		result.FinalPositionMS = remoteMS

	case models.ActionPushed:
		token, err := r.client.ObtainWriteAuthorization(ctx, asin)
		if err != nil {
			return r.fail(result, fmt.Errorf("obtain write authorization: %w", err), audible.IsRetryable(err))
		}
		if err := r.client.PushPosition(ctx, asin, localMS, token); err != nil {
			return r.fail(result, fmt.Errorf("push position: %w", err), audible.IsRetryable(err))
		}
		if err := r.store.SetRemoteObserved(ctx, item.ItemID, localMS, models.SourceSync, now); err != nil {
			return r.fail(result, fmt.Errorf("record pushed position: %w", err), false)
		}
		result.FinalPositionMS = localMS

	case models.ActionAlreadySynced:
		// Both sides agree; no remote write is spent.
		result.FinalPositionMS = localMS
	}

	if err := r.store.MarkSynced(ctx, item.ItemID, now); err != nil {
		return r.fail(result, fmt.Errorf("mark synced: %w", err), false)
	}

	result.Action = action
	metrics.RecordItemAction(string(action))

	logging.Debug().
		Str("item_id", item.ItemID).
		Str("asin", asin).
		Str("action", string(action)).
		Int64("final_position_ms", result.FinalPositionMS).
		Msg("Item reconciled")

	return result
}

func (r *Reconciler) fail(result models.ItemSyncResult, err error, retryable bool) models.ItemSyncResult {
	result.Action = models.ActionFailed
	result.Error = err.Error()
	result.Retryable = retryable
	result.Cause = err
	metrics.RecordItemAction(string(models.ActionFailed))

	logging.Warn().
		Str("item_id", result.ItemID).
		Bool("retryable", retryable).
		Err(err).
		Msg("Item reconciliation failed")

	return result
}
