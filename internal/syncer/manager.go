// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/metrics"
	"github.com/audiomark/audiomark/internal/models"
)

// CredentialSource is the vault surface the manager probes before a
// batch run. *vault.Vault satisfies this.
type CredentialSource interface {
	RetrieveSecret() (string, error)
}

// ProgressFunc reports batch progress to an observer.
// Called after each item: (1, 724), (2, 724), ...
// Best-effort: callbacks run inline, keep them fast.
type ProgressFunc func(processed, total int)

// Manager orchestrates reconciliation between the local store and the
// remote service: periodic full syncs, on-demand batch runs, and
// single-item syncs.
type Manager struct {
	reconciler  *Reconciler
	store       PositionStore
	credentials CredentialSource
	cfg         config.SyncConfig

	lastSync time.Time
	running  bool
	mu       sync.RWMutex
	syncMu   sync.Mutex    // Protects concurrent batch execution
	stopChan chan struct{} // Recreated on every Start; closed by Stop
	wg       sync.WaitGroup

	onSyncCompleted func(run *models.SyncRun)
	progress        ProgressFunc
}

// NewManager creates a sync manager.
func NewManager(reconciler *Reconciler, store PositionStore, credentials CredentialSource, cfg config.SyncConfig) *Manager {
	logging.Info().
		Dur("interval", cfg.Interval).
		Bool("on_startup", cfg.OnStartup).
		Dur("item_timeout", cfg.ItemTimeout).
		Msg("Sync manager config loaded")

	return &Manager{
		reconciler:  reconciler,
		store:       store,
		credentials: credentials,
		cfg:         cfg,
	}
}

// SetOnSyncCompleted sets the callback invoked after each completed batch run.
func (m *Manager) SetOnSyncCompleted(callback func(run *models.SyncRun)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSyncCompleted = callback
}

// SetProgressFunc sets the per-item progress observer.
func (m *Manager) SetProgressFunc(fn ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = fn
}

// Start begins the periodic synchronization loop. A zero interval
// disables the ticker; on-demand syncs still work. Start may be called
// again after Stop, as happens when the supervisor restarts the service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stopChan := m.stopChan
	m.mu.Unlock()

	logging.Info().Msg("Starting sync manager...")

	if m.cfg.OnStartup {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.TriggerSyncAll(ctx); err != nil {
				logging.Warn().Err(err).Msg("Startup sync failed (will retry on next interval)")
			}
		}()
	}

	if m.cfg.Interval > 0 {
		m.wg.Add(1)
		go m.syncLoop(ctx, stopChan)
	} else {
		logging.Info().Msg("Periodic sync disabled (SYNC_INTERVAL=0) - on-demand only")
	}

	return nil
}

// syncLoop runs SyncAll on every tick until stopped.
func (m *Manager) syncLoop(ctx context.Context, stopChan <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.TriggerSyncAll(ctx); err != nil {
				logging.Warn().Err(err).Msg("Periodic sync failed")
			}
		case <-stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop gracefully stops the periodic loop and waits for an in-flight
// batch to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	stopChan := m.stopChan
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	close(stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")

	return nil
}

// LastSyncTime returns the finish time of the last completed batch run.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// TriggerSyncAll runs one batch over the whole syncable catalog.
// Concurrent calls are serialized; the second caller waits, then runs
// its own batch (by then usually all already_synced).
func (m *Manager) TriggerSyncAll(ctx context.Context) (*models.SyncRun, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	return m.syncAll(ctx)
}

// SyncOne reconciles a single item on demand.
// Returns ErrNotSyncable when the item has no ASIN and database.ErrNotFound
// passthrough when the item does not exist.
func (m *Manager) SyncOne(ctx context.Context, itemID string) (models.ItemSyncResult, error) {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return models.ItemSyncResult{}, err
	}
	if !item.Syncable() {
		return models.ItemSyncResult{}, fmt.Errorf("item %s: %w", itemID, ErrNotSyncable)
	}

	itemCtx, cancel := m.itemContext(ctx)
	defer cancel()

	result := m.reconciler.SyncItem(itemCtx, item)
	return result, nil
}

// syncAll is the batch body; callers hold syncMu.
func (m *Manager) syncAll(ctx context.Context) (*models.SyncRun, error) {
	start := time.Now().UTC()

	// Probe the credential before burning any rate-limit budget: a
	// missing or corrupt credential fails every item identically, so it
	// is reported once and the batch never starts.
	if _, err := m.credentials.RetrieveSecret(); err != nil {
		metrics.RecordSyncRun(time.Since(start), err)
		return nil, fmt.Errorf("credential probe: %w", err)
	}

	items, err := m.store.ListSyncable(ctx)
	if err != nil {
		metrics.RecordSyncRun(time.Since(start), err)
		return nil, fmt.Errorf("list syncable items: %w", err)
	}

	run := &models.SyncRun{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	logging.Info().
		Str("run_id", run.RunID).
		Int("items", len(items)).
		Msg("Batch sync starting")

	m.mu.RLock()
	progress := m.progress
	m.mu.RUnlock()

	for i := range items {
		// A canceled batch reports the items it finished; the rest are
		// simply absent from the run, not failed.
		if err := ctx.Err(); err != nil {
			logging.Warn().
				Str("run_id", run.RunID).
				Int("processed", run.Total).
				Int("remaining", len(items)-run.Total).
				Msg("Batch sync canceled")
			break
		}

		itemCtx, cancel := m.itemContext(ctx)
		result := m.reconciler.SyncItem(itemCtx, &items[i])
		cancel()

		run.Record(result)

		if progress != nil {
			progress(run.Total, len(items))
		}
	}

	run.FinishedAt = time.Now().UTC()

	m.mu.Lock()
	m.lastSync = run.FinishedAt
	onCompleted := m.onSyncCompleted
	m.mu.Unlock()

	metrics.RecordSyncRun(run.FinishedAt.Sub(run.StartedAt), nil)

	logging.Info().
		Str("run_id", run.RunID).
		Int("total", run.Total).
		Int("pulled", run.Pulled).
		Int("pushed", run.Pushed).
		Int("already_synced", run.AlreadySynced).
		Int("failed", run.Failed).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Batch sync finished")

	if onCompleted != nil {
		onCompleted(run)
	}

	return run, nil
}

// itemContext bounds one item's reconciliation.
func (m *Manager) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.ItemTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.ItemTimeout)
}
