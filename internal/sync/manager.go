// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

// Run triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

const defaultRunTimeout = 2 * time.Minute

// EventFetcher returns all events currently visible upstream.
type EventFetcher interface {
	FetchAll(ctx context.Context, credential string) ([]models.Event, FetchStats, error)
}

// EventMerger persists novel events and reports how many were added.
type EventMerger interface {
	Merge(ctx context.Context, events []models.Event) (int, error)
}

// SnapshotRefresher recomputes aggregates after a merge.
type SnapshotRefresher interface {
	Refresh(ctx context.Context) (models.AggregateSnapshot, error)
}

// MergeNotifier announces merges that added events.
type MergeNotifier interface {
	PublishMerged(ctx context.Context, event models.HistoryMerged) error
}

// Manager schedules sync runs: credential, fetch, merge, aggregate refresh,
// notification.
//
// Thread safety:
//   - syncMu is the run guard; it is only ever acquired with TryLock
//   - mu protects lifecycle and status fields
type Manager struct {
	cfg        *config.SyncConfig
	tokens     auth.TokenProvider
	fetcher    EventFetcher
	store      EventMerger
	aggregator SnapshotRefresher
	notifier   MergeNotifier
	now        func() time.Time

	syncMu sync.Mutex

	mu              sync.RWMutex
	running         bool
	inProgress      bool
	stopChan        chan struct{}
	wg              sync.WaitGroup
	onSyncCompleted func(result models.SyncResult)

	lastRunAt       time.Time
	lastSync        time.Time
	lastResult      *models.SyncResult
	lastErr         error
	credentialReady bool
	totalRuns       int64
	skippedTicks    int64
}

// NewManager creates a scheduler. The aggregator, notifier and completion
// callback are optional and set through their setters before Start.
func NewManager(cfg *config.SyncConfig, tokens auth.TokenProvider, fetcher EventFetcher, store EventMerger) *Manager {
	logging.Info().
		Dur("interval", cfg.Interval).
		Dur("run_timeout", cfg.RunTimeout).
		Bool("run_on_startup", cfg.RunOnStartup).
		Msg("Sync manager config loaded")

	return &Manager{
		cfg:             cfg,
		tokens:          tokens,
		fetcher:         fetcher,
		store:           store,
		now:             time.Now,
		credentialReady: true,
	}
}

// SetAggregator sets the snapshot refreshed after each successful merge.
func (m *Manager) SetAggregator(a SnapshotRefresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregator = a
}

// SetNotifier sets the publisher for merge notifications.
func (m *Manager) SetNotifier(n MergeNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// SetOnSyncCompleted sets the callback to be invoked after each successful sync
func (m *Manager) SetOnSyncCompleted(callback func(result models.SyncResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSyncCompleted = callback
}

// Start runs one sync immediately (unless disabled) and then one per
// interval until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	logging.Info().Msg("Starting sync manager...")

	// Add before starting so Stop never waits on an empty group.
	m.wg.Add(1)
	go m.syncLoop(ctx, stop)
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

func (m *Manager) syncLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	if m.cfg.RunOnStartup {
		m.tick(ctx)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one scheduled sync. Errors end here: they are logged and
// counted, and the loop continues. A panic outside the run itself, such as
// in the completion callback, is logged and the loop continues too.
func (m *Manager) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SyncRuns.WithLabelValues(ClassPanic).Inc()
			logging.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in sync tick")
		}
	}()

	_, err := m.run(ctx, TriggerScheduled)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		logging.Info().Msg("Previous sync still running, skipping tick")
	case errors.Is(err, auth.ErrCredentialUnavailable):
		logging.Warn().Err(err).Msg("No upstream credential available, skipping sync tick")
	default:
		logging.Error().Err(err).Str("error_class", ClassifyError(err)).Msg("Sync failed")
	}
}

// TriggerSync runs a sync now. It returns ErrSyncInProgress instead of
// waiting when a run is already active.
func (m *Manager) TriggerSync(ctx context.Context) (models.SyncResult, error) {
	return m.run(ctx, TriggerManual)
}

func (m *Manager) run(ctx context.Context, trigger string) (models.SyncResult, error) {
	if !m.syncMu.TryLock() {
		m.mu.Lock()
		m.skippedTicks++
		m.mu.Unlock()
		metrics.RecordSyncSkipped("overlap")
		return models.SyncResult{}, ErrSyncInProgress
	}
	defer m.syncMu.Unlock()

	m.setInProgress(true)
	defer m.setInProgress(false)

	timeout := m.cfg.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx = logging.ContextWithNewCorrelationID(runCtx)

	start := m.now()
	result := models.SyncResult{Trigger: trigger, StartedAt: start.UTC()}
	err := m.executeRecovered(runCtx, &result)
	result.DurationMs = m.now().Sub(start).Milliseconds()

	m.finish(runCtx, result, err)
	return result, err
}

// executeRecovered turns a panic in the fetcher or store into an error so
// the run is recorded as failed and the sync guard is released.
func (m *Manager) executeRecovered(ctx context.Context, result *models.SyncResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in sync run")
			err = fmt.Errorf("%w: %v", ErrSyncPanicked, r)
		}
	}()
	return m.execute(ctx, result)
}

func (m *Manager) execute(ctx context.Context, result *models.SyncResult) error {
	credential, err := m.tokens.Credential(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}

	events, stats, err := m.fetcher.FetchAll(ctx, credential)
	result.Pages = stats.Pages
	result.Dropped = stats.Dropped
	metrics.SyncPagesPerRun.Observe(float64(stats.Pages))
	if err != nil {
		if errors.Is(err, ErrUpstreamUnauthorized) {
			m.tokens.Invalidate()
			logging.Ctx(ctx).Warn().Msg("Upstream rejected credential, invalidated for next run")
		}
		return err
	}
	result.Fetched = len(events)

	// A run that timed out during the fetch persists nothing.
	if err := ctx.Err(); err != nil {
		return err
	}

	added, err := m.store.Merge(ctx, events)
	if err != nil {
		return fmt.Errorf("merge events: %w", err)
	}
	result.Added = added

	m.mu.RLock()
	aggregator, notifier := m.aggregator, m.notifier
	m.mu.RUnlock()

	if aggregator != nil {
		if _, err := aggregator.Refresh(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Aggregate refresh failed after merge")
		}
	}
	if notifier != nil && added > 0 {
		event := models.HistoryMerged{
			ID:          uuid.NewString(),
			Added:       added,
			Fetched:     len(events),
			Source:      "sync",
			CompletedAt: m.now().UTC(),
		}
		if err := notifier.PublishMerged(ctx, event); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish merge notification")
		}
	}
	return nil
}

func (m *Manager) finish(ctx context.Context, result models.SyncResult, err error) {
	duration := time.Duration(result.DurationMs) * time.Millisecond
	noCredential := errors.Is(err, auth.ErrCredentialUnavailable)

	m.mu.Lock()
	m.totalRuns++
	m.lastRunAt = result.StartedAt
	m.lastErr = err
	m.credentialReady = !noCredential
	if noCredential {
		m.skippedTicks++
	}
	if err == nil {
		m.lastSync = m.now()
		r := result
		m.lastResult = &r
	}
	callback := m.onSyncCompleted
	m.mu.Unlock()

	switch {
	case noCredential:
		metrics.RecordSyncSkipped("no_credential")
		return
	case err != nil:
		metrics.RecordSyncOperation(duration, result.Fetched, result.Added, ClassifyError(err))
		return
	}

	metrics.RecordSyncOperation(duration, result.Fetched, result.Added, "")
	logging.Ctx(ctx).Info().
		Str("trigger", result.Trigger).
		Int("pages", result.Pages).
		Int("fetched", result.Fetched).
		Int("added", result.Added).
		Int64("duration_ms", result.DurationMs).
		Msg("Sync completed")

	if callback != nil {
		callback(result)
	}
}

func (m *Manager) setInProgress(v bool) {
	m.mu.Lock()
	m.inProgress = v
	m.mu.Unlock()
}

// LastSyncTime returns the timestamp of the last successful sync
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// IsRunning reports whether the scheduling loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// CredentialAvailable reports whether the last run obtained a credential.
func (m *Manager) CredentialAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentialReady
}

// Status returns a snapshot of scheduler state.
func (m *Manager) Status() models.SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := models.SyncStatus{
		Running:             m.running,
		InProgress:          m.inProgress,
		Interval:            m.cfg.Interval.String(),
		CredentialAvailable: m.credentialReady,
		TotalRuns:           m.totalRuns,
		SkippedTicks:        m.skippedTicks,
	}
	if !m.lastRunAt.IsZero() {
		t := m.lastRunAt
		status.LastRunAt = &t
	}
	if !m.lastSync.IsZero() {
		t := m.lastSync.UTC()
		status.LastSuccessAt = &t
	}
	if m.lastResult != nil {
		r := *m.lastResult
		status.LastResult = &r
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
		status.LastErrorClass = ClassifyError(m.lastErr)
	}
	return status
}
