// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package aggregate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

// EventSource is the part of the event store the aggregator reads.
type EventSource interface {
	All(ctx context.Context) ([]models.Event, error)
	Recent(ctx context.Context, n int) ([]models.Event, error)
}

// Service caches the latest snapshot. Published snapshots are never
// mutated; callers must treat the maps they receive as read-only.
type Service struct {
	source     EventSource
	windowSize int
	now        func() time.Time

	current atomic.Pointer[models.AggregateSnapshot]

	// refreshMu keeps an older computation from overwriting a newer one.
	refreshMu sync.Mutex
}

// NewService creates a Service reading from source.
func NewService(source EventSource, windowSize int) *Service {
	return &Service{source: source, windowSize: windowSize, now: time.Now}
}

// WindowSize returns the configured window (0 = full history).
func (s *Service) WindowSize() int {
	return s.windowSize
}

// Refresh recomputes the snapshot from the store and publishes it.
func (s *Service) Refresh(ctx context.Context) (models.AggregateSnapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	var (
		events []models.Event
		err    error
	)
	if s.windowSize > 0 {
		events, err = s.source.Recent(ctx, s.windowSize)
	} else {
		events, err = s.source.All(ctx)
	}
	if err != nil {
		return models.AggregateSnapshot{}, fmt.Errorf("failed to load events for aggregation: %w", err)
	}

	snap := Compute(events, s.windowSize)
	snap.ComputedAt = s.now().UTC()
	s.current.Store(&snap)

	metrics.AggregateRefreshDuration.Observe(time.Since(start).Seconds())
	metrics.AggregateEvents.Set(float64(snap.EventCount))
	logging.Ctx(ctx).Debug().
		Int("events", snap.EventCount).
		Int64("total_duration_ms", snap.TotalDurationMs).
		Dur("took", time.Since(start)).
		Msg("Aggregate snapshot refreshed")
	return snap, nil
}

// Snapshot returns the published snapshot, computing one on first use.
func (s *Service) Snapshot(ctx context.Context) (models.AggregateSnapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return *snap, nil
	}
	return s.Refresh(ctx)
}

// Cached returns the published snapshot without touching the store.
func (s *Service) Cached() (models.AggregateSnapshot, bool) {
	snap := s.current.Load()
	if snap == nil {
		return models.AggregateSnapshot{}, false
	}
	return *snap, true
}

// Reset publishes an empty snapshot. Used after the history is cleared.
func (s *Service) Reset() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	snap := models.EmptySnapshot(s.windowSize)
	snap.ComputedAt = s.now().UTC()
	s.current.Store(&snap)
}
