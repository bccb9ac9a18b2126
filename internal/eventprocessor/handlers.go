// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
	ws "github.com/tomtom215/replaylog/internal/websocket"
)

// CacheClearer drops cached API responses.
type CacheClearer interface {
	Clear()
}

// SnapshotSource returns the current aggregate snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (models.AggregateSnapshot, error)
}

// Broadcaster pushes a typed message to every WebSocket client.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// CacheInvalidationHandler clears c whenever history changes.
func CacheInvalidationHandler(c CacheClearer) MergeHandler {
	return func(ctx context.Context, event models.HistoryMerged) error {
		c.Clear()
		logging.Ctx(ctx).Debug().Str("event_id", event.ID).Msg("Response cache cleared after merge")
		return nil
	}
}

// BroadcastHandler forwards merge notifications to WebSocket clients.
func BroadcastHandler(b Broadcaster) MergeHandler {
	return func(_ context.Context, event models.HistoryMerged) error {
		b.BroadcastJSON(ws.MessageTypeSyncCompleted, event)
		return nil
	}
}

// StatsBroadcastHandler pushes the refreshed snapshot to WebSocket clients.
// Both merge paths refresh the aggregator before publishing, so Snapshot
// already reflects the merge.
func StatsBroadcastHandler(snapshots SnapshotSource, b Broadcaster) MergeHandler {
	return func(ctx context.Context, event models.HistoryMerged) error {
		snap, err := snapshots.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot for %s: %w", event.ID, err)
		}
		b.BroadcastJSON(ws.MessageTypeStatsUpdate, snap)
		return nil
	}
}
