// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package models defines the data structures shared across replaylog.

Core types:
  - Event: one play of one item at one instant, identified by
    (EntityID, OccurredAt truncated to milliseconds)
  - AggregateSnapshot: totals and per-entity, per-attribution and per-date
    counts derived from a window of the history
  - SyncResult / SyncStatus: outcome of a scheduler run and the state
    exposed by GET /api/v1/sync/status
  - HistoryMerged: notification published after a merge added events

Upstream wire shapes:
  - RecentlyPlayedPage: one page of the recently-played endpoint
  - PlayHistoryItem, Track, Artist, Album: nested item payloads

NormalizeItems converts upstream items into canonical Events. Items without
an entity ID or with an unparseable played_at are dropped and counted.

HTTP envelope:
  - APIResponse: {status, data, metadata, error}
  - APIError: machine-readable code plus message

# Canonical form

Canonicalize truncates OccurredAt to milliseconds in UTC and derives Date
from it, so two events that differ only below the millisecond collapse to
the same key:

	e := models.Event{EntityID: "t1", OccurredAt: playedAt}
	e.Canonicalize()
	key := e.Key() // {EntityID: "t1", OccurredAtMs: playedAt.UnixMilli()}

All stores return events newest first; SortNewestFirst applies the same
ordering (OccurredAt descending, then EntityID ascending) in memory.
*/
package models
