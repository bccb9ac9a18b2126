// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

const (
	// DefaultPageLimit is the largest page the upstream serves.
	DefaultPageLimit = 50

	// DefaultMaxPages stops a fetch that never sees a short page.
	DefaultMaxPages = 1000
)

// FetchStats describes one FetchAll call.
type FetchStats struct {
	Pages          int
	Items          int
	Dropped        int
	CeilingReached bool
}

// Fetcher collects recent plays across pages.
type Fetcher struct {
	source    PageSource
	pageLimit int
	maxPages  int
	now       func() time.Time
}

// NewFetcher creates a fetcher. Non-positive values select the defaults.
func NewFetcher(source PageSource, pageLimit, maxPages int) *Fetcher {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Fetcher{
		source:    source,
		pageLimit: pageLimit,
		maxPages:  maxPages,
		now:       time.Now,
	}
}

// FetchAll walks pages newest to oldest. Each request after the first passes
// the oldest occurredAt of the previous page as the "before" cursor. The walk
// continues while pages come back full and stops at the first short or empty
// page. Events are returned in page order without cross-page deduplication.
//
// Any error aborts the walk and nothing fetched so far is returned.
func (f *Fetcher) FetchAll(ctx context.Context, credential string) ([]models.Event, FetchStats, error) {
	var (
		stats  FetchStats
		events []models.Event
		before int64
	)

	for stats.Pages < f.maxPages {
		page, err := f.source.RecentlyPlayed(ctx, credential, f.pageLimit, before)
		if err != nil {
			return nil, stats, fmt.Errorf("fetch page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		var items []models.PlayHistoryItem
		if page != nil {
			items = page.Items
		}
		stats.Items += len(items)

		pageEvents, dropped := models.NormalizeItems(items, f.now())
		stats.Dropped += dropped
		events = append(events, pageEvents...)

		if len(items) < f.pageLimit {
			break
		}

		next, ok := oldestMillis(pageEvents)
		if !ok || (before > 0 && next >= before) {
			logging.Warn().
				Int("page", stats.Pages).
				Int64("before", before).
				Msg("Full page did not move the cursor back, stopping fetch")
			break
		}
		before = next

		if stats.Pages == f.maxPages {
			stats.CeilingReached = true
			metrics.FetchPageCeilingHits.Inc()
			logging.Warn().
				Int("max_pages", f.maxPages).
				Int("events", len(events)).
				Msg("Page ceiling reached, returning events fetched so far")
		}
	}

	if dropped := stats.Dropped; dropped > 0 {
		logging.Debug().Int("dropped", dropped).Msg("Dropped upstream items without a track id or valid timestamp")
	}
	return events, stats, nil
}

func oldestMillis(events []models.Event) (int64, bool) {
	if len(events) == 0 {
		return 0, false
	}
	oldest := events[0].OccurredAt.UnixMilli()
	for i := 1; i < len(events); i++ {
		if ms := events[i].OccurredAt.UnixMilli(); ms < oldest {
			oldest = ms
		}
	}
	return oldest, true
}
