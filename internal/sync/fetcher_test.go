// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/replaylog/internal/models"
)

func TestFetcher_Pagination(t *testing.T) {
	tests := []struct {
		name      string
		sizes     []int
		wantCalls int
		wantItems int
	}{
		{"two full pages then short", []int{50, 50, 37}, 3, 137},
		{"full page then empty", []int{50, 0}, 2, 50},
		{"single short page", []int{12}, 1, 12},
		{"empty history", []int{0}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newPagedUpstream(t, tt.sizes...)
			f := NewFetcher(newTestClient(t, upstream.server.URL), 50, 1000)

			events, stats, err := f.FetchAll(context.Background(), "token")
			if err != nil {
				t.Fatalf("FetchAll: %v", err)
			}
			checkIntEqual(t, "upstream calls", upstream.callCount(), tt.wantCalls)
			checkIntEqual(t, "events", len(events), tt.wantItems)
			checkIntEqual(t, "stats.Pages", stats.Pages, tt.wantCalls)
			if stats.CeilingReached {
				t.Error("CeilingReached set for a walk that ended on a short page")
			}
		})
	}
}

func TestFetcher_CursorIsOldestOfPreviousPage(t *testing.T) {
	upstream := newPagedUpstream(t, 50, 50, 37)
	f := NewFetcher(newTestClient(t, upstream.server.URL), 50, 1000)

	events, _, err := f.FetchAll(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	want := []int64{0, fixturePlayedAt(49).UnixMilli(), fixturePlayedAt(99).UnixMilli()}
	got := upstream.beforeParams()
	if len(got) != len(want) {
		t.Fatalf("before params = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d before = %d, want %d", i, got[i], want[i])
		}
	}

	// Newest first, page after page.
	for i := 1; i < len(events); i++ {
		if events[i].OccurredAt.After(events[i-1].OccurredAt) {
			t.Fatalf("event %d is newer than event %d", i, i-1)
		}
	}
}

func TestFetcher_PageCeiling(t *testing.T) {
	upstream := newPagedUpstream(t, 50, 50, 50, 50, 50)
	f := NewFetcher(newTestClient(t, upstream.server.URL), 50, 3)

	events, stats, err := f.FetchAll(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	checkIntEqual(t, "upstream calls", upstream.callCount(), 3)
	checkIntEqual(t, "events", len(events), 150)
	if !stats.CeilingReached {
		t.Error("CeilingReached = false, want true")
	}
}

func TestFetcher_UnauthorizedAbortsWithoutEvents(t *testing.T) {
	upstream := newPagedUpstream(t, 50, 50)
	upstream.token = "good"
	f := NewFetcher(newTestClient(t, upstream.server.URL), 50, 1000)

	events, _, err := f.FetchAll(context.Background(), "expired")
	if !errors.Is(err, ErrUpstreamUnauthorized) {
		t.Fatalf("err = %v, want ErrUpstreamUnauthorized", err)
	}
	if events != nil {
		t.Errorf("events = %d, want nil on error", len(events))
	}
}

// fakePages is an in-memory PageSource.
type fakePages struct {
	pages   [][]models.PlayHistoryItem
	failAt  int
	err     error
	befores []int64
}

func (f *fakePages) RecentlyPlayed(_ context.Context, _ string, _ int, before int64) (*models.RecentlyPlayedPage, error) {
	n := len(f.befores)
	f.befores = append(f.befores, before)
	if f.err != nil && n == f.failAt {
		return nil, f.err
	}
	if n >= len(f.pages) {
		return &models.RecentlyPlayedPage{}, nil
	}
	return &models.RecentlyPlayedPage{Items: f.pages[n]}, nil
}

func fullPage(n int, playedAt func(i int) string) []models.PlayHistoryItem {
	items := make([]models.PlayHistoryItem, n)
	for i := range items {
		items[i] = models.PlayHistoryItem{
			Track:    &models.Track{ID: "t", Name: "T", DurationMs: 1000},
			PlayedAt: playedAt(i),
		}
	}
	return items
}

func TestFetcher_PartialFetchDiscarded(t *testing.T) {
	src := &fakePages{
		pages: [][]models.PlayHistoryItem{
			fullPage(2, func(i int) string { return fixturePlayedAt(i).Format(time.RFC3339) }),
			fullPage(2, func(i int) string { return fixturePlayedAt(10 + i).Format(time.RFC3339) }),
		},
		failAt: 1,
		err:    &UpstreamTransientError{StatusCode: 503, Err: errors.New("unavailable")},
	}
	f := NewFetcher(src, 2, 10)

	events, stats, err := f.FetchAll(context.Background(), "token")
	var transient *UpstreamTransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want *UpstreamTransientError", err)
	}
	if events != nil {
		t.Errorf("got %d events from a failed fetch", len(events))
	}
	checkIntEqual(t, "stats.Pages", stats.Pages, 1)
}

func TestFetcher_StopsWhenCursorDoesNotMove(t *testing.T) {
	same := func(int) string { return fixtureBase.Format(time.RFC3339) }
	src := &fakePages{pages: [][]models.PlayHistoryItem{fullPage(3, same), fullPage(3, same), fullPage(3, same)}}
	f := NewFetcher(src, 3, 10)

	events, stats, err := f.FetchAll(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	checkIntEqual(t, "pages", stats.Pages, 2)
	checkIntEqual(t, "events", len(events), 6)
}

func TestFetcher_NormalizesItemShapes(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 30, 15, 123456789, time.UTC)
	src := &fakePages{pages: [][]models.PlayHistoryItem{{
		{Track: &models.Track{ID: "wrapped", DurationMs: 1000}, PlayedAt: "2024-05-31T22:00:00.500Z"},
		{Track: &models.Track{ID: "bare", DurationMs: 2000}},
		{Track: &models.Track{ID: ""}},
		{Track: &models.Track{ID: "bad-ts"}, PlayedAt: "yesterday"},
	}}}
	f := NewFetcher(src, 50, 10)
	f.now = func() time.Time { return now }

	events, stats, err := f.FetchAll(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	checkIntEqual(t, "events", len(events), 2)
	checkIntEqual(t, "dropped", stats.Dropped, 2)
	checkIntEqual(t, "items", stats.Items, 4)

	if events[1].EntityID != "bare" {
		t.Fatalf("events[1] = %q, want bare", events[1].EntityID)
	}
	if !events[1].OccurredAt.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("bare track occurredAt = %v, want now %v", events[1].OccurredAt, now)
	}
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(&fakePages{}, 0, -1)
	checkIntEqual(t, "pageLimit", f.pageLimit, DefaultPageLimit)
	checkIntEqual(t, "maxPages", f.maxPages, DefaultMaxPages)
}
