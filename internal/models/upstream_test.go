// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

const mixedPage = `{
  "items": [
    {
      "track": {
        "id": "t1",
        "name": "Song One",
        "artists": [{"id": "a1", "name": "Alpha"}, {"id": "a2", "name": "Beta"}],
        "album": {"id": "al1", "name": "First Album"},
        "duration_ms": 180000,
        "popularity": 61
      },
      "played_at": "2024-05-01T10:00:00.123Z"
    },
    {
      "id": "t2",
      "name": "Bare Track",
      "artists": [{"id": "a3", "name": "Gamma"}],
      "duration_ms": 120000
    },
    {"played_at": "2024-05-01T09:00:00Z"},
    {"track": {"id": "t3", "name": "Bad Time"}, "played_at": "yesterday"}
  ],
  "cursors": {"after": "1714557600123", "before": "1714550400000"},
  "limit": 50
}`

func TestRecentlyPlayedPageDecode(t *testing.T) {
	t.Parallel()

	var page RecentlyPlayedPage
	if err := json.Unmarshal([]byte(mixedPage), &page); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(page.Items) != 4 {
		t.Fatalf("items = %d, want 4", len(page.Items))
	}
	if page.Items[0].Track == nil || page.Items[0].Track.ID != "t1" {
		t.Errorf("wrapped item not decoded: %+v", page.Items[0])
	}
	if page.Items[1].Track == nil || page.Items[1].Track.ID != "t2" {
		t.Errorf("bare item not decoded: %+v", page.Items[1])
	}
	if page.Items[2].Track != nil {
		t.Errorf("item without track should have nil Track, got %+v", page.Items[2].Track)
	}
}

func TestNormalizeItems(t *testing.T) {
	t.Parallel()

	var page RecentlyPlayedPage
	if err := json.Unmarshal([]byte(mixedPage), &page); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 5, 2, 8, 0, 0, 999999, time.UTC)

	events, dropped := NormalizeItems(page.Items, now)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	first := events[0]
	if first.EntityID != "t1" || first.GroupName != "First Album" || first.DurationMs != 180000 {
		t.Errorf("first event = %+v", first)
	}
	if len(first.AttributionNames) != 2 || first.AttributionNames[1] != "Beta" {
		t.Errorf("AttributionNames = %v", first.AttributionNames)
	}
	if first.Popularity == nil || *first.Popularity != 61 {
		t.Errorf("Popularity = %v, want 61", first.Popularity)
	}
	if first.OccurredAt.UnixMilli() != 1714557600123 || first.Date != "2024-05-01" {
		t.Errorf("OccurredAt = %v, Date = %s", first.OccurredAt, first.Date)
	}

	bare := events[1]
	if !bare.OccurredAt.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("missing played_at should default to now, got %v", bare.OccurredAt)
	}
	if bare.GroupName != "" || bare.Popularity != nil {
		t.Errorf("bare event has unexpected optional fields: %+v", bare)
	}
}
