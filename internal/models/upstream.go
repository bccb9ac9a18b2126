// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Streaming service "recently played" API models.
// GET /v1/me/player/recently-played?limit=50&before=<epoch-ms>

// RecentlyPlayedPage is one page of recent plays.
type RecentlyPlayedPage struct {
	Items   []PlayHistoryItem `json:"items"`
	Next    string            `json:"next,omitempty"`
	Cursors *PageCursors      `json:"cursors,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// PageCursors are the upstream's own cursors. The fetcher derives its
// cursor from item timestamps instead.
type PageCursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

// PlayHistoryItem accepts both item shapes seen upstream:
//
//	{"track": {...}, "played_at": "2024-05-01T10:00:00.000Z"}
//	{"id": "...", "name": "...", ...}   // bare track
type PlayHistoryItem struct {
	Track    *Track `json:"track,omitempty"`
	PlayedAt string `json:"played_at,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PlayHistoryItem) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Track    *Track `json:"track"`
		PlayedAt string `json:"played_at"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Track != nil {
		p.Track = wrapped.Track
		p.PlayedAt = wrapped.PlayedAt
		return nil
	}

	var bare Track
	if err := json.Unmarshal(data, &bare); err != nil {
		return err
	}
	if bare.ID != "" {
		p.Track = &bare
	}
	p.PlayedAt = wrapped.PlayedAt
	return nil
}

// Track is the played item.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      *Album   `json:"album,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Popularity *int     `json:"popularity,omitempty"`
}

// Artist is a track attribution.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album groups tracks.
type Album struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NormalizeItems converts upstream items to canonical events, preserving
// order. Items without a track id or with an unparseable played_at are
// dropped and counted. A missing played_at means "now".
func NormalizeItems(items []PlayHistoryItem, now time.Time) (events []Event, dropped int) {
	events = make([]Event, 0, len(items))
	for i := range items {
		ev, ok := normalizeItem(&items[i], now)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped
}

func normalizeItem(item *PlayHistoryItem, now time.Time) (Event, bool) {
	t := item.Track
	if t == nil || t.ID == "" {
		return Event{}, false
	}

	occurredAt := now
	if item.PlayedAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, item.PlayedAt)
		if err != nil {
			return Event{}, false
		}
		occurredAt = parsed
	}

	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if n := strings.TrimSpace(a.Name); n != "" {
			names = append(names, n)
		}
	}

	ev := Event{
		EntityID:         t.ID,
		EntityName:       t.Name,
		AttributionNames: names,
		DurationMs:       t.DurationMs,
		OccurredAt:       occurredAt,
	}
	if t.Album != nil {
		ev.GroupName = t.Album.Name
	}
	if t.Popularity != nil {
		p := *t.Popularity
		ev.Popularity = &p
	}
	ev.Canonicalize()
	return ev, true
}
