// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import (
	"testing"
	"time"
)

func TestEventCanonicalize(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*3600)
	ev := Event{EntityID: "x", OccurredAt: time.Date(2024, 3, 1, 21, 30, 0, 123456789, loc)}
	ev.Canonicalize()

	if ev.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt location = %v, want UTC", ev.OccurredAt.Location())
	}
	if ev.OccurredAt.Nanosecond() != 123000000 {
		t.Errorf("OccurredAt nanos = %d, want truncation to ms", ev.OccurredAt.Nanosecond())
	}
	// 21:30 at UTC-5 is 02:30 the next day in UTC
	if ev.Date != "2024-03-02" {
		t.Errorf("Date = %q, want 2024-03-02", ev.Date)
	}
}

func TestEventCanonicalizeDropsEmptyAttributions(t *testing.T) {
	t.Parallel()

	owned := []string{"", "Alpha", "", "Beta"}
	ev := Event{EntityID: "x", OccurredAt: time.Now(), AttributionNames: owned}
	ev.Canonicalize()

	if len(ev.AttributionNames) != 2 || ev.AttributionNames[0] != "Alpha" || ev.AttributionNames[1] != "Beta" {
		t.Errorf("AttributionNames = %q, want [Alpha Beta]", ev.AttributionNames)
	}
	if owned[0] != "" || owned[1] != "Alpha" {
		t.Errorf("caller slice modified: %q", owned)
	}

	only := Event{EntityID: "x", OccurredAt: time.Now(), AttributionNames: []string{""}}
	only.Canonicalize()
	if only.AttributionNames == nil || len(only.AttributionNames) != 0 {
		t.Errorf("AttributionNames = %#v, want empty non-nil", only.AttributionNames)
	}
}

func TestEventKeyIgnoresSubMillisecond(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Event{EntityID: "x", OccurredAt: base.Add(100 * time.Microsecond)}
	b := Event{EntityID: "x", OccurredAt: base.Add(900 * time.Microsecond)}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %+v vs %+v", a.Key(), b.Key())
	}
	c := Event{EntityID: "x", OccurredAt: base.Add(time.Millisecond)}
	if a.Key() == c.Key() {
		t.Error("distinct milliseconds must produce distinct keys")
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"valid", Event{EntityID: "x", OccurredAt: now}, false},
		{"missing id", Event{OccurredAt: now}, true},
		{"missing time", Event{EntityID: "x"}, true},
		{"negative duration", Event{EntityID: "x", OccurredAt: now, DurationMs: -1}, true},
	}
	for _, tt := range tests {
		if err := tt.ev.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestSortNewestFirst(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{EntityID: "b", OccurredAt: t0},
		{EntityID: "a", OccurredAt: t0.Add(time.Minute)},
		{EntityID: "a", OccurredAt: t0},
	}
	SortNewestFirst(events)

	got := []string{
		events[0].EntityID + events[0].OccurredAt.Format("04"),
		events[1].EntityID + events[1].OccurredAt.Format("04"),
		events[2].EntityID + events[2].OccurredAt.Format("04"),
	}
	want := []string{"a01", "a00", "b00"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
