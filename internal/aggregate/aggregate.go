// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package aggregate derives listening statistics from the event history.
//
// Compute is a pure function of its input. Service keeps the latest
// snapshot and swaps it atomically, so readers always see a complete one.
//
// Window policy: a window size of N > 0 restricts every statistic,
// including the total duration, to the N most recent events by occurred-at.
// Zero means the whole history.
package aggregate

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/tomtom215/replaylog/internal/models"
)

const msPerMinute = 60000

// Compute builds a snapshot from events. The input is not modified and its
// order does not matter.
func Compute(events []models.Event, windowSize int) models.AggregateSnapshot {
	snap := models.EmptySnapshot(windowSize)

	working := events
	if windowSize > 0 && len(events) > windowSize {
		working = slices.Clone(events)
		models.SortNewestFirst(working)
		working = working[:windowSize]
	}

	msByDate := make(map[string]int64)
	latestName := make(map[string]time.Time)
	for i := range working {
		ev := &working[i]

		snap.PlayCountByEntity[ev.EntityID]++
		if seen, ok := latestName[ev.EntityID]; !ok || ev.OccurredAt.After(seen) {
			latestName[ev.EntityID] = ev.OccurredAt
			snap.EntityNames[ev.EntityID] = ev.EntityName
		}

		for j, name := range ev.AttributionNames {
			if slices.Contains(ev.AttributionNames[:j], name) {
				continue
			}
			snap.PlayCountByAttribution[name]++
		}

		date := ev.Date
		if date == "" {
			date = models.DateOf(ev.OccurredAt)
		}
		msByDate[date] += ev.DurationMs
		snap.TotalDurationMs += ev.DurationMs
	}

	for date, ms := range msByDate {
		snap.MinutesByDate = append(snap.MinutesByDate, models.DateMinutes{
			Date:    date,
			Minutes: roundMinutes(ms),
		})
	}
	slices.SortFunc(snap.MinutesByDate, func(a, b models.DateMinutes) int {
		return cmp.Compare(b.Date, a.Date)
	})

	snap.EventCount = len(working)
	return snap
}

func roundMinutes(ms int64) int64 {
	return int64(math.Round(float64(ms) / msPerMinute))
}

// Ranked is one row of a top-N listing.
type Ranked struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Plays int    `json:"plays"`
}

// TopN returns the n keys with most plays, ties broken by key. n <= 0
// returns every key.
func TopN(counts map[string]int, names map[string]string, n int) []Ranked {
	out := make([]Ranked, 0, len(counts))
	for k, v := range counts {
		out = append(out, Ranked{Key: k, Name: names[k], Plays: v})
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Plays, a.Plays); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
