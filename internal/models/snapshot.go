// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import "time"

// AggregateSnapshot is the derived view over the event history. It is
// recomputed after every merge and never persisted.
type AggregateSnapshot struct {
	PlayCountByEntity      map[string]int    `json:"play_count_by_entity"`
	PlayCountByAttribution map[string]int    `json:"play_count_by_attribution"`
	EntityNames            map[string]string `json:"entity_names"` // display name per entity id
	TotalDurationMs        int64             `json:"total_duration_ms"`
	MinutesByDate          []DateMinutes     `json:"minutes_by_date"` // date descending
	EventCount             int               `json:"event_count"`
	WindowSize             int               `json:"window_size"` // 0 = full history
	ComputedAt             time.Time         `json:"computed_at"`
}

// DateMinutes is the rounded listening time of one UTC date.
type DateMinutes struct {
	Date    string `json:"date"`
	Minutes int64  `json:"minutes"`
}

// EmptySnapshot returns a zero-valued snapshot with non-nil collections.
func EmptySnapshot(windowSize int) AggregateSnapshot {
	return AggregateSnapshot{
		PlayCountByEntity:      map[string]int{},
		PlayCountByAttribution: map[string]int{},
		EntityNames:            map[string]string{},
		MinutesByDate:          []DateMinutes{},
		WindowSize:             windowSize,
	}
}
