// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import "time"

// SyncResult describes one completed sync run.
type SyncResult struct {
	Trigger    string    `json:"trigger"` // scheduled or manual
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Dropped    int       `json:"dropped"`
	Added      int       `json:"added"`
}

// SyncStatus is the scheduler state reported by GET /api/v1/sync/status.
type SyncStatus struct {
	Running             bool        `json:"running"`
	InProgress          bool        `json:"in_progress"`
	Interval            string      `json:"interval"`
	CredentialAvailable bool        `json:"credential_available"`
	LastRunAt           *time.Time  `json:"last_run_at,omitempty"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
	LastResult          *SyncResult `json:"last_result,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	LastErrorClass      string      `json:"last_error_class,omitempty"`
	TotalRuns           int64       `json:"total_runs"`
	SkippedTicks        int64       `json:"skipped_ticks"`
}

// HistoryMerged is published after a merge that added at least one event.
type HistoryMerged struct {
	ID          string    `json:"id"`
	Added       int       `json:"added"`
	Fetched     int       `json:"fetched"`
	Source      string    `json:"source"` // sync or import
	CompletedAt time.Time `json:"completed_at"`
}
