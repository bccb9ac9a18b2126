// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import "time"

// APIResponse is the envelope of every JSON endpoint.
//
//	{"status":"success","data":{...},"metadata":{"timestamp":"...","query_time_ms":3}}
//	{"status":"error","data":null,"metadata":{...},"error":{"code":"VALIDATION_ERROR","message":"..."}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries timing and cache information.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	Count       *int      `json:"count,omitempty"`
}

// APIError is a machine readable error code plus a message.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ImportResult is returned by POST /api/v1/import.
type ImportResult struct {
	Rows  int `json:"rows"`
	Added int `json:"added"`
}

// ClearResult is returned by DELETE /api/v1/events.
type ClearResult struct {
	Cleared bool `json:"cleared"`
}

// HealthStatus is returned by the health endpoints.
type HealthStatus struct {
	Status              string     `json:"status"`
	Version             string     `json:"version"`
	DatabaseConnected   bool       `json:"database_connected"`
	CredentialAvailable bool       `json:"credential_available"`
	LastSync            *time.Time `json:"last_sync,omitempty"`
	Uptime              float64    `json:"uptime"`
}
