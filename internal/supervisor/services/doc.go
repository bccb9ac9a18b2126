// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package services adapts server components to suture.Service.
//
//   - HTTPServerService: ListenAndServe plus graceful Shutdown
//   - SyncService: Start/Stop lifecycle of the sync scheduler
//   - RunnerService: anything with Run(ctx) error (WebSocket hub, notifier)
package services
