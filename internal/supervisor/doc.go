// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package supervisor runs the long-lived components of the server under a
suture supervisor tree.

The tree has three layers, each its own supervisor:

	replaylog
	├── messaging-layer   WebSocket hub, merge notifier router
	├── sync-layer        sync scheduler
	└── api-layer         HTTP server

A crash in one layer restarts only that layer's service with backoff; the
API keeps serving reads while the scheduler restarts. Supervisor events are
logged through sutureslog on the zerolog-backed slog logger.

Service adapters live in the services subpackage.
*/
package supervisor
