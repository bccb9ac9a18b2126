// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package eventprocessor distributes "history merged" notifications.
//
// Notifications are published on an in-process Watermill GoChannel and
// consumed by a Watermill router whose handlers invalidate the response cache
// and push updates to WebSocket clients. When NATS is enabled the same
// message is also published to a NATS subject so other processes can react.
package eventprocessor
