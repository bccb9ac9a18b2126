// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package websocket pushes history change notifications to browser clients.

A Hub owns the set of connected clients. Register and Unregister are
processed before broadcasts so a client never receives a message after it
has been removed. Broadcasts never block the caller: when the hub buffer is
full the message is dropped and counted.

	hub := websocket.NewHub()
	go hub.Run(ctx)

	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()

	hub.BroadcastJSON("sync_completed", merged)

Each broadcast is encoded once and queued to clients in ID order. A client
whose queue is full is dropped rather than slowing the others.
*/
package websocket
