// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package websocket

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
)

// Connection timing. The server pings every keepAlive; a peer that stays
// silent for idleTimeout is disconnected.
const (
	frameWriteTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	keepAlive         = idleTimeout * 9 / 10
	inboundFrameLimit = 4 * 1024 // inbound frames are only ping requests
	sendQueueSize     = 64
)

var lastClientID atomic.Uint64

// Client is one browser connection. The hub owns the send queue: it writes
// encoded frames and closes the queue when the client is removed.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps conn. IDs increase monotonically across the process.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   lastClientID.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// ID returns the client's identifier.
func (c *Client) ID() uint64 { return c.id }

// Start launches the reader and writer goroutines. The reader unregisters
// the client when the peer goes away.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) extendDeadline(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(inboundFrameLimit)
	c.conn.SetPongHandler(c.extendDeadline)
	if err := c.extendDeadline(""); err != nil {
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		_ = c.extendDeadline("")

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.WSErrors.WithLabelValues("bad_frame").Inc()
			continue
		}
		if msg.Type == MessageTypePing {
			c.reply(Message{Type: MessageTypePong})
		}
	}
}

// reply queues msg for this client only.
func (c *Client) reply(msg Message) {
	frame, err := MarshalMessage(msg)
	if err != nil {
		return
	}
	c.hub.sendTo(c, frame)
}

func (c *Client) logReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		metrics.WSErrors.WithLabelValues("unexpected_close").Inc()
		logging.Warn().Err(err).Uint64("client_id", c.id).Msg("websocket closed unexpectedly")
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) writeLoop() {
	pings := time.NewTicker(keepAlive)
	defer func() {
		pings.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}
			metrics.WSMessagesSent.Inc()
		case <-pings.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
