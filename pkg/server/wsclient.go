// Websocket client connection
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/sim"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsMaxMessage    = 64 * 1024
	wsSendQueueSize = 64
)

// outFrame is one queued outbound message.
type outFrame struct {
	data   []byte
	binary bool
}

// wsClient is one streaming subscriber. A send channel decouples the hub
// from the network: the hub drops frames when the queue is full instead of
// waiting on the socket.
type wsClient struct {
	id        int64
	sessionID string
	conn      *websocket.Conn
	server    *Server
	binary    bool

	sendCh  chan outFrame
	done    chan struct{}
	limiter *rateLimiter

	closeOnce sync.Once
	logger    *log.Logger
}

// send queues a frame, dropping it when the client is slow or gone.
func (c *wsClient) send(data []byte, binary bool) {
	select {
	case c.sendCh <- outFrame{data: data, binary: binary}:
	case <-c.done:
	default:
		c.logger.Debug("dropping frame to slow client %d", c.id)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// inboundControl is the JSON envelope clients send to steer the simulation.
type inboundControl struct {
	Type string `json:"type"`
	sim.ControlUpdate
}

type ack struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// readPump consumes inbound control messages until the connection dies.
// Every accepted control update also counts as session activity.
func (c *wsClient) readPump() {
	defer func() {
		c.server.hub.unsubscribe(c.sessionID, c)
		c.close()
		c.logger.Debug("client %d disconnected", c.id)
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("client %d read error: %v", c.id, err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage validates, rate-limits and applies one control message.
func (c *wsClient) handleMessage(data []byte) {
	if !c.limiter.allow() {
		c.sendError("rate limit exceeded")
		return
	}

	var msg inboundControl
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed control message")
		return
	}

	switch msg.Type {
	case "control_update":
		sess, err := c.server.manager.Get(c.sessionID)
		if err != nil {
			c.sendError("session gone")
			return
		}
		sess.Touch()
		if err := sess.Loop().UpdateControl(msg.ControlUpdate); err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendJSON(ack{Type: "control_ack", Timestamp: time.Now().UnixMilli()})
	case "ping":
		c.sendJSON(ack{Type: "pong", Timestamp: time.Now().UnixMilli()})
	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

func (c *wsClient) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.send(data, false)
}

func (c *wsClient) sendError(msg string) {
	c.sendJSON(wsError{Type: "error", Message: msg})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			msgType := websocket.TextMessage
			if frame.binary {
				msgType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(msgType, frame.data); err != nil {
				c.logger.Debug("client %d write error: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
