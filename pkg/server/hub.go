// Broadcast hub
//
// Fans one encoded telemetry frame out to every subscriber of a session.
// The hub is the loop's publish target and must never block: a slow client
// only loses frames, it cannot stall the simulation or its peers.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// Sink receives encoded frames alongside websocket subscribers. Optional
// telemetry backends (MQTT, CAN) implement this.
type Sink interface {
	Consume(sessionID string, point protocol.SimulationPoint)
}

// sinkQueueSize bounds the frames buffered per sink. At the broadcast
// rate this is a couple of seconds of backlog.
const sinkQueueSize = 256

// sinkFrame is one queued point for a sink runner.
type sinkFrame struct {
	sessionID string
	point     protocol.SimulationPoint
}

// sinkRunner drains frames to one sink on its own goroutine so a slow
// backend (a congested CAN bus, a broker reconnect) loses frames instead
// of stalling the publishing loop.
type sinkRunner struct {
	sink Sink
	ch   chan sinkFrame
	done chan struct{}
}

func (r *sinkRunner) run() {
	defer close(r.done)
	for f := range r.ch {
		r.sink.Consume(f.sessionID, f.point)
	}
}

// offer queues a frame without waiting. Reports whether it was accepted.
func (r *sinkRunner) offer(f sinkFrame) bool {
	select {
	case r.ch <- f:
		return true
	default:
		return false
	}
}

// Hub routes simulation output to websocket subscribers and optional sinks.
// It implements sim.Publisher.
type Hub struct {
	codec  *protocol.Codec
	logger *log.Logger

	mu    sync.RWMutex
	subs  map[string]map[*wsClient]struct{}
	sinks []*sinkRunner
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		codec:  protocol.NewCodec(),
		logger: logger.WithPrefix("hub"),
		subs:   make(map[string]map[*wsClient]struct{}),
	}
}

// AddSink registers an additional telemetry consumer and starts its drain
// goroutine. Not safe to call once traffic is flowing; wire sinks at
// startup.
func (h *Hub) AddSink(s Sink) {
	r := &sinkRunner{
		sink: s,
		ch:   make(chan sinkFrame, sinkQueueSize),
		done: make(chan struct{}),
	}
	h.sinks = append(h.sinks, r)
	go r.run()
}

// CloseSinks stops the sink runners and waits for queued frames to drain.
// Call before closing the sinks themselves.
func (h *Hub) CloseSinks() {
	for _, r := range h.sinks {
		close(r.ch)
		<-r.done
	}
	h.sinks = nil
}

func (h *Hub) subscribe(sessionID string, c *wsClient) {
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.subs[sessionID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(sessionID string, c *wsClient) {
	h.mu.Lock()
	if set, ok := h.subs[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports the live subscribers for one session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// dataFrame is the JSON rendering of one broadcast sample.
type dataFrame struct {
	Type string                    `json:"type"`
	Data *protocol.SimulationPoint `json:"data"`
}

// PublishData encodes the point once per format and fans it out. Frames to
// clients with a full send queue are dropped.
func (h *Hub) PublishData(sessionID string, point protocol.SimulationPoint) {
	h.mu.RLock()
	set := h.subs[sessionID]

	var jsonFrame, binaryFrame []byte
	for c := range set {
		if c.binary {
			if binaryFrame == nil {
				var err error
				binaryFrame, err = h.codec.EncodeSimulationData(point, false)
				if err != nil {
					h.logger.WithError(err).Error("encode binary frame")
					continue
				}
			}
			c.send(binaryFrame, true)
		} else {
			if jsonFrame == nil {
				jsonFrame, _ = json.Marshal(dataFrame{Type: "simulation_data", Data: &point})
			}
			c.send(jsonFrame, false)
		}
	}
	h.mu.RUnlock()

	for _, r := range h.sinks {
		if !r.offer(sinkFrame{sessionID: sessionID, point: point}) {
			h.logger.Debug("dropping frame to slow sink")
		}
	}
}

// PublishError delivers a session error to every subscriber. Errors always
// travel as JSON regardless of the client's data format.
func (h *Hub) PublishError(sessionID string, err error) {
	frame, merr := json.Marshal(map[string]any{
		"type":      "error",
		"error":     err.Error(),
		"timestamp": time.Now().UnixMilli(),
	})
	if merr != nil {
		return
	}

	h.mu.RLock()
	for c := range h.subs[sessionID] {
		c.send(frame, false)
	}
	h.mu.RUnlock()
}

// dropSession disconnects every subscriber of a removed session.
func (h *Hub) dropSession(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()

	for c := range set {
		c.close()
	}
}
