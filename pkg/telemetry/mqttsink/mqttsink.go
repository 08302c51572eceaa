// Package mqttsink republishes broadcast telemetry to an MQTT broker, one
// JSON message per frame on motordyno/<session>/telemetry. The sink is
// optional; the service runs without a broker configured.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package mqttsink

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// Sink publishes telemetry frames to MQTT. It implements the hub's sink
// contract: Consume never blocks on broker round trips.
type Sink struct {
	client      mqtt.Client
	topicPrefix string
	logger      *log.Logger
}

// New connects to the broker (e.g. "tcp://localhost:1883"). The client
// auto-reconnects; only the initial connect failure is fatal.
func New(broker, topicPrefix string, logger *log.Logger) (*Sink, error) {
	logger = logger.WithPrefix("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("motordyno-telemetry")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to broker %s", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("broker connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), errors.ErrTransport, "mqtt connect")
	}

	return &Sink{
		client:      client,
		topicPrefix: topicPrefix,
		logger:      logger,
	}, nil
}

// topicFor builds the per-session telemetry topic.
func topicFor(prefix, sessionID string) string {
	return prefix + "/" + sessionID + "/telemetry"
}

// Consume publishes one frame, fire and forget. Delivery failures surface
// through the connection-lost handler, not here.
func (s *Sink) Consume(sessionID string, point protocol.SimulationPoint) {
	payload, err := json.Marshal(point)
	if err != nil {
		return
	}
	s.client.Publish(topicFor(s.topicPrefix, sessionID), 0, false, payload)
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.client.Disconnect(250)
}
