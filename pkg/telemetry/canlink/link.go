// Socketcan transmitter
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canlink

import (
	"context"
	"net"
	"time"

	"go.einride.tech/can/pkg/socketcan"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

const transmitTimeout = 50 * time.Millisecond

// Link streams telemetry frames onto a socketcan interface. It implements
// the hub's sink contract.
type Link struct {
	conn   net.Conn
	tx     *socketcan.Transmitter
	logger *log.Logger
}

// Dial opens the CAN interface (e.g. "can0", "vcan0").
func Dial(ctx context.Context, iface string, logger *log.Logger) (*Link, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTransport, "socketcan dial "+iface)
	}
	return &Link{
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		logger: logger.WithPrefix("canlink"),
	}, nil
}

// Consume transmits both telemetry frames, best effort. A bus failure is
// logged and the frame dropped; telemetry must never stall the simulation.
func (l *Link) Consume(sessionID string, point protocol.SimulationPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), transmitTimeout)
	defer cancel()

	if err := l.tx.TransmitFrame(ctx, EncodeMechanical(point)); err != nil {
		l.logger.Debug("transmit mechanical frame: %v", err)
		return
	}
	if err := l.tx.TransmitFrame(ctx, EncodeElectrical(point)); err != nil {
		l.logger.Debug("transmit electrical frame: %v", err)
	}
}

// Close shuts the bus connection.
func (l *Link) Close() error {
	return l.conn.Close()
}
