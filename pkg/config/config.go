// Service configuration
//
// Settings are built once at process start and passed by pointer into the
// session manager and server. There is no global settings singleton; every
// component receives its configuration explicitly.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/control"
)

// Settings holds the full service configuration.
type Settings struct {
	// Server
	Addr     string
	LogLevel string

	// Session limits
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	CleanupInterval       time.Duration

	// Simulation timing
	Timestep        time.Duration // physics integration step
	BroadcastRateHz float64       // network delivery cadence

	// Inbound rate limiting
	MaxControlMessagesPerSecond int

	// Controller defaults
	PID     control.PIDConfig
	Current control.CurrentConfig

	// Optional MQTT telemetry sink; empty broker disables it.
	MQTTBroker string
	MQTTTopic  string

	// Optional CAN telemetry interface (e.g. "vcan0"); empty disables it.
	CANInterface string
}

// Default returns the standard configuration: 1 kHz simulation, 100 Hz
// broadcast, ten concurrent sessions.
func Default() *Settings {
	return &Settings{
		Addr:                        ":8000",
		LogLevel:                    "info",
		MaxConcurrentSessions:       10,
		SessionTimeout:              30 * time.Minute,
		CleanupInterval:             60 * time.Second,
		Timestep:                    time.Millisecond,
		BroadcastRateHz:             100,
		MaxControlMessagesPerSecond: 100,
		PID: control.PIDConfig{
			Kp:                  1.0,
			Ki:                  0.1,
			Kd:                  0.01,
			MaxOutput:           60.0,
			MinOutput:           -60.0,
			MaxIntegral:         50.0,
			DerivativeFilterTau: 0.01,
		},
		Current:   control.DefaultCurrentConfig(),
		MQTTTopic: "motordyno",
	}
}

// FromEnv returns the default settings overridden by MOTORDYNO_* environment
// variables. Unparseable values are ignored in favor of the defaults.
func FromEnv() *Settings {
	s := Default()
	if v := os.Getenv("MOTORDYNO_ADDR"); v != "" {
		s.Addr = v
	}
	if v := os.Getenv("MOTORDYNO_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v, ok := envInt("MOTORDYNO_MAX_SESSIONS"); ok {
		s.MaxConcurrentSessions = v
	}
	if v, ok := envInt("MOTORDYNO_SESSION_TIMEOUT_MIN"); ok {
		s.SessionTimeout = time.Duration(v) * time.Minute
	}
	if v, ok := envFloat("MOTORDYNO_TIMESTEP_MS"); ok && v > 0 {
		s.Timestep = time.Duration(v * float64(time.Millisecond))
	}
	if v, ok := envFloat("MOTORDYNO_BROADCAST_HZ"); ok && v > 0 {
		s.BroadcastRateHz = v
	}
	if v, ok := envInt("MOTORDYNO_CONTROL_MSGS_PER_SEC"); ok {
		s.MaxControlMessagesPerSecond = v
	}
	if v := os.Getenv("MOTORDYNO_MQTT_BROKER"); v != "" {
		s.MQTTBroker = v
	}
	if v := os.Getenv("MOTORDYNO_MQTT_TOPIC"); v != "" {
		s.MQTTTopic = v
	}
	if v := os.Getenv("MOTORDYNO_CAN_INTERFACE"); v != "" {
		s.CANInterface = v
	}
	return s
}

// Dt returns the integration timestep in seconds.
func (s *Settings) Dt() float64 {
	return s.Timestep.Seconds()
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
