// motor-dyno is the simulation service: it hosts BLDC motor drive sessions
// and streams live telemetry to websocket clients.
//
// Usage:
//
//	motor-dyno [options]
//
// Options:
//
//	-addr string      Listen address (default from MOTORDYNO_ADDR or ":8000")
//	-log-level string Log level: debug, info, warn, error
//	-log-file string  Also log to a rotating file
//	-mqtt string      MQTT broker URL for telemetry (e.g. tcp://localhost:1883)
//	-can string       CAN interface for telemetry (e.g. vcan0)
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/config"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/server"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/session"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/telemetry/canlink"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/telemetry/mqttsink"
)

func main() {
	settings := config.FromEnv()

	addr := flag.String("addr", settings.Addr, "listen address")
	logLevel := flag.String("log-level", settings.LogLevel, "log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "rotating log file path")
	mqttBroker := flag.String("mqtt", settings.MQTTBroker, "MQTT broker URL for telemetry")
	canIface := flag.String("can", settings.CANInterface, "CAN interface for telemetry")
	flag.Parse()

	settings.Addr = *addr
	settings.LogLevel = *logLevel
	settings.MQTTBroker = *mqttBroker
	settings.CANInterface = *canIface

	logger := log.New("motordyno")
	logger.SetLevel(log.ParseLevel(settings.LogLevel))
	if *logFile != "" {
		fileLogger, writer, err := log.NewConsoleAndFileLogger("motordyno", log.RotationConfig{
			Filename: *logFile,
			MaxSize:  10,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		fileLogger.SetLevel(log.ParseLevel(settings.LogLevel))
		logger = fileLogger
	}

	hub := server.NewHub(logger)

	if settings.MQTTBroker != "" {
		sink, err := mqttsink.New(settings.MQTTBroker, settings.MQTTTopic, logger)
		if err != nil {
			logger.WithError(err).Error("mqtt sink unavailable")
			os.Exit(1)
		}
		defer sink.Close()
		hub.AddSink(sink)
	}
	if settings.CANInterface != "" {
		link, err := canlink.Dial(context.Background(), settings.CANInterface, logger)
		if err != nil {
			logger.WithError(err).Error("can link unavailable")
			os.Exit(1)
		}
		defer link.Close()
		hub.AddSink(link)
	}
	// Runners stop before their sinks close.
	defer hub.CloseSinks()

	manager := session.NewManager(settings, hub, logger)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	manager.StartJanitor(janitorCtx)

	srv := server.New(settings, manager, hub, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
	}

	stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
	manager.StopAll()
	logger.Info("motor-dyno stopped")
}
