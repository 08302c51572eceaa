// Package server exposes the motor dyno over HTTP and websocket: REST
// endpoints for session and motor management plus a streaming endpoint
// carrying live simulation data and inbound control updates.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/config"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/motor"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/session"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/sim"
)

// Server is the HTTP front end of the dyno service.
type Server struct {
	settings *config.Settings
	manager  *session.Manager
	hub      *Hub
	logger   *log.Logger

	httpServer   *http.Server
	upgrader     websocket.Upgrader
	nextClientID atomic.Int64
	startTime    time.Time
}

// New wires the server to its collaborators. Call Start to begin serving.
func New(settings *config.Settings, manager *session.Manager, hub *Hub, logger *log.Logger) *Server {
	s := &Server{
		settings:  settings,
		manager:   manager,
		hub:       hub,
		logger:    logger.WithPrefix("server"),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// server through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/simulation/session", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/simulation/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/simulation/session/{id}/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/simulation/session/{id}/history", s.handleHistory)
	mux.HandleFunc("PUT /api/simulation/session/{id}/control", s.handleControl)

	mux.HandleFunc("GET /api/motors", s.handleListMotors)
	mux.HandleFunc("GET /api/motor/{id}/parameters", s.handleMotorParameters)
	mux.HandleFunc("GET /api/motor/{id}/efficiency-curve", s.handleEfficiencyCurve)

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /ws/simulation/{id}", s.handleWebSocket)

	return s.corsMiddleware(mux)
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.settings.Addr,
		Handler: s.Handler(),
	}
	s.logger.Info("listening on %s", s.settings.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Session endpoints

type createSessionRequest struct {
	MotorID string `json:"motor_id"`
	UsePWM  *bool  `json:"use_pwm"`
}

type createSessionResponse struct {
	SessionID    string     `json:"session_id"`
	Token        string     `json:"websocket_token"`
	WebsocketURL string     `json:"websocket_url"`
	Motor        motor.Info `json:"motor"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty body selects the default motor.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			s.writeError(w, errors.Validation("body", "malformed JSON"))
			return
		}
	}
	usePWM := true
	if req.UsePWM != nil {
		usePWM = *req.UsePWM
	}

	sess, err := s.manager.Create(session.CreateOptions{MotorID: req.MotorID, UsePWM: usePWM})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:    sess.ID,
		Token:        sess.Token,
		WebsocketURL: "/ws/simulation/" + sess.ID,
		Motor:        sess.Loop().MotorInfo(sess.MotorID, sess.MotorName),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Remove(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.hub.dropSession(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "stopped": true})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Loop().Statistics())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, errors.Validation("n", "must be a non-negative integer"))
			return
		}
		n = parsed
	}
	points := sess.Loop().Buffer().Snapshot(n)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"count":      len(points),
		"points":     points,
	})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var u controlBody
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.writeError(w, errors.Validation("body", "malformed JSON"))
		return
	}
	sess.Touch()
	if err := sess.Loop().UpdateControl(u.ControlUpdate); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "applied": true})
}

// Motor endpoints

func (s *Server) handleListMotors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"motors": config.MotorIDs()})
}

func (s *Server) handleMotorParameters(w http.ResponseWriter, r *http.Request) {
	preset, err := config.MotorPresetByID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := motor.New(preset.Params, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m.Info(preset.ID, preset.Name))
}

func (s *Server) handleEfficiencyCurve(w http.ResponseWriter, r *http.Request) {
	preset, err := config.MotorPresetByID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := motor.New(preset.Params, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	curve := m.EfficiencyCurve(preset.Params.RatedVoltage)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"motor_id": preset.ID,
		"points":   curve,
	})
}

// Health endpoint

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_s":        time.Since(s.startTime).Seconds(),
		"active_sessions": stats.ActiveSessions,
		"max_sessions":    stats.MaxSessions,
	})
}

// Websocket endpoint

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	token := r.URL.Query().Get("token")
	if !s.manager.Authorize(sessionID, token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	useBinary := r.URL.Query().Get("format") == "binary"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:        s.nextClientID.Add(1),
		sessionID: sessionID,
		conn:      conn,
		server:    s,
		binary:    useBinary,
		sendCh:    make(chan outFrame, wsSendQueueSize),
		done:      make(chan struct{}),
		limiter:   newRateLimiter(s.settings.MaxControlMessagesPerSecond),
		logger:    s.logger,
	}

	s.hub.subscribe(sessionID, c)
	if sess, err := s.manager.Get(sessionID); err == nil {
		sess.Touch()
	}
	s.logger.Debug("client %d subscribed to %s (binary=%v)", c.id, sessionID, useBinary)

	go c.writePump()
	c.readPump()
}

// Helpers

// controlBody is the REST control payload, a typed partial update.
type controlBody struct {
	sim.ControlUpdate
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.CodeOf(err) == errors.ErrConfigMotor:
		status = http.StatusNotFound
	case errors.IsValidation(err), errors.IsConfig(err):
		status = http.StatusBadRequest
	case errors.CodeOf(err) == errors.ErrSessionLimit:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
