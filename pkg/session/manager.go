// Session manager
//
// Owns every live simulation session: creation against the concurrency
// limit, lookup, websocket authorization, idle timeout sweeping and
// graceful shutdown. Each session runs its loop on a dedicated goroutine.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/config"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/sim"
)

// Manager tracks all live sessions.
type Manager struct {
	settings *config.Settings
	pub      sim.Publisher
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewManager creates an empty manager.
func NewManager(settings *config.Settings, pub sim.Publisher, logger *log.Logger) *Manager {
	return &Manager{
		settings:    settings,
		pub:         pub,
		logger:      logger.WithPrefix("session"),
		sessions:    make(map[string]*Session),
		janitorStop: make(chan struct{}),
	}
}

// CreateOptions selects the motor and control setup for a new session.
type CreateOptions struct {
	MotorID string
	UsePWM  bool
}

// Create builds, initializes and starts a new session. The loop goroutine
// begins ticking immediately.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	motorID := opts.MotorID
	if motorID == "" {
		motorID = config.DefaultMotorID
	}
	preset, err := config.MotorPresetByID(motorID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.sessions) >= m.settings.MaxConcurrentSessions {
		m.mu.Unlock()
		return nil, errors.SessionLimit(m.settings.MaxConcurrentSessions)
	}
	m.mu.Unlock()

	now := time.Now()
	s := &Session{
		ID:        newSessionID(now),
		Token:     uuid.NewString(),
		MotorID:   preset.ID,
		MotorName: preset.Name,
		CreatedAt: now,
	}
	s.lastActivity = now

	loop := sim.NewLoop(sim.Options{
		SessionID:       s.ID,
		Motor:           preset.Params,
		UsePWM:          opts.UsePWM,
		Dt:              m.settings.Dt(),
		BroadcastRateHz: m.settings.BroadcastRateHz,
		PID:             m.settings.PID,
		Current:         m.settings.Current,
	}, m.pub, m.logger)
	if err := loop.Initialize(); err != nil {
		return nil, err
	}
	s.loop = loop

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	m.mu.Lock()
	// Re-check under the lock; a racing Create may have filled the last slot.
	if len(m.sessions) >= m.settings.MaxConcurrentSessions {
		m.mu.Unlock()
		cancel()
		return nil, errors.SessionLimit(m.settings.MaxConcurrentSessions)
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go func() {
		defer close(s.done)
		if err := loop.Run(ctx); err != nil {
			m.logger.WithField("session", s.ID).WithError(err).Error("session loop terminated")
		}
	}()

	m.logger.WithFields(log.Fields{
		"session": s.ID,
		"motor":   s.MotorID,
	}).Info("session created")
	return s, nil
}

// Get looks up a live session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.SessionNotFound(sessionID)
	}
	return s, nil
}

// Authorize checks a websocket token against the session it claims. An empty
// expected token (sessions created before auth was configured) admits anyone.
func (m *Manager) Authorize(sessionID, token string) bool {
	s, err := m.Get(sessionID)
	if err != nil {
		return false
	}
	return s.Token == "" || s.Token == token
}

// Remove stops a session's loop and releases it. Safe to call for an already
// removed session.
func (m *Manager) Remove(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return errors.SessionNotFound(sessionID)
	}
	s.stop()
	m.logger.WithField("session", sessionID).Info("session removed")
	return nil
}

// StartJanitor launches the idle-session sweeper. It returns immediately and
// runs until the context is cancelled or the manager is stopped.
func (m *Manager) StartJanitor(ctx context.Context) {
	interval := m.settings.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.janitorStop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// sweep removes sessions idle past the timeout and sessions whose loop has
// already terminated on its own.
func (m *Manager) sweep() {
	timeout := m.settings.SessionTimeout
	var expired []string

	m.mu.Lock()
	for id, s := range m.sessions {
		state := s.loop.State()
		idle := time.Since(s.IdleSince())
		if state == sim.StateStopped || state == sim.StateFailed || (timeout > 0 && idle > timeout) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.logger.WithField("session", id).Info("sweeping idle session")
		m.Remove(id)
	}
}

// StopAll tears down every session and the janitor. Called on shutdown.
func (m *Manager) StopAll() {
	m.janitorOnce.Do(func() { close(m.janitorStop) })

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	if len(all) > 0 {
		m.logger.Info("stopped %d sessions", len(all))
	}
}

// Stats summarizes manager state for the health endpoint.
type Stats struct {
	ActiveSessions int              `json:"active_sessions"`
	MaxSessions    int              `json:"max_sessions"`
	Sessions       []sim.Statistics `json:"sessions"`
}

// Stats reports the live session census.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	st := Stats{
		ActiveSessions: len(all),
		MaxSessions:    m.settings.MaxConcurrentSessions,
		Sessions:       make([]sim.Statistics, 0, len(all)),
	}
	for _, s := range all {
		st.Sessions = append(st.Sessions, s.loop.Statistics())
	}
	return st
}
