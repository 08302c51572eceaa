// Simulation session lifecycle
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/sim"
)

// Session couples one simulation loop with its identity and activity state.
// The loop goroutine is owned by the session: started at creation, stopped
// exactly once at removal.
type Session struct {
	ID        string
	Token     string
	MotorID   string
	MotorName string
	CreatedAt time.Time

	loop   *sim.Loop
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
}

// newSessionID builds an identifier like sim_1756500000_1a2b3c4d.
func newSessionID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("sim_%d_%s", now.Unix(), hex)
}

// Loop exposes the underlying simulation loop.
func (s *Session) Loop() *sim.Loop {
	return s.loop
}

// Touch records client activity, deferring idle teardown.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince returns the time of the last recorded activity.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// stop cancels the loop and waits for its goroutine to exit.
func (s *Session) stop() {
	s.loop.Stop()
	s.cancel()
	<-s.done
}
