// Inbound control message rate limiting
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously. One limiter guards
// each websocket client's inbound control messages.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

func newRateLimiter(perSecond int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 100
	}
	return &rateLimiter{
		tokens:   float64(perSecond),
		capacity: float64(perSecond),
		perSec:   float64(perSecond),
		last:     time.Now(),
	}
}

// allow consumes one token if available.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.tokens += now.Sub(r.last).Seconds() * r.perSec
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.last = now

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}
