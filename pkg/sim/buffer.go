// Bounded sample buffer for simulation output
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"sync"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// DefaultBufferCapacity bounds per-session memory for retained samples.
const DefaultBufferCapacity = 1000

// Buffer is a fixed-capacity ring of simulation data points. Pushing into a
// full buffer evicts the oldest entry. All methods are safe for concurrent
// use; the simulation loop writes while API handlers read.
type Buffer struct {
	mu    sync.Mutex
	data  []protocol.SimulationPoint
	head  int // next write position
	count int
}

// NewBuffer creates a buffer holding at most capacity points. A capacity of
// zero or less falls back to DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{data: make([]protocol.SimulationPoint, capacity)}
}

// Push appends a point, evicting the oldest when full.
func (b *Buffer) Push(p protocol.SimulationPoint) {
	b.mu.Lock()
	b.data[b.head] = p
	b.head = (b.head + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
	b.mu.Unlock()
}

// Len returns the number of stored points.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Latest returns the most recently pushed point, if any.
func (b *Buffer) Latest() (protocol.SimulationPoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return protocol.SimulationPoint{}, false
	}
	idx := (b.head - 1 + len(b.data)) % len(b.data)
	return b.data[idx], true
}

// Snapshot returns up to n of the most recent points in chronological order.
// n <= 0 returns everything stored.
func (b *Buffer) Snapshot(n int) []protocol.SimulationPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]protocol.SimulationPoint, n)
	start := (b.head - n + len(b.data)) % len(b.data)
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%len(b.data)]
	}
	return out
}
