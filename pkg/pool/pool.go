// Byte buffer pool for wire message encoding
//
// The codec compresses simulation payloads on the broadcast path at up
// to the tick rate per session. Scratch buffers for compression and
// decompression are pooled here so steady-state streaming does not
// allocate.
//
// Usage:
//
//	buf := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(buf)
//	// write into buf...
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
)

// maxPooledCap is the largest buffer capacity returned to the pool.
// Simulation payloads are tens of bytes; anything bigger came from an
// error payload or a hostile peer and is better left to the GC.
const maxPooledCap = 4096

// ByteBuffer is a growable byte buffer backed by the pool. It
// implements io.Writer and io.ByteWriter.
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, 64),
		}
	},
}

// GetByteBuffer gets an empty buffer from the pool.
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0]
	return b
}

// PutByteBuffer returns a buffer to the pool. Oversized buffers are
// discarded so a single large message cannot pin memory.
func PutByteBuffer(b *ByteBuffer) {
	if b == nil || cap(b.buf) > maxPooledCap {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's contents. The slice is only valid until
// the buffer is returned to the pool.
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Write appends p to the buffer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *ByteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Len returns the number of bytes written.
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Reset clears the buffer without releasing its backing array.
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}
