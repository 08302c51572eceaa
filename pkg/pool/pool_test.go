// Unit tests for the byte buffer pool
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"bytes"
	"testing"
)

func TestByteBufferRoundTrip(t *testing.T) {
	b := GetByteBuffer()
	if b == nil {
		t.Fatal("GetByteBuffer returned nil")
	}
	if b.Len() != 0 {
		t.Fatalf("fresh buffer not empty, len=%d", b.Len())
	}

	if _, err := b.Write([]byte{0x00, 0x01, 0x00, 0x28}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.WriteByte(0x78); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x28, 0x78}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("Bytes() = %x, want %x", b.Bytes(), want)
	}
	if b.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(want))
	}

	PutByteBuffer(b)

	// The next Get must hand out an empty buffer even when it is the
	// same object.
	b2 := GetByteBuffer()
	if b2.Len() != 0 {
		t.Fatalf("pooled buffer not reset, len=%d", b2.Len())
	}
	PutByteBuffer(b2)
}

func TestByteBufferReset(t *testing.T) {
	b := GetByteBuffer()
	b.Write([]byte("payload"))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Reset left len=%d", b.Len())
	}
	PutByteBuffer(b)
}

func TestPutNil(t *testing.T) {
	// Must not panic.
	PutByteBuffer(nil)
}

func TestOversizedNotPooled(t *testing.T) {
	b := GetByteBuffer()
	b.Write(make([]byte, maxPooledCap+1))
	// Exercises the discard path; nothing observable to assert beyond
	// not panicking.
	PutByteBuffer(b)
}

func BenchmarkByteBufferPool(b *testing.B) {
	payload := make([]byte, 40)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := GetByteBuffer()
		buf.Write(payload)
		PutByteBuffer(buf)
	}
}
