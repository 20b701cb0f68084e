/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ring implements the lock-free single-producer/single-consumer
// byte queue shared between the audio HAL client and the effect daemon
// worker. A Ring never allocates or blocks: Write and Read report the
// actual number of bytes moved and leave retry/backpressure policy to
// the caller.
//
// A Ring's indices may live on the Go heap (New, for same-process use)
// or inside a shared-memory header block (InitShared/AttachShared), so
// the same producer/consumer code runs whether the peer is a goroutine
// or another process.
package ring

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// HeaderBytes is the size of one ring's shared header block: the
// write/read index pair plus the capacity word, padded to a cache line
// so the two directions' headers never share one.
const HeaderBytes = 64

// Header field offsets within a HeaderBytes block.
const (
	headerWriteOff    = 0
	headerReadOff     = 8
	headerCapacityOff = 16
)

// Ring is a fixed-capacity byte queue backed by a caller-supplied slice,
// typically a window into a shared-memory mapping. Exactly one goroutine
// (or process, across the mapping) may call Write; exactly one may call
// Read. Capacity need not be a power of two: position is computed with
// modulo rather than a mask, so the byte layout stays identical across a
// shared mapping regardless of capacity choice.
type Ring struct {
	data []byte

	// writeIndex and readIndex are monotonically increasing counters, never
	// reduced mod capacity themselves; only byte positions are. This keeps
	// distance computation (write - read) correct across wraparound without
	// needing a separate full/empty flag. They point either at private heap
	// words (New) or into a shared header block (InitShared/AttachShared).
	writeIndex *atomic.Uint64
	readIndex  *atomic.Uint64
}

// New wraps buf as a ring of capacity len(buf) with process-private
// indices. buf must not be reused by the caller; New does not copy it.
// Both indices start at zero (empty).
func New(buf []byte) *Ring {
	if len(buf) == 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring{
		data:       buf,
		writeIndex: new(atomic.Uint64),
		readIndex:  new(atomic.Uint64),
	}
}

// InitShared wraps data as a ring whose indices live in header, a
// HeaderBytes block inside the same shared mapping. It zeroes both
// indices and records the capacity in the header, so call it exactly
// once, from the side that created the region; the peer attaches with
// AttachShared.
func InitShared(header, data []byte) *Ring {
	r := shared(header, data)
	r.writeIndex.Store(0)
	r.readIndex.Store(0)
	capWord(header).Store(uint32(len(data)))
	return r
}

// AttachShared wraps data as a ring whose indices live in header, without
// resetting them. It validates the capacity the creator recorded against
// len(data), catching a descriptor/mapping mismatch before any payload
// byte moves.
func AttachShared(header, data []byte) (*Ring, error) {
	r := shared(header, data)
	if got := capWord(header).Load(); got != uint32(len(data)) {
		return nil, errors.New("ring: header capacity does not match mapping")
	}
	return r, nil
}

func shared(header, data []byte) *Ring {
	if len(data) == 0 {
		panic("ring: capacity must be positive")
	}
	if len(header) < HeaderBytes {
		panic("ring: header block too small")
	}
	if uintptr(unsafe.Pointer(&header[0]))%8 != 0 {
		panic("ring: header block must be 8-byte aligned")
	}
	return &Ring{
		data:       data,
		writeIndex: (*atomic.Uint64)(unsafe.Pointer(&header[headerWriteOff])),
		readIndex:  (*atomic.Uint64)(unsafe.Pointer(&header[headerReadOff])),
	}
}

func capWord(header []byte) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&header[headerCapacityOff]))
}

// Cap returns the ring's fixed byte capacity.
func (r *Ring) Cap() uint32 {
	return uint32(len(r.data))
}

// AvailableRead returns the number of bytes the consumer can Read now.
func (r *Ring) AvailableRead() uint32 {
	w := r.writeIndex.Load()
	rd := r.readIndex.Load()
	return uint32(w - rd)
}

// AvailableWrite returns the number of bytes the producer can Write now.
func (r *Ring) AvailableWrite() uint32 {
	w := r.writeIndex.Load()
	rd := r.readIndex.Load()
	used := uint32(w - rd)
	return r.Cap() - used
}

// Write copies as many bytes of p into the ring as fit and returns that
// count, which may be less than len(p) (including zero) if the ring lacks
// space. It never blocks and never allocates.
func (r *Ring) Write(p []byte) uint32 {
	if len(p) == 0 {
		return 0
	}

	w := r.writeIndex.Load()
	rd := r.readIndex.Load()

	capacity := r.Cap()
	available := capacity - uint32(w-rd)
	toWrite := uint32(len(p))
	if toWrite > available {
		toWrite = available
	}
	if toWrite == 0 {
		return 0
	}

	pos := uint32(w % uint64(capacity))
	contiguous := capacity - pos
	if toWrite <= contiguous {
		copy(r.data[pos:pos+toWrite], p[:toWrite])
	} else {
		copy(r.data[pos:capacity], p[:contiguous])
		copy(r.data[0:toWrite-contiguous], p[contiguous:toWrite])
	}

	r.writeIndex.Store(w + uint64(toWrite))
	return toWrite
}

// Read copies as many available bytes as fit in p out of the ring and
// returns that count, which may be less than len(p) (including zero) if
// fewer bytes are available. It never blocks and never allocates.
func (r *Ring) Read(p []byte) uint32 {
	if len(p) == 0 {
		return 0
	}

	w := r.writeIndex.Load()
	rd := r.readIndex.Load()

	available := uint32(w - rd)
	toRead := uint32(len(p))
	if toRead > available {
		toRead = available
	}
	if toRead == 0 {
		return 0
	}

	capacity := r.Cap()
	pos := uint32(rd % uint64(capacity))
	contiguous := capacity - pos
	if toRead <= contiguous {
		copy(p[:toRead], r.data[pos:pos+toRead])
	} else {
		copy(p[:contiguous], r.data[pos:capacity])
		copy(p[contiguous:toRead], r.data[0:toRead-contiguous])
	}

	r.readIndex.Store(rd + uint64(toRead))
	return toRead
}

// Reset returns the ring to its freshly-initialized empty state. Callers
// must ensure no concurrent Write/Read is in flight.
func (r *Ring) Reset() {
	r.writeIndex.Store(0)
	r.readIndex.Store(0)
}
