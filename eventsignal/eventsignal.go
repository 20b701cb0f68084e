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

//go:build linux

// Package eventsignal wraps a single eventfd as the wake/timeout primitive
// shared by both halves of a transport pair. Signal is real-time-safe
// (single non-blocking write, no allocation); Wait is not, since it blocks
// up to its timeout. The client's Process calls Wait only with the bounded
// ProcessTimeout.
package eventsignal

import (
	"sync"
	"time"

	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/internal/sysfd"
)

// Signal is a kernel counting object with coalesced wakeups: any number of
// Signal calls before a Wait count as exactly one wake, and Wait never
// wakes spuriously.
type Signal struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// Create opens a new Signal with counter value 0.
func Create() (*Signal, error) {
	fd, err := sysfd.EventfdCreate()
	if err != nil {
		return nil, errs.ErrNoMemory
	}
	return &Signal{fd: fd}, nil
}

// FromFd wraps an eventfd received from a peer's Transport Descriptor,
// after the RPC layer has substituted a receiver-local descriptor. The
// Signal takes ownership of fd and closes it on Close.
func FromFd(fd int) *Signal {
	return &Signal{fd: fd}
}

// Fd returns the underlying eventfd, for handle transfer in a Transport
// Descriptor. The caller must not close it directly; use Close.
func (s *Signal) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Signal increments the counter. It performs exactly one write(2) syscall,
// never blocks, and never allocates: safe to call from the audio HAL's
// real-time thread.
func (s *Signal) Signal() error {
	return sysfd.EventfdSignal(s.fd)
}

// Wait blocks up to timeout for a pending signal, draining the counter to
// zero on wake. timeout==0 polls without blocking; timeout<0 blocks
// indefinitely. Returns true on wake, false on timeout.
func (s *Signal) Wait(timeout time.Duration) (bool, error) {
	return sysfd.EventfdWait(s.fd, timeout)
}

// Close releases the underlying fd. Close is not safe to call concurrently
// with Signal or Wait on the same Signal.
func (s *Signal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return closeFd(s.fd)
}
