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

// Package session implements the client-side half of a transport pair
// (C5): the audio HAL integrator calls Open/Start/Process/SetParam/
// QueryStats/Stop/Close against a Session. Process is the one real-time
// critical entry point in this entire module; every other operation may
// block or allocate freely.
package session

import (
	"sync/atomic"
	"time"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/stats"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

// Session is one client-side effect session. The zero value is not
// usable; construct with Open.
type Session struct {
	*control.Session

	// agingCount tracks sustained Process timeouts: each timeout adds one
	// and each clean call subtracts one (never below zero); once it
	// reaches agingThreshold the session latches into permanent
	// passthrough.
	// Accessed with atomics so Process never takes a lock for this
	// bookkeeping.
	agingCount     atomic.Int64
	agingThreshold int64
	latched        atomic.Bool
}

// Opener performs the descriptor exchange with a daemon and returns a
// ready-to-Start transport pair. Production code backs this with the
// out-of-scope RPC layer; tests and same-process callers can use
// transport.Open directly via LocalOpener.
type Opener interface {
	Open(effectType control.EffectType, cfg config.AudioConfig) (*transport.Pair, uint32, error)
}

// LocalOpener opens a transport.Pair in the current process, for
// same-process client/daemon pairings (tests, or an in-process daemon).
type LocalOpener struct {
	// NamePrefix is used to derive the shared region's advisory name.
	NamePrefix string
	nextID     atomic.Uint32
}

// Open implements Opener by calling transport.Open directly.
func (o *LocalOpener) Open(effectType control.EffectType, cfg config.AudioConfig) (*transport.Pair, uint32, error) {
	capacity := config.DefaultRingCapacity
	if min := config.MinRingCapacity(cfg); uint32(capacity) < min {
		capacity = int(min)
	}
	id := o.nextID.Add(1)
	name := o.NamePrefix
	if name == "" {
		name = "effect"
	}
	pair, err := transport.Open(name, uint32(capacity), uint32(capacity))
	if err != nil {
		return nil, 0, err
	}
	return pair, id, nil
}

// Open performs the descriptor exchange via opener, maps the transport
// pair, and returns a Session in the Opened state with zeroed stats.
func Open(opener Opener, effectType control.EffectType, cfg config.AudioConfig, agingThreshold int) (*Session, error) {
	if agingThreshold <= 0 {
		agingThreshold = config.DefaultAgingThreshold
	}

	pair, id, err := opener.Open(effectType, cfg)
	if err != nil {
		return nil, err
	}

	cs := control.NewSession(id, effectType, cfg)
	cs.Transport = pair
	if err := cs.StateMachine.Transition(control.Opened); err != nil {
		pair.Close()
		return nil, err
	}

	s := &Session{
		Session:        cs,
		agingThreshold: int64(agingThreshold),
	}
	return s, nil
}

// Start transitions the session to Started. Non-RT. It sends nothing to
// the daemon: the daemon-side worker is started separately, through
// daemon.Session.StartSession.
func (s *Session) Start() error {
	return s.StateMachine.Transition(control.Started)
}

// Stop transitions the session to Stopped. Non-RT. It sends nothing to
// the daemon: the daemon-side worker keeps running until
// daemon.Session.StopSession clears its running flag.
func (s *Session) Stop() error {
	return s.StateMachine.Transition(control.Stopped)
}

// Close releases the transport pair. Legal from any state; idempotent.
func (s *Session) Close() error {
	if s.Transport == nil {
		return nil
	}
	err := s.Transport.Close()
	s.Transport = nil
	return err
}

// SetParam passes an opaque key/value through to the daemon. The wire
// transport is out of scope for this package; callers compose this with
// their own RPC client.
func (s *Session) SetParam(send func(key string, value []byte) errs.ResultCode, key string, value []byte) error {
	if s.StateMachine.State() == control.Error {
		return errs.ErrDeadObject
	}
	return errs.ToError(send(key, value))
}

// QueryStats returns a snapshot of this session's client-side stats. Safe
// to call from any thread.
func (s *Session) QueryStats() stats.Snapshot {
	return s.Stats.Snapshot()
}

// Process is the real-time critical entry point. It MUST NOT allocate,
// acquire a contended lock, log, or make an RPC call. input
// and output must each be exactly frames*bytesPerFrame bytes. Process
// always fills output, even on a non-OK result: the caller's audio never
// drops to silence solely because of this subsystem.
func (s *Session) Process(input, output []byte, frames uint32) errs.ResultCode {
	if frames == 0 || input == nil || output == nil {
		return errs.InvalidArguments
	}
	if s.StateMachine.State() != control.Started {
		return errs.InvalidState
	}

	n := frames * s.AudioConfig.BytesPerFrame()
	if uint32(len(input)) < n || uint32(len(output)) < n {
		return errs.InvalidArguments
	}

	if s.latched.Load() {
		passthrough(input, output, n)
		return errs.Timeout
	}

	t0 := time.Now()

	written := s.Transport.InputRing.Write(input[:n])
	if written < n {
		s.Stats.IncrXrun()
		passthrough(input, output, n)
		s.recordTimeout()
		return errs.Timeout
	}

	if err := s.Transport.EventFdIn.Signal(); err != nil {
		passthrough(input, output, n)
		s.recordTimeout()
		return errs.Timeout
	}

	woke, _ := s.Transport.EventFdOut.Wait(config.ProcessTimeout)
	if !woke {
		s.Stats.IncrTimeout()
		passthrough(input, output, n)
		s.recordTimeout()
		return errs.Timeout
	}

	read := s.Transport.OutputRing.Read(output[:n])
	if read < n {
		s.Stats.AddDroppedFrames(uint64(frames))
		passthrough(input, output, n)
		s.recordTimeout()
		return errs.Timeout
	}

	s.Stats.RecordLatency(time.Since(t0))
	s.Stats.AddProcessedFrames(uint64(frames))
	s.recordSuccess()
	return errs.OK
}

// passthrough copies n bytes of input to output, the RT path's universal
// fallback. Both slices are guaranteed >= n by the caller.
func passthrough(input, output []byte, n uint32) {
	copy(output[:n], input[:n])
}

// recordTimeout bumps the aging counter and latches permanent passthrough
// once it reaches agingThreshold.
func (s *Session) recordTimeout() {
	if s.agingCount.Add(1) >= s.agingThreshold {
		s.latched.Store(true)
	}
}

// recordSuccess decrements the aging counter on a clean Process call,
// never below zero. A latched session stays latched: aging fallback is a
// one-way trip for the life of the session.
func (s *Session) recordSuccess() {
	for {
		cur := s.agingCount.Load()
		if cur <= 0 {
			return
		}
		if s.agingCount.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
