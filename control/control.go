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

// Package control defines the session state machine and the abstract
// daemon control messages (open/start/stop/close/setParam/queryState/
// queryStats). The transport those messages ride over is out of scope;
// this package only fixes their Go shape and the legal transition table.
package control

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/internal/hack"
	"github.com/Yang-QZ/dynamic-library-call-separation/stats"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

// State is a session's position in the Idle->Opened->Started->Stopped
// lifecycle, with Error reachable from any state.
type State int32

const (
	Idle State = iota
	Opened
	Started
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Opened:
		return "OPENED"
	case Started:
		return "STARTED"
	case Stopped:
		return "STOPPED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// EffectType identifies which DSP capability a session is bound to. The
// set is extensible: daemon.Register adds entries the registry can look
// up beyond the built-ins.
type EffectType uint32

const (
	EffectKaraoke EffectType = iota
	EffectNoiseReduction
	EffectPassthrough
)

func (e EffectType) String() string {
	switch e {
	case EffectKaraoke:
		return "KARAOKE"
	case EffectNoiseReduction:
		return "NOISE_REDUCTION"
	case EffectPassthrough:
		return "PASSTHROUGH"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the state machine's edges. Error is reachable
// from anywhere and is not listed as a "from" state requiring a specific
// trigger; StateMachine.Fail handles it unconditionally.
var legalTransitions = map[State]map[State]bool{
	Idle:    {Opened: true},
	Opened:  {Started: true},
	Started: {Stopped: true},
	Stopped: {},
	Error:   {},
}

// StateMachine guards a session's State field with the legal transition
// table. Transitions serialize on a mutex; State is a plain atomic load so
// the RT Process path can check Started without taking any lock.
type StateMachine struct {
	mu    sync.Mutex
	state atomic.Int32
}

// NewStateMachine returns a StateMachine starting at Idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// State returns the current state. Lock-free; safe on the RT path.
func (sm *StateMachine) State() State {
	return State(sm.state.Load())
}

// Transition moves from the current state to next if legal, returning
// ErrInvalidState otherwise. Close is not a table edge: it is legal from
// any state and tears down the session around the StateMachine rather
// than through it.
func (sm *StateMachine) Transition(next State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if edges, ok := legalTransitions[State(sm.state.Load())]; ok && edges[next] {
		sm.state.Store(int32(next))
		return nil
	}
	return errs.ErrInvalidState
}

// Fail unconditionally moves the session to Error, the one transition
// legal from any state.
func (sm *StateMachine) Fail() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.Store(int32(Error))
}

// Session is the control-surface view of one effect session: identity,
// negotiated format, current lifecycle state, its transport pair once
// Opened, and its stats accumulator. It is the shape shared by both the
// client-side session.Session and the daemon-side daemon.Session, which
// embed it rather than duplicating these fields.
type Session struct {
	ID         uint32
	EffectType EffectType
	AudioConfig config.AudioConfig

	StateMachine *StateMachine
	Transport    *transport.Pair
	Stats        *stats.Accumulator
}

// NewSession constructs a Session in the Idle state with a fresh stats
// accumulator. Transport is nil until Open succeeds.
func NewSession(id uint32, effectType EffectType, cfg config.AudioConfig) *Session {
	return &Session{
		ID:           id,
		EffectType:   effectType,
		AudioConfig:  cfg,
		StateMachine: NewStateMachine(),
		Stats:        stats.New(config.DefaultLatencyWindow),
	}
}

// OpenRequest is the open() control message.
type OpenRequest struct {
	EffectType  EffectType
	AudioConfig config.AudioConfig
}

// OpenResponse is open()'s result: the new session's id and the
// descriptor it should hand off to the peer.
type OpenResponse struct {
	Result     errs.ResultCode
	SessionID  uint32
	Descriptor transport.Descriptor
}

// SetParamRequest is the setParam() control message. Key/Value are
// effect-specific; the DSP capability registry interprets them.
type SetParamRequest struct {
	SessionID uint32
	Key       string
	Value     []byte
}

// MarshalBinary encodes the request for an RPC layer: sessionId, then the
// length-prefixed key and value, little-endian throughout. The key is
// copied out of the string without an intermediate []byte allocation.
func (r SetParamRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 12+len(r.Key)+len(r.Value))
	binary.LittleEndian.PutUint32(buf[0:4], r.SessionID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Key)))
	off := 8 + copy(buf[8:], hack.StringToByteSlice(r.Key))
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Value)))
	copy(buf[off+4:], r.Value)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. Key and
// Value alias data rather than copying it, so ownership of data passes to
// the request; callers reusing their receive buffer must copy first.
func (r *SetParamRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return errs.ErrInvalidArguments
	}
	r.SessionID = binary.LittleEndian.Uint32(data[0:4])
	keyLen := binary.LittleEndian.Uint32(data[4:8])
	if uint64(8+keyLen+4) > uint64(len(data)) {
		return errs.ErrInvalidArguments
	}
	keyEnd := 8 + int(keyLen)
	r.Key = hack.ByteSliceToString(data[8:keyEnd])
	valueLen := binary.LittleEndian.Uint32(data[keyEnd : keyEnd+4])
	if uint64(keyEnd+4)+uint64(valueLen) != uint64(len(data)) {
		return errs.ErrInvalidArguments
	}
	r.Value = data[keyEnd+4 : keyEnd+4+int(valueLen)]
	return nil
}

// QueryStateResponse is queryState()'s result.
type QueryStateResponse struct {
	Result errs.ResultCode
	State  State
}

// QueryStatsResponse is queryStats()'s result.
type QueryStatsResponse struct {
	Result errs.ResultCode
	Stats  stats.Snapshot
}
