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

package daemon

import (
	"log"
	"sync"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

// Manager is the daemon's process-wide session table: the concrete
// handler an RPC layer dispatches the control surface onto, keyed by
// sessionId. Sessions are the unit of lifecycle; the Manager itself
// lives from daemon start to Shutdown.
type Manager struct {
	mu       sync.Mutex
	nextID   uint32
	sessions map[uint32]*Session
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[uint32]*Session)}
}

// Open creates a session for the requested effect and audio format,
// allocates its transport pair, and returns the descriptor the caller
// forwards to its client. The pair's rings are sized to the default
// capacity, raised if the format's native block needs more headroom.
func (m *Manager) Open(req control.OpenRequest) control.OpenResponse {
	if !validConfig(req.AudioConfig) {
		return control.OpenResponse{Result: errs.InvalidArguments}
	}

	capacity := uint32(config.DefaultRingCapacity)
	if min := config.MinRingCapacity(req.AudioConfig); capacity < min {
		capacity = min
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	pair, err := transport.Open("effect-session", capacity, capacity)
	if err != nil {
		return control.OpenResponse{Result: errs.NoMemory}
	}

	s := CreateSession(id, req.EffectType, req.AudioConfig)
	if err := s.OpenSession(pair); err != nil {
		pair.Close()
		return control.OpenResponse{Result: errs.FromError(err)}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return control.OpenResponse{
		Result:     errs.OK,
		SessionID:  id,
		Descriptor: pair.Descriptor(false),
	}
}

// Start launches the identified session's worker.
func (m *Manager) Start(id uint32) errs.ResultCode {
	s, ok := m.lookup(id)
	if !ok {
		return errs.DeadObject
	}
	return errs.FromError(s.StartSession())
}

// Stop halts the identified session's worker.
func (m *Manager) Stop(id uint32) errs.ResultCode {
	s, ok := m.lookup(id)
	if !ok {
		return errs.DeadObject
	}
	return errs.FromError(s.StopSession())
}

// Close destroys the identified session and removes it from the table.
func (m *Manager) Close(id uint32) errs.ResultCode {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errs.DeadObject
	}
	return errs.FromError(s.DestroySession())
}

// SetParam routes a parameter change to its session's DSP capability.
func (m *Manager) SetParam(req control.SetParamRequest) errs.ResultCode {
	s, ok := m.lookup(req.SessionID)
	if !ok {
		return errs.DeadObject
	}
	return s.SetParam(req)
}

// QueryState reports the identified session's lifecycle state.
func (m *Manager) QueryState(id uint32) control.QueryStateResponse {
	s, ok := m.lookup(id)
	if !ok {
		return control.QueryStateResponse{Result: errs.DeadObject}
	}
	return control.QueryStateResponse{Result: errs.OK, State: s.GetState()}
}

// QueryStats reports the identified session's daemon-side counters.
func (m *Manager) QueryStats(id uint32) control.QueryStatsResponse {
	s, ok := m.lookup(id)
	if !ok {
		return control.QueryStatsResponse{Result: errs.DeadObject}
	}
	return s.GetStats()
}

// Shutdown drains every live session: workers are stopped and their
// transports released. Called from the daemon's termination-signal
// handler; clients of drained sessions observe Process timeouts and fall
// back to passthrough, then DeadObject on their next control call.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	drained := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		drained = append(drained, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range drained {
		if err := s.DestroySession(); err != nil {
			log.Printf("daemon: session %d: shutdown: %v", s.ID, err)
		}
	}
}

func (m *Manager) lookup(id uint32) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func validConfig(cfg config.AudioConfig) bool {
	if cfg.SampleRate == 0 || cfg.Channels == 0 || cfg.FramesPerBuffer == 0 {
		return false
	}
	return cfg.Format == config.FormatPCM16 || cfg.Format == config.FormatPCM32
}
