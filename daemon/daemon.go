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

// Package daemon implements the effect daemon's side of a transport pair
// (C6): one worker goroutine per session that reads the input ring, calls
// the bound DSP capability, and writes the output ring. It owns the
// process-wide DSP capability registry (see dsp.go).
package daemon

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/Yang-QZ/dynamic-library-call-separation/cache/bufpool"
	"github.com/Yang-QZ/dynamic-library-call-separation/concurrency/workerpool"
	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

// Session is one daemon-side effect session: the control-surface fields
// plus the worker bookkeeping needed to run and stop its processing loop.
type Session struct {
	*control.Session

	capability Capability
	dspCtx     interface{}

	running atomic.Bool
	pool    *workerpool.Group

	inBuf  []byte
	outBuf []byte
}

// CreateSession allocates a daemon-side Session in the Idle state.
func CreateSession(id uint32, effectType control.EffectType, cfg config.AudioConfig) *Session {
	return &Session{
		Session: control.NewSession(id, effectType, cfg),
		pool:    workerpool.New("effect-daemon-worker"),
	}
}

// OpenSession loads (binds) the DSP capability for s.EffectType and
// transitions Idle -> Opened. pair is the transport this session's worker
// will read/write; ownership transfers to the Session.
func (s *Session) OpenSession(pair *transport.Pair) error {
	if err := s.StateMachine.Transition(control.Opened); err != nil {
		return err
	}

	cap := Lookup(s.EffectType)
	dspCtx, err := cap.Init(s.AudioConfig)
	if err != nil {
		s.StateMachine.Fail()
		return err
	}

	s.capability = cap
	s.dspCtx = dspCtx
	s.Transport = pair
	return nil
}

// StartSession spawns the worker goroutine and transitions Opened ->
// Started.
func (s *Session) StartSession() error {
	if err := s.StateMachine.Transition(control.Started); err != nil {
		return err
	}

	bufSize := int(s.AudioConfig.BufferBytes())
	s.inBuf = bufpool.Malloc(bufSize)
	s.outBuf = bufpool.Malloc(bufSize)
	s.running.Store(true)

	s.pool.Go(context.Background(), "worker", func() {
		tryRaiseWorkerPriority()
		s.workerLoop()
	})
	return nil
}

// StopSession flips running false, joins the worker, frees its buffers,
// and transitions Started -> Stopped.
func (s *Session) StopSession() error {
	if err := s.StateMachine.Transition(control.Stopped); err != nil {
		return err
	}
	s.running.Store(false)
	s.pool.Wait()

	bufpool.Free(s.inBuf)
	bufpool.Free(s.outBuf)
	s.inBuf = nil
	s.outBuf = nil
	return nil
}

// DestroySession releases the session's transport and DSP context. It
// stops a still-running worker first.
func (s *Session) DestroySession() error {
	if s.StateMachine.State() == control.Started {
		if err := s.StopSession(); err != nil {
			return err
		}
	}
	if s.capability != nil {
		s.capability.Destroy(s.dspCtx)
	}
	if s.Transport != nil {
		err := s.Transport.Close()
		s.Transport = nil
		return err
	}
	return nil
}

// SetParam hands an opaque key/value to the bound DSP capability.
// Capabilities without tunable parameters, and keys the capability does
// not know, report NotSupported; a malformed value reports
// InvalidArguments.
func (s *Session) SetParam(req control.SetParamRequest) errs.ResultCode {
	switch s.StateMachine.State() {
	case control.Error:
		return errs.DeadObject
	case control.Idle:
		return errs.InvalidState
	}
	pr, ok := s.capability.(ParamReceiver)
	if !ok {
		return errs.NotSupported
	}
	if err := pr.SetParam(s.dspCtx, req.Key, req.Value); err != nil {
		return errs.FromError(err)
	}
	return errs.OK
}

// GetState returns this session's current lifecycle state.
func (s *Session) GetState() control.State {
	return s.StateMachine.State()
}

// GetStats returns a snapshot of this session's daemon-side stats.
func (s *Session) GetStats() control.QueryStatsResponse {
	return control.QueryStatsResponse{Result: errs.OK, Stats: s.Stats.Snapshot()}
}

// workerLoop is the non-RT processing loop. It always moves exactly
// B = framesPerBuffer*bytesPerFrame bytes per iteration; a client
// submitting multiples of B per Process call leaves several full blocks
// in the ring after one coalesced wake, so the loop drains every full
// block before sleeping again, signaling after each.
func (s *Session) workerLoop() {
	bytesPerFrame := s.AudioConfig.BytesPerFrame()
	blockSize := s.AudioConfig.FramesPerBuffer * bytesPerFrame

	for s.running.Load() {
		woke, err := s.Transport.EventFdIn.Wait(config.WorkerHeartbeat)
		if err != nil {
			log.Printf("daemon: session %d: eventFdIn wait: %v", s.ID, err)
			continue
		}
		if !woke {
			continue // heartbeat timeout, re-check running
		}

		for s.running.Load() && s.Transport.InputRing.AvailableRead() >= blockSize {
			s.processBlock(blockSize, bytesPerFrame)
		}
	}
}

func (s *Session) processBlock(blockSize, bytesPerFrame uint32) {
	n := s.Transport.InputRing.Read(s.inBuf[:blockSize])
	if n < blockSize {
		s.Stats.IncrXrun()
		return
	}

	start := time.Now()
	s.capability.Process(s.dspCtx, s.inBuf[:blockSize], s.outBuf[:blockSize], s.AudioConfig.FramesPerBuffer, bytesPerFrame)

	written := s.Transport.OutputRing.Write(s.outBuf[:blockSize])
	if written < blockSize {
		s.Stats.AddDroppedFrames(uint64(s.AudioConfig.FramesPerBuffer))
		return // do not signal on a short write
	}

	if err := s.Transport.EventFdOut.Signal(); err != nil {
		log.Printf("daemon: session %d: eventFdOut signal: %v", s.ID, err)
		return
	}

	s.Stats.RecordLatency(time.Since(start))
	s.Stats.AddProcessedFrames(uint64(s.AudioConfig.FramesPerBuffer))
}
