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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

func testConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:      48000,
		Channels:        2,
		Format:          config.FormatPCM16,
		FramesPerBuffer: 32,
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testConfig()
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-daemon-test-lifecycle", capacity, capacity)
	require.NoError(t, err)

	s := CreateSession(1, control.EffectPassthrough, cfg)
	require.NoError(t, s.OpenSession(pair))
	assert.Equal(t, control.Opened, s.GetState())

	require.NoError(t, s.StartSession())
	assert.Equal(t, control.Started, s.GetState())

	require.NoError(t, s.StopSession())
	assert.Equal(t, control.Stopped, s.GetState())

	require.NoError(t, s.DestroySession())
}

func TestWorkerProcessesPassthroughFrame(t *testing.T) {
	cfg := testConfig()
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-daemon-test-worker", capacity, capacity)
	require.NoError(t, err)

	s := CreateSession(2, control.EffectPassthrough, cfg)
	require.NoError(t, s.OpenSession(pair))
	require.NoError(t, s.StartSession())
	defer s.DestroySession()

	blockSize := cfg.BufferBytes()
	in := make([]byte, blockSize)
	for i := range in {
		in[i] = byte(i)
	}
	require.EqualValues(t, blockSize, pair.InputRing.Write(in))
	require.NoError(t, pair.EventFdIn.Signal())

	woke, err := pair.EventFdOut.Wait(2 * time.Second)
	require.NoError(t, err)
	require.True(t, woke, "worker should have processed and signaled within 2s")

	out := make([]byte, blockSize)
	require.EqualValues(t, blockSize, pair.OutputRing.Read(out))
	assert.Equal(t, in, out)

	snap := s.Stats.Snapshot()
	assert.EqualValues(t, cfg.FramesPerBuffer, snap.ProcessedFrames)
}

func TestKaraokeCancelsCenterChannel(t *testing.T) {
	cfg := testConfig()
	cap := karaokeCapability{}
	ctx, err := cap.Init(cfg)
	require.NoError(t, err)

	// Two stereo frames: first has L==R (pure center, must cancel to 0);
	// second has L=1000,R=0 (hard-panned left, survives).
	in := make([]byte, 8)
	putS16(in, 0, 500)
	putS16(in, 2, 500)
	putS16(in, 4, 1000)
	putS16(in, 6, 0)

	out := make([]byte, 8)
	cap.Process(ctx, in, out, 2, 4)

	assert.EqualValues(t, 0, getS16(out, 0))
	assert.EqualValues(t, 0, getS16(out, 2))
	assert.EqualValues(t, 500, getS16(out, 4))
	assert.EqualValues(t, 500, getS16(out, 6))
}

func TestNoiseGateZeroesBelowFloor(t *testing.T) {
	cap := noiseReductionCapability{}
	cfg := testConfig()
	ctx, err := cap.Init(cfg)
	require.NoError(t, err)

	in := make([]byte, 4)
	putS16(in, 0, 100)  // below floor
	putS16(in, 2, 5000) // above floor

	out := make([]byte, 4)
	cap.Process(ctx, in, out, 1, 4)

	assert.EqualValues(t, 0, getS16(out, 0))
	assert.EqualValues(t, 5000, getS16(out, 2))
}

func TestSetParamRetunesNoiseFloor(t *testing.T) {
	cfg := testConfig()
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-daemon-test-setparam", capacity, capacity)
	require.NoError(t, err)

	s := CreateSession(3, control.EffectNoiseReduction, cfg)
	require.NoError(t, s.OpenSession(pair))
	defer s.DestroySession()

	// Raise the floor above 5000 so a sample the default gate passes is
	// now zeroed.
	floor := []byte{0x89, 0x13, 0x00, 0x00} // 5001 little-endian
	res := s.SetParam(control.SetParamRequest{SessionID: 3, Key: ParamNoiseFloor, Value: floor})
	require.Equal(t, errs.OK, res)

	in := make([]byte, 4)
	putS16(in, 0, 5000)
	putS16(in, 2, 6000)
	out := make([]byte, 4)
	s.capability.Process(s.dspCtx, in, out, 1, 4)
	assert.EqualValues(t, 0, getS16(out, 0))
	assert.EqualValues(t, 6000, getS16(out, 2))
}

func TestSetParamUnknownKeyRejected(t *testing.T) {
	cfg := testConfig()
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-daemon-test-setparam-bad", capacity, capacity)
	require.NoError(t, err)

	s := CreateSession(4, control.EffectNoiseReduction, cfg)
	require.NoError(t, s.OpenSession(pair))
	defer s.DestroySession()

	res := s.SetParam(control.SetParamRequest{SessionID: 4, Key: "bogus", Value: []byte{1, 2, 3, 4}})
	assert.Equal(t, errs.NotSupported, res)
}

func TestSetParamNotSupportedForPassthrough(t *testing.T) {
	cfg := testConfig()
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-daemon-test-setparam-pt", capacity, capacity)
	require.NoError(t, err)

	s := CreateSession(5, control.EffectPassthrough, cfg)
	require.NoError(t, s.OpenSession(pair))
	defer s.DestroySession()

	res := s.SetParam(control.SetParamRequest{SessionID: 5, Key: ParamNoiseFloor, Value: []byte{0, 1, 0, 0}})
	assert.Equal(t, errs.NotSupported, res)
}

func TestLookupFallsBackToPassthrough(t *testing.T) {
	c := Lookup(control.EffectType(999))
	_, ok := c.(passthroughCapability)
	assert.True(t, ok)
}

func putS16(b []byte, off int, v int16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func getS16(b []byte, off int) int16 {
	return int16(uint16(b[off]) | uint16(b[off+1])<<8)
}
