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

// Package integration_test wires a client session.Session and a daemon
// daemon.Session onto the same transport.Pair, standing in for the
// out-of-scope RPC layer that would otherwise carry a Transport Descriptor
// and fds between two real processes. It covers the end-to-end behaviors
// no single package's own tests can exercise alone: a full Process round
// trip through a live worker, and a daemon stall forcing the client into
// passthrough within the hard deadline.
package integration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/daemon"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/session"
	"github.com/Yang-QZ/dynamic-library-call-separation/transport"
)

func testConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:      48000,
		Channels:        2,
		Format:          config.FormatPCM16,
		FramesPerBuffer: 480,
	}
}

// capturingOpener stands in for the out-of-scope RPC layer: it opens one
// transport.Pair and hands the same object to both the client session and
// the daemon session, the same way a real descriptor exchange would let
// each side reconstruct mappings onto the one underlying shared region.
type capturingOpener struct {
	pair *transport.Pair
}

func (o *capturingOpener) Open(effectType control.EffectType, cfg config.AudioConfig) (*transport.Pair, uint32, error) {
	capacity := config.MinRingCapacity(cfg) * 4
	pair, err := transport.Open("effect-integration-test", capacity, capacity)
	if err != nil {
		return nil, 0, err
	}
	o.pair = pair
	return pair, 1, nil
}

// With a live passthrough daemon worker draining the input ring, Process
// returns OK and output equals input.
func TestProcessHappyPathRoundTrip(t *testing.T) {
	cfg := testConfig()
	opener := &capturingOpener{}

	cli, err := session.Open(opener, control.EffectPassthrough, cfg, 3)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	require.NoError(t, cli.Start())

	srv := daemon.CreateSession(1, control.EffectPassthrough, cfg)
	require.NoError(t, srv.OpenSession(opener.pair))
	require.NoError(t, srv.StartSession())
	t.Cleanup(func() { srv.DestroySession() })

	n := cfg.FramesPerBuffer * cfg.BytesPerFrame()
	in := make([]byte, n)
	for i := range in {
		in[i] = byte(i)
	}
	out := make([]byte, n)

	var code errs.ResultCode
	require.Eventually(t, func() bool {
		code = cli.Process(in, out, cfg.FramesPerBuffer)
		return code == errs.OK
	}, 2*time.Second, 5*time.Millisecond, "worker should have drained a processed frame within 2s")

	assert.Equal(t, errs.OK, code)
	assert.Equal(t, in, out)

	snap := cli.QueryStats()
	assert.GreaterOrEqual(t, snap.ProcessedFrames, uint64(cfg.FramesPerBuffer))
}

// A daemon that never starts its worker never drains the input ring or
// signals eventFdOut, so Process must time out within the deadline plus
// bounded copy time, fall back to passthrough, and bump the client's
// timeout counter -- never DeadObject; only control calls report a dead
// peer.
func TestProcessUnderDaemonStall(t *testing.T) {
	cfg := testConfig()
	opener := &capturingOpener{}

	cli, err := session.Open(opener, control.EffectPassthrough, cfg, 3)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	require.NoError(t, cli.Start())

	srv := daemon.CreateSession(1, control.EffectPassthrough, cfg)
	require.NoError(t, srv.OpenSession(opener.pair))
	// Deliberately never StartSession: no worker drains the input ring or
	// signals eventFdOut, simulating a wedged or crashed daemon.
	t.Cleanup(func() { srv.DestroySession() })

	n := cfg.FramesPerBuffer * cfg.BytesPerFrame()
	in := make([]byte, n)
	for i := range in {
		in[i] = byte(i)
	}
	out := make([]byte, n)

	start := time.Now()
	code := cli.Process(in, out, cfg.FramesPerBuffer)
	elapsed := time.Since(start)

	assert.Equal(t, errs.Timeout, code)
	assert.NotEqual(t, errs.DeadObject, code)
	assert.Equal(t, in, out)
	assert.LessOrEqual(t, elapsed, config.ProcessTimeout+50*time.Millisecond)

	snap := cli.QueryStats()
	assert.EqualValues(t, 1, snap.TimeoutCount)
}

// Sustained stalls must latch the session into permanent passthrough
// without the client ever inspecting daemon liveness itself.
func TestAgingFallbackLatchesAcrossRealTransport(t *testing.T) {
	cfg := testConfig()
	opener := &capturingOpener{}

	cli, err := session.Open(opener, control.EffectPassthrough, cfg, 2)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	require.NoError(t, cli.Start())

	n := cfg.FramesPerBuffer * cfg.BytesPerFrame()
	in := make([]byte, n)
	out := make([]byte, n)

	for i := 0; i < 2; i++ {
		code := cli.Process(in, out, cfg.FramesPerBuffer)
		assert.Equal(t, errs.Timeout, code)
	}

	// A third call should still report Timeout, now via the latched fast
	// path rather than a fresh ring write/wait/read.
	code := cli.Process(in, out, cfg.FramesPerBuffer)
	assert.Equal(t, errs.Timeout, code)
	assert.Equal(t, in, out)
}
