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

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
)

func TestLegalTransitionSequence(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, Idle, sm.State())

	require.NoError(t, sm.Transition(Opened))
	require.NoError(t, sm.Transition(Started))
	require.NoError(t, sm.Transition(Stopped))
	assert.Equal(t, Stopped, sm.State())
}

func TestIllegalTransitionReturnsInvalidState(t *testing.T) {
	sm := NewStateMachine()
	err := sm.Transition(Started)
	require.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, Idle, sm.State())
}

func TestFailIsReachableFromAnyState(t *testing.T) {
	sm := NewStateMachine()
	sm.Fail()
	assert.Equal(t, Error, sm.State())

	sm2 := NewStateMachine()
	require.NoError(t, sm2.Transition(Opened))
	require.NoError(t, sm2.Transition(Started))
	sm2.Fail()
	assert.Equal(t, Error, sm2.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "OPENED", Opened.String())
	assert.Equal(t, "STARTED", Started.String())
	assert.Equal(t, "STOPPED", Stopped.String())
	assert.Equal(t, "ERROR", Error.String())
}

func TestEffectTypeString(t *testing.T) {
	assert.Equal(t, "KARAOKE", EffectKaraoke.String())
	assert.Equal(t, "NOISE_REDUCTION", EffectNoiseReduction.String())
	assert.Equal(t, "PASSTHROUGH", EffectPassthrough.String())
}

func TestSetParamRequestWireRoundTrip(t *testing.T) {
	req := SetParamRequest{
		SessionID: 7,
		Key:       "noise_floor",
		Value:     []byte{0x00, 0x02, 0x00, 0x00},
	}
	encoded, err := req.MarshalBinary()
	require.NoError(t, err)

	var decoded SetParamRequest
	require.NoError(t, decoded.UnmarshalBinary(encoded))
	assert.Equal(t, req, decoded)
}

func TestSetParamRequestRejectsTruncated(t *testing.T) {
	req := SetParamRequest{SessionID: 1, Key: "gain_db", Value: []byte{9}}
	encoded, err := req.MarshalBinary()
	require.NoError(t, err)

	var decoded SetParamRequest
	require.Error(t, decoded.UnmarshalBinary(encoded[:len(encoded)-1]))
	require.Error(t, decoded.UnmarshalBinary(encoded[:4]))
}

func TestNewSessionStartsIdleWithStats(t *testing.T) {
	s := NewSession(1, EffectKaraoke, config.AudioConfig{
		SampleRate:      48000,
		Channels:        2,
		Format:          config.FormatPCM16,
		FramesPerBuffer: 480,
	})
	assert.Equal(t, Idle, s.StateMachine.State())
	require.NotNil(t, s.Stats)
	assert.Nil(t, s.Transport)
}
