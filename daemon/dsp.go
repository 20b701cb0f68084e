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
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/control"
	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
)

// Capability is the init/process/destroy trio every DSP library plugs into
// the worker loop through. It decouples the worker from any one effect
// implementation so Karaoke, NoiseReduction, and future effect types share
// one call site.
type Capability interface {
	// Init prepares per-session state (e.g. filter coefficients) for cfg
	// and returns an opaque context handed back on every Process call.
	Init(cfg config.AudioConfig) (interface{}, error)
	// Process transforms exactly frames*bytesPerFrame bytes from in into
	// out. It must not retain references to in or out past the call.
	Process(ctx interface{}, in, out []byte, frames, bytesPerFrame uint32)
	// Destroy releases ctx. Called once, at session teardown.
	Destroy(ctx interface{})
}

// ParamReceiver is implemented by capabilities with runtime-tunable
// parameters. Capabilities without one reject setParam with NotSupported.
type ParamReceiver interface {
	SetParam(ctx interface{}, key string, value []byte) error
}

// registry is the process-wide table of known capabilities, keyed by
// EffectType. It is extensible: Register adds entries beyond the built-ins
// installed by init.
var (
	registryMu sync.RWMutex
	registry   = map[control.EffectType]Capability{}
)

func init() {
	Register(control.EffectPassthrough, passthroughCapability{})
	Register(control.EffectKaraoke, karaokeCapability{})
	Register(control.EffectNoiseReduction, noiseReductionCapability{})
}

// Register installs (or replaces) the capability bound to effectType.
func Register(effectType control.EffectType, cap Capability) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[effectType] = cap
}

// Lookup returns the capability bound to effectType. Passthrough is the
// default when nothing is registered, so a session with an unknown effect
// type still produces audio.
func Lookup(effectType control.EffectType) Capability {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if c, ok := registry[effectType]; ok {
		return c
	}
	return passthroughCapability{}
}

// passthroughCapability copies input to output unchanged.
type passthroughCapability struct{}

func (passthroughCapability) Init(config.AudioConfig) (interface{}, error) { return nil, nil }

func (passthroughCapability) Process(_ interface{}, in, out []byte, frames, bytesPerFrame uint32) {
	copy(out[:frames*bytesPerFrame], in[:frames*bytesPerFrame])
}

func (passthroughCapability) Destroy(interface{}) {}

// karaokeCapability implements simple center-channel elimination on
// interleaved stereo PCM: out_L = out_R = (L - R) / 2. Most lead vocals
// are mixed center and cancel. Init rejects any channel count other than
// two, so a non-stereo session fails to open.
type karaokeCapability struct{}

func (karaokeCapability) Init(cfg config.AudioConfig) (interface{}, error) {
	if cfg.Channels != 2 {
		return nil, fmt.Errorf("karaoke: requires stereo input, got %d channels", cfg.Channels)
	}
	return cfg, nil
}

func (karaokeCapability) Process(ctx interface{}, in, out []byte, frames, bytesPerFrame uint32) {
	cfg, ok := ctx.(config.AudioConfig)
	if !ok || cfg.Channels != 2 {
		copy(out[:frames*bytesPerFrame], in[:frames*bytesPerFrame])
		return
	}
	if cfg.Format == config.FormatPCM16 {
		karaokeS16(in, out, frames)
	} else {
		karaokeS32(in, out, frames)
	}
}

func (karaokeCapability) Destroy(interface{}) {}

func karaokeS16(in, out []byte, frames uint32) {
	for i := uint32(0); i < frames; i++ {
		off := i * 4
		l := int16(binary.LittleEndian.Uint16(in[off : off+2]))
		r := int16(binary.LittleEndian.Uint16(in[off+2 : off+4]))
		mono := int16((int32(l) - int32(r)) / 2)
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(mono))
		binary.LittleEndian.PutUint16(out[off+2:off+4], uint16(mono))
	}
}

func karaokeS32(in, out []byte, frames uint32) {
	for i := uint32(0); i < frames; i++ {
		off := i * 8
		l := int32(binary.LittleEndian.Uint32(in[off : off+4]))
		r := int32(binary.LittleEndian.Uint32(in[off+4 : off+8]))
		mono := int32((int64(l) - int64(r)) / 2)
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(mono))
		binary.LittleEndian.PutUint32(out[off+4:off+8], uint32(mono))
	}
}

// noiseReductionCapability is a minimal noise gate: samples whose absolute
// value falls below the gate floor are zeroed, samples above pass through
// unchanged. The floor is tunable at runtime via the "noise_floor" param
// (little-endian int32, in the session's sample scale). A production
// deployment would bind a real spectral noise reduction library in its
// place via Register.
type noiseReductionCapability struct{}

const (
	// ParamNoiseFloor is the noise gate's setParam key.
	ParamNoiseFloor = "noise_floor"

	defaultNoiseFloorS16 = 256 // ~-42 dBFS at 16-bit full scale
	defaultNoiseFloorS32 = 256 << 16
)

// noiseGateState is one session's gate: the negotiated format plus the
// current floor, atomic because the worker reads it mid-block while a
// control thread may be retuning it.
type noiseGateState struct {
	cfg   config.AudioConfig
	floor atomic.Int32
}

func (noiseReductionCapability) Init(cfg config.AudioConfig) (interface{}, error) {
	st := &noiseGateState{cfg: cfg}
	if cfg.Format == config.FormatPCM16 {
		st.floor.Store(defaultNoiseFloorS16)
	} else {
		st.floor.Store(defaultNoiseFloorS32)
	}
	return st, nil
}

func (noiseReductionCapability) Process(ctx interface{}, in, out []byte, frames, bytesPerFrame uint32) {
	st, ok := ctx.(*noiseGateState)
	if !ok {
		copy(out[:frames*bytesPerFrame], in[:frames*bytesPerFrame])
		return
	}
	total := frames * bytesPerFrame
	floor := st.floor.Load()
	if st.cfg.Format == config.FormatPCM16 {
		gateS16(in[:total], out[:total], int16(floor))
	} else {
		gateS32(in[:total], out[:total], floor)
	}
}

func (noiseReductionCapability) SetParam(ctx interface{}, key string, value []byte) error {
	st, ok := ctx.(*noiseGateState)
	if !ok {
		return errs.ErrInvalidState
	}
	if key != ParamNoiseFloor {
		return errs.ErrNotSupported
	}
	if len(value) != 4 {
		return errs.ErrInvalidArguments
	}
	floor := int32(binary.LittleEndian.Uint32(value))
	if floor < 0 {
		return errs.ErrInvalidArguments
	}
	st.floor.Store(floor)
	return nil
}

func (noiseReductionCapability) Destroy(interface{}) {}

func gateS16(in, out []byte, floor int16) {
	for off := 0; off+2 <= len(in); off += 2 {
		s := int16(binary.LittleEndian.Uint16(in[off : off+2]))
		if s > -floor && s < floor {
			s = 0
		}
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(s))
	}
}

func gateS32(in, out []byte, floor int32) {
	for off := 0; off+4 <= len(in); off += 4 {
		s := int32(binary.LittleEndian.Uint32(in[off : off+4]))
		if s > -floor && s < floor {
			s = 0
		}
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(s))
	}
}
