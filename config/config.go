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

// Package config holds the audio format descriptor shared between a
// session's two endpoints, plus the timing and sizing constants the
// transport is normatively built around.
package config

import "time"

// PCM sample formats, named by bit depth to match the wire contract.
const (
	FormatPCM16 = 16
	FormatPCM32 = 32
)

// AudioConfig is agreed between client and daemon at Open and never
// renegotiated within a session.
type AudioConfig struct {
	SampleRate      uint32
	Channels        uint32
	Format          uint32 // FormatPCM16 or FormatPCM32
	FramesPerBuffer uint32
}

// BytesPerFrame returns Channels times the sample width in bytes.
func (c AudioConfig) BytesPerFrame() uint32 {
	bytesPerSample := uint32(4)
	if c.Format == FormatPCM16 {
		bytesPerSample = 2
	}
	return c.Channels * bytesPerSample
}

// BufferBytes returns FramesPerBuffer * BytesPerFrame(), the size of one
// native DSP processing block.
func (c AudioConfig) BufferBytes() uint32 {
	return c.FramesPerBuffer * c.BytesPerFrame()
}

// Timing and sizing constants both endpoints must agree on.
const (
	// ProcessTimeout is the hard ceiling for Process's eventFdOut wait.
	ProcessTimeout = 20 * time.Millisecond

	// WorkerHeartbeat is the daemon worker's poll interval while idle.
	WorkerHeartbeat = 100 * time.Millisecond

	// DefaultRingCapacity is the default per-direction ring size.
	DefaultRingCapacity = 1 << 20 // 1 MiB

	// DefaultAgingThreshold is the sustained-timeout count at which a
	// session latches into permanent passthrough.
	DefaultAgingThreshold = 100

	// DefaultLatencyWindow bounds the number of recent Process latencies
	// retained for the p95 estimator.
	DefaultLatencyWindow = 256
)

// MinRingCapacity returns the smallest legal ring capacity for cfg: four
// native DSP blocks, so one in-flight block never starves the producer.
func MinRingCapacity(cfg AudioConfig) uint32 {
	return cfg.BufferBytes() * 4
}
