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

// Package stats accumulates per-session latency and throughput counters
// for both the client and daemon sides of a transport pair. Accumulator
// keeps a bounded sample window (see stats/latencywindow) and computes a
// true nearest-rank p95 rather than reusing the running max as a stand-in.
package stats

import (
	"sync"
	"time"

	"github.com/Yang-QZ/dynamic-library-call-separation/config"
	"github.com/Yang-QZ/dynamic-library-call-separation/stats/latencywindow"
)

// emaWeight is the exponential moving average weight for avgLatencyUs.
const emaWeight = 0.1

// Snapshot is an immutable copy of an Accumulator's counters, safe to hand
// to a caller (e.g. a queryStats response) without further synchronization.
type Snapshot struct {
	ProcessedFrames uint64
	DroppedFrames   uint64
	AvgLatencyUs    uint32
	P95LatencyUs    uint32
	MaxLatencyUs    uint32
	TimeoutCount    uint32
	XrunCount       uint32
}

// Accumulator is a single session's stats record. All methods are safe
// for concurrent use; the mutex is a short leaf lock, never held across a
// ring or eventfd operation. The sole contention on it is a Process call
// racing an occasional QueryStats snapshot, so a Process-side update
// waits at most behind one Snapshot, which copies and sorts the bounded
// latency window while holding the lock.
type Accumulator struct {
	mu sync.Mutex

	processedFrames uint64
	droppedFrames   uint64
	avgLatencyUs    uint32
	avgInitialized  bool
	maxLatencyUs    uint32
	timeoutCount    uint32
	xrunCount       uint32

	window *latencywindow.Window
}

// New returns an Accumulator whose p95 estimate is drawn from the last
// windowCapacity latency samples.
func New(windowCapacity int) *Accumulator {
	if windowCapacity <= 0 {
		windowCapacity = config.DefaultLatencyWindow
	}
	return &Accumulator{window: latencywindow.New(windowCapacity)}
}

// RecordLatency folds a single (now - t_at_step_c) observation into the
// EMA, max, and percentile window.
func (a *Accumulator) RecordLatency(d time.Duration) {
	us := durationToSaturatedUs(d)

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.avgInitialized {
		a.avgLatencyUs = us
		a.avgInitialized = true
	} else {
		a.avgLatencyUs = uint32(float64(a.avgLatencyUs)*(1-emaWeight) + float64(us)*emaWeight)
	}
	if us > a.maxLatencyUs {
		a.maxLatencyUs = us
	}
	a.window.Add(us)
}

// AddProcessedFrames saturates at the u64 max.
func (a *Accumulator) AddProcessedFrames(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processedFrames = saturatingAddU64(a.processedFrames, n)
}

// AddDroppedFrames saturates at the u64 max.
func (a *Accumulator) AddDroppedFrames(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.droppedFrames = saturatingAddU64(a.droppedFrames, n)
}

// IncrTimeout increments the distinct-eventFdOut-expiration counter,
// saturating at the u32 max.
func (a *Accumulator) IncrTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeoutCount = saturatingAddU32(a.timeoutCount, 1)
}

// IncrXrun increments the distinct full-ring-event counter, saturating at
// the u32 max.
func (a *Accumulator) IncrXrun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.xrunCount = saturatingAddU32(a.xrunCount, 1)
}

// Snapshot returns a consistent copy of all counters.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ProcessedFrames: a.processedFrames,
		DroppedFrames:   a.droppedFrames,
		AvgLatencyUs:    a.avgLatencyUs,
		P95LatencyUs:    a.window.Percentile(95),
		MaxLatencyUs:    a.maxLatencyUs,
		TimeoutCount:    a.timeoutCount,
		XrunCount:       a.xrunCount,
	}
}

// Reset zeros all counters and drops latency history.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processedFrames = 0
	a.droppedFrames = 0
	a.avgLatencyUs = 0
	a.avgInitialized = false
	a.maxLatencyUs = 0
	a.timeoutCount = 0
	a.xrunCount = 0
	a.window.Reset()
}

func durationToSaturatedUs(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	us := d.Microseconds()
	if us > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(us)
}

func saturatingAddU64(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

func saturatingAddU32(a, b uint32) uint32 {
	sum := a + b
	if sum < a {
		return ^uint32(0)
	}
	return sum
}
