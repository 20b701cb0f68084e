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

package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLatencyInitializesAvgDirectly(t *testing.T) {
	a := New(16)
	a.RecordLatency(500 * time.Microsecond)

	snap := a.Snapshot()
	assert.EqualValues(t, 500, snap.AvgLatencyUs)
	assert.EqualValues(t, 500, snap.MaxLatencyUs)
}

func TestRecordLatencyEMA(t *testing.T) {
	a := New(16)
	a.RecordLatency(1000 * time.Microsecond)
	a.RecordLatency(2000 * time.Microsecond)

	snap := a.Snapshot()
	want := uint32(1000*0.9 + 2000*0.1)
	assert.InDelta(t, want, snap.AvgLatencyUs, 1)
}

func TestMaxLatencyIsMonotone(t *testing.T) {
	a := New(16)
	a.RecordLatency(2000 * time.Microsecond)
	a.RecordLatency(500 * time.Microsecond)
	a.RecordLatency(3000 * time.Microsecond)

	assert.EqualValues(t, 3000, a.Snapshot().MaxLatencyUs)
}

func TestCountersSaturate(t *testing.T) {
	a := New(16)
	a.xrunCount = math.MaxUint32 - 1
	a.IncrXrun()
	a.IncrXrun()
	a.IncrXrun()
	assert.EqualValues(t, math.MaxUint32, a.Snapshot().XrunCount)
}

func TestProcessedFramesSaturateAtU64Max(t *testing.T) {
	a := New(16)
	a.processedFrames = math.MaxUint64 - 5
	a.AddProcessedFrames(10)
	assert.EqualValues(t, uint64(math.MaxUint64), a.Snapshot().ProcessedFrames)
}

func TestSnapshotReflectsPercentileWindow(t *testing.T) {
	a := New(100)
	for i := uint32(1); i <= 100; i++ {
		a.RecordLatency(time.Duration(i) * time.Microsecond)
	}
	snap := a.Snapshot()
	assert.EqualValues(t, 95, snap.P95LatencyUs)
}

func TestReset(t *testing.T) {
	a := New(16)
	a.RecordLatency(time.Millisecond)
	a.AddProcessedFrames(10)
	a.IncrXrun()
	a.IncrTimeout()
	a.AddDroppedFrames(2)

	a.Reset()
	snap := a.Snapshot()
	require.Zero(t, snap.ProcessedFrames)
	require.Zero(t, snap.DroppedFrames)
	require.Zero(t, snap.AvgLatencyUs)
	require.Zero(t, snap.MaxLatencyUs)
	require.Zero(t, snap.P95LatencyUs)
	require.Zero(t, snap.TimeoutCount)
	require.Zero(t, snap.XrunCount)
}
