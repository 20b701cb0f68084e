/*
 * Copyright 2024 CloudWeGo Authors
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

// Package latencywindow holds a fixed-capacity, GC-friendly ring of the
// most recent latency samples (one malloc, never resized) and reports a
// true order-statistic percentile over it, rather than approximating one
// with a running maximum.
package latencywindow

import "sort"

// Window is a fixed-size ring buffer of uint32 microsecond samples.
type Window struct {
	samples []uint32
	next    int
	filled  bool
}

// New returns a window that retains the most recent capacity samples.
func New(capacity int) *Window {
	if capacity <= 0 {
		panic("latencywindow: capacity must be positive")
	}
	return &Window{samples: make([]uint32, capacity)}
}

// Add records a new sample, evicting the oldest once the window is full.
func (w *Window) Add(v uint32) {
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// Len returns the number of samples currently held (<= capacity).
func (w *Window) Len() int {
	if w.filled {
		return len(w.samples)
	}
	return w.next
}

// Percentile returns the p-th percentile (0 < p <= 100) of the samples
// currently held, using nearest-rank interpolation. Returns 0 if the
// window is empty. The window's own storage is never sorted in place;
// Percentile allocates a scratch copy so concurrent Add calls from a
// single writer are not disturbed by concurrent Percentile calls from a
// reader holding the same lock the caller already serializes with.
func (w *Window) Percentile(p float64) uint32 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	scratch := make([]uint32, n)
	copy(scratch, w.samples[:n])
	sort.Slice(scratch, func(i, j int) bool { return scratch[i] < scratch[j] })

	rank := int(p/100*float64(n) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return scratch[rank-1]
}

// Reset clears the window back to empty.
func (w *Window) Reset() {
	w.next = 0
	w.filled = false
}
