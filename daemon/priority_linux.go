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

//go:build linux

package daemon

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// workerNiceness is a modest priority boost (negative = higher priority).
// A full SCHED_FIFO policy switch would need CAP_SYS_NICE and is not
// expressible per-goroutine anyway; a nice-level reduction on the pinned
// thread is the portable best effort.
const workerNiceness = -5

// tryRaiseWorkerPriority pins the worker goroutine to its OS thread and
// attempts to raise that thread's scheduling priority. Failure (most
// commonly due to missing privilege) is not fatal: the worker loop still
// functions correctly at default priority, just with looser latency
// bounds.
func tryRaiseWorkerPriority() {
	runtime.LockOSThread()
	_ = unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), workerNiceness)
}
