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

// Package workerpool supervises the long-lived, non-real-time worker
// goroutines that drive each effect session's processing loop in the
// daemon. Unlike a bursty task pool, a session worker runs for the whole
// Started/Stopped lifetime of its session and blocks on an event-signal
// wait between iterations, so there is no benefit to recycling goroutines
// across sessions; what is worth sharing is panic recovery and a way for
// the daemon to wait for every worker to drain on shutdown.
package workerpool

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Group supervises a set of named long-running worker goroutines.
type Group struct {
	name string

	running      int32
	panicHandler func(ctx context.Context, name string, r interface{})

	wg sync.WaitGroup
}

// New creates a worker group identified by name (used only in default
// panic log lines).
func New(name string) *Group {
	return &Group{name: name}
}

// SetPanicHandler overrides the default panic handling, which otherwise
// logs via log.Printf and the recovered goroutine's stack.
func (g *Group) SetPanicHandler(f func(ctx context.Context, name string, r interface{})) {
	g.panicHandler = f
}

// Go starts f in a new supervised goroutine under the given worker name
// (typically "session-<id>"). f is expected to run until ctx is done or
// its own stop condition is reached; Go does not enforce either.
func (g *Group) Go(ctx context.Context, name string, f func()) {
	atomic.AddInt32(&g.running, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer atomic.AddInt32(&g.running, -1)
		defer func() {
			if r := recover(); r != nil {
				if g.panicHandler != nil {
					g.panicHandler(ctx, name, r)
				} else {
					log.Printf("workerpool[%s]: worker %q panicked: %v: %s", g.name, name, r, debug.Stack())
				}
			}
		}()
		f()
	}()
}

// Running returns the number of currently active supervised workers.
func (g *Group) Running() int32 {
	return atomic.LoadInt32(&g.running)
}

// Wait blocks until every worker started via Go has returned. Callers use
// this during a graceful daemon shutdown, after every session has been
// asked to stop.
func (g *Group) Wait() {
	g.wg.Wait()
}
