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

// Package shmregion creates and maps the single anonymous shared-memory
// mapping that hosts both directions of a transport pair's ring headers
// and backing byte arrays. Backend selection is platform-probed: it tries
// an anonymous-file-backed API first, an ashmem-style device on Android,
// and finally named POSIX shared memory with an immediate unlink.
package shmregion

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/internal/sysfd"
)

// Backend identifies which platform primitive backed a Region, mostly for
// diagnostics; callers should not branch on it.
type Backend int

const (
	BackendMemfd Backend = iota
	BackendAshmem
	BackendShmOpen
	// BackendAttached marks a region reconstructed from a peer's fd; which
	// primitive originally backed it is the creator's business.
	BackendAttached
)

func (b Backend) String() string {
	switch b {
	case BackendMemfd:
		return "memfd"
	case BackendAshmem:
		return "ashmem"
	case BackendShmOpen:
		return "shm_open"
	case BackendAttached:
		return "attached"
	default:
		return "unknown"
	}
}

// Region is a single shared memory mapping plus its owning file descriptor.
// The zero value is not usable; construct with Create.
type Region struct {
	mu      sync.Mutex
	fd      int
	size    int
	backend Backend
	addr    []byte
	closed  bool
}

// Create allocates an anonymous shared region of size bytes, probing
// backends in the order documented on the package. name is advisory
// (visible in /proc/<pid>/maps on Linux) and never used to race another
// process for a named path: any named backend unlinks its path before
// returning.
func Create(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, errs.ErrInvalidArguments
	}

	fd, backend, err := createBackingFD(name, int64(size))
	if err != nil {
		return nil, fmt.Errorf("shmregion: %w: %v", errs.ErrNoMemory, err)
	}

	return &Region{fd: fd, size: size, backend: backend}, nil
}

// FromFd wraps a backing fd received from a peer (via a Transport
// Descriptor whose fd field the RPC layer has already localized). The
// Region takes ownership of fd and closes it on Close.
func FromFd(fd, size int) (*Region, error) {
	if fd < 0 || size <= 0 {
		return nil, errs.ErrInvalidArguments
	}
	return &Region{fd: fd, size: size, backend: BackendAttached}, nil
}

// createBackingFD tries each backend in probe order and returns the first
// fd that succeeds.
func createBackingFD(name string, size int64) (int, Backend, error) {
	if fd, err := sysfd.MemfdCreate(name, size); err == nil {
		return fd, BackendMemfd, nil
	}

	if runtime.GOOS == "android" {
		if fd, err := openAshmem(name, size); err == nil {
			return fd, BackendAshmem, nil
		}
	}

	fd, err := sysfd.ShmOpenAnonymous(name, size)
	if err != nil {
		return -1, 0, err
	}
	return fd, BackendShmOpen, nil
}

// Map establishes the read/write mapping for the region. It is idempotent:
// calling Map twice without an intervening Unmap returns the existing
// mapping.
func (r *Region) Map() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errs.ErrDeadObject
	}
	if r.addr != nil {
		return r.addr, nil
	}

	addr, err := sysfd.Mmap(r.fd, 0, r.size)
	if err != nil {
		return nil, fmt.Errorf("shmregion: mmap: %w", errs.ErrNoMemory)
	}
	r.addr = addr
	return addr, nil
}

// Unmap releases the mapping established by Map. It is a no-op if the
// region is not currently mapped.
func (r *Region) Unmap() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.addr == nil {
		return nil
	}
	err := sysfd.Munmap(r.addr)
	r.addr = nil
	return err
}

// Size returns the region's byte size.
func (r *Region) Size() int { return r.size }

// Backend reports which platform primitive backs this region.
func (r *Region) Backend() Backend { return r.backend }

// Fd returns the underlying file descriptor, for handle transfer to a
// peer process over the out-of-scope RPC layer (e.g. as ancillary SCM_RIGHTS
// data). The caller must not close it directly; use Close.
func (r *Region) Fd() int { return r.fd }

// Close unmaps (if still mapped) and releases the last reference to the
// backing fd. The region is destroyed once the last fd/mapping referencing
// it is gone, per the platform's own refcounting.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var unmapErr error
	if r.addr != nil {
		unmapErr = sysfd.Munmap(r.addr)
		r.addr = nil
	}
	closeErr := closeFd(r.fd)
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
