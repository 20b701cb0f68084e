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

// Package sysfd wraps the handful of Linux syscalls the shared-memory
// transport needs that the standard library does not expose directly:
// memfd_create(2) for anonymous shared memory, eventfd2(2) for the wake
// primitive, and a thin poll(2) wrapper for bounded waits. Each concern
// gets its own small internal package, the way internal/iouring wraps
// io_uring_setup/io_uring_enter for that subsystem.
package sysfd

import (
	"time"

	"golang.org/x/sys/unix"
)

// MemfdCreate creates an anonymous, file-backed shared memory region via
// memfd_create(2) and sizes it to size bytes. The returned fd is
// close-on-exec; the caller mmaps it with PROT_READ|PROT_WRITE|MAP_SHARED.
func MemfdCreate(name string, size int64) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ShmOpenAnonymous opens (and immediately unlinks) a POSIX named shared
// memory object under /dev/shm, sizing it to size bytes. It is the last
// resort in the shared-memory backend probe order, for kernels without
// memfd_create.
func ShmOpenAnonymous(name string, size int64) (int, error) {
	path := "/dev/shm/" + name
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, err
	}
	// Unlink immediately: the fd keeps the backing pages alive for as long
	// as the mapping/fd is referenced, but no named path survives for a
	// third process to race against.
	_ = unix.Unlink(path)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// EventfdCreate creates a non-blocking eventfd with an initial counter
// value of 0.
func EventfdCreate() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// EventfdSignal increments the eventfd's counter by 1. It performs a
// single write(2) syscall and does not allocate; safe to call from a
// real-time thread.
func EventfdSignal(fd int) error {
	var val [8]byte
	val[0] = 1
	_, err := unix.Write(fd, val[:])
	return err
}

// EventfdWait blocks on fd via poll(2) for up to timeout, then drains the
// counter. timeout==0 means non-blocking poll (poll(2) returns
// immediately). A negative timeout blocks indefinitely.
// Returns true if the fd became readable and was drained, false on
// timeout. Any other poll/read error is returned.
func EventfdWait(fd int, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		break
	}
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			// Another waiter (shouldn't happen for SPSC direction, but
			// tolerate it) drained it first; treat as a spurious timeout.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Mmap maps size bytes of fd at the given offset, read/write, shared.
func Mmap(fd int, offset int64, size int) ([]byte, error) {
	return unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Munmap unmaps a region previously returned by Mmap.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}
