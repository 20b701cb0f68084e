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

package shmregion

import "golang.org/x/sys/unix"

// openAshmem opens the legacy Android ashmem device, sizing the fd with
// ftruncate rather than the ASHMEM_SET_SIZE ioctl so the call sequence
// stays the same across all three backends.
func openAshmem(name string, size int64) (int, error) {
	fd, err := unix.Open("/dev/ashmem", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
