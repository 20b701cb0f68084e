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

// Package bufpool provides size-classed, sync.Pool-backed scratch buffers
// for the effect daemon's non-real-time worker loop. Each session's worker
// iteration needs an inBuf/outBuf pair sized to framesPerBuffer*bytesPerFrame;
// drawing them from here instead of a fresh make([]byte, n) per iteration
// keeps the worker out of the allocator on the hot path, without requiring
// the real-time discipline the client-side Process path needs.
package bufpool

import (
	"math/bits"
	"sync"
	"unsafe"
)

type sizedPool struct {
	sync.Pool

	Size int
}

var pools []*sizedPool

const (
	minPoolSize = 4 << 10   // 4KB, Malloc returns buf with cap >= this
	maxPoolSize = 128 << 20 // 128MB, Malloc panics above this
)

const (
	// footer is a [8]byte placed past the end of every pooled buffer's
	// capacity: magic (58 bits) + pool index (6 bits). Using a footer
	// instead of a header means Free is safe regardless of how the slice
	// was reshaped by the caller, as long as cap/footer bytes survive.
	footerLen = 8

	footerMagicMask = uint64(0xFFFFFFFFFFFFFFC0)
	footerIndexMask = uint64(0x000000000000003F)
	footerMagic     = uint64(0xA0D10F5EFFEC7CC0)
)

// sizeToIdx maps bits.Len(size) to the index of `pools`.
var sizeToIdx [64]int

func init() {
	i := 0
	for sz := minPoolSize; sz <= maxPoolSize; sz <<= 1 {
		p := &sizedPool{Size: sz}
		p.New = func() interface{} {
			b := make([]byte, 0, p.Size)
			b = b[:p.Size]
			return &b[0]
		}
		pools = append(pools, p)
		sizeToIdx[bits.Len(uint(p.Size))] = i
		i++
	}
}

func poolIndex(sz int) int {
	if sz <= minPoolSize {
		return 0
	}
	i := sizeToIdx[bits.Len(uint(sz))]
	if uint(sz)&(uint(sz)-1) == 0 {
		return i
	}
	return i + 1
}

type sliceHeader struct {
	Data unsafe.Pointer
	Len  int
	Cap  int
}

// Malloc returns a []byte of length size drawn from the matching size
// class's pool. The contents are not zeroed. Call Free once the buffer is
// no longer needed; do not reuse it afterward.
func Malloc(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	if size > maxPoolSize-footerLen {
		panic("bufpool: size exceeds maxPoolSize")
	}
	c := size + footerLen
	i := poolIndex(c)
	pool := pools[i]
	p := pool.Get().(*byte)

	ret := []byte{}
	h := (*sliceHeader)(unsafe.Pointer(&ret))
	h.Data = unsafe.Pointer(p)
	h.Len = size
	h.Cap = pool.Size

	*(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen)) = footerMagic | uint64(i)
	return ret
}

// Cap returns the full capacity a buf returned by Malloc may be resliced to.
func Cap(buf []byte) int {
	if cap(buf)-len(buf) < footerLen || getFooter(buf)&footerMagicMask != footerMagic {
		panic("bufpool: buf was not allocated by this package or its len/cap changed")
	}
	return cap(buf) - footerLen
}

// Free returns buf to its size-class pool. It is a no-op if buf was not
// allocated by Malloc, so it is always safe to call.
func Free(buf []byte) {
	c := cap(buf)
	if c < minPoolSize {
		return
	}
	if uint(c)&uint(c-1) != 0 {
		return
	}
	size := len(buf)
	if c-size < footerLen {
		return
	}
	footer := getFooter(buf)
	if footer&footerMagicMask != footerMagic {
		return
	}
	i := int(footer & footerIndexMask)
	if i < len(pools) {
		if p := pools[i]; p.Size == c {
			p.Put(&buf[0])
		}
	}
}

func getFooter(buf []byte) uint64 {
	h := (*sliceHeader)(unsafe.Pointer(&buf))
	return *(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen))
}
