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

// Package transport assembles a shared-memory region, two byte rings, and
// two event signals into the bidirectional channel a client session and a
// daemon worker use to exchange audio frames. It also defines the
// Transport Descriptor, the serializable handle bundle an out-of-scope RPC
// layer carries between processes at Open time.
package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/Yang-QZ/dynamic-library-call-separation/errs"
	"github.com/Yang-QZ/dynamic-library-call-separation/eventsignal"
	"github.com/Yang-QZ/dynamic-library-call-separation/ring"
	"github.com/Yang-QZ/dynamic-library-call-separation/shmregion"
)

// FlagSynchronized marks a transport pair as requiring lock-step
// producer/consumer pacing (bit 0 of the descriptor's flags field).
const FlagSynchronized uint32 = 1 << 0

// Descriptor is the on-wire Transport Descriptor: everything a peer
// needs to reconstruct its half of a transport pair. SharedMemoryFd is
// a local file descriptor value; the out-of-scope RPC layer is responsible
// for actually transferring the underlying kernel object (e.g. via
// SCM_RIGHTS ancillary data) and substituting the receiver's own fd number
// before Attach reconstructs mappings from it.
type Descriptor struct {
	SharedMemoryFd     int32
	RegionSize         uint64
	InputRingOffset    uint64
	InputRingCapacity  uint32
	OutputRingOffset   uint64
	OutputRingCapacity uint32
	EventFdInHandle    int32
	EventFdOutHandle   int32
	Flags              uint32
}

const descriptorWireLen = 4 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + 4

// MarshalBinary encodes every descriptor field, including the sender-side
// fd numbers (the kernel objects themselves travel out-of-band as ancillary
// data), into a fixed-length little-endian record, matching the PCM byte
// order used elsewhere in this module.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, descriptorWireLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.SharedMemoryFd))
	binary.LittleEndian.PutUint64(buf[4:12], d.RegionSize)
	binary.LittleEndian.PutUint64(buf[12:20], d.InputRingOffset)
	binary.LittleEndian.PutUint32(buf[20:24], d.InputRingCapacity)
	binary.LittleEndian.PutUint64(buf[24:32], d.OutputRingOffset)
	binary.LittleEndian.PutUint32(buf[32:36], d.OutputRingCapacity)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(d.EventFdInHandle))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(d.EventFdOutHandle))
	binary.LittleEndian.PutUint32(buf[44:48], d.Flags)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. Fd fields
// carry their sender-side values; a transport layer that has already
// substituted receiver-local fd numbers should overwrite SharedMemoryFd,
// EventFdInHandle, and EventFdOutHandle after calling this.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) != descriptorWireLen {
		return fmt.Errorf("transport: %w: descriptor must be %d bytes, got %d", errs.ErrInvalidArguments, descriptorWireLen, len(data))
	}
	d.SharedMemoryFd = int32(binary.LittleEndian.Uint32(data[0:4]))
	d.RegionSize = binary.LittleEndian.Uint64(data[4:12])
	d.InputRingOffset = binary.LittleEndian.Uint64(data[12:20])
	d.InputRingCapacity = binary.LittleEndian.Uint32(data[20:24])
	d.OutputRingOffset = binary.LittleEndian.Uint64(data[24:32])
	d.OutputRingCapacity = binary.LittleEndian.Uint32(data[32:36])
	d.EventFdInHandle = int32(binary.LittleEndian.Uint32(data[36:40]))
	d.EventFdOutHandle = int32(binary.LittleEndian.Uint32(data[40:44]))
	d.Flags = binary.LittleEndian.Uint32(data[44:48])
	return nil
}

// Synchronized reports whether FlagSynchronized is set.
func (d Descriptor) Synchronized() bool {
	return d.Flags&FlagSynchronized != 0
}

// Pair bundles the input ring, output ring, and two event signals backing
// one session's transport. By convention the opener's InputRing is written
// by the client and read by the daemon; OutputRing is the reverse.
type Pair struct {
	Region     *shmregion.Region
	InputRing  *ring.Ring
	OutputRing *ring.Ring
	EventFdIn  *eventsignal.Signal
	EventFdOut *eventsignal.Signal

	inputOffset  uint64
	outputOffset uint64
}

// Region layout: both rings' index headers first, one cache line each,
// then the two payload arrays back to back. The header block offsets are
// fixed by convention; only the payload offsets travel in the Descriptor.
const (
	inputHeaderOffset  = 0
	outputHeaderOffset = ring.HeaderBytes
	payloadOffset      = 2 * ring.HeaderBytes
)

// Open allocates a fresh shared region holding both rings' headers and
// their backing arrays of inputCapacity and outputCapacity bytes, maps
// it, and creates the two event signals. This is the "opener" role
// (typically the daemon); the peer reconstructs its half with Attach.
func Open(name string, inputCapacity, outputCapacity uint32) (*Pair, error) {
	if inputCapacity == 0 || outputCapacity == 0 {
		return nil, errs.ErrInvalidArguments
	}

	regionSize := payloadOffset + int(inputCapacity) + int(outputCapacity)
	region, err := shmregion.Create(name, regionSize)
	if err != nil {
		return nil, err
	}

	addr, err := region.Map()
	if err != nil {
		region.Close()
		return nil, err
	}

	inEventFd, err := eventsignal.Create()
	if err != nil {
		region.Close()
		return nil, err
	}
	outEventFd, err := eventsignal.Create()
	if err != nil {
		inEventFd.Close()
		region.Close()
		return nil, err
	}

	inputOffset := uint64(payloadOffset)
	outputOffset := inputOffset + uint64(inputCapacity)
	return &Pair{
		Region:       region,
		InputRing:    ring.InitShared(addr[inputHeaderOffset:outputHeaderOffset], addr[inputOffset:inputOffset+uint64(inputCapacity)]),
		OutputRing:   ring.InitShared(addr[outputHeaderOffset:payloadOffset], addr[outputOffset:outputOffset+uint64(outputCapacity)]),
		EventFdIn:    inEventFd,
		EventFdOut:   outEventFd,
		inputOffset:  inputOffset,
		outputOffset: outputOffset,
	}, nil
}

// Attach reconstructs the peer half of a transport pair from a
// Descriptor whose fd fields already hold receiver-local descriptors
// (the RPC layer transfers the kernel objects; see Descriptor). The
// attached pair aliases the opener's rings through the shared mapping:
// by convention the client writes InputRing and reads OutputRing, the
// daemon the reverse.
func Attach(d Descriptor) (*Pair, error) {
	if d.InputRingCapacity == 0 || d.OutputRingCapacity == 0 {
		return nil, errs.ErrInvalidArguments
	}
	if d.InputRingOffset+uint64(d.InputRingCapacity) > d.RegionSize ||
		d.OutputRingOffset+uint64(d.OutputRingCapacity) > d.RegionSize ||
		d.InputRingOffset < payloadOffset || d.OutputRingOffset < payloadOffset {
		return nil, errs.ErrInvalidArguments
	}

	region, err := shmregion.FromFd(int(d.SharedMemoryFd), int(d.RegionSize))
	if err != nil {
		return nil, err
	}
	addr, err := region.Map()
	if err != nil {
		region.Close()
		return nil, err
	}

	inputRing, err := ring.AttachShared(addr[inputHeaderOffset:outputHeaderOffset], addr[d.InputRingOffset:d.InputRingOffset+uint64(d.InputRingCapacity)])
	if err != nil {
		region.Close()
		return nil, err
	}
	outputRing, err := ring.AttachShared(addr[outputHeaderOffset:payloadOffset], addr[d.OutputRingOffset:d.OutputRingOffset+uint64(d.OutputRingCapacity)])
	if err != nil {
		region.Close()
		return nil, err
	}

	return &Pair{
		Region:       region,
		InputRing:    inputRing,
		OutputRing:   outputRing,
		EventFdIn:    eventsignal.FromFd(int(d.EventFdInHandle)),
		EventFdOut:   eventsignal.FromFd(int(d.EventFdOutHandle)),
		inputOffset:  d.InputRingOffset,
		outputOffset: d.OutputRingOffset,
	}, nil
}

// Descriptor builds the Transport Descriptor a peer uses to attach to this
// pair.
func (p *Pair) Descriptor(synchronized bool) Descriptor {
	var flags uint32
	if synchronized {
		flags |= FlagSynchronized
	}
	return Descriptor{
		SharedMemoryFd:     int32(p.Region.Fd()),
		RegionSize:         uint64(p.Region.Size()),
		InputRingOffset:    p.inputOffset,
		InputRingCapacity:  p.InputRing.Cap(),
		OutputRingOffset:   p.outputOffset,
		OutputRingCapacity: p.OutputRing.Cap(),
		EventFdInHandle:    int32(p.EventFdIn.Fd()),
		EventFdOutHandle:   int32(p.EventFdOut.Fd()),
		Flags:              flags,
	}
}

// Close releases the region mapping and both event signals. It does not
// close the event signal fds embedded in a Descriptor already handed to a
// peer; each side owns and closes its own handle copy.
func (p *Pair) Close() error {
	errIn := p.EventFdIn.Close()
	errOut := p.EventFdOut.Close()
	errRegion := p.Region.Close()
	switch {
	case errRegion != nil:
		return errRegion
	case errIn != nil:
		return errIn
	case errOut != nil:
		return errOut
	default:
		return nil
	}
}
