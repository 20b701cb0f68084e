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

// Package errs defines the six-member error taxonomy shared by the
// client and daemon control surfaces, as errors.Is-compatible sentinels,
// plus the stable ResultCode values non-Go callers (or an external RPC
// layer) see on the wire.
package errs

import "errors"

// ResultCode carries the stable numeric values of the control-surface
// contract. The values are fixed; peers on the other side of an RPC
// boundary compare them directly.
type ResultCode int32

const (
	OK               ResultCode = 0
	InvalidArguments ResultCode = -1
	NoMemory         ResultCode = -2
	InvalidState     ResultCode = -3
	NotSupported     ResultCode = -4
	Timeout          ResultCode = -5
	DeadObject       ResultCode = -6
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArguments:
		return "INVALID_ARGUMENTS"
	case NoMemory:
		return "NO_MEMORY"
	case InvalidState:
		return "INVALID_STATE"
	case NotSupported:
		return "NOT_SUPPORTED"
	case Timeout:
		return "TIMEOUT"
	case DeadObject:
		return "DEAD_OBJECT"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors, one per non-OK ResultCode, for non-RT code paths that
// want the usual Go error idiom (errors.Is / wrapping with %w).
var (
	ErrInvalidArguments = errors.New("effecttransport: invalid arguments")
	ErrNoMemory         = errors.New("effecttransport: no memory")
	ErrInvalidState     = errors.New("effecttransport: invalid state")
	ErrNotSupported     = errors.New("effecttransport: not supported")
	ErrTimeout          = errors.New("effecttransport: timeout")
	ErrDeadObject       = errors.New("effecttransport: dead object")
)

// ToError converts a ResultCode to its matching sentinel error, or nil for OK.
func ToError(c ResultCode) error {
	switch c {
	case OK:
		return nil
	case InvalidArguments:
		return ErrInvalidArguments
	case NoMemory:
		return ErrNoMemory
	case InvalidState:
		return ErrInvalidState
	case NotSupported:
		return ErrNotSupported
	case Timeout:
		return ErrTimeout
	case DeadObject:
		return ErrDeadObject
	default:
		return ErrInvalidState
	}
}

// FromError maps a sentinel error (or one wrapping it) back to its
// ResultCode. Unrecognized errors map to InvalidState.
func FromError(err error) ResultCode {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInvalidArguments):
		return InvalidArguments
	case errors.Is(err, ErrNoMemory):
		return NoMemory
	case errors.Is(err, ErrInvalidState):
		return InvalidState
	case errors.Is(err, ErrNotSupported):
		return NotSupported
	case errors.Is(err, ErrTimeout):
		return Timeout
	case errors.Is(err, ErrDeadObject):
		return DeadObject
	default:
		return InvalidState
	}
}
