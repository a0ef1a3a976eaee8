// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package apxerr defines the closed error-kind enumeration shared by every
// APX codec package. The codec never panics or aborts on bad input; every
// failure is reported through an *Error carrying one of these kinds.
package apxerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of the error conditions the codec can
// report. It mirrors the apx_error_t enumeration of the C
// implementation rather than inventing new categories.
type Kind int

const (
	NoError Kind = iota
	InvalidArgument
	Mem
	Parse
	LengthError
	InvalidHeader
	MissingBuffer
	BufferBoundary
	BufferFull
	ValueType
	ValueConversion
	ValueLength
	ValueRange
	NotFound
	NullPtr
	InvalidPortHandle
	InvalidProgram
	InvalidFile
	NameMissing
	NameTooLong
	Unsupported
	NotImplemented
	Internal
	QueueFull
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "no error"
	case InvalidArgument:
		return "invalid argument"
	case Mem:
		return "out of memory"
	case Parse:
		return "parse error"
	case LengthError:
		return "length error"
	case InvalidHeader:
		return "invalid header"
	case MissingBuffer:
		return "missing buffer"
	case BufferBoundary:
		return "buffer boundary"
	case BufferFull:
		return "buffer full"
	case ValueType:
		return "value type error"
	case ValueConversion:
		return "value conversion error"
	case ValueLength:
		return "value length error"
	case ValueRange:
		return "value range error"
	case NotFound:
		return "not found"
	case NullPtr:
		return "null pointer"
	case InvalidPortHandle:
		return "invalid port handle"
	case InvalidProgram:
		return "invalid program"
	case InvalidFile:
		return "invalid file"
	case NameMissing:
		return "name missing"
	case NameTooLong:
		return "name too long"
	case Unsupported:
		return "unsupported"
	case NotImplemented:
		return "not implemented"
	case Internal:
		return "internal error"
	case QueueFull:
		return "queue full"
	default:
		return "unknown error"
	}
}

// Fatal reports whether a Kind can be recovered from locally by the
// caller (drop the value, fix the buffer, retry) or is unrecoverable.
// Only Mem and Internal are fatal.
func (k Kind) Fatal() bool {
	return k == Mem || k == Internal
}

// Error is the concrete error value returned by every APX codec package.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "program.DecodeHeader"
	Err  error  // optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apxerr.New(kind, "", nil)) to match by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error for op with kind and an optional wrapped cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the Kind carried by err. A foreign error type maps to
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
