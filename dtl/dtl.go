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

// Package dtl ("data tree") is the value tree the VM's pack side
// consumes and the unpack side produces: a small Null/Scalar/Array/Hash
// sum type. The C implementation's dtl_dv is manually
// reference-counted; Go's garbage collector makes that bookkeeping
// unnecessary; a Value here is just shared the way any Go value
// containing slices/maps is shared.
package dtl

import "github.com/cogu/apx/apxerr"

// Type is the closed tag of a Value.
type Type uint8

const (
	Null Type = iota
	Scalar
	Array
	Hash
)

// ScalarKind distinguishes the representation a Scalar value is carrying,
// mirroring the reference's tagged union of integer widths, bool, char
// and byte array variants used across pack/unpack.
type ScalarKind uint8

const (
	ScalarI32 ScalarKind = iota
	ScalarU32
	ScalarI64
	ScalarU64
	ScalarBool
	ScalarChar  // single byte / rune-as-codepoint, used for the char/char8 scalar path
	ScalarBytes // string or raw byte array payload
)

// Value is the sum type: exactly one of the typed fields is meaningful,
// selected by Type (and, for Scalar, by Kind).
type Value struct {
	typ     Type
	kind    ScalarKind
	i64     int64
	u64     uint64
	b       bool
	bytes   []byte
	array   []Value
	hash    map[string]Value
	hashOrd []string // insertion order, so Hash round-trips deterministically
}

func NewNull() Value { return Value{typ: Null} }

func NewI32(n int32) Value  { return Value{typ: Scalar, kind: ScalarI32, i64: int64(n)} }
func NewU32(n uint32) Value { return Value{typ: Scalar, kind: ScalarU32, u64: uint64(n)} }
func NewI64(n int64) Value  { return Value{typ: Scalar, kind: ScalarI64, i64: n} }
func NewU64(n uint64) Value { return Value{typ: Scalar, kind: ScalarU64, u64: n} }
func NewBool(b bool) Value  { return Value{typ: Scalar, kind: ScalarBool, b: b} }
func NewChar(r byte) Value  { return Value{typ: Scalar, kind: ScalarChar, i64: int64(r)} }

// NewBytes wraps a byte/char array payload. buf is not copied; callers
// that need an independent copy should clone it first.
func NewBytes(buf []byte) Value {
	return Value{typ: Scalar, kind: ScalarBytes, bytes: buf}
}

// NewArray builds an Array value from elems. elems is not copied.
func NewArray(elems []Value) Value { return Value{typ: Array, array: elems} }

// NewHash builds a Hash value from an ordered set of fields.
func NewHash(order []string, fields map[string]Value) Value {
	return Value{typ: Hash, hash: fields, hashOrd: order}
}

func (v Value) Type() Type             { return v.typ }
func (v Value) ScalarKind() ScalarKind { return v.kind }
func (v Value) IsNull() bool           { return v.typ == Null }

func (v Value) Int64() (int64, error) {
	if v.typ != Scalar {
		return 0, apxerr.New(apxerr.ValueType, "dtl.Value.Int64", nil)
	}
	switch v.kind {
	case ScalarI32, ScalarI64, ScalarChar:
		return v.i64, nil
	case ScalarU32, ScalarU64:
		return int64(v.u64), nil
	case ScalarBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apxerr.New(apxerr.ValueConversion, "dtl.Value.Int64", nil)
	}
}

func (v Value) Uint64() (uint64, error) {
	if v.typ != Scalar {
		return 0, apxerr.New(apxerr.ValueType, "dtl.Value.Uint64", nil)
	}
	switch v.kind {
	case ScalarU32, ScalarU64:
		return v.u64, nil
	case ScalarI32, ScalarI64, ScalarChar:
		return uint64(v.i64), nil
	case ScalarBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apxerr.New(apxerr.ValueConversion, "dtl.Value.Uint64", nil)
	}
}

func (v Value) Bool() (bool, error) {
	if v.typ != Scalar || v.kind != ScalarBool {
		return false, apxerr.New(apxerr.ValueType, "dtl.Value.Bool", nil)
	}
	return v.b, nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.typ != Scalar || v.kind != ScalarBytes {
		return nil, apxerr.New(apxerr.ValueType, "dtl.Value.Bytes", nil)
	}
	return v.bytes, nil
}

func (v Value) Array() ([]Value, error) {
	if v.typ != Array {
		return nil, apxerr.New(apxerr.ValueType, "dtl.Value.Array", nil)
	}
	return v.array, nil
}

// Field returns the named field of a Hash value.
func (v Value) Field(name string) (Value, bool) {
	if v.typ != Hash {
		return Value{}, false
	}
	fv, ok := v.hash[name]
	return fv, ok
}

// Fields returns the hash's fields in insertion (declaration) order,
// matching record field order for RecordSelect traversal.
func (v Value) Fields() []string {
	if v.typ != Hash {
		return nil
	}
	return v.hashOrd
}
