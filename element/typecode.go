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

// Package element implements the APX data model: the closed type-code
// enumeration, the recursive data-element tree a port's signature compiles
// from, and the textual signature grammar used for port matching and
// for the node manager's structural deduplication.
package element

// TypeCode is the closed enumeration of scalar element types. Floating
// point types are intentionally absent — no floating-point pack/unpack is
// in scope.
type TypeCode uint8

const (
	U8 TypeCode = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	Bool
	Byte
	Char
	Char8
	Char16
	Char32
	Record
)

func (t TypeCode) String() string {
	switch t {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case Bool:
		return "bool"
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Char8:
		return "char8"
	case Char16:
		return "char16"
	case Char32:
		return "char32"
	case Record:
		return "record"
	default:
		return "typeCode(?)"
	}
}

// Size returns the fixed element size, in bytes, of a non-record type
// code. Record has no fixed size.
func (t TypeCode) Size() (uint32, bool) {
	switch t {
	case U8, I8, Bool, Byte, Char, Char8:
		return 1, true
	case U16, I16, Char16:
		return 2, true
	case U32, I32, Char32:
		return 4, true
	case U64, I64:
		return 8, true
	default:
		return 0, false
	}
}

// Signed reports whether t's natural range check (and range-limit
// encoding) is signed.
func (t TypeCode) Signed() bool {
	switch t {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// IsString reports whether t is packed/unpacked through the string-valued
// path (char / char8) rather than the numeric-array path.
func (t TypeCode) IsString() bool {
	return t == Char || t == Char8
}

// NaturalRange returns the default bounds used for a range
// check when no explicit range attribute is present on the element.
func (t TypeCode) NaturalRange() (lo, hi int64, signed bool) {
	switch t {
	case U8:
		return 0, 0xFF, false
	case U16:
		return 0, 0xFFFF, false
	case U32:
		return 0, 0xFFFFFFFF, false
	case U64:
		return 0, 1<<63 - 1, false // representable subset; callers compare as uint64 directly for full range
	case I8:
		return -0x80, 0x7F, true
	case I16:
		return -0x8000, 0x7FFF, true
	case I32:
		return -0x80000000, 0x7FFFFFFF, true
	case I64:
		return -1 << 63, 1<<63 - 1, true
	case Bool:
		return 0, 1, false
	default:
		return 0, 0, false
	}
}

// signatureCode is the one-character code used in the textual signature
// grammar.
func (t TypeCode) signatureCode() string {
	switch t {
	case U8:
		return "C"
	case U16:
		return "S"
	case U32:
		return "L"
	case U64:
		return "Q"
	case I8:
		return "c"
	case I16:
		return "s"
	case I32:
		return "l"
	case I64:
		return "q"
	case Byte:
		return "B"
	case Char:
		return "a"
	case Char8:
		return "A"
	case Bool:
		return "b"
	case Char16:
		return "u" // wide char codes sit outside the closed single-character set
	case Char32:
		return "U"
	default:
		return "?"
	}
}
