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

package vm

import (
	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
)

// scalarToUint64 coerces v to a plain uint64 bit pattern ready to be
// truncated to the target width.
func scalarToUint64(v dtl.Value, t element.TypeCode) (uint64, error) {
	switch t {
	case element.Bool:
		b, err := v.Bool()
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case element.Char, element.Char8, element.Byte:
		if raw, err := v.Bytes(); err == nil {
			if len(raw) == 0 {
				return 0, apxerr.New(apxerr.ValueConversion, "vm.scalarToUint64", nil)
			}
			return uint64(raw[0]), nil
		}
		n, err := v.Int64()
		if err != nil {
			return 0, apxerr.New(apxerr.ValueConversion, "vm.scalarToUint64", err)
		}
		return uint64(n), nil
	case element.I8, element.I16, element.I32, element.I64:
		n, err := v.Int64()
		if err != nil {
			return 0, apxerr.New(apxerr.ValueConversion, "vm.scalarToUint64", err)
		}
		return uint64(n), nil
	default:
		n, err := v.Uint64()
		if err != nil {
			return 0, apxerr.New(apxerr.ValueConversion, "vm.scalarToUint64", err)
		}
		return n, nil
	}
}

func writeScalar(dst []byte, v dtl.Value, t element.TypeCode) error {
	n, err := scalarToUint64(v, t)
	if err != nil {
		return err
	}
	writeLE(dst, n, len(dst))
	return nil
}

// checkNaturalRange applies the default range check a pack performs
// when the frame carries no explicit range-check result: the value (or
// each array element) must fit the target type's natural bounds. No-op
// for bool and the char/byte family, whose coercion already bounds them
// to one unit.
func checkNaturalRange(v dtl.Value, t element.TypeCode) error {
	if v.Type() == dtl.Array {
		elems, err := v.Array()
		if err != nil {
			return err
		}
		for _, e := range elems {
			if err := checkNaturalScalar(e, t); err != nil {
				return err
			}
		}
		return nil
	}
	return checkNaturalScalar(v, t)
}

func checkNaturalScalar(v dtl.Value, t element.TypeCode) error {
	switch t {
	case element.Bool, element.Char, element.Char8, element.Char16, element.Char32, element.Byte:
		return nil
	case element.I64:
		_, err := v.Int64()
		return err
	case element.U64:
		_, err := v.Uint64()
		return err
	}
	lo, hi, signed := t.NaturalRange()
	if signed {
		n, err := v.Int64()
		if err != nil {
			return err
		}
		if n < lo || n > hi {
			return apxerr.New(apxerr.ValueRange, "vm.checkNaturalRange", nil)
		}
		return nil
	}
	n, err := v.Uint64()
	if err != nil {
		return err
	}
	if n > uint64(hi) {
		return apxerr.New(apxerr.ValueRange, "vm.checkNaturalRange", nil)
	}
	return nil
}

func readScalar(src []byte, t element.TypeCode) dtl.Value {
	n := readLE(src)
	switch t {
	case element.Bool:
		return dtl.NewBool(n != 0)
	case element.I8:
		return dtl.NewI32(int32(int8(n)))
	case element.I16:
		return dtl.NewI32(int32(int16(n)))
	case element.I32:
		return dtl.NewI32(int32(n))
	case element.I64:
		return dtl.NewI64(int64(n))
	case element.U64:
		return dtl.NewU64(n)
	case element.Char, element.Char8, element.Byte:
		return dtl.NewChar(byte(n))
	default:
		return dtl.NewU32(uint32(n))
	}
}

func writeLE(dst []byte, n uint64, width int) {
	for i := 0; i < width; i++ {
		dst[i] = byte(n >> (8 * i))
	}
}

func readLE(src []byte) uint64 {
	var n uint64
	for i, b := range src {
		n |= uint64(b) << (8 * i)
	}
	return n
}

func decodeLEBuf(buf []byte, v program.Variant) (uint32, []byte, error) {
	w := v.Size()
	if w == 0 || len(buf) < w {
		return 0, nil, apxerr.New(apxerr.Parse, "vm.decodeLEBuf", nil)
	}
	return uint32(readLE(buf[:w])), buf[w:], nil
}

// evalRangeCheck compares cur against inst's recorded bounds, coercing
// cur the same way a Pack/Unpack of that width would. When cur is an
// Array, the check applies to every element, failing on the first
// element that violates the bound.
func evalRangeCheck(cur dtl.Value, inst Instruction) (bool, error) {
	if cur.Type() == dtl.Array {
		elems, err := cur.Array()
		if err != nil {
			return false, err
		}
		for _, e := range elems {
			ok, err := evalRangeCheck(e, inst)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	switch inst.Kind {
	case OpRangeCheckU32, OpRangeCheckU64:
		n, err := cur.Uint64()
		if err != nil {
			return false, err
		}
		return n >= inst.LoU64 && n <= inst.HiU64, nil
	case OpRangeCheckI32, OpRangeCheckI64:
		n, err := cur.Int64()
		if err != nil {
			return false, err
		}
		return n >= inst.LoI64 && n <= inst.HiI64, nil
	default:
		return false, apxerr.New(apxerr.Internal, "vm.evalRangeCheck", nil)
	}
}
