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

// Package vm implements the pack/unpack bytecode engine: a Decoder
// that walks a compiled program instruction by instruction, a
// Serializer and Deserializer that drive a Decoder against a dtl.Value
// tree and a byte buffer, and a façade (VM) tying the three together
// behind the small surface a caller actually needs.
package vm

import (
	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
)

// OpKind is the resolved, decoder-level meaning of an instruction — the
// raw (opcode, variant, flag) triple resolved into something a
// serializer/deserializer can switch over directly.
type OpKind uint8

const (
	OpEnd OpKind = iota
	OpPackValue
	OpUnpackValue
	OpArraySize
	OpRangeCheckU32
	OpRangeCheckI32
	OpRangeCheckU64
	OpRangeCheckI64
	OpRecordSelect
	OpArrayNext
)

func (k OpKind) String() string {
	switch k {
	case OpEnd:
		return "end"
	case OpPackValue:
		return "pack"
	case OpUnpackValue:
		return "unpack"
	case OpArraySize:
		return "array_size"
	case OpRangeCheckU32:
		return "range_check_u32"
	case OpRangeCheckI32:
		return "range_check_i32"
	case OpRangeCheckU64:
		return "range_check_u64"
	case OpRangeCheckI64:
		return "range_check_i64"
	case OpRecordSelect:
		return "record_select"
	case OpArrayNext:
		return "array_next"
	default:
		return "op(?)"
	}
}

// data-control variant assignment (program.OpDataCtrl's InstVariant):
// the eight limit-check widths followed by the record-select marker.
const (
	limitCheckU8 program.InstVariant = iota
	limitCheckU16
	limitCheckU32
	limitCheckU64
	limitCheckS8
	limitCheckS16
	limitCheckS32
	limitCheckS64
	recordSelectVariant
)

// Instruction is one decoded step of a program.
type Instruction struct {
	Kind OpKind

	// OpPackValue / OpUnpackValue
	Type element.TypeCode

	// OpArraySize
	SizeVariant program.Variant
	Dynamic     bool // instruction flag bit: array is dynamic-length

	// OpRangeCheck*
	LoU64, HiU64 uint64
	LoI64, HiI64 int64

	// OpRecordSelect
	FieldName string
	LastField bool // instruction flag bit: no more fields follow in this record

	// OpArrayNext
	MoreElements bool // instruction flag bit: another array element follows

	isArray bool // instruction flag bit on OpPackValue/OpUnpackValue
}

// IsArrayInstruction reports whether a decoded Pack/Unpack instruction
// carries the array flag.
func (inst Instruction) IsArrayInstruction() bool { return inst.isArray }

// Decoder walks a compiled program's body (the bytes following its
// header) one instruction at a time.
type Decoder struct {
	body  []byte
	pos   int
	stack []int // saved positions, for array-loop re-entry
}

// NewDecoder returns a Decoder ready to walk body from the start.
func NewDecoder(body []byte) *Decoder {
	return &Decoder{body: body}
}

// SelectProgram rebinds the decoder to a new program body and resets its
// position and saved-position stack.
func (d *Decoder) SelectProgram(body []byte) {
	d.body = body
	d.pos = 0
	d.stack = d.stack[:0]
}

// SaveProgramPosition pushes the current position, so a later
// RecallProgramPosition can rewind a loop (array element N+1 re-running
// the same sub-program as element N).
func (d *Decoder) SaveProgramPosition() {
	d.stack = append(d.stack, d.pos)
}

// RecallProgramPosition rewinds to the most recently saved position
// without popping it, so the loop body can run again.
func (d *Decoder) RecallProgramPosition() error {
	if len(d.stack) == 0 {
		return apxerr.New(apxerr.Internal, "vm.Decoder.RecallProgramPosition", nil)
	}
	d.pos = d.stack[len(d.stack)-1]
	return nil
}

// PopProgramPosition discards the most recently saved position, e.g.
// when an array loop has exhausted its elements.
func (d *Decoder) PopProgramPosition() {
	if len(d.stack) > 0 {
		d.stack = d.stack[:len(d.stack)-1]
	}
}

// Next decodes and returns the instruction at the current position,
// advancing past it. At end of body it returns an OpEnd instruction.
func (d *Decoder) Next() (Instruction, error) {
	if d.pos >= len(d.body) {
		return Instruction{Kind: OpEnd}, nil
	}
	b := d.body[d.pos]
	d.pos++
	op, variant, flag := program.DecodeInstruction(b)

	switch op {
	case program.OpPack, program.OpUnpack:
		inst := Instruction{Type: element.TypeCode(variant), isArray: flag}
		if op == program.OpPack {
			inst.Kind = OpPackValue
		} else {
			inst.Kind = OpUnpackValue
		}
		return inst, nil

	case program.OpDataSize:
		return Instruction{
			Kind:        OpArraySize,
			SizeVariant: program.Variant(variant),
			Dynamic:     flag,
		}, nil

	case program.OpDataCtrl:
		if variant == recordSelectVariant {
			name, err := d.readCString()
			if err != nil {
				return Instruction{}, err
			}
			return Instruction{Kind: OpRecordSelect, FieldName: name, LastField: flag}, nil
		}
		return d.decodeRangeCheck(variant)

	case program.OpFlowCtrl:
		return Instruction{Kind: OpArrayNext, MoreElements: flag}, nil

	default:
		return Instruction{}, apxerr.New(apxerr.InvalidProgram, "vm.Decoder.Next", nil)
	}
}

func (d *Decoder) decodeRangeCheck(variant program.InstVariant) (Instruction, error) {
	switch variant {
	case limitCheckU8, limitCheckU16, limitCheckU32:
		lo, hi, err := d.readU32Pair()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: OpRangeCheckU32, LoU64: uint64(lo), HiU64: uint64(hi)}, nil
	case limitCheckU64:
		lo, hi, err := d.readU64Pair()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: OpRangeCheckU64, LoU64: lo, HiU64: hi}, nil
	case limitCheckS8, limitCheckS16, limitCheckS32:
		lo, hi, err := d.readU32Pair()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: OpRangeCheckI32, LoI64: int64(int32(lo)), HiI64: int64(int32(hi))}, nil
	case limitCheckS64:
		lo, hi, err := d.readU64Pair()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: OpRangeCheckI64, LoI64: int64(lo), HiI64: int64(hi)}, nil
	default:
		return Instruction{}, apxerr.New(apxerr.InvalidProgram, "vm.Decoder.decodeRangeCheck", nil)
	}
}

func (d *Decoder) readU32Pair() (lo, hi uint32, err error) {
	if len(d.body)-d.pos < 8 {
		return 0, 0, apxerr.New(apxerr.Parse, "vm.Decoder.readU32Pair", nil)
	}
	lo = leU32(d.body[d.pos:])
	hi = leU32(d.body[d.pos+4:])
	d.pos += 8
	return lo, hi, nil
}

func (d *Decoder) readU64Pair() (lo, hi uint64, err error) {
	if len(d.body)-d.pos < 16 {
		return 0, 0, apxerr.New(apxerr.Parse, "vm.Decoder.readU64Pair", nil)
	}
	lo = leU64(d.body[d.pos:])
	hi = leU64(d.body[d.pos+8:])
	d.pos += 16
	return lo, hi, nil
}

// readDataSizeValue reads the little-endian array-length integer that a
// compiler emits directly after a DATA_SIZE instruction byte.
func (d *Decoder) readDataSizeValue(v program.Variant) (uint32, error) {
	w := v.Size()
	if w == 0 || len(d.body)-d.pos < w {
		return 0, apxerr.New(apxerr.Parse, "vm.Decoder.readDataSizeValue", nil)
	}
	var n uint32
	switch w {
	case 1:
		n = uint32(d.body[d.pos])
	case 2:
		n = uint32(leU16(d.body[d.pos:]))
	case 4:
		n = leU32(d.body[d.pos:])
	}
	d.pos += w
	return n, nil
}

// skipRecordBody consumes the instructions of one record-array body,
// including any nested bodies, up to and including the ArrayNext that
// closes it. Used when an array has zero rows to pack or unpack.
func (d *Decoder) skipRecordBody() error {
	depth := 1
	for depth > 0 {
		inst, err := d.Next()
		if err != nil {
			return err
		}
		switch inst.Kind {
		case OpEnd:
			return apxerr.New(apxerr.InvalidProgram, "vm.Decoder.skipRecordBody", nil)
		case OpArraySize:
			if _, err := d.readDataSizeValue(inst.SizeVariant); err != nil {
				return err
			}
		case OpPackValue, OpUnpackValue:
			if inst.Type == element.Record && inst.isArray {
				depth++
			}
		case OpArrayNext:
			depth--
		}
	}
	return nil
}

func (d *Decoder) readCString() (string, error) {
	start := d.pos
	for d.pos < len(d.body) && d.body[d.pos] != 0 {
		d.pos++
	}
	if d.pos >= len(d.body) {
		return "", apxerr.New(apxerr.Parse, "vm.Decoder.readCString", nil)
	}
	s := string(d.body[start:d.pos])
	d.pos++ // skip NUL
	return s, nil
}

func leU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
