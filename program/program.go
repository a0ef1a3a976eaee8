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

// Package program implements the APX bytecode program format: the header
// that prefixes every pack/unpack program, and the single-byte instruction
// encoding used throughout its body. Every multi-byte integer on the wire
// is little-endian.
package program

import (
	"encoding/binary"

	"github.com/cogu/apx/apxerr"
)

// Kind distinguishes a pack program (serialize a value tree to bytes) from
// an unpack program (deserialize bytes into a value tree).
type Kind uint8

const (
	Pack Kind = iota + 1
	Unpack
)

func (k Kind) String() string {
	switch k {
	case Pack:
		return "pack"
	case Unpack:
		return "unpack"
	default:
		return "kind(?)"
	}
}

// Variant is the width selector carried in the header's VVV bits and in a
// pack/unpack instruction's array-length-width operand.
type Variant uint8

const (
	VariantU8 Variant = iota
	VariantU16
	VariantU32
)

// Size returns the number of bytes a little-endian integer of this variant
// occupies on the wire.
func (v Variant) Size() int {
	switch v {
	case VariantU8:
		return 1
	case VariantU16:
		return 2
	case VariantU32:
		return 4
	default:
		return 0
	}
}

// VariantFor returns the narrowest Variant that can hold n.
func VariantFor(n uint64) Variant {
	switch {
	case n <= 0xFF:
		return VariantU8
	case n <= 0xFFFF:
		return VariantU16
	default:
		return VariantU32
	}
}

// Header bit layout, within the first byte: PPTT TVVV.
const (
	headerProgTypeMask = 0b11_00_0_000
	headerProgTypePack = 0b01_00_0_000
	// headerProgTypeUnpack would be 0b10_00_0_000; anything that isn't
	// "pack" is treated as "unpack" (mirrors the reference decoder, which
	// only tests for the pack bit pattern).
	headerDynamicFlag = 0b00_1_0_000 << 0 // bit 4: T (dynamic-data flag)
	headerQueuedFlag  = 0b00_0_1_000 << 0 // bit 3: T (queued-data flag)
	headerVariantMask = 0b00000_111
)

// Instruction bit layout, within a single byte. The opcode space has
// only five members, so it occupies the low 3 bits; the variant field
// has to carry a full type code (up to 15 distinct values once arrays,
// records and limit-check widths are accounted for), so it gets the
// remaining 4 bits below the flag.
const (
	instOpcodeMask   = 0b0000_0111
	instVariantMask  = 0b0111_1000
	instVariantShift = 3
	instFlag         = 0b1000_0000
)

// Opcode is the opcode field of an instruction byte.
type Opcode uint8

const (
	OpUnpack Opcode = iota
	OpPack
	OpDataSize
	OpDataCtrl
	OpFlowCtrl
)

// InstVariant is the raw 4-bit variant nibble carried by an instruction;
// its meaning depends on the opcode it's paired with (type code for
// Pack/Unpack, array-length width for DataSize outside a queued-data
// trailer, element-size/queue-length width pair inside one, limit-check
// width for DataCtrl range checks, record-select/array-next selector for
// DataCtrl/FlowCtrl).
type InstVariant uint8

// Data-size-opcode variants encode (element-size-width, queue-length-width)
// pairs when used in a program's queued-data trailer (program.c's
// calc_data_size_variant); elsewhere they simply carry an array-length
// width (VariantU8/U16/U32, reused directly as the opcode variant).
const (
	ElemSizeU8Base  InstVariant = 3 // variants 3..5: element size is u8, queue length width = variant-3
	ElemSizeU16Base InstVariant = 6 // variants 6..8: element size is u16
	ElemSizeU32Base InstVariant = 9 // variants 9..11: element size is u32
	ElemSizeLast    InstVariant = 11
)

// Header describes the decoded form of a program's first bytes.
type Header struct {
	ProgramType    Kind
	DataSize       uint32
	ElementSize    uint32
	QueueLength    uint32
	HasDynamicData bool
}

// EncodeHeader builds the header bytes (and, for queued ports, the
// DATA_SIZE trailer instruction that follows it) for a program whose body
// will contain elementSize bytes per copy, queueSize copies (0 if the port
// isn't queued), and isDynamic set if any dynamic array appears anywhere in
// the element tree. Mirrors apx_program_encode_header in program.c exactly,
// including its choice of size variant per field.
func EncodeHeader(kind Kind, elementSize, queueSize uint32, isDynamic bool) ([]byte, error) {
	isQueued := queueSize > 0
	var dataSize uint64
	var queueVariant, elemVariant Variant
	if isQueued {
		queueVariant = VariantFor(uint64(queueSize))
		elemVariant = VariantFor(uint64(elementSize))
		queueLenSize := uint64(queueVariant.Size())
		dataSize = queueLenSize + uint64(elementSize)*uint64(queueSize)
		if dataSize > 0xFFFFFFFF {
			return nil, apxerr.New(apxerr.LengthError, "program.EncodeHeader", nil)
		}
	} else {
		dataSize = uint64(elementSize)
	}

	dataVariant := VariantFor(dataSize)
	encSize := encodeLE(dataSize, dataVariant.Size())

	out := make([]byte, 0, 1+len(encSize)+2+4)
	out = append(out, encodeProgramByte(kind, isDynamic, isQueued, dataVariant))
	out = append(out, encSize...)

	if isQueued {
		variant := dataSizeVariant(elemVariant, queueVariant)
		out = append(out, EncodeInstruction(OpDataSize, variant, false))
		out = append(out, encodeLE(uint64(elementSize), elemVariant.Size())...)
	}
	return out, nil
}

// DecodeHeader parses the header (and, for queued programs, its DATA_SIZE
// trailer) from the start of buf, returning the decoded Header and the
// remaining, unconsumed bytes. Mirrors apx_program_decode_header.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < 2 {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", nil)
	}
	b0 := buf[0]
	var hdr Header
	if b0&headerProgTypeMask == headerProgTypePack {
		hdr.ProgramType = Pack
	} else {
		hdr.ProgramType = Unpack
	}
	isQueued := b0&headerQueuedFlag != 0
	hdr.HasDynamicData = b0&headerDynamicFlag != 0
	dataVariant := Variant(b0 & headerVariantMask)

	rest := buf[1:]
	n, rest, err := decodeLEVariant(rest, dataVariant)
	if err != nil {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", err)
	}
	hdr.DataSize = n

	if !isQueued {
		return hdr, rest, nil
	}

	if len(rest) < 1 {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", nil)
	}
	opcode, variant, _ := DecodeInstruction(rest[0])
	if opcode != OpDataSize || variant < ElemSizeU8Base || variant > ElemSizeLast {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", nil)
	}
	rest = rest[1:]

	var elemVariant Variant
	var queueVariant InstVariant
	switch {
	case variant < ElemSizeU16Base:
		elemVariant = VariantU8
		queueVariant = variant - ElemSizeU8Base
	case variant < ElemSizeU32Base:
		elemVariant = VariantU16
		queueVariant = variant - ElemSizeU16Base
	default:
		elemVariant = VariantU32
		queueVariant = variant - ElemSizeU32Base
	}
	queueLenSize := uint32(Variant(queueVariant).Size())
	if queueLenSize == 0 || queueLenSize > hdr.DataSize {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", nil)
	}

	elemSize, rest, err := decodeLEVariant(rest, elemVariant)
	if err != nil {
		return Header{}, nil, apxerr.New(apxerr.Parse, "program.DecodeHeader", err)
	}
	hdr.ElementSize = elemSize
	if hdr.ElementSize == 0 {
		return Header{}, nil, apxerr.New(apxerr.InvalidHeader, "program.DecodeHeader", nil)
	}
	tmp := hdr.DataSize - queueLenSize
	if tmp%hdr.ElementSize != 0 {
		return Header{}, nil, apxerr.New(apxerr.InvalidHeader, "program.DecodeHeader", nil)
	}
	hdr.QueueLength = tmp / hdr.ElementSize
	return hdr, rest, nil
}

// EncodeInstruction packs an opcode, variant and flag bit into a single
// instruction byte (apx_program_encode_instruction).
func EncodeInstruction(op Opcode, variant InstVariant, flag bool) byte {
	b := byte(op)&instOpcodeMask | (byte(variant)<<instVariantShift)&instVariantMask
	if flag {
		b |= instFlag
	}
	return b
}

// DecodeInstruction is the inverse of EncodeInstruction
// (apx_program_decode_instruction).
func DecodeInstruction(b byte) (op Opcode, variant InstVariant, flag bool) {
	op = Opcode(b & instOpcodeMask)
	variant = InstVariant((b & instVariantMask) >> instVariantShift)
	flag = b&instFlag != 0
	return
}

func encodeProgramByte(kind Kind, isDynamic, isQueued bool, dataVariant Variant) byte {
	var b byte
	if kind == Pack {
		b = headerProgTypePack
	} else {
		b = 0b10_00_0_000
	}
	b |= byte(dataVariant) & headerVariantMask
	if isDynamic {
		b |= headerDynamicFlag
	}
	if isQueued {
		b |= headerQueuedFlag
	}
	return b
}

func dataSizeVariant(elemVariant, queueVariant Variant) InstVariant {
	var base InstVariant
	switch elemVariant {
	case VariantU8:
		base = ElemSizeU8Base
	case VariantU16:
		base = ElemSizeU16Base
	default:
		base = ElemSizeU32Base
	}
	return base + InstVariant(queueVariant)
}

func encodeLE(n uint64, width int) []byte {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(n))
	case 8:
		binary.LittleEndian.PutUint64(buf, n)
	}
	return buf
}

func decodeLEVariant(buf []byte, v Variant) (uint32, []byte, error) {
	w := v.Size()
	if w == 0 || len(buf) < w {
		return 0, nil, apxerr.New(apxerr.Parse, "program.decodeLEVariant", nil)
	}
	switch w {
	case 1:
		return uint32(buf[0]), buf[1:], nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf)), buf[2:], nil
	case 4:
		return binary.LittleEndian.Uint32(buf), buf[4:], nil
	}
	return 0, nil, apxerr.New(apxerr.Internal, "program.decodeLEVariant", nil)
}
