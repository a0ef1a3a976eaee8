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

// Package compiler implements the bytecode compiler: it walks a port's
// effective data element tree and emits either a pack or an unpack
// program. One compiler value per Compile call; a single dynamic-data
// flag is raised the first time any dynamic array is seen anywhere in
// the tree.
package compiler

import (
	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
)

// compiler holds the running state of one Compile call.
type compiler struct {
	kind       program.Kind
	body       []byte
	hasDynamic bool
}

// Compile walks port's effective element and returns the compiled
// program (header + body) for kind (Pack or Unpack).
func Compile(port *element.Port, kind program.Kind) ([]byte, error) {
	if port == nil || port.Elem == nil {
		return nil, apxerr.New(apxerr.InvalidArgument, "compiler.Compile", nil)
	}
	c := &compiler{kind: kind}
	if err := c.emitElement(port.Elem); err != nil {
		return nil, err
	}

	elemSize, ok := dataSizeOf(port.Elem)
	if !ok {
		return nil, apxerr.New(apxerr.LengthError, "compiler.Compile", nil)
	}

	hdr, err := program.EncodeHeader(kind, elemSize, port.QueueLen, c.hasDynamic)
	if err != nil {
		return nil, err
	}
	return append(hdr, c.body...), nil
}

// dataSizeOf computes the buffer size one copy of e occupies, sizing a
// dynamic array to its maximum plus the inline length prefix that
// precedes its payload.
func dataSizeOf(e *element.Element) (uint32, bool) {
	var base uint32
	if e.Type == element.Record {
		for _, f := range e.Fields {
			fs, ok := dataSizeOf(f.Elem)
			if !ok {
				return 0, false
			}
			base += fs
		}
	} else {
		sz, ok := e.Type.Size()
		if !ok {
			return 0, false
		}
		base = sz
	}
	if e.ArrayLen > 0 {
		base *= e.ArrayLen
		if e.Dynamic {
			base += uint32(program.VariantFor(uint64(e.ArrayLen)).Size())
		}
	}
	return base, true
}

// emitElement emits the instructions for one element (scalar, array or
// record), recursing through record fields.
func (c *compiler) emitElement(e *element.Element) error {
	if e.Dynamic {
		c.hasDynamic = true
	}

	if e.Type == element.Record {
		return c.emitRecord(e)
	}

	if _, hasFixedSize := e.Type.Size(); !hasFixedSize {
		return apxerr.New(apxerr.Unsupported, "compiler.emitElement", nil)
	}

	if e.ArrayLen == 0 {
		return c.emitScalar(e)
	}
	return c.emitArray(e)
}

func (c *compiler) emitScalar(e *element.Element) error {
	op := c.packOp()
	if c.kind == program.Pack && e.Limits.Present {
		c.emitRangeCheck(e, false)
	}
	c.body = append(c.body, program.EncodeInstruction(op, program.InstVariant(e.Type), false))
	if c.kind == program.Unpack && e.Limits.Present {
		c.emitRangeCheck(e, false)
	}
	return nil
}

func (c *compiler) emitArray(e *element.Element) error {
	op := c.packOp()
	if c.kind == program.Pack && e.Limits.Present {
		c.emitRangeCheck(e, true)
	}
	c.body = append(c.body, program.EncodeInstruction(op, program.InstVariant(e.Type), true))

	sizeVariant := program.VariantFor(uint64(e.ArrayLen))
	c.body = append(c.body, program.EncodeInstruction(program.OpDataSize, program.InstVariant(sizeVariant), e.Dynamic))
	c.body = appendLE(c.body, uint64(e.ArrayLen), sizeVariant.Size())

	if c.kind == program.Unpack && e.Limits.Present {
		c.emitRangeCheck(e, true)
	}
	return nil
}

// packOp returns the Pack/Unpack opcode matching the compiler's kind.
func (c *compiler) packOp() program.Opcode {
	if c.kind == program.Pack {
		return program.OpPack
	}
	return program.OpUnpack
}

// data-control limit-check variant assignment (program.OpDataCtrl's
// InstVariant): the eight limit-check widths, followed immediately by the
// record-select marker. Must stay in sync with vm's identical private
// constants (vm/decoder.go) — both sides encode the same bytecode.
const (
	limitCheckU8 program.InstVariant = iota
	limitCheckU16
	limitCheckU32
	limitCheckU64
	limitCheckS8
	limitCheckS16
	limitCheckS32
	limitCheckS64
)

// emitRangeCheck emits a RANGE_CHECK instruction for e's explicit
// Limits. isArray sets the instruction's flag bit; the decoder's
// range-check path does not consult it, since the lo/hi width already
// disambiguates the check. Lo/hi are always written as a fixed-width
// pair: 4 bytes for the 8/16/32 families, 8 bytes for the 64-bit
// families, regardless of the checked scalar's own element size.
func (c *compiler) emitRangeCheck(e *element.Element, isArray bool) {
	lim := e.Limits
	size, _ := e.Type.Size()

	var variant program.InstVariant
	var width int
	if lim.Signed {
		switch size {
		case 1:
			variant, width = limitCheckS8, 4
		case 2:
			variant, width = limitCheckS16, 4
		case 4:
			variant, width = limitCheckS32, 4
		default:
			variant, width = limitCheckS64, 8
		}
	} else {
		switch size {
		case 1:
			variant, width = limitCheckU8, 4
		case 2:
			variant, width = limitCheckU16, 4
		case 4:
			variant, width = limitCheckU32, 4
		default:
			variant, width = limitCheckU64, 8
		}
	}

	c.body = append(c.body, program.EncodeInstruction(program.OpDataCtrl, variant, isArray))
	c.body = appendLE(c.body, uint64(lim.Lo), width)
	c.body = appendLE(c.body, uint64(lim.Hi), width)
}

func appendLE(buf []byte, n uint64, width int) []byte {
	tmp := make([]byte, width)
	for i := 0; i < width; i++ {
		tmp[i] = byte(n >> (8 * i))
	}
	return append(buf, tmp...)
}

func (c *compiler) emitRecord(e *element.Element) error {
	op := c.packOp()
	isArray := e.ArrayLen > 0
	c.body = append(c.body, program.EncodeInstruction(op, program.InstVariant(element.Record), isArray))

	if isArray {
		sizeVariant := program.VariantFor(uint64(e.ArrayLen))
		c.body = append(c.body, program.EncodeInstruction(program.OpDataSize, program.InstVariant(sizeVariant), e.Dynamic))
		c.body = appendLE(c.body, uint64(e.ArrayLen), sizeVariant.Size())
	}

	if err := c.emitRecordFields(e.Fields); err != nil {
		return err
	}

	if isArray {
		c.body = append(c.body, program.EncodeInstruction(program.OpFlowCtrl, 0, false))
	}
	return nil
}

// recordSelectVariant identifies the DATA_CTRL variant used for a
// RecordSelect instruction — the data-control variant immediately past
// the eight limit-check widths (see vm.recordSelectVariant, which must
// stay in sync with this constant).
const recordSelectVariant program.InstVariant = 8

func (c *compiler) emitRecordFields(fields []element.Field) error {
	for i, f := range fields {
		last := i == len(fields)-1
		c.body = append(c.body, program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, last))
		c.body = append(c.body, []byte(f.Name)...)
		c.body = append(c.body, 0)
		if err := c.emitElement(f.Elem); err != nil {
			return err
		}
	}
	return nil
}
