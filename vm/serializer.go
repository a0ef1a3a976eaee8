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

// rangeResult is the tri-state outcome of a range-check instruction,
// recorded on the frame it checked and consulted by the pack
// instruction that follows it. Reporting is deferred to the pack op.
type rangeResult uint8

const (
	rangeNotChecked rangeResult = iota
	rangeCheckOK
	rangeCheckFail
)

type packFrameKind uint8

const (
	packFrameValue packFrameKind = iota // plain value binding: the root, or a record's hash
	packFrameField                      // a record field selected by RecordSelect
	packFrameArray                      // an array-of-record iteration
)

// packFrame is one entry of the serializer's explicit frame stack: the
// value bound at this level, the last-field flag that drives the pop
// cascade, the frame's range-check result, and the iteration state for
// an array of records.
type packFrame struct {
	kind      packFrameKind
	value     dtl.Value
	lastField bool
	rng       rangeResult

	elems []dtl.Value // packFrameArray: the rows being packed
	index int
}

// queuedWrite tracks the in-progress state of a queued provide-port
// write.
type queuedWrite struct {
	active        bool
	elementSize   uint32
	maxLength     uint32
	currentLength uint32
	lengthOffset  int
	lengthWidth   program.Variant
}

// Serializer executes a pack program against a dtl.Value tree, writing
// into a caller-supplied buffer. It is a flat state machine: one
// instruction-dispatch loop over an explicit frame stack, never
// recursing on the Go call stack, so memory use is bounded by the
// program's nesting depth regardless of input. One Serializer may be
// reused across many PackValue calls.
type Serializer struct {
	buf    []byte
	next   int
	frames []packFrame
	queue  queuedWrite
}

// NewSerializer returns an idle Serializer with no buffer bound.
func NewSerializer() *Serializer { return &Serializer{} }

// SetBuffer binds buf as the write target and resets the write cursor.
func (s *Serializer) SetBuffer(buf []byte) {
	s.buf = buf
	s.next = 0
	s.queue = queuedWrite{}
}

// BytesWritten reports how many bytes have been written since SetBuffer.
func (s *Serializer) BytesWritten() int { return s.next }

// PackValue runs body (a pack program's instruction stream, i.e. the
// program bytes following its header) against root, writing into the
// bound buffer from the current cursor. Returns the number of bytes
// written by this call.
func (s *Serializer) PackValue(body []byte, root dtl.Value) (int, error) {
	if s.buf == nil {
		return 0, apxerr.New(apxerr.MissingBuffer, "vm.Serializer.PackValue", nil)
	}
	start := s.next
	dec := NewDecoder(body)
	if err := s.run(dec, root); err != nil {
		s.next = start // boundary error rolls back to the last committed frame
		return 0, err
	}
	return s.next - start, nil
}

// run is the interpreter loop: decode one instruction, dispatch on its
// kind, repeat until ProgramEnd.
func (s *Serializer) run(dec *Decoder, root dtl.Value) error {
	s.frames = append(s.frames[:0], packFrame{kind: packFrameValue, value: root})
	for {
		inst, err := dec.Next()
		if err != nil {
			return err
		}
		switch inst.Kind {
		case OpEnd:
			return nil
		case OpRangeCheckU32, OpRangeCheckI32, OpRangeCheckU64, OpRangeCheckI64:
			if err := s.applyRangeCheck(inst); err != nil {
				return err
			}
		case OpPackValue:
			if err := s.packValue(dec, inst); err != nil {
				return err
			}
		case OpRecordSelect:
			if err := s.selectField(inst); err != nil {
				return err
			}
		case OpArrayNext:
			if err := s.arrayNext(dec); err != nil {
				return err
			}
		default:
			return apxerr.New(apxerr.InvalidProgram, "vm.Serializer.run", nil)
		}
	}
}

func (s *Serializer) top() *packFrame { return &s.frames[len(s.frames)-1] }

// applyRangeCheck evaluates the check against the top frame's value
// right away and records pass/fail on the frame; the following pack
// instruction reports the failure.
func (s *Serializer) applyRangeCheck(inst Instruction) error {
	top := s.top()
	ok, err := evalRangeCheck(top.value, inst)
	if err != nil {
		return err
	}
	if ok {
		top.rng = rangeCheckOK
	} else {
		top.rng = rangeCheckFail
	}
	return nil
}

// consumeRangeResult reports the outcome of a preceding range-check
// instruction; a frame that was never explicitly checked gets the
// default check against the type's natural bounds instead.
func (s *Serializer) consumeRangeResult(top *packFrame, t element.TypeCode) error {
	rng := top.rng
	top.rng = rangeNotChecked
	switch rng {
	case rangeCheckFail:
		return apxerr.New(apxerr.ValueRange, "vm.Serializer", nil)
	case rangeCheckOK:
		return nil
	}
	return checkNaturalRange(top.value, t)
}

// completeValue pops the frame cascade after the value bound at the top
// of the stack has been fully packed: a completed last field also
// completes its record, which may itself be a field one level up. An
// array frame is left for ArrayNext to advance.
func (s *Serializer) completeValue() {
	for len(s.frames) > 1 {
		top := s.frames[len(s.frames)-1]
		if top.kind != packFrameField {
			return
		}
		s.frames = s.frames[:len(s.frames)-1]
		if !top.lastField {
			return
		}
	}
}

func (s *Serializer) packValue(dec *Decoder, inst Instruction) error {
	if inst.Type == element.Record {
		return s.packRecord(dec, inst)
	}
	if inst.IsArrayInstruction() {
		return s.packArray(dec, inst)
	}
	return s.packScalar(inst)
}

func (s *Serializer) packScalar(inst Instruction) error {
	top := s.top()
	if err := s.consumeRangeResult(top, inst.Type); err != nil {
		return err
	}
	size, _ := inst.Type.Size()
	if s.next+int(size) > len(s.buf) {
		return apxerr.New(apxerr.BufferBoundary, "vm.Serializer.packScalar", nil)
	}
	if err := writeScalar(s.buf[s.next:s.next+int(size)], top.value, inst.Type); err != nil {
		return err
	}
	s.next += int(size)
	s.completeValue()
	return nil
}

func (s *Serializer) packArray(dec *Decoder, inst Instruction) error {
	sizeInst, err := dec.Next()
	if err != nil || sizeInst.Kind != OpArraySize {
		return apxerr.New(apxerr.InvalidProgram, "vm.Serializer.packArray", nil)
	}
	n, err := dec.readDataSizeValue(sizeInst.SizeVariant)
	if err != nil {
		return err
	}
	top := s.top()

	if inst.Type.IsString() || inst.Type == element.Byte {
		top.rng = rangeNotChecked // range limits don't apply to the string/byte path
		if err := s.packBytes(top.value, n, sizeInst.Dynamic); err != nil {
			return err
		}
		s.completeValue()
		return nil
	}

	if err := s.consumeRangeResult(top, inst.Type); err != nil {
		return err
	}
	elems, err := top.value.Array()
	if err != nil {
		return err
	}

	elemSize, _ := inst.Type.Size()
	if sizeInst.Dynamic {
		if uint32(len(elems)) > n {
			return apxerr.New(apxerr.ValueLength, "vm.Serializer.packArray", nil)
		}
		if err := s.writeLen(uint32(len(elems)), sizeInst.SizeVariant); err != nil {
			return err
		}
		// the payload region is always max-sized; the tail is zeroed
	} else if uint32(len(elems)) != n {
		return apxerr.New(apxerr.ValueLength, "vm.Serializer.packArray", nil)
	}

	if s.next+int(n)*int(elemSize) > len(s.buf) {
		return apxerr.New(apxerr.BufferBoundary, "vm.Serializer.packArray", nil)
	}
	for i := uint32(0); i < n; i++ {
		dst := s.buf[s.next : s.next+int(elemSize)]
		if i < uint32(len(elems)) {
			if err := writeScalar(dst, elems[i], inst.Type); err != nil {
				return err
			}
		} else {
			for k := range dst {
				dst[k] = 0
			}
		}
		s.next += int(elemSize)
	}
	s.completeValue()
	return nil
}

// packBytes writes a char/char8/byte array payload: copy up to maxLen
// units, zero-pad the remainder; the region is always maxLen bytes even
// when dynamic, with the actual length written as a prefix first.
func (s *Serializer) packBytes(cur dtl.Value, maxLen uint32, dynamic bool) error {
	raw, err := cur.Bytes()
	if err != nil {
		return err
	}
	if dynamic {
		if uint32(len(raw)) > maxLen {
			return apxerr.New(apxerr.ValueLength, "vm.Serializer.packBytes", nil)
		}
		if err := s.writeLen(uint32(len(raw)), program.VariantFor(uint64(maxLen))); err != nil {
			return err
		}
	}
	if s.next+int(maxLen) > len(s.buf) {
		return apxerr.New(apxerr.BufferBoundary, "vm.Serializer.packBytes", nil)
	}
	n := copy(s.buf[s.next:s.next+int(maxLen)], raw)
	for i := s.next + n; i < s.next+int(maxLen); i++ {
		s.buf[i] = 0
	}
	s.next += int(maxLen)
	return nil
}

// packRecord binds the top frame to the record's hash (scalar record)
// or pushes an array frame iterating its rows (array of records). The
// RecordSelect operations that follow do the field work.
func (s *Serializer) packRecord(dec *Decoder, inst Instruction) error {
	top := s.top()
	top.rng = rangeNotChecked
	if !inst.IsArrayInstruction() {
		if top.value.Type() != dtl.Hash {
			return apxerr.New(apxerr.ValueType, "vm.Serializer.packRecord", nil)
		}
		return nil
	}

	sizeInst, err := dec.Next()
	if err != nil || sizeInst.Kind != OpArraySize {
		return apxerr.New(apxerr.InvalidProgram, "vm.Serializer.packRecord", nil)
	}
	n, err := dec.readDataSizeValue(sizeInst.SizeVariant)
	if err != nil {
		return err
	}
	elems, err := top.value.Array()
	if err != nil {
		return err
	}
	if sizeInst.Dynamic {
		if uint32(len(elems)) > n {
			return apxerr.New(apxerr.ValueLength, "vm.Serializer.packRecord", nil)
		}
		if err := s.writeLen(uint32(len(elems)), sizeInst.SizeVariant); err != nil {
			return err
		}
	} else if uint32(len(elems)) != n {
		return apxerr.New(apxerr.ValueLength, "vm.Serializer.packRecord", nil)
	}

	if len(elems) == 0 {
		if err := dec.skipRecordBody(); err != nil {
			return err
		}
		s.completeValue()
		return nil
	}
	dec.SaveProgramPosition()
	s.frames = append(s.frames, packFrame{kind: packFrameArray, value: elems[0], elems: elems})
	return nil
}

// selectField pushes a field frame bound to the named member of the
// current record hash.
func (s *Serializer) selectField(inst Instruction) error {
	top := s.top()
	fv, ok := top.value.Field(inst.FieldName)
	if !ok {
		return apxerr.New(apxerr.NotFound, "vm.Serializer.selectField", nil)
	}
	s.frames = append(s.frames, packFrame{kind: packFrameField, value: fv, lastField: inst.LastField})
	return nil
}

// arrayNext advances an array-of-record iteration: rebind the array
// frame to the next row and rewind the decoder, or pop the frame once
// every row has been packed.
func (s *Serializer) arrayNext(dec *Decoder) error {
	top := s.top()
	if top.kind != packFrameArray {
		return apxerr.New(apxerr.InvalidProgram, "vm.Serializer.arrayNext", nil)
	}
	top.index++
	if top.index < len(top.elems) {
		top.value = top.elems[top.index]
		return dec.RecallProgramPosition()
	}
	dec.PopProgramPosition()
	s.frames = s.frames[:len(s.frames)-1]
	s.completeValue()
	return nil
}

func (s *Serializer) writeLen(n uint32, v program.Variant) error {
	w := v.Size()
	if s.next+w > len(s.buf) {
		return apxerr.New(apxerr.BufferBoundary, "vm.Serializer.writeLen", nil)
	}
	writeLE(s.buf[s.next:s.next+w], uint64(n), w)
	s.next += w
	return nil
}

// BeginQueuedWrite starts a queued-port pack session. clear resets the
// stored count to zero; otherwise the existing count at the length
// field is preserved (read back first) and subsequent packs append
// after it.
func (s *Serializer) BeginQueuedWrite(elementSize, maxLength uint32, clear bool) error {
	width := program.VariantFor(uint64(maxLength))
	w := width.Size()
	if s.next+w > len(s.buf) {
		return apxerr.New(apxerr.BufferBoundary, "vm.Serializer.BeginQueuedWrite", nil)
	}
	s.queue = queuedWrite{
		active:       true,
		elementSize:  elementSize,
		maxLength:    maxLength,
		lengthOffset: s.next,
		lengthWidth:  width,
	}
	if !clear {
		n, _, err := decodeLEBuf(s.buf[s.next:s.next+w], width)
		if err == nil {
			s.queue.currentLength = n
			s.next += int(n) * int(elementSize)
		}
	}
	s.next += w
	return nil
}

// PackQueuedElement packs one element into the active queued write.
func (s *Serializer) PackQueuedElement(body []byte, v dtl.Value) error {
	if !s.queue.active {
		return apxerr.New(apxerr.InvalidArgument, "vm.Serializer.PackQueuedElement", nil)
	}
	if s.queue.currentLength >= s.queue.maxLength {
		return apxerr.New(apxerr.QueueFull, "vm.Serializer.PackQueuedElement", nil)
	}
	dec := NewDecoder(body)
	if err := s.run(dec, v); err != nil {
		return err
	}
	s.queue.currentLength++
	return nil
}

// EndQueuedWrite writes the final element count back to the length field
// reserved by BeginQueuedWrite and returns that count.
func (s *Serializer) EndQueuedWrite() (uint32, error) {
	if !s.queue.active {
		return 0, apxerr.New(apxerr.InvalidArgument, "vm.Serializer.EndQueuedWrite", nil)
	}
	w := s.queue.lengthWidth.Size()
	writeLE(s.buf[s.queue.lengthOffset:s.queue.lengthOffset+w], uint64(s.queue.currentLength), w)
	n := s.queue.currentLength
	s.queue = queuedWrite{}
	return n, nil
}
