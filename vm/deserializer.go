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
	"github.com/cogu/apx/internal/strtab"
	"github.com/cogu/apx/program"
)

type unpackFrameKind uint8

const (
	unpackFrameRecord unpackFrameKind = iota // a record hash being assembled
	unpackFrameField                         // a selected field awaiting its value
	unpackFrameArray                         // an array-of-record iteration collecting rows
)

// unpackFrame is one entry of the deserializer's explicit frame stack.
type unpackFrame struct {
	kind      unpackFrameKind
	fieldName string
	lastField bool

	order  []string // unpackFrameRecord: fields in declaration order
	fields map[string]dtl.Value

	vals  []dtl.Value // unpackFrameArray: completed rows
	n     uint32
	index uint32
}

// queuedRead tracks an in-progress queued-port read.
type queuedRead struct {
	active    bool
	remaining uint32
}

// Deserializer executes an unpack program against a byte buffer,
// building a dtl.Value tree. Like the Serializer it is a flat state
// machine over an explicit frame stack, never recursing on the Go call
// stack. One difference: a range-check failure is reported immediately
// (the value has already been produced), not deferred.
type Deserializer struct {
	buf    []byte
	next   int
	frames []unpackFrame
	queue  queuedRead

	// names interns record field names, so every row of a decoded
	// record array keys its hash with the same string allocation.
	names strtab.Table
}

func NewDeserializer() *Deserializer { return &Deserializer{} }

// SetBuffer binds buf as the read source and resets the read cursor.
func (d *Deserializer) SetBuffer(buf []byte) {
	d.buf = buf
	d.next = 0
	d.queue = queuedRead{}
}

// BytesRead reports how many bytes have been consumed since SetBuffer.
func (d *Deserializer) BytesRead() int { return d.next }

// UnpackValue runs body against the bound buffer and returns the decoded
// value tree.
func (d *Deserializer) UnpackValue(body []byte) (dtl.Value, error) {
	if d.buf == nil {
		return dtl.Value{}, apxerr.New(apxerr.MissingBuffer, "vm.Deserializer.UnpackValue", nil)
	}
	start := d.next
	dec := NewDecoder(body)
	v, err := d.run(dec)
	if err != nil {
		d.next = start
		return dtl.Value{}, err
	}
	return v, nil
}

// run is the interpreter loop. A freshly produced value is staged for
// one instruction before being installed into its parent frame, so a
// trailing range-check instruction can reject it first.
func (d *Deserializer) run(dec *Decoder) (dtl.Value, error) {
	d.frames = d.frames[:0]
	var result, staged dtl.Value
	var stagedValid, done bool

	flush := func() error {
		if !stagedValid {
			return nil
		}
		stagedValid = false
		v, complete, err := d.install(staged)
		if err != nil {
			return err
		}
		if complete {
			result, done = v, true
		}
		return nil
	}

	for {
		inst, err := dec.Next()
		if err != nil {
			return dtl.Value{}, err
		}
		switch inst.Kind {
		case OpEnd:
			if err := flush(); err != nil {
				return dtl.Value{}, err
			}
			if !done || len(d.frames) != 0 {
				return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.run", nil)
			}
			return result, nil

		case OpRangeCheckU32, OpRangeCheckI32, OpRangeCheckU64, OpRangeCheckI64:
			if !stagedValid {
				return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.run", nil)
			}
			ok, err := evalRangeCheck(staged, inst)
			if err != nil {
				return dtl.Value{}, err
			}
			if !ok {
				return dtl.Value{}, apxerr.New(apxerr.ValueRange, "vm.Deserializer", nil)
			}

		case OpUnpackValue:
			if err := flush(); err != nil {
				return dtl.Value{}, err
			}
			if inst.Type == element.Record {
				v, produced, err := d.unpackRecord(dec, inst)
				if err != nil {
					return dtl.Value{}, err
				}
				if produced { // zero-row array: the empty value is ready
					staged, stagedValid = v, true
				}
				continue
			}
			var v dtl.Value
			if inst.IsArrayInstruction() {
				v, err = d.unpackArray(dec, inst)
			} else {
				v, err = d.unpackScalar(inst)
			}
			if err != nil {
				return dtl.Value{}, err
			}
			staged, stagedValid = v, true

		case OpRecordSelect:
			if err := flush(); err != nil {
				return dtl.Value{}, err
			}
			if len(d.frames) == 0 || d.top().kind != unpackFrameRecord {
				return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.run", nil)
			}
			d.frames = append(d.frames, unpackFrame{
				kind:      unpackFrameField,
				fieldName: d.names.Canon(inst.FieldName),
				lastField: inst.LastField,
			})

		case OpArrayNext:
			if err := flush(); err != nil {
				return dtl.Value{}, err
			}
			if len(d.frames) == 0 || d.top().kind != unpackFrameArray {
				return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.run", nil)
			}
			top := d.top()
			top.index++
			if top.index < top.n {
				if err := dec.RecallProgramPosition(); err != nil {
					return dtl.Value{}, err
				}
				d.frames = append(d.frames, newRecordFrame())
				continue
			}
			dec.PopProgramPosition()
			arr := dtl.NewArray(top.vals)
			d.frames = d.frames[:len(d.frames)-1]
			v, complete, err := d.install(arr)
			if err != nil {
				return dtl.Value{}, err
			}
			if complete {
				result, done = v, true
			}

		default:
			return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.run", nil)
		}
	}
}

func (d *Deserializer) top() *unpackFrame { return &d.frames[len(d.frames)-1] }

func newRecordFrame() unpackFrame {
	return unpackFrame{kind: unpackFrameRecord, fields: map[string]dtl.Value{}}
}

// install places a completed value into its parent frame, cascading
// record completions upward: installing a last field completes its
// record, which is itself installed one level up. Reports the final
// value once the stack empties.
func (d *Deserializer) install(v dtl.Value) (dtl.Value, bool, error) {
	for {
		if len(d.frames) == 0 {
			return v, true, nil
		}
		top := d.top()
		switch top.kind {
		case unpackFrameField:
			name, last := top.fieldName, top.lastField
			d.frames = d.frames[:len(d.frames)-1]
			rec := d.top()
			if rec.kind != unpackFrameRecord {
				return dtl.Value{}, false, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.install", nil)
			}
			rec.order = append(rec.order, name)
			rec.fields[name] = v
			if !last {
				return dtl.Value{}, false, nil
			}
			v = dtl.NewHash(rec.order, rec.fields)
			d.frames = d.frames[:len(d.frames)-1]
		case unpackFrameArray:
			top.vals = append(top.vals, v)
			return dtl.Value{}, false, nil
		default:
			return dtl.Value{}, false, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.install", nil)
		}
	}
}

func (d *Deserializer) unpackScalar(inst Instruction) (dtl.Value, error) {
	size, _ := inst.Type.Size()
	if d.next+int(size) > len(d.buf) {
		return dtl.Value{}, apxerr.New(apxerr.BufferBoundary, "vm.Deserializer.unpackScalar", nil)
	}
	v := readScalar(d.buf[d.next:d.next+int(size)], inst.Type)
	d.next += int(size)
	return v, nil
}

// unpackArray reads a scalar, char or byte array (record arrays are
// handled by unpackRecord's frame push instead).
func (d *Deserializer) unpackArray(dec *Decoder, inst Instruction) (dtl.Value, error) {
	sizeInst, err := dec.Next()
	if err != nil || sizeInst.Kind != OpArraySize {
		return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.unpackArray", nil)
	}
	maxLen, err := dec.readDataSizeValue(sizeInst.SizeVariant)
	if err != nil {
		return dtl.Value{}, err
	}

	if inst.Type.IsString() || inst.Type == element.Byte {
		return d.unpackBytesArray(sizeInst, inst, maxLen)
	}

	n := maxLen
	if sizeInst.Dynamic {
		n, err = d.readLen(sizeInst.SizeVariant)
		if err != nil {
			return dtl.Value{}, err
		}
		if n > maxLen {
			return dtl.Value{}, apxerr.New(apxerr.ValueLength, "vm.Deserializer.unpackArray", nil)
		}
	}
	elemSize, _ := inst.Type.Size()
	if d.next+int(maxLen)*int(elemSize) > len(d.buf) {
		return dtl.Value{}, apxerr.New(apxerr.BufferBoundary, "vm.Deserializer.unpackArray", nil)
	}
	vals := make([]dtl.Value, n)
	for i := uint32(0); i < maxLen; i++ {
		v := readScalar(d.buf[d.next:d.next+int(elemSize)], inst.Type)
		d.next += int(elemSize)
		if i < n {
			vals[i] = v
		}
	}
	return dtl.NewArray(vals), nil
}

// unpackBytesArray implements the char/char8/byte array rule: for a
// non-dynamic char/char8 array, stop at the first NUL and still advance
// to the full element-sized boundary (C-style null-truncation). A
// non-dynamic byte array, which has no NUL convention, returns the whole
// region. A dynamic array instead carries an explicit length prefix and
// returns exactly that many bytes.
func (d *Deserializer) unpackBytesArray(sizeInst Instruction, inst Instruction, maxLen uint32) (dtl.Value, error) {
	if sizeInst.Dynamic {
		n, err := d.readLen(sizeInst.SizeVariant)
		if err != nil {
			return dtl.Value{}, err
		}
		if n > maxLen {
			return dtl.Value{}, apxerr.New(apxerr.ValueLength, "vm.Deserializer.unpackBytesArray", nil)
		}
		if d.next+int(n) > len(d.buf) {
			return dtl.Value{}, apxerr.New(apxerr.BufferBoundary, "vm.Deserializer.unpackBytesArray", nil)
		}
		out := make([]byte, n)
		copy(out, d.buf[d.next:d.next+int(n)])
		d.next += int(n)
		return dtl.NewBytes(out), nil
	}

	if d.next+int(maxLen) > len(d.buf) {
		return dtl.Value{}, apxerr.New(apxerr.BufferBoundary, "vm.Deserializer.unpackBytesArray", nil)
	}
	region := d.buf[d.next : d.next+int(maxLen)]
	d.next += int(maxLen)
	if inst.Type == element.Byte {
		out := make([]byte, maxLen)
		copy(out, region)
		return dtl.NewBytes(out), nil
	}
	n := 0
	for n < len(region) && region[n] != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, region[:n])
	return dtl.NewBytes(out), nil
}

// unpackRecord starts a record: a scalar record pushes an assembly
// frame for the RecordSelect stream to fill; an array of records also
// pushes the iteration frame and saves the loop position. A zero-row
// dynamic array produces its (empty) value directly, reported through
// produced=true.
func (d *Deserializer) unpackRecord(dec *Decoder, inst Instruction) (v dtl.Value, produced bool, err error) {
	if !inst.IsArrayInstruction() {
		d.frames = append(d.frames, newRecordFrame())
		return dtl.Value{}, false, nil
	}

	sizeInst, err := dec.Next()
	if err != nil || sizeInst.Kind != OpArraySize {
		return dtl.Value{}, false, apxerr.New(apxerr.InvalidProgram, "vm.Deserializer.unpackRecord", nil)
	}
	maxLen, err := dec.readDataSizeValue(sizeInst.SizeVariant)
	if err != nil {
		return dtl.Value{}, false, err
	}
	rows := maxLen
	if sizeInst.Dynamic {
		rows, err = d.readLen(sizeInst.SizeVariant)
		if err != nil {
			return dtl.Value{}, false, err
		}
		if rows > maxLen {
			return dtl.Value{}, false, apxerr.New(apxerr.ValueLength, "vm.Deserializer.unpackRecord", nil)
		}
	}
	if rows == 0 {
		if err := dec.skipRecordBody(); err != nil {
			return dtl.Value{}, false, err
		}
		return dtl.NewArray(nil), true, nil
	}
	dec.SaveProgramPosition()
	d.frames = append(d.frames, unpackFrame{kind: unpackFrameArray, n: rows, vals: make([]dtl.Value, 0, rows)})
	d.frames = append(d.frames, newRecordFrame())
	return dtl.Value{}, false, nil
}

func (d *Deserializer) readLen(v program.Variant) (uint32, error) {
	w := v.Size()
	if d.next+w > len(d.buf) {
		return 0, apxerr.New(apxerr.Parse, "vm.Deserializer.readLen", nil)
	}
	n := uint32(readLE(d.buf[d.next : d.next+w]))
	d.next += w
	return n, nil
}

// BeginQueuedRead starts a queued-port read: reads the element count
// prefix and stores it as the remaining element count.
func (d *Deserializer) BeginQueuedRead(maxLength uint32) (uint32, error) {
	width := program.VariantFor(uint64(maxLength))
	n, err := d.readLen(width)
	if err != nil {
		return 0, err
	}
	if n > maxLength {
		return 0, apxerr.New(apxerr.ValueLength, "vm.Deserializer.BeginQueuedRead", nil)
	}
	d.queue = queuedRead{active: true, remaining: n}
	return n, nil
}

// UnpackQueuedElement unpacks one element from the active queued read.
func (d *Deserializer) UnpackQueuedElement(body []byte) (dtl.Value, error) {
	if !d.queue.active || d.queue.remaining == 0 {
		return dtl.Value{}, apxerr.New(apxerr.InvalidArgument, "vm.Deserializer.UnpackQueuedElement", nil)
	}
	dec := NewDecoder(body)
	v, err := d.run(dec)
	if err != nil {
		return dtl.Value{}, err
	}
	d.queue.remaining--
	return v, nil
}
