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
	"bytes"
	"testing"

	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
)

// scalarProgramBody builds the single-instruction body packing or
// unpacking one scalar of type t, bypassing the compiler package so this
// test exercises the decoder/serializer/deserializer directly.
func scalarProgramBody(kind program.Kind, t element.TypeCode) []byte {
	op := program.OpUnpack
	if kind == program.Pack {
		op = program.OpPack
	}
	return []byte{program.EncodeInstruction(op, program.InstVariant(t), false)}
}

// Every primitive type round-trips its extreme values through pack and
// unpack, and pack writes exactly the type's element size.
func TestPrimitiveRoundTrip(t *testing.T) {
	cases := []struct {
		typ element.TypeCode
		vs  []dtl.Value
	}{
		{element.U8, []dtl.Value{dtl.NewU32(0), dtl.NewU32(0xFF)}},
		{element.U16, []dtl.Value{dtl.NewU32(0), dtl.NewU32(0xFFFF)}},
		{element.U32, []dtl.Value{dtl.NewU32(0), dtl.NewU32(0xFFFFFFFF)}},
		{element.U64, []dtl.Value{dtl.NewU64(0), dtl.NewU64(0xFFFFFFFFFFFFFFFF)}},
		{element.I8, []dtl.Value{dtl.NewI32(-0x80), dtl.NewI32(0x7F)}},
		{element.I16, []dtl.Value{dtl.NewI32(-0x8000), dtl.NewI32(0x7FFF)}},
		{element.I32, []dtl.Value{dtl.NewI32(-0x7FFFFFFF - 1), dtl.NewI32(0x7FFFFFFF)}},
		{element.I64, []dtl.Value{dtl.NewI64(-1 << 63), dtl.NewI64(1<<63 - 1)}},
		{element.Bool, []dtl.Value{dtl.NewBool(false), dtl.NewBool(true)}},
	}

	for _, c := range cases {
		size, _ := c.typ.Size()
		for _, v := range c.vs {
			packBody := scalarProgramBody(program.Pack, c.typ)
			ser := NewSerializer()
			buf := make([]byte, size)
			ser.SetBuffer(buf)
			n, err := ser.PackValue(packBody, v)
			if err != nil {
				t.Fatalf("PackValue(%v, %v): %v", c.typ, v, err)
			}
			if n != int(size) {
				t.Fatalf("PackValue(%v) wrote %d bytes, want %d", c.typ, n, size)
			}

			unpackBody := scalarProgramBody(program.Unpack, c.typ)
			des := NewDeserializer()
			des.SetBuffer(buf)
			got, err := des.UnpackValue(unpackBody)
			if err != nil {
				t.Fatalf("UnpackValue(%v): %v", c.typ, err)
			}

			if c.typ == element.Bool {
				wantB, _ := v.Bool()
				gotB, _ := got.Bool()
				if wantB != gotB {
					t.Fatalf("round trip bool: got %v, want %v", gotB, wantB)
				}
				continue
			}
			if c.typ.Signed() {
				wantN, _ := v.Int64()
				gotN, _ := got.Int64()
				if wantN != gotN {
					t.Fatalf("round trip %v: got %d, want %d", c.typ, gotN, wantN)
				}
				continue
			}
			wantN, _ := v.Uint64()
			gotN, _ := got.Uint64()
			if wantN != gotN {
				t.Fatalf("round trip %v: got %d, want %d", c.typ, gotN, wantN)
			}
		}
	}
}

// For any array program with length N and per-element size s,
// bytes_written == N*s for a non-dynamic array.
func TestArrayBytesWrittenNonDynamic(t *testing.T) {
	n := uint32(5)
	body := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.U32), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), false),
		byte(n),
	}
	elems := make([]dtl.Value, n)
	for i := range elems {
		elems[i] = dtl.NewU32(uint32(i))
	}
	v := dtl.NewArray(elems)

	ser := NewSerializer()
	buf := make([]byte, n*4)
	ser.SetBuffer(buf)
	written, err := ser.PackValue(body, v)
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	if written != int(n)*4 {
		t.Fatalf("bytes_written = %d, want %d", written, int(n)*4)
	}
}

// For any array program with length N and per-element size s,
// bytes_written == width(max) + N*s for a dynamic array, padded to
// max*s from the buffer's next-pointer view.
func TestArrayBytesWrittenDynamic(t *testing.T) {
	max := uint32(8)
	n := uint32(3)
	body := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.U16), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), true),
		byte(max),
	}
	elems := make([]dtl.Value, n)
	for i := range elems {
		elems[i] = dtl.NewU32(uint32(i + 1))
	}
	v := dtl.NewArray(elems)

	ser := NewSerializer()
	buf := make([]byte, 1+max*2)
	ser.SetBuffer(buf)
	written, err := ser.PackValue(body, v)
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	want := 1 + int(max)*2 // length-prefix width(1) + the max-padded region
	if written != want {
		t.Fatalf("bytes_written = %d, want %d", written, want)
	}
	if buf[0] != byte(n) {
		t.Fatalf("length prefix = %d, want %d", buf[0], n)
	}
}

// For any record program, unpack followed by pack with the unpacked
// value produces a byte string identical to the original input within
// the program's declared region.
func TestRecordUnpackPackRoundTrip(t *testing.T) {
	body := []byte{
		program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.Record), false),
		program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, false),
	}
	body = append(body, []byte("First")...)
	body = append(body, 0)
	body = append(body, program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.U16), false))
	body = append(body, program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, true))
	body = append(body, []byte("Second")...)
	body = append(body, 0)
	body = append(body, program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.U8), false))

	original := []byte{0x34, 0x12, 0x99}

	des := NewDeserializer()
	des.SetBuffer(original)
	v, err := des.UnpackValue(body)
	if err != nil {
		t.Fatalf("UnpackValue: %v", err)
	}

	// Built independently rather than derived from body: flipping opcode
	// bytes in place is unsafe here, since the embedded field-name bytes
	// (e.g. the "First\0" terminator) can themselves decode as a spurious
	// OpUnpack instruction.
	packBody := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.Record), false),
		program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, false),
	}
	packBody = append(packBody, []byte("First")...)
	packBody = append(packBody, 0)
	packBody = append(packBody, program.EncodeInstruction(program.OpPack, program.InstVariant(element.U16), false))
	packBody = append(packBody, program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, true))
	packBody = append(packBody, []byte("Second")...)
	packBody = append(packBody, 0)
	packBody = append(packBody, program.EncodeInstruction(program.OpPack, program.InstVariant(element.U8), false))

	ser := NewSerializer()
	out := make([]byte, len(original))
	ser.SetBuffer(out)
	if _, err := ser.PackValue(packBody, v); err != nil {
		t.Fatalf("PackValue: %v", err)
	}

	if !bytes.Equal(out, original) {
		t.Fatalf("round trip = % x, want % x", out, original)
	}
}

// Without an explicit range-check instruction, a pack still rejects a
// value outside the target type's natural bounds.
func TestPackDefaultNaturalRangeCheck(t *testing.T) {
	body := scalarProgramBody(program.Pack, element.U8)
	ser := NewSerializer()
	ser.SetBuffer(make([]byte, 1))
	if _, err := ser.PackValue(body, dtl.NewU32(0x100)); err == nil {
		t.Fatalf("expected packing 0x100 into u8 to fail")
	}
	if _, err := ser.PackValue(body, dtl.NewI32(-1)); err == nil {
		t.Fatalf("expected packing -1 into u8 to fail")
	}
}

// A char array packs as a NUL-padded fixed region, and a non-dynamic
// unpack truncates at the first NUL while consuming the whole region.
func TestCharArrayPackUnpack(t *testing.T) {
	const maxLen = 8
	packBody := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.Char), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), false),
		maxLen,
	}
	ser := NewSerializer()
	buf := make([]byte, maxLen)
	ser.SetBuffer(buf)
	written, err := ser.PackValue(packBody, dtl.NewBytes([]byte("Gear")))
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	if written != maxLen {
		t.Fatalf("bytes_written = %d, want %d", written, maxLen)
	}
	want := []byte{'G', 'e', 'a', 'r', 0, 0, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Fatalf("buffer = % x, want % x", buf, want)
	}

	unpackBody := []byte{
		program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.Char), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), false),
		maxLen,
	}
	des := NewDeserializer()
	des.SetBuffer(buf)
	v, err := des.UnpackValue(unpackBody)
	if err != nil {
		t.Fatalf("UnpackValue: %v", err)
	}
	raw, err := v.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(raw) != "Gear" {
		t.Fatalf("unpacked string = %q, want Gear", raw)
	}
	if des.BytesRead() != maxLen {
		t.Fatalf("BytesRead = %d, want %d (the full element-sized region)", des.BytesRead(), maxLen)
	}
}

// An array shorter or longer than its declared non-dynamic length is a
// length error, not a silent truncation.
func TestArrayLengthMismatch(t *testing.T) {
	body := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.U8), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), false),
		3,
	}
	ser := NewSerializer()
	ser.SetBuffer(make([]byte, 3))
	_, err := ser.PackValue(body, dtl.NewArray([]dtl.Value{dtl.NewU32(1), dtl.NewU32(2)}))
	if apxerr.KindOf(err) != apxerr.ValueLength {
		t.Fatalf("error kind = %v, want ValueLength", apxerr.KindOf(err))
	}
}

// A dynamic record array writes its length prefix before the rows, and
// the unpack side reads the same prefix back.
func TestDynamicRecordArrayRoundTrip(t *testing.T) {
	packBody := []byte{
		program.EncodeInstruction(program.OpPack, program.InstVariant(element.Record), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), true),
		4,
		program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, true),
	}
	packBody = append(packBody, []byte("N")...)
	packBody = append(packBody, 0)
	packBody = append(packBody, program.EncodeInstruction(program.OpPack, program.InstVariant(element.U8), false))
	packBody = append(packBody, program.EncodeInstruction(program.OpFlowCtrl, 0, false))

	rows := []dtl.Value{
		dtl.NewHash([]string{"N"}, map[string]dtl.Value{"N": dtl.NewU32(7)}),
		dtl.NewHash([]string{"N"}, map[string]dtl.Value{"N": dtl.NewU32(9)}),
	}
	ser := NewSerializer()
	buf := make([]byte, 5)
	ser.SetBuffer(buf)
	if _, err := ser.PackValue(packBody, dtl.NewArray(rows)); err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	if buf[0] != 2 || buf[1] != 7 || buf[2] != 9 {
		t.Fatalf("buffer = % x, want 02 07 09 ...", buf)
	}

	unpackBody := []byte{
		program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.Record), true),
		program.EncodeInstruction(program.OpDataSize, program.InstVariant(program.VariantU8), true),
		4,
		program.EncodeInstruction(program.OpDataCtrl, recordSelectVariant, true),
	}
	unpackBody = append(unpackBody, []byte("N")...)
	unpackBody = append(unpackBody, 0)
	unpackBody = append(unpackBody, program.EncodeInstruction(program.OpUnpack, program.InstVariant(element.U8), false))
	unpackBody = append(unpackBody, program.EncodeInstruction(program.OpFlowCtrl, 0, false))

	des := NewDeserializer()
	des.SetBuffer(buf)
	v, err := des.UnpackValue(unpackBody)
	if err != nil {
		t.Fatalf("UnpackValue: %v", err)
	}
	got, err := v.Array()
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	n, _ := got[1].Field("N")
	if u, _ := n.Uint64(); u != 9 {
		t.Fatalf("rows[1].N = %d, want 9", u)
	}
}
