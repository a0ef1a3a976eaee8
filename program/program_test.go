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

package program

import (
	"testing"

	"github.com/cogu/apx/apxerr"
)

// Header round-trips for every (elem, queue) combination whose total data
// size fits in a u32; larger combinations are rejected with LengthError.
func TestHeaderRoundTrip(t *testing.T) {
	elems := []uint32{1, 2, 4, 0xFF, 0x100, 0xFFFF, 0x10000, 0x123456}
	queues := []uint32{0, 1, 2, 0xFF, 0x100, 0xFFFF, 0x10000}
	kinds := []Kind{Pack, Unpack}

	for _, kind := range kinds {
		for _, elem := range elems {
			for _, queue := range queues {
				for _, dyn := range []bool{false, true} {
					buf, err := EncodeHeader(kind, elem, queue, dyn)
					if queue > 0 && uint64(VariantFor(uint64(queue)).Size())+uint64(elem)*uint64(queue) > 0xFFFFFFFF {
						if apxerr.KindOf(err) != apxerr.LengthError {
							t.Fatalf("EncodeHeader(%v,%d,%d,%v) error kind = %v, want LengthError", kind, elem, queue, dyn, apxerr.KindOf(err))
						}
						continue
					}
					if err != nil {
						t.Fatalf("EncodeHeader(%v,%d,%d,%v): %v", kind, elem, queue, dyn, err)
					}
					hdr, _, err := DecodeHeader(buf)
					if err != nil {
						t.Fatalf("DecodeHeader after Encode(%v,%d,%d,%v): %v", kind, elem, queue, dyn, err)
					}
					if hdr.ProgramType != kind {
						t.Fatalf("ProgramType = %v, want %v", hdr.ProgramType, kind)
					}
					if hdr.HasDynamicData != dyn {
						t.Fatalf("HasDynamicData = %v, want %v", hdr.HasDynamicData, dyn)
					}
					if queue == 0 {
						if hdr.DataSize != elem {
							t.Fatalf("DataSize = %d, want %d (unqueued)", hdr.DataSize, elem)
						}
						continue
					}
					if hdr.ElementSize != elem {
						t.Fatalf("ElementSize = %d, want %d", hdr.ElementSize, elem)
					}
					if hdr.QueueLength != queue {
						t.Fatalf("QueueLength = %d, want %d", hdr.QueueLength, queue)
					}
				}
			}
		}
	}
}

// Instruction byte round-trips for every representable opcode/variant/
// flag combination.
func TestInstructionRoundTrip(t *testing.T) {
	for op := Opcode(0); op < 8; op++ {
		for variant := InstVariant(0); variant < 16; variant++ {
			for _, flag := range []bool{false, true} {
				b := EncodeInstruction(op, variant, flag)
				gotOp, gotVariant, gotFlag := DecodeInstruction(b)
				if gotOp != op&0b111 {
					t.Fatalf("opcode round-trip: got %v, want %v", gotOp, op&0b111)
				}
				if gotVariant != variant {
					t.Fatalf("variant round-trip: got %v, want %v", gotVariant, variant)
				}
				if gotFlag != flag {
					t.Fatalf("flag round-trip: got %v, want %v", gotFlag, flag)
				}
			}
		}
	}
}

func TestVariantForPicksNarrowestWidth(t *testing.T) {
	cases := []struct {
		n    uint64
		want Variant
	}{
		{0, VariantU8},
		{0xFF, VariantU8},
		{0x100, VariantU16},
		{0xFFFF, VariantU16},
		{0x10000, VariantU32},
		{0xFFFFFFFF, VariantU32},
	}
	for _, c := range cases {
		if got := VariantFor(c.n); got != c.want {
			t.Fatalf("VariantFor(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{0x01}); err == nil {
		t.Fatalf("expected an error decoding a header from a too-short buffer")
	}
}
