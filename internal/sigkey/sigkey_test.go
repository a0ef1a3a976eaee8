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

package sigkey

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	a := Of(`{"First"S"Second"C}`)
	b := Of(`{"First"S"Second"C}`)
	if a != b {
		t.Fatalf("equal signatures hashed differently: %x != %x", a, b)
	}
}

func TestOfDistinguishesSignatures(t *testing.T) {
	sigs := []string{"C", "S", "L", "C[4]", "C[4]*", "C(0,3)", `{"x"C}`}
	seen := map[Key]string{}
	for _, sig := range sigs {
		k := Of(sig)
		if prev, dup := seen[k]; dup {
			t.Fatalf("signatures %q and %q collide", prev, sig)
		}
		seen[k] = sig
	}
}

func TestBucketStaysInRange(t *testing.T) {
	const bits = 4
	for _, sig := range []string{"C", "S[2]", `{"a"C"b"S}`} {
		b := Of(sig).Bucket(bits)
		if b < 0 || b >= 1<<bits {
			t.Fatalf("Bucket(%d) = %d, out of range", bits, b)
		}
	}
}
