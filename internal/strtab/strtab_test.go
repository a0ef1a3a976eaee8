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

package strtab

import "testing"

func TestInternAssignsStableIDs(t *testing.T) {
	var tab Table
	a := tab.Intern("First")
	b := tab.Intern("Second")
	if a == b {
		t.Fatalf("distinct strings share an id")
	}
	if got := tab.Intern("First"); got != a {
		t.Fatalf("re-interning changed the id: %d != %d", got, a)
	}
	if tab.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tab.Len())
	}
	if tab.String(a) != "First" || tab.String(b) != "Second" {
		t.Fatalf("String() lookup mismatch")
	}
	if tab.String(99) != "" {
		t.Fatalf("out-of-range String() returned a value")
	}
}

func TestLookupDoesNotAdd(t *testing.T) {
	var tab Table
	if _, ok := tab.Lookup("missing"); ok {
		t.Fatalf("Lookup reported a string that was never interned")
	}
	if tab.Len() != 0 {
		t.Fatalf("Lookup grew the table")
	}
}

func TestCanonReturnsOneAllocation(t *testing.T) {
	var tab Table
	first := tab.Canon("FieldName")
	second := tab.Canon(string([]byte("FieldName")))
	if first != second {
		t.Fatalf("Canon returned unequal strings")
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}
}

func TestReset(t *testing.T) {
	var tab Table
	tab.Intern("x")
	tab.Reset()
	if tab.Len() != 0 {
		t.Fatalf("Len() after Reset = %d", tab.Len())
	}
	if _, ok := tab.Lookup("x"); ok {
		t.Fatalf("Reset kept an entry")
	}
}
