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

// Package computation implements display-only value computations:
// value tables and rational scalings attached to a port for presentation
// purposes. Neither kind participates in pack/unpack; both only affect
// how a raw value is rendered to, or parsed from, a human-facing string.
package computation

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"
)

// Kind distinguishes the two computation shapes.
type Kind uint8

const (
	ValueTableKind Kind = iota
	RationalScalingKind
)

// Range is the optional integer range a computation applies over; it
// mirrors apx_computation_t's is_signed_range flag plus its
// lower_limit/upper_limit union, expressed in Go as a tagged struct
// rather than a C union.
type Range struct {
	Signed bool
	Lo, Hi int64
}

// Computation is the common interface implemented by ValueTable and
// RationalScaling.
type Computation interface {
	Kind() Kind
	String() string
	Clone() Computation
}

// ValueTable maps each integer in [Range.Lo, Range.Hi] to a display
// string, indexed by value-Range.Lo.
type ValueTable struct {
	Range  Range
	Values []string
}

func (v *ValueTable) Kind() Kind { return ValueTableKind }

// String renders the canonical VT(lo,hi,"v0",...,"vN") form.
func (v *ValueTable) String() string {
	s := fmt.Sprintf("VT(%d,%d", v.Range.Lo, v.Range.Hi)
	for _, val := range v.Values {
		s += fmt.Sprintf(`,"%s"`, val)
	}
	return s + ")"
}

// Clone deep-copies v, mirroring apx_valueTable_clone / apx_computation_assign
// (the clone shares no backing array with the original).
func (v *ValueTable) Clone() Computation {
	return &ValueTable{Range: v.Range, Values: slices.Clone(v.Values)}
}

// ValueAt returns the display string for n, or "", false if n falls
// outside the table's range or the index is empty.
func (v *ValueTable) ValueAt(n int64) (string, bool) {
	if n < v.Range.Lo || n > v.Range.Hi {
		return "", false
	}
	idx := int(n - v.Range.Lo)
	if idx < 0 || idx >= len(v.Values) {
		return "", false
	}
	return v.Values[idx], true
}

// RationalScaling renders a raw integer as offset + n*numerator/denominator,
// tagged with a unit string.
type RationalScaling struct {
	Range                  Range
	Offset                 float64
	Numerator, Denominator int32
	Unit                   string
}

func (r *RationalScaling) Kind() Kind { return RationalScalingKind }

// String renders the canonical RS(lo,hi,offset,numerator,denominator,"unit")
// form, with the offset printed to 8 decimal places.
func (r *RationalScaling) String() string {
	return fmt.Sprintf("RS(%d,%d,%s,%d,%d,\"%s\")",
		r.Range.Lo, r.Range.Hi, strconv.FormatFloat(r.Offset, 'f', 8, 64),
		r.Numerator, r.Denominator, r.Unit)
}

// Clone deep-copies r.
func (r *RationalScaling) Clone() Computation {
	cp := *r
	return &cp
}

// Apply converts a raw value n to its scaled representation.
func (r *RationalScaling) Apply(n int64) float64 {
	if r.Denominator == 0 {
		return r.Offset
	}
	return r.Offset + float64(n)*float64(r.Numerator)/float64(r.Denominator)
}

// List is an ordered, immutable-after-build set of computations attached
// to one or more ports, identified by a numeric id the way
// apx_computationList_t is referenced by apx_computationListId_t.
type List struct {
	ID           int32
	Computations []Computation
}

// Get returns the computation at index, or nil if out of range.
func (l *List) Get(index int) Computation {
	if index < 0 || index >= len(l.Computations) {
		return nil
	}
	return l.Computations[index]
}

// Len returns the number of computations in the list.
func (l *List) Len() int { return len(l.Computations) }
