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

package element

import "strconv"

// Limits carries an optional explicit range attribute on a scalar
// element. Signed chooses how the two limit fields are interpreted on
// the wire; both are stored as int64 rather than a C-style union.
type Limits struct {
	Present bool
	Signed  bool
	Lo, Hi  int64
}

// Element is one node of the data-element tree a port's signature
// compiles from. A non-record element has a TypeCode with a fixed
// Size; a record has Fields instead. An array may be dynamic, and a
// port may be queued, but an element is never both dynamic and the
// port's queue dimension at once.
type Element struct {
	Type     TypeCode
	Fields   []Field // only when Type == Record
	ArrayLen uint32  // 0 means "not an array"
	Dynamic  bool    // true: ArrayLen is a capacity, actual length is runtime-variable
	Limits   Limits
}

// Field is one named member of a record element.
type Field struct {
	Name string
	Elem *Element
}

// Size returns the fixed per-copy byte size of e, recursing into record
// fields. Reports ok=false if e (or any nested record field) contains a
// dynamic array, since a dynamic array has no fixed size.
func (e *Element) Size() (size uint32, ok bool) {
	if e.Dynamic {
		return 0, false
	}
	var base uint32
	if e.Type == Record {
		for _, f := range e.Fields {
			fs, fok := f.Elem.Size()
			if !fok {
				return 0, false
			}
			base += fs
		}
	} else {
		sz, sok := e.Type.Size()
		if !sok {
			return 0, false
		}
		base = sz
	}
	if e.ArrayLen > 0 {
		base *= e.ArrayLen
	}
	return base, true
}

// HasDynamicData reports whether e or any descendant element is a
// dynamic array.
func (e *Element) HasDynamicData() bool {
	if e.Dynamic {
		return true
	}
	if e.Type == Record {
		for _, f := range e.Fields {
			if f.Elem.HasDynamicData() {
				return true
			}
		}
	}
	return false
}

// PortDirection distinguishes provide-ports from require-ports.
type PortDirection uint8

const (
	ProvidePort PortDirection = iota
	RequirePort
)

func (d PortDirection) String() string {
	if d == RequirePort {
		return "require"
	}
	return "provide"
}

// Port is a single provide- or require-port declaration: a name, its
// element tree, and (if the port is queued) a queue length.
type Port struct {
	Name            string
	Direction       PortDirection
	Elem            *Element
	QueueLen        uint32 // 0 means "not queued"
	ComputationList string // name of an associated computation list, if any
}

// Signature renders the port's textual signature: the scalar/array/
// record grammar, followed by a :Q[N] suffix when the port is queued.
func (p *Port) Signature() string {
	s := signatureOf(p.Elem)
	if p.QueueLen > 0 {
		s += ":Q[" + strconv.FormatUint(uint64(p.QueueLen), 10) + "]"
	}
	return s
}

// Signature renders e's structural signature grammar, independent of
// any port name or queue decorator — the key the node manager dedups
// effective data elements by.
func (e *Element) Signature() string {
	return signatureOf(e)
}

func signatureOf(e *Element) string {
	var s string
	if e.Type == Record {
		s = "{"
		for _, f := range e.Fields {
			s += `"` + f.Name + `"` + signatureOf(f.Elem)
		}
		s += "}"
	} else {
		s = e.Type.signatureCode()
	}
	// Range follows the element code directly; an unsigned range is
	// printed from the same int64 fields since both limits are
	// non-negative by construction.
	if e.Limits.Present {
		s += "(" + strconv.FormatInt(e.Limits.Lo, 10) + "," + strconv.FormatInt(e.Limits.Hi, 10) + ")"
	}
	if e.ArrayLen > 0 {
		s += "[" + strconv.FormatUint(uint64(e.ArrayLen), 10) + "]"
		if e.Dynamic {
			s += "*"
		}
	}
	return s
}
