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

// Package node implements the node manager and the port/node
// instance model it builds: parsing a node's AST into typed
// port tables, compiling and wiring their pack/unpack programs, allocating
// and filling init data, and deduplicating shared structure across ports.
package node

import (
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
)

// Port is one provide- or require-port instance. It owns its compiled
// program(s) and carries the offset/size assigned by the node manager;
// everything else is a weak reference into data the owning Instance
// keeps alive.
type Port struct {
	node *Instance // weak back-pointer

	ID        int
	Name      string
	Direction element.PortDirection

	packProgram   []byte
	unpackProgram []byte // only compiled for require ports

	// Elem is a weak reference to the node's pooled effective element
	// this port was compiled against. ElementID is the same element's index into
	// Instance.Elements, for callers that only have a numeric id.
	Elem      *element.Element
	ElementID int

	// ComputationListID indexes Instance.ComputationLists, or -1 if this
	// port has no attached computation list.
	ComputationListID int

	Offset         uint32
	Size           uint32
	QueueLen       uint32
	ElementSize    uint32
	HasDynamicData bool

	signature string // set only in server mode
}

// PackProgram returns the port's compiled pack program (header + body).
func (p *Port) PackProgram() []byte { return p.packProgram }

// UnpackProgram returns the port's compiled unpack program, or nil for
// a provide port (nothing unpacks a provide port's own output). The C
// implementation's apx_portInstance_unpack_program returns the pack
// program instead; that bug is not reproduced here, and callers relying
// on it are out of contract.
func (p *Port) UnpackProgram() []byte { return p.unpackProgram }

// Node returns the node instance this port belongs to.
func (p *Port) Node() *Instance { return p.node }

// Signature returns the port's server-mode signature string, or "" if the
// owning Manager wasn't built with server mode enabled.
func (p *Port) Signature() string { return p.signature }

// deriveProperties parses the port's own program header — the pack
// program for a provide port, the unpack program for a require port —
// and fills in the port's size/queue/element metadata. Returns the byte
// size of this port's region, for the manager's running offset total.
func (p *Port) deriveProperties(offset uint32) (uint32, error) {
	prog := p.packProgram
	if p.Direction == element.RequirePort {
		prog = p.unpackProgram
	}
	hdr, _, err := program.DecodeHeader(prog)
	if err != nil {
		return 0, err
	}
	p.Offset = offset
	p.QueueLen = hdr.QueueLength
	p.ElementSize = hdr.ElementSize
	p.HasDynamicData = hdr.HasDynamicData
	p.Size = hdr.DataSize
	return p.Size, nil
}
