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

package node

import (
	"github.com/cogu/apx/computation"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/element"
)

// ParsedPort is one provide- or require-port declaration as produced by
// a DefinitionParser, before compilation: a name, its resolved (typedefs
// inlined) data element, and the optional attributes a definition file
// may attach to a port.
type ParsedPort struct {
	Name      string
	Direction element.PortDirection
	Elem      *element.Element
	QueueLen  uint32

	// InitText is the port's raw textual initializer, if the definition
	// declared one. The Manager resolves it to a dtl.Value through its
	// AttributeParser at build time; a port with no initializer (or a
	// Manager with no AttributeParser configured) leaves the port's
	// init-data region zeroed.
	InitText string

	// Computations, if non-empty, is attached to this port for
	// display/debug purposes only; the codec never consults it.
	Computations []computation.Computation
}

// ParsedNode is the AST a DefinitionParser produces from one node's
// textual definition.
type ParsedNode struct {
	Name  string
	Ports []ParsedPort
}

// DefinitionParser is the textual APX parser: an external collaborator
// referenced only by this interface. This repository implements the
// schema-driven codec and the node manager built on top of it, not the
// parser that produces a ParsedNode from definition-file text.
type DefinitionParser interface {
	Parse(text []byte) (*ParsedNode, error)
}

// AttributeParser turns a port's raw textual initializer into a value
// tree, resolved against the port's (already-dereferenced) element so it
// knows the shape it's building.
type AttributeParser interface {
	ParseInit(text string, elem *element.Element) (dtl.Value, error)
}

// Transport is the remote-file collaborator the node manager calls back
// into: it reads a port's init data by (node, port id, offset, size)
// to seed a newly attached peer, and hands freshly-received require-port
// bytes back to the manager. Implemented entirely outside this package;
// the node manager only depends on this interface.
type Transport interface {
	ReadPortData(nodeName string, portID int, offset, size uint32) ([]byte, error)
	WriteRequirePortData(nodeName string, portID int, data []byte) error
}

// FileInfo is the subset of a remote-file announcement the node manager
// needs to stage a new node definition.
type FileInfo struct {
	NodeName string
	Size     uint32
}
