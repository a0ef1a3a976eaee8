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
	"github.com/google/uuid"

	"github.com/cogu/apx/computation"
	"github.com/cogu/apx/element"
)

// Instance is one built node: its ports, its deduplicated
// effective-element and computation-list pools, and its two contiguous
// init-data buffers. Everything here is immutable once
// BuildNode/BuildNodeFromData returns.
type Instance struct {
	Name string

	// BuildID is stamped at the end of a successful build, purely for
	// diagnostics/log correlation across a redefinition-triggered
	// rebuild. It has no wire representation and the codec never
	// consults it.
	BuildID uuid.UUID

	// ProvidePortData and RequirePortData are the node's two contiguous
	// init-data regions, sized by the sum of their respective ports'
	// sizes and filled by running each port's pack program against its
	// declared (or zero) init value.
	ProvidePortData []byte
	RequirePortData []byte

	Elements         []*element.Element
	ComputationLists []*computation.List

	ports  []*Port
	byName map[string]*Port
}

// Ports returns every port on the node, in declaration order.
func (n *Instance) Ports() []*Port { return n.ports }

// Port looks up a port (provide or require) by name.
func (n *Instance) Port(name string) (*Port, bool) {
	p, ok := n.byName[name]
	return p, ok
}

// ProvidePort looks up a provide port by name.
func (n *Instance) ProvidePort(name string) (*Port, bool) {
	p, ok := n.byName[name]
	if !ok || p.Direction != element.ProvidePort {
		return nil, false
	}
	return p, true
}

// RequirePort looks up a require port by name.
func (n *Instance) RequirePort(name string) (*Port, bool) {
	p, ok := n.byName[name]
	if !ok || p.Direction != element.RequirePort {
		return nil, false
	}
	return p, true
}
