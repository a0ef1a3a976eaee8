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
	"bytes"
	"sync"

	"github.com/klauspost/compress/s2"
)

// defstore retains each node's raw definition text, s2-compressed, so a
// redefinition announcing the same bytes a node already has can be
// detected as a cheap equality check instead of a full reparse.
type defstore struct {
	mu     sync.Mutex
	byName map[string][]byte // s2-compressed definition bytes, keyed by node name
	sizes  map[string]uint32 // uncompressed size, for the InitNodeFromFileInfo fast path
}

func newDefstore() *defstore {
	return &defstore{byName: map[string][]byte{}, sizes: map[string]uint32{}}
}

// Put retains raw (a node's full definition text) under name, replacing
// any previously retained definition.
func (s *defstore) Put(name string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[name] = s2.Encode(nil, raw)
	s.sizes[name] = uint32(len(raw))
}

// SizeMatches reports whether the retained definition for name has
// exactly size bytes uncompressed, without decompressing it.
func (s *defstore) SizeMatches(name string, size uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sz, ok := s.sizes[name]
	return ok && sz == size
}

// Equal reports whether the retained definition for name decompresses to
// exactly raw.
func (s *defstore) Equal(name string, raw []byte) bool {
	s.mu.Lock()
	enc, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	dec, err := s2.Decode(nil, enc)
	if err != nil {
		return false
	}
	return bytes.Equal(dec, raw)
}

// Delete removes any retained definition for name.
func (s *defstore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byName, name)
	delete(s.sizes, name)
}
