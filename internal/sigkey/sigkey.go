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

// Package sigkey hashes a port's (or element pool entry's) structural
// signature text into a dedup key, so the node manager can bucket
// structurally-identical elements and computation lists without
// comparing full trees on every insert.
package sigkey

import "github.com/dchest/siphash"

// seed is fixed rather than randomized: dedup keys are only compared
// within a single process's node manager, never persisted or sent over
// the wire, so determinism matters more than collision-resistance
// against an adversary.
const seed = 0x41505821 // "APX!"

// Key is a 64-bit structural-signature hash.
type Key uint64

// Of hashes a signature string (typically element.Element.Signature(), or
// a computation list's rendered form) into a dedup Key.
func Of(signature string) Key {
	return Key(siphash.Hash(0, seed, []byte(signature)))
}

// Bucket reduces a Key to one of 1<<bits buckets, for sharding a large
// dedup map the way zion's sym2bucket shards symbol lookups.
func (k Key) Bucket(bits uint) int {
	mask := uint64(1)<<bits - 1
	return int(uint64(k) & mask)
}
