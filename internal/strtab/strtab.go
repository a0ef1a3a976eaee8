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

// Package strtab is a small dedup-by-value string interning table, used
// by the vm's unpack path to avoid retaining a fresh copy of every
// record field name per decoded record-array row.
package strtab

// Table interns strings into stable small integer ids. The zero value is
// ready to use.
type Table struct {
	interned []string
	toindex  map[string]int
}

// Intern returns the id for s, assigning a new one if s hasn't been seen
// before by this table.
func (t *Table) Intern(s string) int {
	if t.toindex == nil {
		t.toindex = make(map[string]int)
	}
	if id, ok := t.toindex[s]; ok {
		return id
	}
	id := len(t.interned)
	t.interned = append(t.interned, s)
	t.toindex[s] = id
	return id
}

// Lookup returns the interned symbol for s without adding it.
func (t *Table) Lookup(s string) (int, bool) {
	id, ok := t.toindex[s]
	return id, ok
}

// String returns the string associated with id, or "" if id is out of
// range.
func (t *Table) String(id int) string {
	if id < 0 || id >= len(t.interned) {
		return ""
	}
	return t.interned[id]
}

// Canon returns the table's canonical copy of s, interning it on first
// sight, so equal strings share one backing allocation.
func (t *Table) Canon(s string) string {
	return t.interned[t.Intern(s)]
}

// Len returns the number of distinct interned strings.
func (t *Table) Len() int { return len(t.interned) }

// Reset clears the table back to empty.
func (t *Table) Reset() {
	t.interned = nil
	t.toindex = nil
}
