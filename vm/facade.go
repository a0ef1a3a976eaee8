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

package vm

import (
	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/program"
)

// VM is the façade: it owns one serializer, one deserializer and
// the currently selected program's parsed header, and offers the small
// surface a port actually needs (select a program, bind a buffer, pack
// or unpack one value).
type VM struct {
	header program.Header
	body   []byte

	ser *Serializer
	des *Deserializer
}

// NewVM returns an idle façade with no program selected.
func NewVM() *VM {
	return &VM{ser: NewSerializer(), des: NewDeserializer()}
}

// SelectProgram parses prog's header and stages it for the next
// pack/unpack call. prog is the full program byte sequence, header
// included.
func (m *VM) SelectProgram(prog []byte) error {
	hdr, rest, err := program.DecodeHeader(prog)
	if err != nil {
		return err
	}
	m.header = hdr
	m.body = rest
	return nil
}

// Header returns the most recently selected program's decoded header.
func (m *VM) Header() program.Header { return m.header }

// SetWriteBuffer binds buf as the pack destination.
func (m *VM) SetWriteBuffer(buf []byte) { m.ser.SetBuffer(buf) }

// SetReadBuffer binds buf as the unpack source.
func (m *VM) SetReadBuffer(buf []byte) { m.des.SetBuffer(buf) }

// PackValue runs the selected pack program against v, writing to the
// bound write buffer. A buffer must have been set with SetWriteBuffer.
func (m *VM) PackValue(v dtl.Value) error {
	if m.header.ProgramType != program.Pack {
		return apxerr.New(apxerr.InvalidProgram, "vm.VM.PackValue", nil)
	}
	if m.body == nil {
		return apxerr.New(apxerr.InvalidProgram, "vm.VM.PackValue", nil)
	}
	_, err := m.ser.PackValue(m.body, v)
	return err
}

// UnpackValue runs the selected unpack program against the bound read
// buffer and returns the resulting value tree.
func (m *VM) UnpackValue() (dtl.Value, error) {
	if m.header.ProgramType != program.Unpack {
		return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.VM.UnpackValue", nil)
	}
	if m.body == nil {
		return dtl.Value{}, apxerr.New(apxerr.InvalidProgram, "vm.VM.UnpackValue", nil)
	}
	return m.des.UnpackValue(m.body)
}

// BytesWritten reports how many bytes the last write-buffer binding has
// accumulated.
func (m *VM) BytesWritten() int { return m.ser.BytesWritten() }

// BytesRead reports how many bytes the last read-buffer binding has
// consumed.
func (m *VM) BytesRead() int { return m.des.BytesRead() }

// BeginQueuedWrite/PackQueuedElement/EndQueuedWrite and
// BeginQueuedRead/UnpackQueuedElement expose the queued-port path
// directly through the serializer/deserializer, since a queue session
// spans many PackValue-shaped calls rather than one.

func (m *VM) BeginQueuedWrite(elementSize, maxLength uint32, clear bool) error {
	return m.ser.BeginQueuedWrite(elementSize, maxLength, clear)
}

func (m *VM) PackQueuedElement(v dtl.Value) error {
	return m.ser.PackQueuedElement(m.body, v)
}

func (m *VM) EndQueuedWrite() (uint32, error) {
	return m.ser.EndQueuedWrite()
}

func (m *VM) BeginQueuedRead(maxLength uint32) (uint32, error) {
	return m.des.BeginQueuedRead(maxLength)
}

func (m *VM) UnpackQueuedElement() (dtl.Value, error) {
	return m.des.UnpackQueuedElement(m.body)
}
