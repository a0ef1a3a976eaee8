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
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/compiler"
	"github.com/cogu/apx/computation"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/internal/sigkey"
	"github.com/cogu/apx/program"
	"github.com/cogu/apx/vm"
)

// maxDefinitionNameSize bounds a definition's node name. The remote-file
// framing that announces definitions carries its own name-length limit;
// this is a conservative stand-in for it.
const maxDefinitionNameSize = 255

// Manager is the node manager: it parses definitions, builds node
// instances, and is the sole owner of the process-wide name→instance map
// and last-attached pointer. Construct with NewManager; the zero
// value is not usable.
type Manager struct {
	mu           sync.Mutex
	nodes        map[string]*Instance
	lastAttached *Instance
	pending      map[string]*pendingDefinition

	parser     DefinitionParser
	attrParser AttributeParser
	serverMode bool
	buildID    func() uuid.UUID
	logger     *log.Logger
	store      *defstore
}

type pendingDefinition struct {
	buf     []byte
	size    uint32
	written uint32
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithAttributeParser supplies the collaborator used to resolve a port's
// textual initializer into a value tree. Without one, every port's
// init-data region is left zeroed.
func WithAttributeParser(p AttributeParser) Option {
	return func(m *Manager) { m.attrParser = p }
}

// WithServerMode enables building a signature string for every port,
// used elsewhere to match compatible ports across nodes.
func WithServerMode() Option {
	return func(m *Manager) { m.serverMode = true }
}

// WithBuildIDSource overrides how a node's BuildID is generated; the
// default is uuid.New. Tests pass a deterministic source.
func WithBuildIDSource(f func() uuid.UUID) Option {
	return func(m *Manager) { m.buildID = f }
}

// WithLogger overrides the manager's logger; the default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns an idle Manager that builds nodes by asking parser
// to turn definition text into a ParsedNode.
func NewManager(parser DefinitionParser, opts ...Option) *Manager {
	m := &Manager{
		nodes:   map[string]*Instance{},
		pending: map[string]*pendingDefinition{},
		parser:  parser,
		buildID: uuid.New,
		logger:  log.Default(),
		store:   newDefstore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LastAttached returns the most recently built/rebuilt node, independent
// of the name map's iteration order.
func (m *Manager) LastAttached() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAttached
}

// Nodes returns a snapshot of every live node instance. The order of the
// returned slice is not defined.
func (m *Manager) Nodes() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Instance, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// Find looks up a live node by name.
func (m *Manager) Find(name string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[name]
	return n, ok
}

// BuildNode parses text and builds (or rebuilds) the node it describes.
// Rebuilding an already-live node name replaces the old instance in the
// name map; nothing explicit needs freeing since nothing else retains
// the old *Instance once replaced.
func (m *Manager) BuildNode(text []byte) (*Instance, error) {
	ast, err := m.parser.Parse(text)
	if err != nil {
		return nil, apxerr.New(apxerr.Parse, "node.Manager.BuildNode", err)
	}
	inst, err := m.buildFromAST(ast)
	if err != nil {
		return nil, err
	}
	m.store.Put(inst.Name, text)
	m.attach(inst)
	return inst, nil
}

// BuildNodeFromData builds a node directly from an already-parsed AST,
// skipping the textual parse step. OnDefinitionDataWritten does not use
// it: a completed streamed definition is text and goes through BuildNode.
func (m *Manager) BuildNodeFromData(ast *ParsedNode) (*Instance, error) {
	inst, err := m.buildFromAST(ast)
	if err != nil {
		return nil, err
	}
	m.attach(inst)
	return inst, nil
}

func (m *Manager) attach(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[inst.Name] = inst
	m.lastAttached = inst
	m.logger.Printf("apx: node %q attached (build %s)", inst.Name, inst.BuildID)
}

// buildFromAST runs the full build pipeline against an already-parsed
// node: one instance, ports compiled and offset-assigned, init buffers
// allocated and filled, structural elements and computation lists
// deduplicated.
func (m *Manager) buildFromAST(ast *ParsedNode) (*Instance, error) {
	if ast.Name == "" {
		return nil, apxerr.New(apxerr.NameMissing, "node.Manager.buildFromAST", nil)
	}

	inst := &Instance{Name: ast.Name, byName: map[string]*Port{}}

	elemIndex := map[sigkey.Key][]int{}
	var elemSigs []string
	compIndex := map[sigkey.Key][]int{}
	var compSigs []string

	type pendingInit struct {
		port   *Port
		parsed ParsedPort
	}
	var pendings []pendingInit

	var provideOffset, requireOffset uint32
	for i := range ast.Ports {
		pp := ast.Ports[i]
		if pp.Name == "" {
			return nil, apxerr.New(apxerr.NameMissing, "node.Manager.buildFromAST", nil)
		}
		if _, exists := inst.byName[pp.Name]; exists {
			return nil, apxerr.New(apxerr.InvalidArgument, "node.Manager.buildFromAST",
				fmt.Errorf("duplicate port name %q", pp.Name))
		}

		elemPort := &element.Port{Name: pp.Name, Direction: pp.Direction, Elem: pp.Elem, QueueLen: pp.QueueLen}

		packProg, err := compiler.Compile(elemPort, program.Pack)
		if err != nil {
			return nil, err
		}
		var unpackProg []byte
		if pp.Direction == element.RequirePort {
			unpackProg, err = compiler.Compile(elemPort, program.Unpack)
			if err != nil {
				return nil, err
			}
		}

		port := &Port{
			node:              inst,
			ID:                len(inst.ports),
			Name:              pp.Name,
			Direction:         pp.Direction,
			packProgram:       packProg,
			unpackProgram:     unpackProg,
			Elem:              pp.Elem,
			ComputationListID: -1,
		}

		var size uint32
		if pp.Direction == element.ProvidePort {
			size, err = port.deriveProperties(provideOffset)
			provideOffset += size
		} else {
			size, err = port.deriveProperties(requireOffset)
			requireOffset += size
		}
		if err != nil {
			return nil, apxerr.New(apxerr.InvalidProgram, "node.Manager.buildFromAST", err)
		}

		sig := pp.Elem.Signature()
		port.Elem, port.ElementID = internElement(&inst.Elements, elemIndex, &elemSigs, sig, pp.Elem)

		if len(pp.Computations) > 0 {
			csig := computationSignature(pp.Computations)
			port.ComputationListID = internComputationList(&inst.ComputationLists, compIndex, &compSigs, csig, pp.Computations)
		}

		if m.serverMode {
			port.signature = pp.Name + elemPort.Signature()
		}

		inst.ports = append(inst.ports, port)
		inst.byName[pp.Name] = port
		pendings = append(pendings, pendingInit{port: port, parsed: pp})
	}

	inst.ProvidePortData = make([]byte, provideOffset)
	inst.RequirePortData = make([]byte, requireOffset)

	for _, pend := range pendings {
		v, err := m.resolveInit(pend.parsed)
		if err != nil {
			return nil, apxerr.New(apxerr.ValueConversion, "node.Manager.buildFromAST", err)
		}
		if v.IsNull() {
			continue
		}
		var region []byte
		if pend.port.Direction == element.ProvidePort {
			region = inst.ProvidePortData[pend.port.Offset : pend.port.Offset+pend.port.Size]
		} else {
			region = inst.RequirePortData[pend.port.Offset : pend.port.Offset+pend.port.Size]
		}
		if err := packInit(pend.port.packProgram, region, v); err != nil {
			return nil, err
		}
	}

	inst.BuildID = m.buildID()
	return inst, nil
}

func (m *Manager) resolveInit(p ParsedPort) (dtl.Value, error) {
	if p.InitText == "" || m.attrParser == nil {
		return dtl.NewNull(), nil
	}
	return m.attrParser.ParseInit(p.InitText, p.Elem)
}

// packInit runs packProgram against v, writing into dst (a port's
// init-data region, sized exactly to the program's declared data size).
func packInit(packProgram, dst []byte, v dtl.Value) error {
	_, body, err := program.DecodeHeader(packProgram)
	if err != nil {
		return err
	}
	ser := vm.NewSerializer()
	ser.SetBuffer(dst)
	_, err = ser.PackValue(body, v)
	return err
}

// internElement dedups e by its structural signature,
// bucketing candidates by sigkey.Of(sig) and confirming equality against
// the full signature string before reusing a pooled entry.
func internElement(pool *[]*element.Element, index map[sigkey.Key][]int, sigs *[]string, sig string, e *element.Element) (*element.Element, int) {
	key := sigkey.Of(sig)
	for _, idx := range index[key] {
		if (*sigs)[idx] == sig {
			return (*pool)[idx], idx
		}
	}
	id := len(*pool)
	*pool = append(*pool, e)
	*sigs = append(*sigs, sig)
	index[key] = append(index[key], id)
	return e, id
}

// internComputationList dedups a port's computation list by its combined
// string signature.
func internComputationList(pool *[]*computation.List, index map[sigkey.Key][]int, sigs *[]string, sig string, comps []computation.Computation) int {
	key := sigkey.Of(sig)
	for _, idx := range index[key] {
		if (*sigs)[idx] == sig {
			return idx
		}
	}
	id := len(*pool)
	*pool = append(*pool, &computation.List{ID: int32(id), Computations: comps})
	*sigs = append(*sigs, sig)
	index[key] = append(index[key], id)
	return id
}

func computationSignature(comps []computation.Computation) string {
	s := ""
	for i, c := range comps {
		if i > 0 {
			s += ";"
		}
		s += c.String()
	}
	return s
}

// InitNodeFromFileInfo is called when a new .apx definition file is
// announced by the transport. It stages an empty receive buffer
// sized to the announced definition and reports whether the transport
// needs to actually open and stream the file: false when the manager's
// defstore already holds a retained definition of the identical size.
func (m *Manager) InitNodeFromFileInfo(info FileInfo) (needsOpen bool, err error) {
	if info.NodeName == "" {
		return false, apxerr.New(apxerr.NameMissing, "node.Manager.InitNodeFromFileInfo", nil)
	}
	if len(info.NodeName) > maxDefinitionNameSize {
		return false, apxerr.New(apxerr.NameTooLong, "node.Manager.InitNodeFromFileInfo", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.SizeMatches(info.NodeName, info.Size) {
		return false, nil
	}
	m.pending[info.NodeName] = &pendingDefinition{buf: make([]byte, info.Size), size: info.Size}
	return true, nil
}

// OnDefinitionDataWritten records len(data) newly-received bytes of a
// staged definition at byte offset off. Once the staged buffer is fully
// written, it builds the node from the completed text and clears the
// staging entry.
func (m *Manager) OnDefinitionDataWritten(nodeName string, off int, data []byte) (*Instance, error) {
	m.mu.Lock()
	pend, ok := m.pending[nodeName]
	if !ok {
		m.mu.Unlock()
		return nil, apxerr.New(apxerr.NotFound, "node.Manager.OnDefinitionDataWritten", nil)
	}
	if off < 0 || off+len(data) > len(pend.buf) {
		m.mu.Unlock()
		return nil, apxerr.New(apxerr.BufferBoundary, "node.Manager.OnDefinitionDataWritten", nil)
	}
	copy(pend.buf[off:], data)
	pend.written += uint32(len(data))
	complete := pend.written >= pend.size
	if complete {
		delete(m.pending, nodeName)
	}
	m.mu.Unlock()

	if !complete {
		return nil, nil
	}
	return m.BuildNode(pend.buf)
}
