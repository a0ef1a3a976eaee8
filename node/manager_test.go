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
	"testing"

	"github.com/google/uuid"

	"github.com/cogu/apx/compiler"
	"github.com/cogu/apx/computation"
	"github.com/cogu/apx/element"
	"github.com/cogu/apx/program"
	"github.com/cogu/apx/vm"
)

func u16Elem() *element.Element  { return &element.Element{Type: element.U16} }
func u8Elem() *element.Element   { return &element.Element{Type: element.U8} }
func boolElem() *element.Element { return &element.Element{Type: element.Bool} }

func basicNodeAST() *ParsedNode {
	return &ParsedNode{
		Name: "TestNode",
		Ports: []ParsedPort{
			{Name: "VehicleSpeed", Direction: element.ProvidePort, Elem: u16Elem(), InitText: "100"},
			{Name: "EngineRunning", Direction: element.ProvidePort, Elem: boolElem()},
			{Name: "GearPosition", Direction: element.RequirePort, Elem: u8Elem()},
		},
	}
}

func newTestManager(ast *ParsedNode) (*Manager, *fakeParser) {
	fp := newFakeParser()
	fp.add("def", ast)
	counter := 0
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
	}
	m := NewManager(fp,
		WithAttributeParser(fakeAttributeParser{}),
		WithBuildIDSource(func() uuid.UUID {
			id := ids[counter%len(ids)]
			counter++
			return id
		}),
	)
	return m, fp
}

func TestBuildNodeAssignsOffsetsPerDirection(t *testing.T) {
	m, _ := newTestManager(basicNodeAST())

	inst, err := m.BuildNode([]byte("def"))
	if err != nil {
		t.Fatalf("BuildNode: %v", err)
	}

	speed, ok := inst.ProvidePort("VehicleSpeed")
	if !ok {
		t.Fatalf("VehicleSpeed not found")
	}
	running, ok := inst.ProvidePort("EngineRunning")
	if !ok {
		t.Fatalf("EngineRunning not found")
	}
	gear, ok := inst.RequirePort("GearPosition")
	if !ok {
		t.Fatalf("GearPosition not found")
	}

	if speed.Offset != 0 || speed.Size != 2 {
		t.Fatalf("VehicleSpeed offset/size = %d/%d, want 0/2", speed.Offset, speed.Size)
	}
	if running.Offset != 2 || running.Size != 1 {
		t.Fatalf("EngineRunning offset/size = %d/%d, want 2/1", running.Offset, running.Size)
	}
	if gear.Offset != 0 || gear.Size != 1 {
		t.Fatalf("GearPosition offset/size = %d/%d, want 0/1", gear.Offset, gear.Size)
	}

	if len(inst.ProvidePortData) != 3 {
		t.Fatalf("ProvidePortData len = %d, want 3", len(inst.ProvidePortData))
	}
	if len(inst.RequirePortData) != 1 {
		t.Fatalf("RequirePortData len = %d, want 1", len(inst.RequirePortData))
	}
}

func TestBuildNodePacksInitValue(t *testing.T) {
	m, _ := newTestManager(basicNodeAST())
	inst, err := m.BuildNode([]byte("def"))
	if err != nil {
		t.Fatalf("BuildNode: %v", err)
	}

	speed, _ := inst.ProvidePort("VehicleSpeed")
	region := inst.ProvidePortData[speed.Offset : speed.Offset+speed.Size]

	unpackProg, err := compiler.Compile(&element.Port{Name: speed.Name, Direction: speed.Direction, Elem: speed.Elem}, program.Unpack)
	if err != nil {
		t.Fatalf("compile unpack program: %v", err)
	}
	_, body, err := program.DecodeHeader(unpackProg)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	des := vm.NewDeserializer()
	des.SetBuffer(region)
	v, err := des.UnpackValue(body)
	if err != nil {
		t.Fatalf("UnpackValue: %v", err)
	}
	n, err := v.Uint64()
	if err != nil {
		t.Fatalf("Uint64: %v", err)
	}
	if n != 100 {
		t.Fatalf("packed init value = %d, want 100", n)
	}
}

func TestBuildNodeDedupsIdenticalElements(t *testing.T) {
	ast := &ParsedNode{
		Name: "DedupNode",
		Ports: []ParsedPort{
			{Name: "A", Direction: element.ProvidePort, Elem: u16Elem()},
			{Name: "B", Direction: element.ProvidePort, Elem: u16Elem()},
			{Name: "C", Direction: element.ProvidePort, Elem: u8Elem()},
		},
	}
	m, _ := newTestManager(ast)
	inst, err := m.BuildNode([]byte("def"))
	if err != nil {
		t.Fatalf("BuildNode: %v", err)
	}

	a, _ := inst.ProvidePort("A")
	b, _ := inst.ProvidePort("B")
	c, _ := inst.ProvidePort("C")

	if a.ElementID != b.ElementID {
		t.Fatalf("A and B should share an element id: %d != %d", a.ElementID, b.ElementID)
	}
	if a.ElementID == c.ElementID {
		t.Fatalf("A and C should not share an element id")
	}
	if len(inst.Elements) != 2 {
		t.Fatalf("Elements pool len = %d, want 2", len(inst.Elements))
	}
}

func TestBuildNodeRejectsDuplicatePortNames(t *testing.T) {
	ast := &ParsedNode{
		Name: "DupNode",
		Ports: []ParsedPort{
			{Name: "A", Direction: element.ProvidePort, Elem: u16Elem()},
			{Name: "A", Direction: element.ProvidePort, Elem: u16Elem()},
		},
	}
	m, _ := newTestManager(ast)
	if _, err := m.BuildNode([]byte("def")); err == nil {
		t.Fatalf("expected an error for duplicate port names")
	}
}

func TestBuildNodeReplacesAndTracksLastAttached(t *testing.T) {
	fp := newFakeParser()
	fp.add("v1", &ParsedNode{Name: "N", Ports: []ParsedPort{
		{Name: "A", Direction: element.ProvidePort, Elem: u16Elem()},
	}})
	fp.add("v2", &ParsedNode{Name: "N", Ports: []ParsedPort{
		{Name: "A", Direction: element.ProvidePort, Elem: u8Elem()},
	}})
	m := NewManager(fp)

	first, err := m.BuildNode([]byte("v1"))
	if err != nil {
		t.Fatalf("BuildNode v1: %v", err)
	}
	if m.LastAttached() != first {
		t.Fatalf("LastAttached should be the first build")
	}

	second, err := m.BuildNode([]byte("v2"))
	if err != nil {
		t.Fatalf("BuildNode v2: %v", err)
	}
	if m.LastAttached() != second {
		t.Fatalf("LastAttached should be the second build")
	}

	nodes := m.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("Nodes() len = %d, want 1 (rebuild should replace)", len(nodes))
	}
	if nodes[0] != second {
		t.Fatalf("Nodes()[0] should be the rebuilt instance")
	}
}

func TestInitNodeFromFileInfoAndStreamedWrite(t *testing.T) {
	fp := newFakeParser()
	text := []byte("streamed")
	fp.add(string(text), &ParsedNode{Name: "StreamNode", Ports: []ParsedPort{
		{Name: "A", Direction: element.ProvidePort, Elem: u16Elem()},
	}})
	m := NewManager(fp)

	needsOpen, err := m.InitNodeFromFileInfo(FileInfo{NodeName: "StreamNode", Size: uint32(len(text))})
	if err != nil {
		t.Fatalf("InitNodeFromFileInfo: %v", err)
	}
	if !needsOpen {
		t.Fatalf("expected needsOpen=true for a never-seen definition")
	}

	inst, err := m.OnDefinitionDataWritten("StreamNode", 0, text[:4])
	if err != nil {
		t.Fatalf("OnDefinitionDataWritten (partial): %v", err)
	}
	if inst != nil {
		t.Fatalf("expected nil instance before the buffer is complete")
	}

	inst, err = m.OnDefinitionDataWritten("StreamNode", 4, text[4:])
	if err != nil {
		t.Fatalf("OnDefinitionDataWritten (final): %v", err)
	}
	if inst == nil {
		t.Fatalf("expected a built instance once the buffer is complete")
	}
	if inst.Name != "StreamNode" {
		t.Fatalf("built node name = %q, want StreamNode", inst.Name)
	}

	needsOpen, err = m.InitNodeFromFileInfo(FileInfo{NodeName: "StreamNode", Size: uint32(len(text))})
	if err != nil {
		t.Fatalf("InitNodeFromFileInfo (repeat): %v", err)
	}
	if needsOpen {
		t.Fatalf("expected needsOpen=false once defstore already has this exact size")
	}
}

func TestInitNodeFromFileInfoRejectsMissingName(t *testing.T) {
	m := NewManager(newFakeParser())
	if _, err := m.InitNodeFromFileInfo(FileInfo{NodeName: "", Size: 4}); err == nil {
		t.Fatalf("expected an error for a missing node name")
	}
}

func TestBuildNodeDedupsComputationLists(t *testing.T) {
	gearTable := func() []computation.Computation {
		return []computation.Computation{
			&computation.ValueTable{
				Range:  computation.Range{Lo: 0, Hi: 2},
				Values: []string{"P", "R", "N"},
			},
		}
	}
	speedScale := []computation.Computation{
		&computation.RationalScaling{
			Range:       computation.Range{Lo: 0, Hi: 0xFFFF},
			Numerator:   1,
			Denominator: 64,
			Unit:        "km/h",
		},
	}
	ast := &ParsedNode{
		Name: "CompNode",
		Ports: []ParsedPort{
			{Name: "GearA", Direction: element.ProvidePort, Elem: u8Elem(), Computations: gearTable()},
			{Name: "GearB", Direction: element.ProvidePort, Elem: u8Elem(), Computations: gearTable()},
			{Name: "Speed", Direction: element.ProvidePort, Elem: u16Elem(), Computations: speedScale},
			{Name: "Plain", Direction: element.ProvidePort, Elem: boolElem()},
		},
	}
	m, _ := newTestManager(ast)
	inst, err := m.BuildNode([]byte("def"))
	if err != nil {
		t.Fatalf("BuildNode: %v", err)
	}

	a, _ := inst.ProvidePort("GearA")
	b, _ := inst.ProvidePort("GearB")
	speed, _ := inst.ProvidePort("Speed")
	plain, _ := inst.ProvidePort("Plain")

	if a.ComputationListID != b.ComputationListID {
		t.Fatalf("identical computation lists should share an id: %d != %d", a.ComputationListID, b.ComputationListID)
	}
	if a.ComputationListID == speed.ComputationListID {
		t.Fatalf("distinct computation lists should not share an id")
	}
	if plain.ComputationListID != -1 {
		t.Fatalf("a port with no computations should have id -1, got %d", plain.ComputationListID)
	}
	if len(inst.ComputationLists) != 2 {
		t.Fatalf("ComputationLists pool len = %d, want 2", len(inst.ComputationLists))
	}
}
