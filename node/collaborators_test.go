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
	"strconv"

	"github.com/cogu/apx/apxerr"
	"github.com/cogu/apx/dtl"
	"github.com/cogu/apx/element"
)

// fakeParser is a DefinitionParser stub driven by a fixed table of
// pre-built ASTs, keyed by the definition text supplied to Parse. It lets
// the manager tests exercise BuildNode without a real textual parser.
type fakeParser struct {
	byText map[string]*ParsedNode
}

func newFakeParser() *fakeParser {
	return &fakeParser{byText: map[string]*ParsedNode{}}
}

func (f *fakeParser) add(text string, ast *ParsedNode) {
	f.byText[text] = ast
}

func (f *fakeParser) Parse(text []byte) (*ParsedNode, error) {
	ast, ok := f.byText[string(text)]
	if !ok {
		return nil, apxerr.New(apxerr.Parse, "fakeParser.Parse", nil)
	}
	return ast, nil
}

// fakeAttributeParser resolves every InitText as the literal decimal
// integer it names, wrapped to whatever scalar kind the element is.
type fakeAttributeParser struct{}

func (fakeAttributeParser) ParseInit(text string, elem *element.Element) (dtl.Value, error) {
	if text == "" {
		return dtl.NewNull(), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return dtl.Value{}, apxerr.New(apxerr.Parse, "fakeAttributeParser.ParseInit", err)
	}
	if elem.Type.Signed() {
		return dtl.NewI64(n), nil
	}
	return dtl.NewU64(uint64(n)), nil
}
