// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/frame"
)

var testTarget = Target{
	IntRegs:     13,
	FloatRegs:   15,
	ReservedOps: nil,
	CallAlign:   16,
	WordAlign:   8,
	ArgABI:      frame.ArgABI{IntRegs: 6, FloatRegs: 8, StackBase: 16},
}

func TestCompilePackageProducesFrameAndRegAllocForEveryFunc(t *testing.T) {
	src := `
func add(a int, b int) int {
	return a + b
}
func sum() int {
	let total = 0
	for i=0;i<10;i+=1{
		total = total + i
	}
	return total
}
`
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	fbs := CompilePackage(pkg, testTarget)

	for name, fb := range fbs {
		assert.NotNil(t, fb.Frame, "function %q missing frame layout", name)
		assert.NotNil(t, fb.RegAlloc, "function %q missing register allocation", name)
		assert.True(t, fb.Container.InSSA)
		assert.True(t, fb.Container.Resolved)
		for _, bb := range fb.Container.Blocks {
			for _, in := range bb.Instrs {
				assert.NotEqual(t, "PHI", in.Kind.String(), "phi must be resolved before the pipeline returns")
			}
		}
	}
	assert.Contains(t, fbs, "add")
	assert.Contains(t, fbs, "sum")
}

func TestCompilePackageVariadicFunctionGetsVarargBase(t *testing.T) {
	src := `
func sum(first int, ...) int {
	__builtin_va_start()
	return first
}
`
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	fbs := CompilePackage(pkg, testTarget)
	fb := fbs["sum"]
	if assert.NotNil(t, fb.Frame) {
		assert.NotZero(t, fb.Frame.VarargBase)
	}
}
