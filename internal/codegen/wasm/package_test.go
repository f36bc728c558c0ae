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

package wasm

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/ast"
)

func compileOne(t *testing.T, src string) *Module {
	t.Helper()
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	return CompilePackage(pkg)
}

func TestCompilePackageExportsEveryFunction(t *testing.T) {
	src := `
func add(a int, b int) int {
	return a + b
}
func main() int {
	return add(40, 2)
}
`
	m := compileOne(t, src)
	assert.ElementsMatch(t, []string{"add", "main"}, m.Exports)
	assert.Equal(t, 2, len(m.Funcs))
}

func TestEncodeProducesWellFormedPreamble(t *testing.T) {
	m := compileOne(t, `func main() int { return 123 }`)
	out := m.Encode()
	assert.True(t, bytes.HasPrefix(out, []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}))
}

func TestEncodeSectionsAreAscendingIDOrder(t *testing.T) {
	m := compileOne(t, `func main() int { return 123 }`)
	out := m.Encode()
	// Skip the 8-byte preamble and walk each section id/size pair, checking
	// ids strictly increase as the binary format requires.
	pos := 8
	lastID := -1
	for pos < len(out) {
		id := int(out[pos])
		assert.Greater(t, id, lastID, "section ids must be strictly ascending")
		lastID = id
		pos++
		size, n := decodeULEB(out[pos:])
		pos += n + int(size)
	}
}

func decodeULEB(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var n int
	for _, c := range b {
		n++
		result |= uint64(c&0x7F) << shift
		if c&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n
}

func TestReturnConstantBody(t *testing.T) {
	m := compileOne(t, `func main() int { return 123 }`)
	cf := m.Funcs[0]
	assert.Contains(t, string(cf.Code), string([]byte{OpcodeI32Const}))
	assert.Equal(t, byte(OpcodeReturn), cf.Code[len(cf.Code)-1])
}

func TestLocalsGroupedByRun(t *testing.T) {
	m := compileOne(t, `
func f() int {
	let a = 1
	let b = 2
	let c = 1.5
	return a + b
}
`)
	cf := m.Funcs[0]
	// a, b are i32; c is f64: two runs, not three separately-typed-but-
	// identical entries collapsed wrong.
	body := cf.encodeBody()
	numRuns, n := decodeULEB(body)
	assert.Equal(t, uint64(2), numRuns)
	_ = n
}

func TestSwitchDensityChoosesBrTableWhenDense(t *testing.T) {
	src := `
func g(x int) int {
	switch x {
	case 1:
		return 10
	case 2:
		return 20
	case 3:
		return 30
	case 4:
		return 40
	default:
		return 0
	}
}
`
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	var fd *ast.FuncDecl
	for _, d := range pkg.Func {
		if f, ok := d.(*ast.FuncDecl); ok && f.Name == "g" {
			fd = f
		}
	}
	if !assert.NotNil(t, fd) {
		t.FailNow()
	}
	sw := findSwitch(t, fd)
	useTable, min, max := switchDensity(sw)
	assert.True(t, useTable)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(4), max)
}

func TestSwitchDensityChoosesChainWhenSparse(t *testing.T) {
	src := `
func g(x int) int {
	switch x {
	case 1:
		return 10
	case 100:
		return 20
	default:
		return 0
	}
}
`
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	var fd *ast.FuncDecl
	for _, d := range pkg.Func {
		if f, ok := d.(*ast.FuncDecl); ok && f.Name == "g" {
			fd = f
		}
	}
	if !assert.NotNil(t, fd) {
		t.FailNow()
	}
	sw := findSwitch(t, fd)
	useTable, _, _ := switchDensity(sw)
	assert.False(t, useTable)
}

func findSwitch(t *testing.T, fd *ast.FuncDecl) *ast.SwitchStmt {
	t.Helper()
	block, ok := fd.Block.(*ast.BlockDecl)
	if !assert.True(t, ok) {
		t.FailNow()
	}
	for _, s := range block.Stmts {
		if sw, ok := s.(*ast.SwitchStmt); ok {
			return sw
		}
	}
	t.Fatal("no switch statement found")
	return nil
}

func TestForwardGotoResolvesNonNegativeDepth(t *testing.T) {
	src := `
func f() int {
	let x = 0
	goto L
	x = 99
	L:
	x = 7
	return x
}
`
	// The emitter must not panic (xerr.Assert would fail the test process)
	// and must produce a function body ending in the expected return.
	m := compileOne(t, src)
	cf := m.Funcs[0]
	assert.Equal(t, byte(OpcodeReturn), cf.Code[len(cf.Code)-1])
}

func TestEncodeIsDeterministic(t *testing.T) {
	src := `
func g(x int) int {
	switch x {
	case 1:
		return 10
	case 2:
		return 20
	case 3:
		return 30
	case 4:
		return 40
	default:
		return 0
	}
}
func main() int {
	return g(3)
}
`
	a := fmt.Sprintf("% x", compileOne(t, src).Encode())
	b := fmt.Sprintf("% x", compileOne(t, src).Encode())
	if a != b {
		dmp := diffmatchpatch.New()
		t.Fatalf("module bytes differ between compiles:\n%s", dmp.DiffPrettyText(dmp.DiffMain(a, b, false)))
	}
}

func TestMemoryPagesAtLeastOne(t *testing.T) {
	assert.Equal(t, uint32(1), memoryPages(0))
	assert.Equal(t, uint32(1), memoryPages(1))
}

func TestAddTypeInternsIdenticalSignatures(t *testing.T) {
	src := `
func a(x int) int { return x }
func b(x int) int { return x }
`
	m := compileOne(t, src)
	assert.Equal(t, 1, len(m.Types))
	assert.Equal(t, m.FuncTypes[0], m.FuncTypes[1])
}
