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

package x86

import (
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/backend"
	"github.com/thomasmueller/xcc/internal/ir"
)

var target = backend.Target{
	IntRegs:     IntRegs,
	FloatRegs:   FloatRegs,
	ReservedOps: ReservedOps(),
	CallAlign:   16,
	WordAlign:   8,
	ArgABI:      ArgABI(),
}

func compileFunc(t *testing.T, src, fn string) string {
	t.Helper()
	pkg := ast.ParseText(src)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	fbs := backend.CompilePackage(pkg, target)
	fb, ok := fbs[fn]
	if !assert.True(t, ok) {
		t.FailNow()
	}
	return Emit(fb)
}

func TestEmitAddHasPrologueAndEpilogue(t *testing.T) {
	out := compileFunc(t, `
func add(a int, b int) int {
	return a + b
}
`, "add")
	assert.Contains(t, out, "push %rbp")
	assert.Contains(t, out, "mov %rsp, %rbp")
	assert.Contains(t, out, "leave")
	assert.Contains(t, out, "ret")
	assert.Contains(t, out, ".globl add")
}

func TestEmitDivUsesRaxRdxIdiom(t *testing.T) {
	out := compileFunc(t, `
func divide(a int, b int) int {
	return a / b
}
`, "divide")
	// int is a 32-bit divide: the dividend sign-extends via cltd, never cqto.
	assert.Contains(t, out, "cltd\n")
	assert.Contains(t, out, "idiv")
	assert.False(t, strings.Contains(out, "idiv $"), "idiv may never take an immediate operand")
}

func TestEmitByteDivideCompiles(t *testing.T) {
	out := compileFunc(t, `
func divide(a byte, b byte) byte {
	return a / b
}
`, "divide")
	_ = out // byte division signedness depends on front-end type; just confirm it doesn't crash
}

func TestEmitShiftByVariableCountLandsInCL(t *testing.T) {
	out := compileFunc(t, `
func shift(a int, b int) int {
	return a << b
}
`, "shift")
	assert.Contains(t, out, "%cl")
}

func TestEmitVariadicSavesArgRegistersToVarargArea(t *testing.T) {
	out := compileFunc(t, `
func sum(first int, ...) int {
	__builtin_va_start()
	return first
}
`, "sum")
	assert.Contains(t, out, "%rbp)")
	// first lands from edi (32-bit int param), and the unused vararg
	// registers are saved at full width.
	assert.Contains(t, out, "%edi")
	assert.Contains(t, out, "%rsi")
}

func TestEmitOrdinaryFunctionHasPrologue(t *testing.T) {
	// An ordinary function (not asm-only) gets the full prologue. This is
	// the baseline for TestOnlyAsmTrivialFunctionHasNoPrologue below:
	// internal/irbuild never produces an asm-only body from source (no
	// inline-asm literal syntax is parsed), so onlyAsm is covered at the
	// emitter-unit level instead.
	out := compileFunc(t, `
func nop() int {
	return 0
}
`, "nop")
	assert.Contains(t, out, "push %rbp")
}

func TestOnlyAsmTrivialFunctionHasNoPrologue(t *testing.T) {
	pkg := ast.ParseText(`
func nop() int {
	return 0
}
`)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	fbs := backend.CompilePackage(pkg, target)
	fb := fbs["nop"]
	// Rewrite the body into a raw-ASM passthrough, the one shape that
	// supplies its own prologue/epilogue and return value.
	for _, bb := range fb.Container.Blocks {
		bb.Instrs = nil
	}
	fb.Container.Entry.Instrs = []*ir.Instr{{Kind: ir.OpAsm, Text: "\tmov $0, %eax"}}
	fb.RetVReg = nil
	out := Emit(fb)
	assert.NotContains(t, out, "push %rbp")
	assert.Contains(t, out, "ret")
}

func TestStringLiteralEmitsRodata(t *testing.T) {
	out := compileFunc(t, `
func hello() string {
	return "hi"
}
`, "hello")
	assert.Contains(t, out, ".section .rodata")
	assert.Contains(t, out, ".Lstr0:")
	assert.Contains(t, out, ".asciz \"hi\"")
	assert.Contains(t, out, "lea .Lstr0(%rip)")
}

func TestSharedStringLiteralDefinedOnce(t *testing.T) {
	pkg := ast.ParseText(`
func a() string {
	return "shared"
}
func b() string {
	return "shared"
}
`)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	fbs := backend.CompilePackage(pkg, target)
	out := Emit(fbs["a"]) + Emit(fbs["b"])
	assert.Equal(t, 1, strings.Count(out, ".asciz \"shared\""), "one rodata definition across the unit")
	assert.Equal(t, 2, strings.Count(out, ".Lstr0(%rip)"), "both functions reference the interned symbol")
}

func TestStackPassedIntParamsLandFromPositiveOffsets(t *testing.T) {
	out := compileFunc(t, `
func f(p1 int, p2 int, p3 int, p4 int, p5 int, p6 int, p7 int, p8 int) int {
	return p7 + p8
}
`, "f")
	// p7/p8 are the 7th/8th integer args: caller-pushed, above the return
	// address and saved rbp.
	assert.Contains(t, out, "16(%rbp)")
	assert.Contains(t, out, "24(%rbp)")
}

func TestEmitIsDeterministic(t *testing.T) {
	src := `
func f(a int, b int) int {
	let s = 0
	for i=0;i<a;i+=1{
		s = s + b
	}
	return s / 3
}
`
	a := compileFunc(t, src, "f")
	b := compileFunc(t, src, "f")
	if a != b {
		dmp := diffmatchpatch.New()
		t.Fatalf("emission differs between runs:\n%s", dmp.DiffPrettyText(dmp.DiffMain(a, b, false)))
	}
}

func TestRegNameWidths(t *testing.T) {
	assert.Equal(t, "%rax", RegName(RAX, 64))
	assert.Equal(t, "%eax", RegName(RAX, 32))
	assert.Equal(t, "%ax", RegName(RAX, 16))
	assert.Equal(t, "%al", RegName(RAX, 8))
}

func TestArgRegOrderMatchesSystemVAMD64(t *testing.T) {
	want := []int{RDI, RSI, RDX, RCX, R8, R9}
	for i, r := range want {
		got, ok := ArgReg(i)
		assert.True(t, ok)
		assert.Equal(t, r, got)
	}
	_, ok := ArgReg(6)
	assert.False(t, ok)
}

func TestReservedOpsCoverDivModAndShifts(t *testing.T) {
	ops := ReservedOps()
	kinds := map[string]uint64{}
	for _, o := range ops {
		kinds[o.Kind.String()] = o.Mask
	}
	assert.Equal(t, DivScratchMask, kinds["DIV"])
	assert.Equal(t, DivScratchMask, kinds["MOD"])
	assert.Equal(t, ShiftCountMask, kinds["LSHIFT"])
	assert.Equal(t, ShiftCountMask, kinds["RSHIFT"])
}
