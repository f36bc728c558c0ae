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

package riscv

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/backend"
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
	assert.Contains(t, out, "addi sp, sp, -")
	assert.Contains(t, out, "sd ra, ")
	assert.Contains(t, out, "sd s0, ")
	assert.Contains(t, out, "ret")
	assert.Contains(t, out, ".globl add")
}

func TestEmitDivUsesDivMnemonic(t *testing.T) {
	out := compileFunc(t, `
func divide(a int, b int) int {
	return a / b
}
`, "divide")
	assert.Contains(t, out, "div")
}

func TestEmitModUsesRemMnemonic(t *testing.T) {
	out := compileFunc(t, `
func mod(a int, b int) int {
	return a % b
}
`, "mod")
	assert.Contains(t, out, "rem")
}

func TestEmitShiftByVariableCountTakesRegisterOperand(t *testing.T) {
	// RV64G has no fixed shift-count register (arch.go: ReservedOps is
	// empty), so the count operand is an arbitrary register, never "%cl"
	// or similar.
	out := compileFunc(t, `
func shift(a int, b int) int {
	return a << b
}
`, "shift")
	assert.Contains(t, out, "sll")
}

func TestEmitShiftByConstantUsesImmediateForm(t *testing.T) {
	out := compileFunc(t, `
func shift(a int) int {
	return a << 3
}
`, "shift")
	assert.Contains(t, out, "slli")
}

func TestReservedOpsEmptyNoMachineFixedRegisters(t *testing.T) {
	assert.Empty(t, ReservedOps())
}

func TestRegNameMatchesABINaming(t *testing.T) {
	assert.Equal(t, "a0", RegName(A0))
	assert.Equal(t, "t0", RegName(scratchT0))
	assert.Equal(t, "s1", RegName(S1))
}

func TestScratchRegistersAreOutsideTheAllocatablePool(t *testing.T) {
	assert.GreaterOrEqual(t, int(scratchT0), IntRegs)
	assert.GreaterOrEqual(t, int(scratchT1), IntRegs)
	assert.GreaterOrEqual(t, int(scratchT2), IntRegs)
}

func TestArgRegOrderIsA0ThroughA7(t *testing.T) {
	got, ok := ArgReg(0)
	assert.True(t, ok)
	assert.Equal(t, A0, got)
	_, ok = ArgReg(8)
	assert.False(t, ok)
}

func TestCalleeSavedMaskCoversS1AndS2ThroughS11(t *testing.T) {
	assert.NotZero(t, CalleeSavedMask&bit(S1))
	assert.NotZero(t, CalleeSavedMask&bit(S2))
	assert.NotZero(t, CalleeSavedMask&bit(S11))
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
	assert.Contains(t, out, "la ")
}

func TestStackPassedIntParamLandsFromEntrySP(t *testing.T) {
	out := compileFunc(t, `
func f(p1 int, p2 int, p3 int, p4 int, p5 int, p6 int, p7 int, p8 int, p9 int) int {
	return p9
}
`, "f")
	// p9 is the 9th integer arg: the caller leaves it at the entry sp,
	// which the prologue preserves in s0.
	assert.Contains(t, out, "0(s0)")
}

func TestEmitIsDeterministic(t *testing.T) {
	src := `
func f(a int, b int) int {
	let s = 0
	for i=0;i<a;i+=1{
		s = s + b
	}
	return s
}
`
	a := compileFunc(t, src, "f")
	b := compileFunc(t, src, "f")
	if a != b {
		dmp := diffmatchpatch.New()
		t.Fatalf("emission differs between runs:\n%s", dmp.DiffPrettyText(dmp.DiffMain(a, b, false)))
	}
}

func TestEmitVariadicSavesArgRegisters(t *testing.T) {
	out := compileFunc(t, `
func sum(first int, ...) int {
	__builtin_va_start()
	return first
}
`, "sum")
	assert.Contains(t, out, "a0")
}
