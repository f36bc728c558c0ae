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

// Package riscv is the RV64G peer native emitter: plain-text RISC-V
// assembly under the standard LP64D calling convention. Its register file
// is shaped the same way internal/codegen/x86's is: a flat phys-id space
// the allocator's bitmask indexes directly, with the emitter's scratch
// registers placed past the allocatable range.
package riscv

import (
	"github.com/thomasmueller/xcc/internal/frame"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/regalloc"
)

// Physical integer register ids. x0 (hardwired zero), ra, sp, gp and tp
// are never allocatable; s0 is reserved as the frame pointer; and t0, t1,
// t2 are withheld as the emitter's scratch registers (first operand
// reload, second operand reload, and unallocated destination), so the
// allocatable pool is s1, a0-a7, s2-s11 and t3-t6. Unlike x86-64, RV64G's
// DIV/REM/SLL/SRL/SRA take their second operand from an arbitrary
// register, so there is no fixed-register machine idiom here.
const (
	S1 = iota
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
	scratchT0 // not allocatable; named so RegName can render them
	scratchT1
	scratchT2
)

// IntRegs is the count of allocatable integer registers above.
const IntRegs = 23

// FloatRegs is the count of allocatable float registers: ft0-ft2 are the
// float scratch trio, leaving ft3-ft7, fs0-fs11, fa0-fa7 and ft8-ft11.
const FloatRegs = 29

var abiNames = [...]string{
	"s1", "a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
	"t0", "t1", "t2",
}

// RegName returns the ABI register name ("a0") for a physical integer
// register id. RV64G has no width-specific register aliasing: the
// instruction mnemonic (addw vs add) carries the operand width instead.
func RegName(phys int) string { return abiNames[phys] }

var fABINames = [...]string{
	"ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5", "fa6", "fa7",
	"fs2", "fs3", "fs4", "fs5", "fs6", "fs7", "fs8", "fs9", "fs10", "fs11",
	"ft8", "ft9", "ft10", "ft11",
	"ft0", "ft1", "ft2",
}

// FRegName returns the ABI name for a physical float register id.
func FRegName(phys int) string { return fABINames[phys] }

var intArgRegs = []int{A0, A1, A2, A3, A4, A5, A6, A7}

// ArgReg returns the physical integer register for the idx-th integer
// argument (0-based); RV64G passes up to 8 in a0-a7.
func ArgReg(idx int) (int, bool) {
	if idx < 0 || idx >= len(intArgRegs) {
		return 0, false
	}
	return intArgRegs[idx], true
}

// faZero is fa0's index in fABINames.
const faZero = 7

// FloatArgReg returns the idx-th float argument register, fa0-fa7.
func FloatArgReg(idx int) (int, bool) {
	if idx < 0 || idx >= 8 {
		return 0, false
	}
	return faZero + idx, true
}

const ReturnReg = A0
const FloatReturnReg = faZero // fa0

// ArgABI is the RV64 LP64D parameter-passing shape for frame.Layout: 8
// integer and 8 float register arguments, then stack slots starting at
// 0(s0) — the prologue keeps the entry sp in s0, and the caller placed
// the first stack argument exactly there.
func ArgABI() frame.ArgABI {
	return frame.ArgABI{IntRegs: len(intArgRegs), FloatRegs: 8, StackBase: 0}
}

// CalleeSavedMask is the bitmask of integer registers RV64G's calling
// convention requires the callee to preserve (s1-s11; s0 is the frame
// pointer and never allocated).
var CalleeSavedMask uint64 = func() uint64 {
	m := bit(S1)
	for phys := S2; phys <= S11; phys++ {
		m |= bit(phys)
	}
	return m
}()

func bit(phys int) uint64 { return uint64(1) << uint(phys) }

// ReservedOps is empty: RV64G's DIV/REM/SLL/SRL/SRA all take a register
// operand for the divisor/shift count, so no instruction needs the
// allocator to keep a specific physical register free on its behalf.
func ReservedOps() []regalloc.ReservedOp { return nil }

// sizeSuffix maps an operand width to the "w" (32-bit) mnemonic suffix;
// 64-bit ops carry no suffix in RV64G's base integer ISA.
func sizeSuffix(size ir.Size) string {
	if size == ir.Size64 {
		return ""
	}
	return "w"
}
