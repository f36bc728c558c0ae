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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/internal/ir"
)

var sysvABI = ArgABI{IntRegs: 6, FloatRegs: 8, StackBase: 16}

func TestLayoutNoSpillsNoLocalsIsZeroSize(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ir.NewRegAllocResult()}
	fi := Layout(fb, 16, 8, sysvABI)
	assert.Equal(t, int64(0), fi.Size)
	assert.Empty(t, fi.SpillSlots)
}

func TestLayoutSpillSlotsAreNegativeAndDistinct(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	v1 := c.NewVReg(ir.Size32, 0)
	v2 := c.NewVReg(ir.Size64, 0)
	bb.Instrs = append(bb.Instrs,
		&ir.Instr{Kind: ir.OpMov, Dst: v1, Args: []*ir.VReg{c.NewConst(ir.Size32, 1)}},
		&ir.Instr{Kind: ir.OpMov, Dst: v2, Args: []*ir.VReg{c.NewConst(ir.Size64, 2)}},
	)
	ra := ir.NewRegAllocResult()
	ra.Spilled[v1.ID] = true
	ra.Spilled[v2.ID] = true
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ra}

	fi := Layout(fb, 16, 8, sysvABI)
	assert.Less(t, fi.SpillSlots[v1.ID], int64(0))
	assert.Less(t, fi.SpillSlots[v2.ID], int64(0))
	assert.NotEqual(t, fi.SpillSlots[v1.ID], fi.SpillSlots[v2.ID])
}

func TestLayoutCallAlignmentAppliesWhenFunctionCallsOut(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	v1 := c.NewVReg(ir.Size8, ir.FlagRef)
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpBOfs, Dst: c.NewVReg(ir.Size64, 0), Args: []*ir.VReg{v1}})
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpCall, Sym: "callee"})
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ir.NewRegAllocResult()}

	fi := Layout(fb, 16, 8, sysvABI)
	assert.True(t, fi.CallsOut)
	assert.Equal(t, int64(0), fi.Size%16)
}

func TestLayoutWordAlignWhenLeafAndNoLocals(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ir.NewRegAllocResult()}
	fi := Layout(fb, 16, 8, sysvABI)
	assert.False(t, fi.CallsOut)
	assert.Equal(t, int64(0), fi.Size)
}

func TestLayoutVariadicReservesVarargAreaAtVaAreaVReg(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	vaArea := c.NewVReg(ir.Size64, ir.FlagRef)
	addr := c.NewVReg(ir.Size64, 0)
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpBOfs, Dst: addr, Args: []*ir.VReg{vaArea}})
	fb := &ir.FuncBackend{Name: "f", Container: c, Variadic: true, VaAreaVReg: vaArea, RegAlloc: ir.NewRegAllocResult()}

	fi := Layout(fb, 16, 8, sysvABI)
	assert.Equal(t, fi.VarargBase, fi.SpillSlots[vaArea.ID])
	assert.Equal(t, int64(-(VarargSlots * VarargSlotSize)), fi.VarargBase)
	assert.NotZero(t, fi.Size)
}

func TestLayoutStackPassedParamsGetPositiveABIOffsets(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("entry")
	c.Entry = bb
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ir.NewRegAllocResult()}
	for i := 0; i < 8; i++ {
		v := c.NewVReg(ir.Size32, ir.FlagParam)
		fb.Params = append(fb.Params, &ir.Param{VReg: v, Name: "p"})
	}

	fi := Layout(fb, 16, 8, sysvABI)
	// The first six land in registers and get no frame slot; the 7th and
	// 8th sit above the return address and saved frame pointer.
	_, has := fi.SpillSlots[fb.Params[0].VReg.Virt]
	assert.False(t, has)
	assert.Equal(t, int64(16), fi.SpillSlots[fb.Params[6].VReg.Virt])
	assert.Equal(t, int64(24), fi.SpillSlots[fb.Params[7].VReg.Virt])
}

func TestLayoutAddressTakenLocalsPackedInDeclarationOrder(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	v1 := c.NewVReg(ir.Size8, ir.FlagRef)
	v2 := c.NewVReg(ir.Size64, ir.FlagRef)
	bb.Instrs = append(bb.Instrs,
		&ir.Instr{Kind: ir.OpBOfs, Dst: c.NewVReg(ir.Size64, 0), Args: []*ir.VReg{v1}},
		&ir.Instr{Kind: ir.OpBOfs, Dst: c.NewVReg(ir.Size64, 0), Args: []*ir.VReg{v2}},
	)
	fb := &ir.FuncBackend{Name: "f", Container: c, RegAlloc: ir.NewRegAllocResult()}

	fi := Layout(fb, 16, 8, sysvABI)
	// v1 (1 byte) is packed first and thus sits closer to the frame base
	// (smaller magnitude negative offset) than v2 (8 bytes).
	assert.Greater(t, fi.SpillSlots[v1.ID], fi.SpillSlots[v2.ID])
}
