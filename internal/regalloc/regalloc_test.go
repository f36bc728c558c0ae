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

package regalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thomasmueller/xcc/internal/ir"
)

// fb4Vregs builds a function body where 4 independent int vregs are all
// simultaneously live (used together in one instruction at the end), to
// exercise spilling when numRegs is smaller than the live set.
func fb4Vregs() *ir.FuncBackend {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	c.Exit = c.NewBB("exit")
	vs := make([]*ir.VReg, 4)
	for i := range vs {
		vs[i] = c.NewVReg(ir.Size32, 0)
		bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpMov, Dst: vs[i], Args: []*ir.VReg{c.NewConst(ir.Size32, int64(i))}})
	}
	sum := c.NewVReg(ir.Size32, 0)
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpAdd, Dst: sum, Args: []*ir.VReg{vs[0], vs[1]}})
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpAdd, Dst: sum, Args: []*ir.VReg{sum, vs[2]}})
	bb.Instrs = append(bb.Instrs, &ir.Instr{Kind: ir.OpAdd, Dst: sum, Args: []*ir.VReg{sum, vs[3]}})
	bb.AddSucc(c.Exit)
	return &ir.FuncBackend{Name: "f", Container: c}
}

func TestAllocateFitsWithEnoughRegisters(t *testing.T) {
	fb := fb4Vregs()
	res := Allocate(fb, 8, 8, nil)
	assert.Empty(t, res.Spilled)
	assert.Len(t, res.PhysReg, 5)
}

func TestAllocateSpillsWhenOutOfRegisters(t *testing.T) {
	fb := fb4Vregs()
	res := Allocate(fb, 2, 2, nil)
	assert.NotEmpty(t, res.Spilled)
	// Every vreg is either allocated a register or recorded as spilled, and
	// the sets are disjoint.
	for id := range res.Spilled {
		_, alsoPhys := res.PhysReg[id]
		assert.False(t, alsoPhys, "vreg %d is both spilled and register-assigned", id)
	}
}

func TestAllocateZeroRegistersSpillsEverything(t *testing.T) {
	fb := fb4Vregs()
	res := Allocate(fb, 0, 0, nil)
	assert.Empty(t, res.PhysReg)
	assert.Len(t, res.Spilled, 5)
}

func TestAllocateDisjointPhysRegistersAmongOverlappingIntervals(t *testing.T) {
	fb := fb4Vregs()
	res := Allocate(fb, 8, 8, nil)
	seen := map[int]bool{}
	for _, iv := range res.IntIntervals {
		if iv.State == StateSpill {
			continue
		}
		assert.False(t, seen[iv.Phys], "physical register %d double-booked among overlapping intervals", iv.Phys)
		seen[iv.Phys] = true
	}
}

func TestAllocateRespectsReservedMask(t *testing.T) {
	// DIV-like instruction reserves phys register 0 for any interval live
	// across it other than the instruction's own operands.
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	c.Exit = c.NewBB("exit")
	keepAlive := c.NewVReg(ir.Size32, 0)
	a := c.NewVReg(ir.Size32, 0)
	b := c.NewVReg(ir.Size32, 0)
	q := c.NewVReg(ir.Size32, 0)
	bb.Instrs = append(bb.Instrs,
		&ir.Instr{Kind: ir.OpMov, Dst: keepAlive, Args: []*ir.VReg{c.NewConst(ir.Size32, 9)}},
		&ir.Instr{Kind: ir.OpMov, Dst: a, Args: []*ir.VReg{c.NewConst(ir.Size32, 10)}},
		&ir.Instr{Kind: ir.OpMov, Dst: b, Args: []*ir.VReg{c.NewConst(ir.Size32, 3)}},
		&ir.Instr{Kind: ir.OpDiv, Dst: q, Args: []*ir.VReg{a, b}},
		&ir.Instr{Kind: ir.OpAdd, Dst: q, Args: []*ir.VReg{q, keepAlive}},
	)
	bb.AddSucc(c.Exit)
	fb := &ir.FuncBackend{Name: "f", Container: c}

	reserved := []ReservedOp{{Kind: ir.OpDiv, Mask: 1}}
	res := Allocate(fb, 2, 2, reserved)

	keepIv := mustInterval(t, res.IntIntervals, keepAlive.ID)
	if keepIv.State == StateNormal {
		assert.NotEqual(t, 0, keepIv.Phys, "keepAlive overlaps the DIV and must not land in the reserved register")
	}
}

func mustInterval(t *testing.T, ivs []*Interval, id int) *Interval {
	t.Helper()
	for _, iv := range ivs {
		if iv.VReg.ID == id {
			return iv
		}
	}
	t.Fatalf("no interval found for vreg %d", id)
	return nil
}

func TestAllocateSeparatesIntAndFloatClasses(t *testing.T) {
	c := ir.NewBBContainer()
	bb := c.NewBB("only")
	c.Entry = bb
	c.Exit = c.NewBB("exit")
	iv := c.NewVReg(ir.Size32, 0)
	fv := c.NewVReg(ir.Size64, ir.FlagFlonum)
	bb.Instrs = append(bb.Instrs,
		&ir.Instr{Kind: ir.OpMov, Dst: iv, Args: []*ir.VReg{c.NewConst(ir.Size32, 1)}},
		&ir.Instr{Kind: ir.OpMov, Dst: fv, Args: []*ir.VReg{c.NewFConst(ir.Size64, 1.5)}},
	)
	bb.AddSucc(c.Exit)
	fb := &ir.FuncBackend{Name: "f", Container: c}

	res := Allocate(fb, 8, 8, nil)
	assert.Len(t, res.IntIntervals, 1)
	assert.Len(t, res.FloatIntervals, 1)
	assert.Equal(t, iv.ID, res.IntIntervals[0].VReg.ID)
	assert.Equal(t, fv.ID, res.FloatIntervals[0].VReg.ID)
}

func TestConstAndRefVRegsAreNotAllocatable(t *testing.T) {
	c := ir.NewBBContainer()
	k := c.NewConst(ir.Size32, 1)
	r := c.NewVReg(ir.Size64, ir.FlagRef)
	assert.False(t, allocatable(k))
	assert.False(t, allocatable(r))
	assert.False(t, allocatable(nil))
}

func TestLowestBitFindsSmallestSetBit(t *testing.T) {
	assert.Equal(t, 0, lowestBit(0b1011))
	assert.Equal(t, 2, lowestBit(0b100))
	assert.Equal(t, -1, lowestBit(0))
}
