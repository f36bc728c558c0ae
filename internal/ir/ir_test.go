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

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVRegStringVariants(t *testing.T) {
	c := NewBBContainer()
	plain := c.NewVReg(Size32, 0)
	assert.Equal(t, "v0", plain.String())

	plain.Version = 2
	assert.Equal(t, "v0.2", plain.String())

	k := c.NewConst(Size64, 7)
	assert.Equal(t, "$7", k.String())

	f := c.NewFConst(Size64, 3.5)
	assert.Equal(t, "$3.5", f.String())

	var nilReg *VReg
	assert.Equal(t, "<nil>", nilReg.String())
}

func TestVFlagHas(t *testing.T) {
	f := FlagParam | FlagRef
	assert.True(t, f.Has(FlagParam))
	assert.True(t, f.Has(FlagRef))
	assert.False(t, f.Has(FlagConst))
}

func TestBBContainerNewBBAssignsSequentialIDs(t *testing.T) {
	c := NewBBContainer()
	a := c.NewBB("a")
	b := c.NewBB("b")
	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, []*BB{a, b}, c.Blocks)
}

func TestAddSuccWiresBothSides(t *testing.T) {
	c := NewBBContainer()
	a := c.NewBB("a")
	b := c.NewBB("b")
	a.AddSucc(b)
	assert.Equal(t, []*BB{b}, a.Succs)
	assert.Equal(t, []*BB{a}, b.Preds)
}

func TestNewVRegAllocatesDistinctIDs(t *testing.T) {
	c := NewBBContainer()
	v1 := c.NewVReg(Size32, 0)
	v2 := c.NewVReg(Size64, FlagParam)
	assert.Equal(t, 0, v1.ID)
	assert.Equal(t, 1, v2.ID)
	assert.Equal(t, 2, c.VRegCount())
}

func TestOpStringUnknownIsInvalid(t *testing.T) {
	assert.Equal(t, "ADD", OpAdd.String())
	assert.Equal(t, "INVALID", Op(9999).String())
}

func TestIsSideEffecting(t *testing.T) {
	assert.True(t, OpStore.IsSideEffecting())
	assert.True(t, OpCall.IsSideEffecting())
	assert.False(t, OpAdd.IsSideEffecting())
	assert.False(t, OpMov.IsSideEffecting())
}

func TestCondNegatePreservesSignedness(t *testing.T) {
	assert.Equal(t, CondNE, CondEQ.Negate())
	assert.Equal(t, CondGE, CondLT.Negate())
	assert.Equal(t, CondLE|CondUnsigned, (CondGT | CondUnsigned).Negate())
	assert.True(t, (CondLE | CondUnsigned).IsUnsigned())
	assert.Equal(t, CondLE, (CondLE | CondUnsigned).Base())
}

func TestCondString(t *testing.T) {
	assert.Equal(t, "eq", CondEQ.String())
	assert.Equal(t, "ltu", (CondLT | CondUnsigned).String())
}

func TestInstrStringDstVsVoid(t *testing.T) {
	c := NewBBContainer()
	dst := c.NewVReg(Size32, 0)
	src := c.NewConst(Size32, 1)
	withDst := &Instr{Kind: OpAdd, Dst: dst, Args: []*VReg{dst, src}}
	assert.Contains(t, withDst.String(), "v0 = ADD")

	noDst := &Instr{Kind: OpStore, Args: []*VReg{dst, src}}
	assert.Contains(t, noDst.String(), "STORE")
	assert.NotContains(t, noDst.String(), "=")
}

func TestNewRegAllocResultInitializesMaps(t *testing.T) {
	r := NewRegAllocResult()
	assert.NotNil(t, r.PhysReg)
	assert.NotNil(t, r.Spilled)
	r.PhysReg[3] = 1
	assert.Equal(t, 1, r.PhysReg[3])
}
