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

// Package frame lays out one function's stack frame: a spill slot per
// SPILLED vreg plus packed, naturally-aligned storage for every
// address-taken local, both below the frame pointer, with the total size
// aligned to the target's call-alignment requirement.
package frame

import (
	"sort"

	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/xlog"
	"github.com/thomasmueller/xcc/utils"
)

var log = xlog.For("frame")

// VarargSlots is the number of integer ABI argument registers saved into
// the vaarg area for a variadic function (System V AMD64: 6 integer arg
// registers). __builtin_va_start resolves to the base of this area.
const VarargSlots = 6

// VarargSlotSize is the width of one saved argument register, always a
// full machine word regardless of the narrowest parameter actually passed.
const VarargSlotSize = 8

// ArgABI describes how the target passes parameters: how many land in
// registers per class, and where the first stack-passed parameter sits
// relative to the frame base (16 above rbp on x86-64, where the return
// address and saved rbp intervene; 0 from the entry sp on RV64, which the
// prologue preserves in s0). Stack-passed parameters occupy one machine
// word each, in left-to-right order among the stack-passed subset.
type ArgABI struct {
	IntRegs   int
	FloatRegs int
	StackBase int64
}

// Layout assigns every SPILLED and address-taken vreg a byte offset
// relative to the frame base, gives each stack-passed parameter its
// ABI-mandated positive offset, and sets fb.Frame accordingly. wordAlign
// is the target's natural alignment when the function makes no calls and
// does not need 16-byte alignment (8 on both x86-64 and RV64).
func Layout(fb *ir.FuncBackend, callAlign, wordAlign int, abi ArgABI) *ir.FrameInfo {
	fi := &ir.FrameInfo{SpillSlots: map[int]int64{}}
	offset := int64(0)

	// Spill area: one slot per SPILLED vreg, sized by its size class,
	// ordered by virt for deterministic output. fb.RegAlloc.Spilled is keyed
	// by VReg.Virt (the unique per-SSA-version id), not VReg.ID, since two
	// versions of the same original variable can be live at once and need
	// independent slots.
	if fb.RegAlloc != nil {
		var spilled []int
		for virt := range fb.RegAlloc.Spilled {
			if fb.RegAlloc.Spilled[virt] {
				spilled = append(spilled, virt)
			}
		}
		sort.Ints(spilled)
		vreg := indexVRegs(fb)
		for _, virt := range spilled {
			v := vreg[virt]
			size := int64(8)
			if v != nil {
				size = int64(v.Size / 8)
			}
			offset += size
			offset = alignTo(offset, size)
			fi.SpillSlots[virt] = -offset
		}
	}

	// Address-taken locals: packed bottom-up in per-scope (here: creation)
	// order, each at its own natural alignment. The vaarg-area placeholder
	// (if any) is resolved separately below, not packed alongside ordinary
	// locals, since its slot must land at VarargBase exactly.
	for _, v := range refTakenInOrder(fb) {
		if v == fb.VaAreaVReg {
			continue
		}
		size := int64(v.Size / 8)
		offset += size
		offset = alignTo(offset, size)
		fi.SpillSlots[v.Virt] = -offset
	}

	// Stack-passed parameters: positive offsets from the frame base, in
	// the order the caller placed them. Assigned after the spill loop on
	// purpose: a stack-passed parameter the allocator also spilled keeps
	// the caller's slot as its one home instead of getting a redundant
	// negative copy.
	intIdx, floatIdx, stackIdx := 0, 0, 0
	for _, p := range fb.Params {
		inReg := false
		if p.VReg.Flags.Has(ir.FlagFlonum) {
			inReg = floatIdx < abi.FloatRegs
			floatIdx++
		} else {
			inReg = intIdx < abi.IntRegs
			intIdx++
		}
		if inReg {
			continue
		}
		fi.SpillSlots[p.VReg.Virt] = abi.StackBase + int64(8*stackIdx)
		stackIdx++
	}

	fi.CallsOut = callsOut(fb.Container)
	if fb.Variadic {
		offset += int64(VarargSlots * VarargSlotSize)
		fi.VarargBase = -offset
		if fb.VaAreaVReg != nil {
			fi.SpillSlots[fb.VaAreaVReg.Virt] = fi.VarargBase
		}
	}

	align := int64(wordAlign)
	if fi.CallsOut || offset > 0 {
		align = int64(callAlign)
	}
	fi.Size = alignTo(offset, align)
	fb.Frame = fi
	log.Debug().Str("func", fb.Name).Int64("size", fi.Size).Msg("frame laid out")
	return fi
}

func alignTo(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// indexVRegs maps every vreg instance reachable from fb by its unique Virt
// id, so a spill slot lookup lands on the exact SSA version that was
// allocated, not just some version sharing its original ID.
func indexVRegs(fb *ir.FuncBackend) map[int]*ir.VReg {
	out := map[int]*ir.VReg{}
	for _, p := range fb.Params {
		out[p.VReg.Virt] = p.VReg
	}
	for _, bb := range fb.Container.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Dst != nil {
				out[instr.Dst.Virt] = instr.Dst
			}
			for _, a := range instr.Args {
				if a != nil {
					out[a.Virt] = a
				}
			}
		}
	}
	return out
}

// refTakenInOrder returns every FlagRef vreg referenced in fb, in first-seen
// (i.e. declaration) order, deduplicated by id.
func refTakenInOrder(fb *ir.FuncBackend) []*ir.VReg {
	seen := utils.NewSet[int]()
	var out []*ir.VReg
	note := func(v *ir.VReg) {
		if v == nil || !v.Flags.Has(ir.FlagRef) || !seen.Add(v.ID) {
			return
		}
		out = append(out, v)
	}
	for _, bb := range fb.Container.Blocks {
		for _, instr := range bb.Instrs {
			note(instr.Dst)
			for _, a := range instr.Args {
				note(a)
			}
		}
	}
	return out
}

func callsOut(c *ir.BBContainer) bool {
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Kind == ir.OpCall {
				return true
			}
		}
	}
	return false
}
