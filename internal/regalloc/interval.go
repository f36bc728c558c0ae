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
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/liveness"
)

// State is a live interval's allocation outcome.
type State int

const (
	StateNormal State = iota
	StateSpill
)

// Interval is a flat (non-splitting) live range: once allocation decides
// a vreg's fate it holds for the whole range, there is no mid-interval
// split and reassignment.
type Interval struct {
	VReg     *ir.VReg
	Start    int
	End      int
	State    State
	Phys     int
	Occupied uint64 // bitmask of phys ids this interval must not receive
}

// linearize assigns a single ascending instruction-pointer index (nip) to
// every instruction across every BB in container order, and returns the
// index each BB ends at.
func linearize(c *ir.BBContainer) (nipOf map[*ir.Instr]int, bbEnd map[*ir.BB]int) {
	nipOf = map[*ir.Instr]int{}
	bbEnd = map[*ir.BB]int{}
	nip := 0
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			nipOf[instr] = nip
			nip++
		}
		bbEnd[bb] = nip - 1
		if len(bb.Instrs) == 0 {
			bbEnd[bb] = nip
		}
	}
	return nipOf, bbEnd
}

// ReservedOp names one IR opcode whose native lowering needs specific
// physical registers for the instruction itself (DIV/MOD's RAX:RDX pair,
// a variable shift count in CL).
// Rather than forcing the instruction's own operands into Mask (the flat
// interval model has no "pinned" state), the emitter always shuffles
// through the fixed registers at the instruction itself; buildIntervals
// instead forbids every *other* interval still live at that instruction
// from also claiming Mask, so the emitter's temporary use of it cannot
// clobber a value still needed afterwards.
type ReservedOp struct {
	Kind ir.Op
	Mask uint64
}

// buildIntervals computes a flat live interval per allocatable vreg (every
// non-CONST, non-REF vreg): start is the first def nip (or the function
// entry for a PARAM, which is live before any instruction defines it), end
// is the highest nip at which liveness.Result or a later use extends it.
// Keyed by VReg.Virt, the unique per-SSA-version id (liveness.Result's sets
// are keyed the same way), so two versions of the same original variable
// never collapse into one interval.
func buildIntervals(fb *ir.FuncBackend, live *liveness.Result, reservedOps []ReservedOp) map[int]*Interval {
	c := fb.Container
	nipOf, bbEnd := linearize(c)
	intervals := map[int]*Interval{}

	ensure := func(v *ir.VReg, at int) *Interval {
		iv, ok := intervals[v.Virt]
		if !ok {
			iv = &Interval{VReg: v, Start: at, End: at}
			intervals[v.Virt] = iv
			return iv
		}
		if at < iv.Start {
			iv.Start = at
		}
		if at > iv.End {
			iv.End = at
		}
		return iv
	}

	for _, p := range fb.Params {
		if allocatable(p.VReg) {
			ensure(p.VReg, 0)
		}
	}

	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			nip := nipOf[instr]
			for _, a := range instr.Args {
				if allocatable(a) {
					ensure(a, nip)
				}
			}
			if allocatable(instr.Dst) {
				ensure(instr.Dst, nip)
			}
		}
		// A vreg live out of bb (live.Out) must have its interval extend to
		// at least the end of bb, even if bb itself never mentions it,
		// since it is live across the whole block on its way to a
		// successor's use.
		end := bbEnd[bb]
		for id := range live.Out[bb] {
			if iv, ok := intervals[id]; ok && end > iv.End {
				iv.End = end
			}
		}
	}

	if len(reservedOps) > 0 {
		applyReservedOps(c, nipOf, intervals, reservedOps)
	}
	return intervals
}

func applyReservedOps(c *ir.BBContainer, nipOf map[*ir.Instr]int, intervals map[int]*Interval, reservedOps []ReservedOp) {
	maskFor := map[ir.Op]uint64{}
	for _, r := range reservedOps {
		maskFor[r.Kind] |= r.Mask
	}
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			mask, ok := maskFor[instr.Kind]
			if !ok {
				continue
			}
			nip := nipOf[instr]
			own := map[int]bool{}
			if instr.Dst != nil {
				own[instr.Dst.Virt] = true
			}
			for _, a := range instr.Args {
				if a != nil {
					own[a.Virt] = true
				}
			}
			for id, iv := range intervals {
				if own[id] {
					continue
				}
				if iv.Start <= nip && nip <= iv.End {
					iv.Occupied |= mask
				}
			}
		}
	}
}

func allocatable(v *ir.VReg) bool {
	return v != nil && !v.Flags.Has(ir.FlagConst) && !v.Flags.Has(ir.FlagRef)
}
