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

// Package regalloc is the linear-scan register allocator: it buckets live
// intervals by register class, sorts them by start, walks them maintaining
// an active set, and spills the interval with the farthest end when out of
// free physical registers.
package regalloc

import (
	"sort"

	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/liveness"
	"github.com/thomasmueller/xcc/internal/xerr"
	"github.com/thomasmueller/xcc/internal/xlog"
	"github.com/thomasmueller/xcc/utils"
)

var log = xlog.For("regalloc")

// Class selects between the integer and floating-point register files.
type Class int

const (
	ClassInt Class = iota
	ClassFloat
)

func classOf(v *ir.VReg) Class {
	if v.Flags.Has(ir.FlagFlonum) {
		return ClassFloat
	}
	return ClassInt
}

// Result is the allocator's output, in addition to the VReg.Virt -> phys/spill
// maps folded into ir.RegAllocResult: the sorted interval lists (kept for
// the IR dumper) and the used-register bitmasks the
// emitter's prologue/epilogue consult to decide which callee-saved
// registers to push.
type Result struct {
	*ir.RegAllocResult
	IntIntervals   []*Interval
	FloatIntervals []*Interval
	UsedInt        uint64
	UsedFloat      uint64
}

// Allocate runs linear-scan over fb's (non-SSA, phi-resolved) IR. intRegs
// and floatRegs are the per-class count of allocatable physical registers
// the calling target exposes; reservedOps lists the target's fixed-register
// machine idioms so intervals overlapping them are barred from those
// physical registers.
func Allocate(fb *ir.FuncBackend, intRegs, floatRegs int, reservedOps []ReservedOp) *Result {
	live := liveness.Compute(fb.Container)
	intervals := buildIntervals(fb, live, reservedOps)

	var ints, floats []*Interval
	for _, iv := range intervals {
		if classOf(iv.VReg) == ClassFloat {
			floats = append(floats, iv)
		} else {
			ints = append(ints, iv)
		}
	}
	sortIntervals(ints)
	sortIntervals(floats)

	usedInt := scan(ints, intRegs)
	usedFloat := scan(floats, floatRegs)

	out := ir.NewRegAllocResult()
	for _, iv := range append(append([]*Interval{}, ints...), floats...) {
		if iv.State == StateSpill {
			out.Spilled[iv.VReg.Virt] = true
		} else {
			out.PhysReg[iv.VReg.Virt] = iv.Phys
		}
	}
	out.UsedInt = usedInt
	out.UsedFloat = usedFloat
	log.Debug().Str("func", fb.Name).Int("intervals", len(ints)+len(floats)).Msg("allocation complete")
	return &Result{RegAllocResult: out, IntIntervals: ints, FloatIntervals: floats, UsedInt: usedInt, UsedFloat: usedFloat}
}

func sortIntervals(ivs []*Interval) {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		if ivs[i].End != ivs[j].End {
			return ivs[i].End < ivs[j].End
		}
		// Total order: identical ranges still scan in a stable sequence.
		return ivs[i].VReg.Virt < ivs[j].VReg.Virt
	})
}

// scan is the core linear-scan loop: maintain an active set ordered by
// End, expire intervals that have ended, honor each interval's Occupied
// mask, and spill the farthest-ending interval among {active, current}
// when no free physical register remains. Returns the bitmask of physical
// registers actually assigned to at least one interval, which the emitter
// consults for callee-saved pushes.
func scan(ivs []*Interval, numRegs int) uint64 {
	var used uint64
	if numRegs <= 0 {
		for _, iv := range ivs {
			iv.State = StateSpill
		}
		return 0
	}
	var active []*Interval
	var freeMask uint64 = (uint64(1) << uint(numRegs)) - 1

	expire := func(at int) {
		kept := active[:0]
		for _, a := range active {
			if a.End < at {
				freeMask |= uint64(1) << uint(a.Phys)
			} else {
				kept = append(kept, a)
			}
		}
		active = kept
	}

	for _, cur := range ivs {
		expire(cur.Start)

		avail := freeMask &^ cur.Occupied
		if avail != 0 {
			phys := lowestBit(avail)
			cur.Phys = phys
			cur.State = StateNormal
			freeMask &^= uint64(1) << uint(phys)
			used |= uint64(1) << uint(phys)
			active = insertByEnd(active, cur)
			continue
		}

		// No free, unoccupied register: spill whichever of {active, cur}
		// ends furthest away.
		farthest := cur
		farthestIdx := -1
		for i, a := range active {
			if a.Occupied&(uint64(1)<<uint(a.Phys)) != 0 {
				continue // a machine-mandated register cannot be evicted
			}
			if a.End > farthest.End {
				farthest = a
				farthestIdx = i
			}
		}
		if farthestIdx == -1 {
			// cur itself loses, or every active interval is pinned: spill
			// cur.
			cur.State = StateSpill
			continue
		}
		// Evict the farthest active interval, hand its register to cur if
		// legal, otherwise spill cur.
		if farthest.Occupied&(uint64(1)<<uint(farthest.Phys)) == 0 && cur.Occupied&(uint64(1)<<uint(farthest.Phys)) == 0 {
			cur.Phys = farthest.Phys
			cur.State = StateNormal
			farthest.State = StateSpill
			active = removeInterval(active, farthest)
			active = insertByEnd(active, cur)
			used |= uint64(1) << uint(cur.Phys)
		} else {
			cur.State = StateSpill
		}
	}
	xerr.Assert(numRegs <= 64, "register class too wide for a uint64 bitmask")
	return used
}

func insertByEnd(active []*Interval, iv *Interval) []*Interval {
	i := sort.Search(len(active), func(i int) bool { return active[i].End >= iv.End })
	return utils.InsertAt(active, i, iv)
}

func removeInterval(active []*Interval, iv *Interval) []*Interval {
	out := active[:0]
	for _, a := range active {
		if a != iv {
			out = append(out, a)
		}
	}
	return out
}

func lowestBit(mask uint64) int {
	for i := 0; i < 64; i++ {
		if mask&(uint64(1)<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}
