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

// Package liveness computes the per-BB in/out/assigned vreg sets by the
// standard backward gen/kill dataflow, iterated to a fixed point. It is
// shared by internal/ssa (which needs in/out sets to place phi nodes
// before the IR is renamed) and internal/regalloc (which needs them again
// after phi-resolution to build live intervals).
//
// Sets are keyed by VReg.Virt, not VReg.ID: before SSA construction every
// vreg's Virt equals its ID (one instance per original value), so
// internal/ssa's pre-renaming call sees no difference, but after
// phi-resolution distinct SSA versions of the same original share an ID
// and must still be tracked as separate live ranges, which only Virt gives.
package liveness

import (
	"sort"

	"github.com/thomasmueller/xcc/internal/ir"
)

// Result holds, per BB, the vregs (by Virt) live on entry, live on exit,
// and written anywhere in the block. CONST vregs are never members (they
// carry no liveness); REF vregs are tracked here for correctness
// bookkeeping but internal/regalloc excludes them from allocation.
type Result struct {
	In       map[*ir.BB]map[int]bool
	Out      map[*ir.BB]map[int]bool
	Assigned map[*ir.BB]map[int]bool
	use      map[*ir.BB]map[int]bool
}

func trackable(v *ir.VReg) bool {
	return v != nil && !v.Flags.Has(ir.FlagConst)
}

// Compute runs the gen/kill iteration over every BB in c.Blocks, reachable or not.
func Compute(c *ir.BBContainer) *Result {
	r := &Result{
		In:       map[*ir.BB]map[int]bool{},
		Out:      map[*ir.BB]map[int]bool{},
		Assigned: map[*ir.BB]map[int]bool{},
		use:      map[*ir.BB]map[int]bool{},
	}
	for _, bb := range c.Blocks {
		use, def := genKill(bb)
		r.use[bb] = use
		r.Assigned[bb] = def
		r.In[bb] = map[int]bool{}
		r.Out[bb] = map[int]bool{}
	}

	changed := true
	for changed {
		changed = false
		// Reverse block order converges faster for the common
		// forward-dominated shapes this builder produces, but correctness
		// does not depend on order since we iterate to a fixed point.
		for i := len(c.Blocks) - 1; i >= 0; i-- {
			bb := c.Blocks[i]
			out := map[int]bool{}
			for _, s := range bb.Succs {
				for id := range r.In[s] {
					out[id] = true
				}
			}
			in := map[int]bool{}
			for id := range r.use[bb] {
				in[id] = true
			}
			for id := range out {
				if !r.Assigned[bb][id] {
					in[id] = true
				}
			}
			if !equal(in, r.In[bb]) || !equal(out, r.Out[bb]) {
				r.In[bb] = in
				r.Out[bb] = out
				changed = true
			}
		}
	}
	return r
}

// genKill returns a BB's use-set (vregs read before any write in this block)
// and def-set (vregs written anywhere in this block).
func genKill(bb *ir.BB) (use, def map[int]bool) {
	use, def = map[int]bool{}, map[int]bool{}
	for _, instr := range bb.Instrs {
		for _, a := range instr.Args {
			if trackable(a) && !def[a.Virt] {
				use[a.Virt] = true
			}
		}
		if instr.Kind == ir.OpPhi {
			for _, a := range instr.PhiArgs {
				if trackable(a) && !def[a.Virt] {
					use[a.Virt] = true
				}
			}
		}
		if trackable(instr.Dst) {
			def[instr.Dst.Virt] = true
		}
	}
	return use, def
}

func equal(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// IDs returns the vreg ids in m in ascending order, so callers that print
// or version-number off a set see the same sequence on every run.
func IDs(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
