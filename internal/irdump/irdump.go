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

// Package irdump is the backend's debug dump entry point: for
// each function it renders the symbol table (locals by vreg id or stack
// offset), the vreg list (with assigned phys register or spill offset;
// live intervals are rendered separately by Intervals) and each BB's label, predecessors, in/out liveness sets and
// instructions in three-address form. Plain writer-based text, no template
// engine.
package irdump

import (
	"fmt"
	"io"
	"sort"

	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/liveness"
	"github.com/thomasmueller/xcc/internal/regalloc"
)

// Func renders fb to w. fb may be dumped at any pipeline stage: before
// register allocation the vreg section prints a placeholder line and the
// symbol table lists parameters only.
func Func(w io.Writer, fb *ir.FuncBackend) {
	fmt.Fprintf(w, "=== %s ===\n", fb.Name)
	dumpSymbols(w, fb)
	dumpVRegs(w, fb)
	dumpBlocks(w, fb)
}

// dumpSymbols renders the locals table: one line per parameter and
// address-taken local, giving its vreg id and (once frame.Layout has run)
// its resolved stack offset.
func dumpSymbols(w io.Writer, fb *ir.FuncBackend) {
	fmt.Fprintln(w, "-- symbols --")
	for _, p := range fb.Params {
		fmt.Fprintf(w, "  param %-16s v%d\n", p.Name, p.VReg.ID)
	}
	if fb.Frame == nil {
		return
	}
	var ids []int
	for id := range fb.Frame.SpillSlots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  slot  v%-16d %d(fp)\n", id, fb.Frame.SpillSlots[id])
	}
}

// dumpVRegs renders, once regalloc has run, one line per allocated vreg
// with its phys register or spill offset; before allocation it prints a
// single placeholder line instead of a vreg list.
func dumpVRegs(w io.Writer, fb *ir.FuncBackend) {
	fmt.Fprintln(w, "-- vregs --")
	if fb.RegAlloc == nil {
		fmt.Fprintln(w, "  (register allocation has not run yet)")
		return
	}
	var ids []int
	for id := range fb.RegAlloc.PhysReg {
		ids = append(ids, id)
	}
	for id := range fb.RegAlloc.Spilled {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if phys, ok := fb.RegAlloc.PhysReg[id]; ok {
			fmt.Fprintf(w, "  v%-4d phys=%d\n", id, phys)
			continue
		}
		off := int64(0)
		if fb.Frame != nil {
			off = fb.Frame.SpillSlots[id]
		}
		fmt.Fprintf(w, "  v%-4d spilled off=%d\n", id, off)
	}
}

// dumpBlocks renders every BB's label, predecessor list, liveness sets and
// instructions. Liveness is recomputed fresh for the dump rather than
// threaded through from an earlier pass, since a dump may be requested at
// any pipeline stage and liveness.Compute is cheap relative to a single
// function's size.
func dumpBlocks(w io.Writer, fb *ir.FuncBackend) {
	fmt.Fprintln(w, "-- blocks --")
	live := liveness.Compute(fb.Container)
	for _, bb := range fb.Container.Blocks {
		preds := make([]string, len(bb.Preds))
		for i, p := range bb.Preds {
			preds[i] = p.String()
		}
		dom := "-"
		if bb.IDom != nil {
			dom = bb.IDom.String()
		}
		fmt.Fprintf(w, "%s: preds=%v idom=%s\n", bb.String(), preds, dom)
		fmt.Fprintf(w, "  in=%v out=%v assigned=%v\n", liveness.IDs(live.In[bb]), liveness.IDs(live.Out[bb]), liveness.IDs(live.Assigned[bb]))
		for _, instr := range bb.Instrs {
			fmt.Fprintf(w, "  %s\n", instr.String())
		}
	}
}

// Intervals renders a regalloc.Result's sorted interval lists, with each
// interval's range, state, assigned register and forbidden-register mask.
func Intervals(w io.Writer, name string, result *regalloc.Result) {
	fmt.Fprintf(w, "-- intervals(%s) --\n", name)
	for _, iv := range result.IntIntervals {
		dumpInterval(w, "int", iv)
	}
	for _, iv := range result.FloatIntervals {
		dumpInterval(w, "float", iv)
	}
}

func dumpInterval(w io.Writer, class string, iv *regalloc.Interval) {
	state := "normal"
	if iv.State == regalloc.StateSpill {
		state = "spill"
	}
	fmt.Fprintf(w, "  [%s] v%-4d [%d,%d] %s phys=%d occupied=%#x\n",
		class, iv.VReg.ID, iv.Start, iv.End, state, iv.Phys, iv.Occupied)
}
