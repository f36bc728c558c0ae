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

package ssa

import (
	"sort"

	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/liveness"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("ssa")

// renamer carries the per-vreg version stacks across the single forward
// walk over the container's blocks.
type renamer struct {
	c        *ir.BBContainer
	live     *liveness.Result
	stacks   map[int][]*ir.VReg // orig vreg id -> stack, top = current version
	version  map[int]int        // orig vreg id -> next version to hand out
	proto    map[int]*ir.VReg   // orig vreg id -> a representative vreg (size/flags/name)
	joinDst  map[*ir.BB]map[int]*ir.VReg
	outSnap  map[*ir.BB]map[int]*ir.VReg
	bypassed map[int]bool // PARAM/REF vregs are never renamed
}

// Build converts fb's IR to SSA form in place: every non-PARAM non-REF
// vreg is renamed so it has exactly one defining instruction, and phi
// nodes are inserted at join points. fb.Container.InSSA is set to true on
// return.
func Build(fb *ir.FuncBackend) {
	c := fb.Container
	live := liveness.Compute(c)
	r := &renamer{
		c:        c,
		live:     live,
		stacks:   map[int][]*ir.VReg{},
		version:  map[int]int{},
		proto:    map[int]*ir.VReg{},
		joinDst:  map[*ir.BB]map[int]*ir.VReg{},
		outSnap:  map[*ir.BB]map[int]*ir.VReg{},
		bypassed: map[int]bool{},
	}
	r.collectPrototypes()
	r.seedParams(fb)

	for _, bb := range c.Blocks {
		r.renameBB(bb)
	}
	r.insertPhis()
	c.InSSA = true
	// The dominator tree is not needed by the renaming walk itself (join
	// points are found from liveness), but the IR dumper reports each BB's
	// immediate dominator, so it is built once here while the container is
	// still fresh.
	BuildDomTree(c)
	log.Debug().Str("func", fb.Name).Msg("ssa construction complete")
}

// collectPrototypes records one representative *ir.VReg per original id (to
// clone Size/Flags/Name from when minting a new version) and marks REF
// vregs as SSA-bypassed.
func (r *renamer) collectPrototypes() {
	see := func(v *ir.VReg) {
		if v == nil || v.Flags.Has(ir.FlagConst) {
			return
		}
		if _, ok := r.proto[v.ID]; !ok {
			r.proto[v.ID] = v
		}
		if v.Flags.Has(ir.FlagRef) {
			r.bypassed[v.ID] = true
		}
	}
	for _, bb := range r.c.Blocks {
		for _, instr := range bb.Instrs {
			see(instr.Dst)
			for _, a := range instr.Args {
				see(a)
			}
		}
	}
}

// seedParams pushes version 0 for every PARAM vreg so uses in the entry
// block resolve without a defining instruction (the ABI landing counts as
// the implicit definition).
func (r *renamer) seedParams(fb *ir.FuncBackend) {
	for _, p := range fb.Params {
		r.bypassed[p.VReg.ID] = true
		r.stacks[p.VReg.ID] = []*ir.VReg{p.VReg}
	}
}

func (r *renamer) clone(orig int, version int) *ir.VReg {
	p := r.proto[orig]
	nv := &ir.VReg{ID: orig, Virt: r.c.NewVersion(), Size: p.Size, Flags: p.Flags, Name: p.Name, Version: version}
	return nv
}

func (r *renamer) top(orig int) (*ir.VReg, bool) {
	s := r.stacks[orig]
	if len(s) == 0 {
		return nil, false
	}
	return s[len(s)-1], true
}

func (r *renamer) push(orig int, v *ir.VReg) {
	r.stacks[orig] = append(r.stacks[orig], v)
}

func (r *renamer) renameBB(bb *ir.BB) {
	// Every block with predecessors gets a fresh version per live-in
	// vreg, allocated up front as a placeholder. Which incoming value a
	// placeholder stands for is only known once every predecessor
	// (including back-edges, and predecessors that appear later in
	// container order) has been walked, so resolution is deferred to
	// insertPhis: a join whose predecessors disagree becomes a real phi,
	// everything else collapses to the single incoming version.
	if len(bb.Preds) >= 1 {
		dst := map[int]*ir.VReg{}
		ids := liveness.IDs(r.live.In[bb])
		sort.Ints(ids) // stable version numbering across runs
		for _, id := range ids {
			if r.bypassed[id] {
				continue
			}
			v := r.version[id]
			r.version[id] = v + 1
			nv := r.clone(id, v+1)
			dst[id] = nv
			r.push(id, nv)
		}
		r.joinDst[bb] = dst
	}

	for _, instr := range bb.Instrs {
		if instr.Kind == ir.OpPhi {
			continue // not produced by irbuild; nothing to rewrite yet
		}
		for i, a := range instr.Args {
			instr.Args[i] = r.rewriteUse(a)
		}
		if instr.Dst != nil && !instr.Dst.Flags.Has(ir.FlagConst) {
			instr.Dst = r.rewriteDef(instr.Dst)
		}
	}

	// Snapshot this BB's out-versions for every vreg live across
	// its exit edges, used by insertPhis to find each predecessor's
	// contribution to a successor's phi.
	snap := map[int]*ir.VReg{}
	for id := range r.live.Out[bb] {
		if r.bypassed[id] {
			continue
		}
		if v, ok := r.top(id); ok {
			snap[id] = v
		}
	}
	r.outSnap[bb] = snap
}

// rewriteUse resolves a use to the top of its version stack. A use whose
// stack is empty (live-in but never defined on this path) is left
// unrewritten: a potentially-uninitialized local is tolerated, not an
// error.
func (r *renamer) rewriteUse(a *ir.VReg) *ir.VReg {
	if a == nil || a.Flags.Has(ir.FlagConst) || r.bypassed[a.ID] {
		return a
	}
	if v, ok := r.top(a.ID); ok {
		return v
	}
	return a
}

// rewriteDef allocates a fresh version for a definition, except the very
// first definition of a vreg (not already on its version stack at all),
// which reuses version 0.
func (r *renamer) rewriteDef(d *ir.VReg) *ir.VReg {
	if r.bypassed[d.ID] {
		return d
	}
	if _, ok := r.top(d.ID); !ok {
		nv := r.clone(d.ID, 0)
		r.push(d.ID, nv)
		return nv
	}
	v := r.version[d.ID]
	r.version[d.ID] = v + 1
	nv := r.clone(d.ID, v+1)
	r.push(d.ID, nv)
	return nv
}

// insertPhis resolves the deferred placeholders: at every block with
// predecessors, each placeholder's contributions are matched by original
// vreg id against the predecessors' out-snapshots. Single-predecessor
// blocks and joins whose predecessors all deliver the same version get a
// direct substitution; genuine disagreements become PHI instructions. A
// predecessor with no recorded snapshot entry (the vreg was never
// live/defined on that path) is silently omitted from PhiArgs rather than
// treated as an error.
func (r *renamer) insertPhis() {
	for _, bb := range r.c.Blocks {
		dst := r.joinDst[bb]
		if len(dst) == 0 {
			continue
		}
		var phis []*ir.Instr
		ids := make([]int, 0, len(dst))
		for id := range dst {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			d := dst[id]
			args := map[*ir.BB]*ir.VReg{}
			allSame := true
			var first *ir.VReg
			for _, pred := range bb.Preds {
				v, ok := r.outSnap[pred][id]
				if !ok {
					continue
				}
				args[pred] = v
				if first == nil {
					first = v
				} else if v != first {
					allSame = false
				}
			}
			if first == nil {
				// No predecessor ever defined it: uninitialized on every
				// path into bb. The placeholder stays, undefined, the same
				// tolerance rewriteUse applies.
				continue
			}
			if len(bb.Preds) == 1 || allSame {
				// A single incoming version needs no phi: substitute it
				// for the placeholder everywhere the placeholder already
				// propagated (it may have reached blocks walked after bb,
				// and other blocks' snapshots).
				r.replaceEverywhere(d, first)
				continue
			}
			phis = append(phis, &ir.Instr{Kind: ir.OpPhi, Dst: d, PhiArgs: args})
		}
		if len(phis) > 0 {
			bb.Instrs = append(phis, bb.Instrs...)
		}
	}
}

// replaceEverywhere substitutes one vreg instance for another across every
// instruction operand, phi argument, and recorded snapshot. Snapshots must
// be rewritten too: a later-processed block's placeholder may resolve
// through a snapshot entry that still names an earlier, already-replaced
// placeholder.
func (r *renamer) replaceEverywhere(from, to *ir.VReg) {
	for _, bb := range r.c.Blocks {
		for _, instr := range bb.Instrs {
			for i, a := range instr.Args {
				if a == from {
					instr.Args[i] = to
				}
			}
			if instr.Dst == from {
				instr.Dst = to
			}
			for pred, a := range instr.PhiArgs {
				if a == from {
					instr.PhiArgs[pred] = to
				}
			}
		}
	}
	for _, snap := range r.outSnap {
		for id, v := range snap {
			if v == from {
				snap[id] = to
			}
		}
	}
	for _, m := range r.joinDst {
		for id, v := range m {
			if v == from {
				m[id] = to
			}
		}
	}
}
