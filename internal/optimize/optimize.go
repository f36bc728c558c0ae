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

// Package optimize runs the machine-independent SSA passes: constant
// folding, algebraic simplification, copy propagation, dead-code
// elimination and branch simplification, iterated to a fixed point, then
// lowers back out of SSA via phi-resolution.
package optimize

import (
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("optimize")

// Run iterates constant folding, algebraic simplification, copy
// propagation, DCE and branch simplification over fb's SSA IR until no pass
// makes further progress, then resolves phi nodes back to non-SSA MOVs
// (see phiresolve.go) so internal/regalloc can consume the result.
func Run(fb *ir.FuncBackend) {
	c := fb.Container
	for {
		changed := false
		changed = foldConstants(c) || changed
		changed = simplifyAlgebra(c) || changed
		changed = propagateCopies(c) || changed
		changed = simplifyBranches(c) || changed
		changed = eliminateDeadCode(c) || changed
		if !changed {
			break
		}
	}
	ResolvePhis(c)
	c.Resolved = true
	log.Debug().Str("func", fb.Name).Msg("optimization fixed point reached")
}

func constOf(v *ir.VReg) (int64, bool) {
	if v != nil && v.Flags.Has(ir.FlagConst) && !v.Flags.Has(ir.FlagFlonum) {
		return v.IConst, true
	}
	return 0, false
}

// foldConstants replaces an arithmetic/comparison instruction whose operands
// are both CONST with a single CONST definition, rewritten as a MOV so every
// other pass can keep treating Dst as produced by exactly one instruction.
func foldConstants(c *ir.BBContainer) bool {
	changed := false
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Dst == nil || len(instr.Args) != 2 {
				continue
			}
			a, aok := constOf(instr.Args[0])
			b, bok := constOf(instr.Args[1])
			if !aok || !bok {
				continue
			}
			var result int64
			ok := true
			switch instr.Kind {
			case ir.OpAdd:
				result = a + b
			case ir.OpSub:
				result = a - b
			case ir.OpMul:
				result = a * b
			case ir.OpDiv:
				if b == 0 {
					ok = false
				} else {
					result = a / b
				}
			case ir.OpMod:
				if b == 0 {
					ok = false
				} else {
					result = a % b
				}
			case ir.OpBitAnd:
				result = a & b
			case ir.OpBitOr:
				result = a | b
			case ir.OpBitXor:
				result = a ^ b
			case ir.OpLShift:
				result = a << uint64(b)
			case ir.OpRShift:
				result = a >> uint64(b)
			case ir.OpCond:
				result = boolToInt(evalCond(instr.Cond, a, b))
			default:
				ok = false
			}
			if !ok {
				continue
			}
			instr.Kind = ir.OpMov
			instr.Cond = ir.CondAny
			instr.Args = []*ir.VReg{c.NewConst(instr.Dst.Size, result)}
			changed = true
		}
	}
	return changed
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func evalCond(cc ir.Cond, a, b int64) bool {
	if cc.IsUnsigned() {
		ua, ub := uint64(a), uint64(b)
		switch cc.Base() {
		case ir.CondEQ:
			return ua == ub
		case ir.CondNE:
			return ua != ub
		case ir.CondLT:
			return ua < ub
		case ir.CondLE:
			return ua <= ub
		case ir.CondGE:
			return ua >= ub
		case ir.CondGT:
			return ua > ub
		}
		return false
	}
	switch cc.Base() {
	case ir.CondEQ:
		return a == b
	case ir.CondNE:
		return a != b
	case ir.CondLT:
		return a < b
	case ir.CondLE:
		return a <= b
	case ir.CondGE:
		return a >= b
	case ir.CondGT:
		return a > b
	}
	return false
}

// simplifyAlgebra applies x*1->x, x+0->x, x-x->0, x&0->0, x|~0->~0,
// x<<0->x, and their commuted forms, rewriting the instruction into a MOV
// of the surviving operand.
func simplifyAlgebra(c *ir.BBContainer) bool {
	changed := false
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Dst == nil || len(instr.Args) != 2 {
				continue
			}
			l, r := instr.Args[0], instr.Args[1]
			lc, lok := constOf(l)
			rc, rok := constOf(r)
			switch instr.Kind {
			case ir.OpAdd:
				if rok && rc == 0 {
					replaceWithMov(instr, l)
					changed = true
				} else if lok && lc == 0 {
					replaceWithMov(instr, r)
					changed = true
				}
			case ir.OpSub:
				if rok && rc == 0 {
					replaceWithMov(instr, l)
					changed = true
				} else if l == r {
					instr.Kind = ir.OpMov
					instr.Args = []*ir.VReg{c.NewConst(instr.Dst.Size, 0)}
					changed = true
				}
			case ir.OpMul:
				if rok && rc == 1 {
					replaceWithMov(instr, l)
					changed = true
				} else if lok && lc == 1 {
					replaceWithMov(instr, r)
					changed = true
				} else if (rok && rc == 0) || (lok && lc == 0) {
					instr.Kind = ir.OpMov
					instr.Args = []*ir.VReg{c.NewConst(instr.Dst.Size, 0)}
					changed = true
				}
			case ir.OpBitAnd:
				if (rok && rc == 0) || (lok && lc == 0) {
					instr.Kind = ir.OpMov
					instr.Args = []*ir.VReg{c.NewConst(instr.Dst.Size, 0)}
					changed = true
				} else if rok && rc == -1 {
					replaceWithMov(instr, l)
					changed = true
				}
			case ir.OpBitOr:
				if (rok && rc == -1) || (lok && lc == -1) {
					instr.Kind = ir.OpMov
					instr.Args = []*ir.VReg{c.NewConst(instr.Dst.Size, -1)}
					changed = true
				} else if rok && rc == 0 {
					replaceWithMov(instr, l)
					changed = true
				} else if lok && lc == 0 {
					replaceWithMov(instr, r)
					changed = true
				}
			case ir.OpLShift, ir.OpRShift:
				if rok && rc == 0 {
					replaceWithMov(instr, l)
					changed = true
				}
			}
		}
	}
	return changed
}

func replaceWithMov(instr *ir.Instr, src *ir.VReg) {
	instr.Kind = ir.OpMov
	instr.Args = []*ir.VReg{src}
}

// propagateCopies replaces every use of a MOV's destination with the MOV's
// source, as long as the source is not itself redefined between the MOV and
// the use (guaranteed on SSA IR: every vreg has exactly one definition, so a
// use always sees the same value regardless of program point). copyOf is
// keyed by VReg.Virt, the unique per-definition id, not VReg.ID: every SSA
// version of a source variable shares the same ID (see ssa/rename.go's
// clone), so an ID-keyed map would let a later copy-MOV to the same original
// variable clobber an earlier one's entry.
//
// PARAM and REF vregs bypass SSA renaming and may have several reaching
// definitions, so a copy whose destination or source is one of those (or is
// otherwise multiply defined) is not propagated.
func propagateCopies(c *ir.BBContainer) bool {
	changed := false
	defs := map[int]int{}
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Dst != nil && !instr.Dst.Flags.Has(ir.FlagConst) {
				defs[instr.Dst.Virt]++
			}
		}
	}
	singleDef := func(v *ir.VReg) bool {
		if v.Flags.Has(ir.FlagConst) {
			return true
		}
		if v.Flags.Has(ir.FlagRef) {
			return false
		}
		if v.Flags.Has(ir.FlagParam) {
			return defs[v.Virt] == 0 // never reassigned after the ABI landing
		}
		return defs[v.Virt] <= 1
	}
	copyOf := map[int]*ir.VReg{}
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Kind == ir.OpMov && instr.Dst != nil && len(instr.Args) == 1 {
				if !singleDef(instr.Dst) || !singleDef(instr.Args[0]) {
					continue
				}
				src := instr.Args[0]
				for {
					if nv, ok := copyOf[src.Virt]; ok {
						src = nv
						continue
					}
					break
				}
				copyOf[instr.Dst.Virt] = src
			}
		}
	}
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			for i, a := range instr.Args {
				if a == nil || a.Flags.Has(ir.FlagConst) {
					continue
				}
				if src, ok := copyOf[a.Virt]; ok && src != a {
					instr.Args[i] = src
					changed = true
				}
			}
			for pred, a := range instr.PhiArgs {
				if a == nil || a.Flags.Has(ir.FlagConst) {
					continue
				}
				if src, ok := copyOf[a.Virt]; ok && src != a {
					instr.PhiArgs[pred] = src
					changed = true
				}
			}
		}
	}
	return changed
}

// simplifyBranches folds a TJMP whose condition is a comparison of two
// CONST operands into an unconditional JMP, dropping the dead edge.
func simplifyBranches(c *ir.BBContainer) bool {
	changed := false
	for _, bb := range c.Blocks {
		if len(bb.Instrs) == 0 {
			continue
		}
		last := bb.Instrs[len(bb.Instrs)-1]
		if last.Kind != ir.OpTJmp || len(last.Args) != 2 {
			continue
		}
		a, aok := constOf(last.Args[0])
		b, bok := constOf(last.Args[1])
		if !aok || !bok {
			continue
		}
		taken := last.Target
		if !evalCond(last.Cond, a, b) {
			taken = last.Else
		}
		dead := last.Else
		if taken == last.Else {
			dead = last.Target
		}
		last.Kind = ir.OpJmp
		last.Target = taken
		last.Else = nil
		last.Args = nil
		last.Cond = ir.CondAny
		removeSucc(bb, dead)
		changed = true
	}
	return changed
}

func removeSucc(bb, dead *ir.BB) {
	out := bb.Succs[:0]
	for _, s := range bb.Succs {
		if s != dead {
			out = append(out, s)
		}
	}
	bb.Succs = out
	pout := dead.Preds[:0]
	for _, p := range dead.Preds {
		if p != bb {
			pout = append(pout, p)
		}
	}
	dead.Preds = pout
}

// eliminateDeadCode removes instructions whose Dst is unused anywhere in
// the function and which have no side effect. The use set is taken once
// before any removal, so a producer whose only consumer is removed here
// goes on a later call (Run repeats its passes until nothing changes).
func eliminateDeadCode(c *ir.BBContainer) bool {
	used := map[int]bool{}
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			for _, a := range instr.Args {
				if a != nil {
					used[a.Virt] = true
				}
			}
			for _, a := range instr.PhiArgs {
				if a != nil {
					used[a.Virt] = true
				}
			}
		}
	}
	changed := false
	for _, bb := range c.Blocks {
		kept := make([]*ir.Instr, 0, len(bb.Instrs))
		for i := len(bb.Instrs) - 1; i >= 0; i-- {
			instr := bb.Instrs[i]
			if instr.Dst != nil && !used[instr.Dst.Virt] && !instr.Kind.IsSideEffecting() {
				changed = true
				continue
			}
			kept = append(kept, instr)
		}
		for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
			kept[l], kept[r] = kept[r], kept[l]
		}
		bb.Instrs = kept
	}
	return changed
}
