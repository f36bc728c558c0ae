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

package optimize

import "github.com/thomasmueller/xcc/internal/ir"

// ResolvePhis lowers SSA back to non-SSA IR: for every BB with phi nodes,
// each predecessor gets a parallel move appended to its tail (before the
// terminator) that copies its phi-argument into the phi's destination, and
// the PHI instructions are then deleted. Moves for one predecessor are
// sequentialized together so a cycle among them (two phis swapping values
// across a back edge) is broken with a scratch temporary instead of
// silently clobbering a still-needed source.
func ResolvePhis(c *ir.BBContainer) {
	for _, bb := range c.Blocks {
		var phis []*ir.Instr
		var rest []*ir.Instr
		for _, instr := range bb.Instrs {
			if instr.Kind == ir.OpPhi {
				phis = append(phis, instr)
			} else {
				rest = append(rest, instr)
			}
		}
		if len(phis) == 0 {
			continue
		}
		bb.Instrs = rest
		for _, pred := range bb.Preds {
			var pairs []movePair
			for _, phi := range phis {
				src, ok := phi.PhiArgs[pred]
				if !ok {
					continue // uninitialized on this path, nothing to move
				}
				pairs = append(pairs, movePair{dst: phi.Dst, src: src})
			}
			moves := sequentialize(c, pairs)
			insertBeforeTerminator(pred, moves)
		}
	}
}

// insertBeforeTerminator splices moves into pred just before its JMP/TJMP,
// always the last instruction of a non-exit BB.
func insertBeforeTerminator(pred *ir.BB, moves []*ir.Instr) {
	if len(moves) == 0 {
		return
	}
	n := len(pred.Instrs)
	if n > 0 {
		last := pred.Instrs[n-1]
		if last.Kind == ir.OpJmp || last.Kind == ir.OpTJmp {
			pred.Instrs = append(pred.Instrs[:n-1], append(moves, last)...)
			return
		}
	}
	pred.Instrs = append(pred.Instrs, moves...)
}
