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

// movePair is one (dst, src) obligation collected from the phis of a single
// successor, for moves appended to one predecessor's tail.
type movePair struct {
	dst *ir.VReg
	src *ir.VReg
}

// sequentialize turns a set of parallel move obligations into an ordered
// list of MOV instructions that reproduces the same effect as if every pair
// were assigned simultaneously from the pre-move values. A naive
// left-to-right emission clobbers a pair when some other pair still needs
// to read the first pair's destination (the "a_new=b_old; b_new=a_old"
// swap hazard); this is the classic parallel-copy sequentialization that
// detects that cycle and breaks it with one scratch temporary.
func sequentialize(c *ir.BBContainer, pairs []movePair) []*ir.Instr {
	var out []*ir.Instr
	remaining := append([]movePair(nil), pairs...)

	isSourceOfAny := func(v *ir.VReg, ps []movePair) bool {
		for _, p := range ps {
			if p.src == v {
				return true
			}
		}
		return false
	}

	for len(remaining) > 0 {
		progressed := false
		for i, p := range remaining {
			if p.dst == p.src {
				remaining = append(remaining[:i], remaining[i+1:]...)
				progressed = true
				break
			}
			if !isSourceOfAny(p.dst, remaining) {
				out = append(out, &ir.Instr{Kind: ir.OpMov, Dst: p.dst, Args: []*ir.VReg{p.src}})
				remaining = append(remaining[:i], remaining[i+1:]...)
				progressed = true
				break
			}
		}
		if progressed {
			continue
		}
		// Every remaining pair's destination is still needed as someone
		// else's source: a cycle. Break it by copying the first pair's
		// destination into a scratch vreg, redirecting any pair that
		// sourced the original dst to read the scratch instead, then
		// retiring that pair normally.
		p := remaining[0]
		tmp := c.NewVReg(p.dst.Size, p.dst.Flags&ir.FlagFlonum)
		out = append(out, &ir.Instr{Kind: ir.OpMov, Dst: tmp, Args: []*ir.VReg{p.dst}})
		for i := range remaining {
			if remaining[i].src == p.dst {
				remaining[i].src = tmp
			}
		}
		out = append(out, &ir.Instr{Kind: ir.OpMov, Dst: p.dst, Args: []*ir.VReg{p.src}})
		remaining = remaining[1:]
	}
	return out
}
