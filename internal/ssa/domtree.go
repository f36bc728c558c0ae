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

// Package ssa builds SSA form from the non-SSA internal/ir.BBContainer
// that irbuild produces, as a distinct pass from IR construction. The
// dominator tree uses the iterative fixed-point scheme of Cooper, Harvey
// and Kennedy ("A Simple, Fast Dominance Algorithm"), stored directly
// in BB.IDom/DomKids fields so the rest of the pipeline can walk the tree
// without a side table.
package ssa

import (
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/utils"
)

// DomTree is a thin view over the ir.BB.IDom links BuildDomTree fills in.
type DomTree struct {
	Entry *ir.BB
}

// IsDominate reports whether a dominates b: every path from the entry to b
// passes through a.
func (dt *DomTree) IsDominate(a, b *ir.BB) bool {
	for n := b; n != nil; n = n.IDom {
		if n == a {
			return true
		}
	}
	return false
}

func (dt *DomTree) IsSDominate(a, b *ir.BB) bool {
	return a != b && dt.IsDominate(a, b)
}

func (dt *DomTree) IsIDominate(a, b *ir.BB) bool {
	return b.IDom == a
}

func postorder(entry *ir.BB) []*ir.BB {
	var order []*ir.BB
	visited := utils.NewSet[*ir.BB]()
	var visit func(*ir.BB)
	visit = func(b *ir.BB) {
		if !visited.Add(b) {
			return
		}
		for _, s := range b.Succs {
			visit(s)
		}
		order = append(order, b)
	}
	visit(entry)
	return order
}

// BuildDomTree computes immediate dominators for every reachable block
// using the Cooper/Harvey/Kennedy iterative algorithm over a reverse
// postorder numbering, then fills in BB.IDom and BB.DomKids.
func BuildDomTree(c *ir.BBContainer) *DomTree {
	po := postorder(c.Entry)
	rpo := make([]*ir.BB, len(po))
	rpoIndex := map[*ir.BB]int{}
	for i, b := range po {
		rpo[len(po)-1-i] = b
		rpoIndex[b] = len(po) - 1 - i
	}

	idom := map[*ir.BB]*ir.BB{c.Entry: c.Entry}
	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == c.Entry {
				continue
			}
			var newIdom *ir.BB
			for _, p := range b.Preds {
				if idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = intersect(newIdom, p, idom, rpoIndex)
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	for b, d := range idom {
		if b == c.Entry {
			continue
		}
		b.IDom = d
		d.DomKids = append(d.DomKids, b)
	}
	return &DomTree{Entry: c.Entry}
}

// intersect walks both fingers up the partially-built dominator tree toward
// the entry, each time advancing whichever finger has the larger reverse
// postorder index, until they meet at the common idom.
func intersect(a, b *ir.BB, idom map[*ir.BB]*ir.BB, rpoIndex map[*ir.BB]int) *ir.BB {
	for a != b {
		for rpoIndex[a] > rpoIndex[b] {
			a = idom[a]
		}
		for rpoIndex[b] > rpoIndex[a] {
			b = idom[b]
		}
	}
	return a
}
