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

package wasm

import (
	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/leb128"
	"github.com/thomasmueller/xcc/internal/xerr"
)

// FuncIndex resolves a callee name to its function-section index; the
// caller (the package-level driver assembling a Module) builds this once
// for every FuncDecl before emitting any one function's body, since a
// function may call one declared later in the source.
type FuncIndex map[string]int

// frame is one entry of the structured-control stack: every WASM block,
// loop or if/else region the emitter currently has open, in the order
// opened (index 0 = outermost). break/continue/goto all resolve to a
// depth by searching this stack from the top.
type frame struct {
	breakable   bool
	continuable bool
	label       string // non-empty for a goto target's wrapping block
}

// FuncEmitter walks one ast.FuncDecl directly into WASM bytecode,
// independent of internal/ir: WASM's structured control flow maps onto the
// surface syntax, not onto an arbitrary basic-block graph.
type FuncEmitter struct {
	fn       *ast.FuncDecl
	funcs    FuncIndex
	code     []byte
	locals   map[string]int
	types    []ValType // parallel to local index, including params
	// stack holds the open control frames. No goto byte-patching is ever
	// needed: every label in a statement list gets its wrapping block
	// opened before any of that list's code is emitted (see emitStmts), so
	// the frame a forward goto branches to is already on this stack.
	stack []frame
	// addressLocals marks locals whose value is itself a linear-memory
	// address (array and string bindings), as opposed to a plain scalar
	// held only in a WASM local; see emitUnary's TK_BITAND case.
	addressLocals map[string]bool
	// arenaBase/arenaNext bump-allocate this function's static array/string
	// storage out of its disjoint arenaStride-sized slice of linear memory.
	arenaBase uint32
	arenaNext uint32
}

// CompileFunc lowers one function declaration into a CompiledFunc ready
// for Module.Funcs. funcs must map every function name in the package
// (including fn itself) to its eventual function-section index, both to
// resolve call targets and to size fn's static-storage arena to a slice of
// linear memory disjoint from every other function's.
func CompileFunc(fn *ast.FuncDecl, funcs FuncIndex) *CompiledFunc {
	e := &FuncEmitter{
		fn:            fn,
		funcs:         funcs,
		locals:        map[string]int{},
		addressLocals: map[string]bool{},
		arenaBase:     uint32(funcs[fn.Name]) * arenaStride,
	}
	for _, p := range fn.Params {
		ve := p.(*ast.VarExpr)
		e.locals[ve.Name] = len(e.types)
		e.types = append(e.types, valType(ve.Type))
		if isPointerType(ve.Type) {
			e.addressLocals[ve.Name] = true
		}
	}
	paramCount := len(e.types)
	endsWithReturn := false
	if block, ok := fn.Block.(*ast.BlockDecl); ok {
		e.collectLocals(block.Stmts)
		e.emitStmts(block.Stmts)
		if len(block.Stmts) > 0 {
			_, endsWithReturn = block.Stmts[len(block.Stmts)-1].(*ast.ReturnStmt)
		}
	}
	if !fn.RetType.IsVoid() && !endsWithReturn {
		// Falling off the end of a non-void function with no explicit
		// return is undefined in the source language; the emitter pads
		// with a zero of the right type so the block's result type still
		// balances, matching the non-strict uninitialized-value tolerance
		// elsewhere in this backend.
		e.emitZero(valType(fn.RetType))
	}
	return &CompiledFunc{Name: fn.Name, Locals: e.types[paramCount:], Code: e.code}
}

// collectLocals pre-declares every LetStmt-introduced local (recursively,
// since WASM functions declare all locals up front regardless of C-like
// block scoping) so local indices are stable before any code is emitted.
func (e *FuncEmitter) collectLocals(stmts []ast.AstStmt) {
	for _, s := range stmts {
		switch n := s.(type) {
		case *ast.LetStmt:
			if _, ok := e.locals[n.Var.Name]; !ok {
				e.locals[n.Var.Name] = len(e.types)
				e.types = append(e.types, valType(n.Var.Type))
				if isPointerType(n.Var.Type) {
					e.addressLocals[n.Var.Name] = true
				}
			}
		case *ast.SimpleStmt:
			e.collectAssignLocal(n.Expr)
		case ast.AstExpr:
			// ForStmt.Init is parsed as a bare expression (parseForStmt
			// calls parseExpression directly rather than wrapping it in a
			// SimpleStmt), so it reaches here as n's own dynamic type
			// instead of under a *ast.SimpleStmt case: "for i=0;...;..." is
			// the only form this source language's grammar produces for a
			// for-loop counter, so it must be caught here too.
			e.collectAssignLocal(n)
		case *ast.IfStmt:
			e.collectLocalsDecl(n.Then)
			e.collectLocalsDecl(n.Else)
		case *ast.WhileStmt:
			e.collectLocalsDecl(n.Body)
		case *ast.ForStmt:
			if n.Init != nil {
				e.collectLocals([]ast.AstStmt{n.Init})
			}
			e.collectLocalsDecl(n.Body)
		case *ast.SwitchStmt:
			for _, c := range n.Cases {
				e.collectLocals(toStmtSlice(c.Body))
			}
			if n.Default != nil {
				e.collectLocals(toStmtSlice(n.Default.Body))
			}
		}
	}
}

func toStmtSlice(body []ast.AstStmt) []ast.AstStmt { return body }

// collectAssignLocal pre-declares a local the first time it sees a plain
// "=" assignment to a name with no preceding let, mirroring ast/type.go's
// infer() treating that as an implicit declaration (the for-loop counter
// idiom, "for i=0;...;...", never goes through a LetStmt at all). Compound
// assignments ("i+=1") are not declarations: their target must already
// exist.
func (e *FuncEmitter) collectAssignLocal(x ast.AstExpr) {
	a, ok := x.(*ast.AssignExpr)
	if !ok || a.Opt != ast.TK_ASSIGN {
		return
	}
	ve, ok := a.Left.(*ast.VarExpr)
	if !ok {
		return
	}
	if _, ok := e.locals[ve.Name]; ok {
		return
	}
	e.locals[ve.Name] = len(e.types)
	e.types = append(e.types, valType(a.GetType()))
	if isPointerType(a.GetType()) {
		e.addressLocals[ve.Name] = true
	}
}

func (e *FuncEmitter) collectLocalsDecl(d ast.AstDecl) {
	if d == nil {
		return
	}
	if block, ok := d.(*ast.BlockDecl); ok {
		e.collectLocals(block.Stmts)
	}
}

func (e *FuncEmitter) emit(b ...byte) { e.code = append(e.code, b...) }

func (e *FuncEmitter) emitULEB(v uint64) { e.code = leb128.AppendUint(e.code, v) }
func (e *FuncEmitter) emitSLEB(v int64)  { e.code = leb128.AppendInt(e.code, v) }

func (e *FuncEmitter) emitZero(vt ValType) {
	switch vt {
	case ValTypeI64:
		e.emit(OpcodeI64Const)
		e.emitSLEB(0)
	case ValTypeF32:
		e.emit(OpcodeF32Const, 0, 0, 0, 0)
	case ValTypeF64:
		e.emit(OpcodeF64Const, 0, 0, 0, 0, 0, 0, 0, 0)
	default:
		e.emit(OpcodeI32Const)
		e.emitSLEB(0)
	}
}

// push/pop manage the structured-control stack every block/loop/if/label
// wrapper contributes to.
func (e *FuncEmitter) push(f frame) { e.stack = append(e.stack, f) }
func (e *FuncEmitter) pop()         { e.stack = e.stack[:len(e.stack)-1] }

// depthTo searches the control stack from the top (innermost, depth 0)
// outward for the nearest frame matching pred, and returns its br depth.
func (e *FuncEmitter) depthTo(pred func(frame) bool) int {
	for i := len(e.stack) - 1; i >= 0; i-- {
		if pred(e.stack[i]) {
			return len(e.stack) - 1 - i
		}
	}
	xerr.Assert(false, "no enclosing control frame satisfies the break/continue/goto request")
	return 0
}

// emitStmts lowers a flat statement list. Every label appearing directly
// in stmts (not inside a nested if/while/for body) gets a wrapping block
// opened before any of stmts is emitted and closed exactly when that
// LabelStmt is reached, per the nested-block forward-goto technique:
// the block for the label that appears LAST in source order is opened
// first (outermost), since it must stay open the longest.
func (e *FuncEmitter) emitStmts(stmts []ast.AstStmt) {
	var labels []string
	for _, s := range stmts {
		if l, ok := s.(*ast.LabelStmt); ok {
			labels = append(labels, l.Name)
		}
	}
	for i := len(labels) - 1; i >= 0; i-- {
		e.emit(OpcodeBlock, OpcodeBlockTypeEmpty)
		e.push(frame{label: labels[i]})
	}
	for _, s := range stmts {
		e.emitStmt(s)
	}
	// Every label frame opened above is closed by its own LabelStmt, which
	// is necessarily a member of this same list.
}

func (e *FuncEmitter) emitStmt(s ast.AstStmt) {
	switch n := s.(type) {
	case *ast.LetStmt:
		if n.Init != nil {
			e.emitExpr(n.Init)
			e.emit(OpcodeLocalSet)
			e.emitULEB(uint64(e.locals[n.Var.Name]))
		}
	case *ast.AssignStmt:
		e.emitStore(n.Left, func() { e.emitExpr(n.Right) })
	case *ast.SimpleStmt:
		e.emitExpr(n.Expr)
		if exprHasValue(n.Expr) {
			e.emit(OpcodeDrop)
		}
	case *ast.ReturnStmt:
		if n.Expr != nil {
			e.emitExpr(n.Expr)
		}
		e.emit(OpcodeReturn)
	case *ast.IfStmt:
		e.emitIf(n)
	case *ast.WhileStmt:
		e.emitWhile(n)
	case *ast.ForStmt:
		e.emitFor(n)
	case *ast.BreakStmt:
		e.emit(OpcodeBr)
		e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.breakable })))
	case *ast.ContinueStmt:
		e.emit(OpcodeBr)
		e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.continuable })))
	case *ast.GotoStmt:
		e.emit(OpcodeBr)
		e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.label == n.Label })))
	case *ast.LabelStmt:
		xerr.Assert(len(e.stack) > 0 && e.stack[len(e.stack)-1].label == n.Name,
			"label %q did not close the block emitStmts opened for it", n.Name)
		e.pop()
		e.emit(OpcodeEnd)
	case *ast.SwitchStmt:
		e.emitSwitch(n)
	case *ast.BlockDecl:
		e.emitStmts(n.Stmts)
	default:
		xerr.Assert(false, "wasm emitter: unhandled statement %T", s)
	}
}

// exprHasValue reports whether evaluating x leaves a value on the stack
// that statement position must drop: assignments store their value
// themselves, and a void call pushes nothing.
func exprHasValue(x ast.AstExpr) bool {
	if _, isAssign := x.(*ast.AssignExpr); isAssign {
		return false
	}
	if t := x.GetType(); t == nil || t.IsVoid() {
		return false
	}
	return true
}

func (e *FuncEmitter) emitIf(n *ast.IfStmt) {
	e.emitExpr(n.Cond)
	e.emit(OpcodeIf, OpcodeBlockTypeEmpty)
	e.push(frame{})
	e.collectLocalsDecl(n.Then)
	e.emitBranchBody(n.Then)
	e.pop()
	if n.Else != nil {
		e.emit(OpcodeElse)
		e.push(frame{})
		e.collectLocalsDecl(n.Else)
		e.emitBranchBody(n.Else)
		e.pop()
	}
	e.emit(OpcodeEnd)
}

func (e *FuncEmitter) emitBranchBody(d ast.AstDecl) {
	if block, ok := d.(*ast.BlockDecl); ok {
		e.emitStmts(block.Stmts)
		return
	}
	if s, ok := d.(ast.AstStmt); ok {
		e.emitStmt(s)
	}
}

// emitWhile lowers `while(cond) body` into the canonical
// block{ loop{ br_if-out-if-false; body; br 0 } } structured pattern:
// break targets the outer block, continue targets the inner loop.
func (e *FuncEmitter) emitWhile(n *ast.WhileStmt) {
	e.emit(OpcodeBlock, OpcodeBlockTypeEmpty)
	e.push(frame{breakable: true})
	e.emit(OpcodeLoop, OpcodeBlockTypeEmpty)
	e.push(frame{continuable: true})

	e.emitExpr(n.Cond)
	e.emit(OpcodeI32Eqz)
	e.emit(OpcodeBrIf)
	e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.breakable })))

	e.collectLocalsDecl(n.Body)
	e.emitBranchBody(n.Body)

	e.emit(OpcodeBr)
	e.emitULEB(0)
	e.emit(OpcodeEnd) // loop
	e.pop()
	e.emit(OpcodeEnd) // block
	e.pop()
}

// emitFor lowers a C-style for loop the same way, with the post-expr
// injected right before the loop's back-edge branch; continue still
// targets the loop header so the post-expr always runs on the way back.
func (e *FuncEmitter) emitFor(n *ast.ForStmt) {
	if n.Init != nil {
		// See collectLocals: n.Init is a bare expression, not wrapped in a
		// *ast.SimpleStmt, so it must go through emitExpr directly rather
		// than emitStmt (whose switch has no case for e.g. *ast.AssignExpr).
		if init, ok := n.Init.(ast.AstExpr); ok {
			e.emitExpr(init)
			if exprHasValue(init) {
				e.emit(OpcodeDrop)
			}
		} else {
			e.emitStmt(n.Init)
		}
	}
	e.emit(OpcodeBlock, OpcodeBlockTypeEmpty)
	e.push(frame{breakable: true})
	e.emit(OpcodeLoop, OpcodeBlockTypeEmpty)
	e.push(frame{continuable: true})

	if n.Cond != nil {
		e.emitExpr(n.Cond)
		e.emit(OpcodeI32Eqz)
		e.emit(OpcodeBrIf)
		e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.breakable })))
	}

	e.collectLocalsDecl(n.Body)
	e.emitBranchBody(n.Body)

	if n.Post != nil {
		e.emitExpr(n.Post)
		if exprHasValue(n.Post) {
			e.emit(OpcodeDrop)
		}
	}
	e.emit(OpcodeBr)
	e.emitULEB(0)
	e.emit(OpcodeEnd)
	e.pop()
	e.emit(OpcodeEnd)
	e.pop()
}

// switchDensity decides br_table (true) vs an if/else-if compare chain
// (false): a jump table wins once the case values are dense enough to not
// waste too many table entries ((max-min+1)/count <= 2) and there are
// enough cases (>= 4) to be worth the table's fixed overhead.
func switchDensity(n *ast.SwitchStmt) (useTable bool, min, max int64) {
	first := true
	for _, c := range n.Cases {
		for _, v := range c.Values {
			iv := constIntValue(v)
			if first {
				min, max = iv, iv
				first = false
				continue
			}
			if iv < min {
				min = iv
			}
			if iv > max {
				max = iv
			}
		}
	}
	if first || len(n.Cases) == 0 {
		return false, 0, 0
	}
	span := max - min + 1
	caseCount := int64(len(n.Cases))
	return span <= 2*caseCount && caseCount >= 4, min, max
}

func constIntValue(x ast.AstExpr) int64 {
	switch v := x.(type) {
	case *ast.IntExpr:
		return int64(v.Value)
	case *ast.LongExpr:
		return v.Value
	case *ast.ShortExpr:
		return int64(v.Value)
	case *ast.CharExpr:
		return int64(v.Value)
	case *ast.ByteExpr:
		return int64(v.Value)
	}
	xerr.Assert(false, "switch case value must be a constant integer expression")
	return 0
}

// emitSwitch lowers to the nested-block technique: one block per case
// (the first case's block is the outermost, the last case's the innermost)
// plus a default block, all nested inside an
// outer break-target block. The dispatch into the right nested block is
// either a single br_table (dense values) or a chain of equality
// br_ifs (sparse values), per switchDensity.
func (e *FuncEmitter) emitSwitch(n *ast.SwitchStmt) {
	useTable, min, _ := switchDensity(n)

	e.emit(OpcodeBlock, OpcodeBlockTypeEmpty) // break target
	e.push(frame{breakable: true})

	caseCount := len(n.Cases)
	for i := 0; i < caseCount; i++ {
		e.emit(OpcodeBlock, OpcodeBlockTypeEmpty)
		e.push(frame{})
	}
	e.emit(OpcodeBlock, OpcodeBlockTypeEmpty) // default/no-match block
	e.push(frame{})

	e.emitExpr(n.Tag)
	if useTable {
		_, minV, maxV := switchDensity(n)
		targets := make([]int, maxV-minV+1)
		for i := range targets {
			targets[i] = caseCount // default
		}
		for ci, c := range n.Cases {
			for _, v := range c.Values {
				targets[constIntValue(v)-minV] = ci
			}
		}
		e.emit(OpcodeI32Const)
		e.emitSLEB(min)
		e.emit(OpcodeI32Sub)
		e.emit(OpcodeBrTable)
		e.emitULEB(uint64(len(targets)))
		for _, t := range targets {
			e.emitULEB(uint64(caseCount - t))
		}
		e.emitULEB(uint64(caseCount - caseCount)) // default depth: innermost block itself
	} else {
		e.emit(OpcodeLocalSet) // stash the tag so each comparison rereads it
		tmp := e.scratchLocal(ValTypeI32)
		e.emitULEB(uint64(tmp))
		for ci, c := range n.Cases {
			for _, v := range c.Values {
				e.emit(OpcodeLocalGet)
				e.emitULEB(uint64(tmp))
				e.emit(OpcodeI32Const)
				e.emitSLEB(constIntValue(v))
				e.emit(OpcodeI32Eq)
				e.emit(OpcodeBrIf)
				e.emitULEB(uint64(caseCount - ci))
			}
		}
		e.emit(OpcodeBr)
		e.emitULEB(uint64(0)) // no match: fall into default block (innermost)
	}

	e.emit(OpcodeEnd) // close default-dispatch block
	e.pop()
	if n.Default != nil {
		e.emitStmts(n.Default.Body)
	}
	// Whether or not a default body ran, an unmatched tag must skip
	// straight past every case body rather than falling through into the
	// last one's code.
	e.emit(OpcodeBr)
	e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.breakable })))
	for ci := caseCount - 1; ci >= 0; ci-- {
		e.emit(OpcodeEnd) // reveals case ci's body, nested inside case ci-1's still-open block
		e.pop()
		e.emitStmts(n.Cases[ci].Body)
		if ci > 0 {
			e.emit(OpcodeBr)
			e.emitULEB(uint64(e.depthTo(func(f frame) bool { return f.breakable })))
		}
	}
	e.emit(OpcodeEnd) // close outer break-target block
	e.pop()
}

// scratchLocal allocates (or reuses the one already allocated) a
// function-local temporary of the given type for multi-use expressions
// such as a switch tag evaluated once but compared many times.
func (e *FuncEmitter) scratchLocal(vt ValType) int {
	name := "$scratch_i32"
	if idx, ok := e.locals[name]; ok {
		return idx
	}
	idx := len(e.types)
	e.locals[name] = idx
	e.types = append(e.types, vt)
	return idx
}
