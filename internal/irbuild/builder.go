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

// Package irbuild lowers the typed AST (ast.PackageDecl, already walked by
// ast.Infer/ast.TypeChecker) into non-SSA internal/ir form: one BBContainer
// per function, variables represented as directly-mutated vregs rather than
// SSA values. internal/ssa performs the renaming pass that turns this into
// SSA form afterwards, as a separate pass (see DESIGN.md Open Question 1).
package irbuild

import (
	"fmt"

	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/xerr"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("irbuild")

// sizeOf maps a front-end type to the vreg size class the backend tracks.
// Arrays and strings are addresses and are always pointer-sized (64-bit).
func sizeOf(t *ast.Type) ir.Size {
	switch {
	case t == nil:
		return ir.Size64
	case t.IsShort():
		return ir.Size16
	case t.IsChar(), t.IsBool(), t.IsByte():
		return ir.Size8
	case t.IsLong(), t.IsDouble(), t.IsString(), t.IsArray():
		return ir.Size64
	default: // int, float
		return ir.Size32
	}
}

func isFlonum(t *ast.Type) bool {
	return t != nil && (t.IsFloat() || t.IsDouble())
}

// Builder lowers one function at a time. A fresh Builder is created per
// FuncDecl by Build.
type Builder struct {
	pkg     *ast.PackageDecl
	funcs   map[string]*ast.FuncDecl
	fn      *ast.FuncDecl
	fb      *ir.FuncBackend
	c       *ir.BBContainer
	cur     *ir.BB
	env     map[string]*ir.VReg
	labels  map[string]*ir.BB
	retVReg *ir.VReg
	strings *stringTable
	// breakTargets/continueTargets are stacks of jump targets for the innermost
	// enclosing loop or switch (break only), indexed by nesting depth.
	breakTargets    []*ir.BB
	continueTargets []*ir.BB
}

// BuildPackage lowers every non-builtin function in pkg to a FuncBackend.
// Functions are lowered in declaration order and share one string-literal
// table, so identical literals in different functions intern to one rodata
// symbol and symbol numbering is stable across runs.
func BuildPackage(pkg *ast.PackageDecl) map[string]*ir.FuncBackend {
	funcs := map[string]*ast.FuncDecl{}
	for _, d := range pkg.Func {
		if fd, ok := d.(*ast.FuncDecl); ok {
			funcs[fd.Name] = fd
		}
	}
	strings := newStringTable()
	out := map[string]*ir.FuncBackend{}
	for _, d := range pkg.Func {
		fd, ok := d.(*ast.FuncDecl)
		if !ok || fd.Builtin {
			continue
		}
		out[fd.Name] = build(pkg, funcs, fd, strings)
	}
	return out
}

// Build lowers a single function declaration into a FuncBackend with its
// own private string-literal table.
func Build(pkg *ast.PackageDecl, funcs map[string]*ast.FuncDecl, fn *ast.FuncDecl) *ir.FuncBackend {
	return build(pkg, funcs, fn, newStringTable())
}

func build(pkg *ast.PackageDecl, funcs map[string]*ast.FuncDecl, fn *ast.FuncDecl, strings *stringTable) *ir.FuncBackend {
	b := &Builder{
		pkg:     pkg,
		funcs:   funcs,
		fn:      fn,
		c:       ir.NewBBContainer(),
		env:     map[string]*ir.VReg{},
		labels:  map[string]*ir.BB{},
		strings: strings,
	}
	log.Debug().Str("func", fn.Name).Msg("lowering")

	b.c.Entry = b.c.NewBB("entry")
	b.c.Exit = b.c.NewBB("exit")
	b.cur = b.c.Entry

	fb := &ir.FuncBackend{Name: fn.Name, Container: b.c, Variadic: fn.Variadic}
	b.fb = fb
	fb.RetVoid = fn.RetType == nil || fn.RetType.IsVoid()
	if !fb.RetVoid {
		fb.RetSize = sizeOf(fn.RetType)
		fb.RetFlonum = isFlonum(fn.RetType)
		b.retVReg = b.c.NewVReg(fb.RetSize, flagsFor(fb.RetFlonum))
		fb.RetVReg = b.retVReg
	}

	for _, p := range fn.Params {
		ve := p.(*ast.VarExpr)
		vr := b.c.NewVReg(sizeOf(ve.Type), flagsFor(isFlonum(ve.Type))|ir.FlagParam)
		b.env[ve.Name] = vr
		fb.Params = append(fb.Params, &ir.Param{VReg: vr, Name: ve.Name})
	}

	b.prescanLabels(fn.Block)

	if block, ok := fn.Block.(*ast.BlockDecl); ok {
		b.lowerStmts(block.Stmts)
	}
	b.jumpTo(b.c.Exit)

	if b.retVReg != nil {
		// The exit block itself never reads the return value through an
		// ordinary instruction (the emitter's epilogue does), so without
		// this KEEP the defining MOVs look dead to the optimizer and the
		// value's live interval would end before the epilogue.
		b.c.Exit.Instrs = append(b.c.Exit.Instrs, &ir.Instr{Kind: ir.OpKeep, Args: []*ir.VReg{b.retVReg}})
	}

	return fb
}

func flagsFor(flonum bool) ir.VFlag {
	if flonum {
		return ir.FlagFlonum
	}
	return 0
}

// prescanLabels walks the whole function body up front so that a goto can
// reference a label declared later in program order; the language only
// supports forward gotos, so every jump target is known
// before any code referencing it is lowered.
func (b *Builder) prescanLabels(decl ast.AstDecl) {
	walker := ast.NewAstWalker(decl, func(node, _ ast.AstNode, _ int) interface{} {
		if l, ok := node.(*ast.LabelStmt); ok {
			if _, exists := b.labels[l.Name]; !exists {
				b.labels[l.Name] = b.c.NewBB("L_" + l.Name)
			}
		}
		return nil
	})
	walker.WalkAst(decl, decl, 0)
}

// jumpTo terminates the current block with an unconditional jump to target,
// unless the block is already terminated (e.g. by a prior return/break).
func (b *Builder) jumpTo(target *ir.BB) {
	if b.cur == nil {
		return
	}
	b.cur.Instrs = append(b.cur.Instrs, &ir.Instr{Kind: ir.OpJmp, Target: target})
	b.cur.AddSucc(target)
	b.cur = nil
}

// startBlock makes bb the active block, falling through to it from the
// current block if one is still open.
func (b *Builder) startBlock(bb *ir.BB) {
	if b.cur != nil {
		b.cur.AddSucc(bb)
		b.cur.Instrs = append(b.cur.Instrs, &ir.Instr{Kind: ir.OpJmp, Target: bb})
	}
	b.cur = bb
}

func (b *Builder) emit(i *ir.Instr) {
	xerr.Assert(b.cur != nil, "emit into a terminated block")
	b.cur.Instrs = append(b.cur.Instrs, i)
}

func (b *Builder) lowerStmts(stmts []ast.AstStmt) {
	for _, s := range stmts {
		b.lowerStmt(s)
	}
}

func (b *Builder) lowerStmt(s ast.AstStmt) {
	if b.cur == nil {
		if _, isLabel := s.(*ast.LabelStmt); !isLabel {
			// Dead code after a return/goto/break still has to lower
			// somewhere; it lands in a fresh predecessor-less block the
			// rest of the pipeline treats as unreachable.
			b.cur = b.c.NewBB("unreachable")
		}
	}
	switch n := s.(type) {
	case *ast.LetStmt:
		vr := b.c.NewVReg(sizeOf(n.Var.Type), flagsFor(isFlonum(n.Var.Type)))
		b.env[n.Var.Name] = vr
		val := b.lowerExpr(n.Init)
		b.mov(vr, val)
	case *ast.SimpleStmt:
		b.lowerExpr(n.Expr)
	case *ast.AssignStmt:
		val := b.lowerExpr(n.Right)
		b.storeInto(n.Left, val)
	case *ast.ReturnStmt:
		if n.Expr != nil && b.retVReg != nil {
			val := b.lowerExpr(n.Expr)
			b.mov(b.retVReg, val)
		}
		b.jumpTo(b.c.Exit)
	case *ast.IfStmt:
		b.lowerIf(n)
	case *ast.ForStmt:
		b.lowerFor(n)
	case *ast.WhileStmt:
		b.lowerWhile(n)
	case *ast.BreakStmt:
		xerr.Assert(len(b.breakTargets) > 0, "break outside loop/switch")
		b.jumpTo(b.breakTargets[len(b.breakTargets)-1])
	case *ast.ContinueStmt:
		xerr.Assert(len(b.continueTargets) > 0, "continue outside loop")
		b.jumpTo(b.continueTargets[len(b.continueTargets)-1])
	case *ast.GotoStmt:
		target, ok := b.labels[n.Label]
		xerr.Assert(ok, "undefined label %q", n.Label)
		b.jumpTo(target)
	case *ast.LabelStmt:
		target := b.labels[n.Name]
		b.startBlock(target)
	case *ast.SwitchStmt:
		b.lowerSwitch(n)
	default:
		xerr.Fatal("irbuild: unhandled statement %T", s)
	}
}

// mov emits a MOV unless src already is dst (e.g. an expression that wrote
// straight into dst), to avoid pointless self-moves the optimizer would
// otherwise have to clean up.
func (b *Builder) mov(dst, src *ir.VReg) {
	if dst == src {
		return
	}
	b.emit(&ir.Instr{Kind: ir.OpMov, Dst: dst, Args: []*ir.VReg{src}})
}

func (b *Builder) storeInto(target ast.AstExpr, val *ir.VReg) {
	switch n := target.(type) {
	case *ast.VarExpr:
		vr, ok := b.env[n.Name]
		if !ok {
			// First assignment to a bare name declares it (ast/type.go's
			// infer() does the same via setVarType), the "for i=0; ..."
			// loop-counter idiom being the common case: no preceding let.
			vr = b.c.NewVReg(val.Size, val.Flags&ir.FlagFlonum)
			b.env[n.Name] = vr
		}
		b.mov(vr, val)
	case *ast.IndexExpr:
		base, ok := b.env[n.Name]
		xerr.Assert(ok, "index assignment to undeclared array %q", n.Name)
		idx := b.lowerExpr(n.Index)
		addr := b.c.NewVReg(ir.Size64, 0)
		b.emit(&ir.Instr{Kind: ir.OpIOfs, Dst: addr, Args: []*ir.VReg{base, idx}})
		b.emit(&ir.Instr{Kind: ir.OpStore, Args: []*ir.VReg{addr, val}})
	default:
		xerr.Fatal("irbuild: invalid assignment target %T", target)
	}
}

func (b *Builder) lowerIf(n *ast.IfStmt) {
	thenBB := b.c.NewBB("then")
	var elseBB, joinBB *ir.BB
	if n.Else != nil {
		elseBB = b.c.NewBB("else")
	}
	joinBB = b.c.NewBB("endif")

	elseTarget := elseBB
	if elseTarget == nil {
		elseTarget = joinBB
	}
	b.lowerCondBranch(n.Cond, thenBB, elseTarget)

	b.startBlock(thenBB)
	b.lowerDeclAsStmts(n.Then)
	b.jumpTo(joinBB)

	if elseBB != nil {
		b.startBlock(elseBB)
		b.lowerDeclAsStmts(n.Else)
		b.jumpTo(joinBB)
	}

	b.cur = joinBB
}

// lowerDeclAsStmts lowers an AstDecl that is either a BlockDecl (the common
// "{ ... }" case) or a nested control statement (the "else if" / "else
// while" form parseIfStmt also accepts).
func (b *Builder) lowerDeclAsStmts(d ast.AstDecl) {
	switch n := d.(type) {
	case *ast.BlockDecl:
		b.lowerStmts(n.Stmts)
	case ast.AstStmt:
		b.lowerStmt(n)
	}
}

func (b *Builder) lowerFor(n *ast.ForStmt) {
	if n.Init != nil {
		// n.Init is parsed as a bare expression (parseForStmt calls
		// parseExpression directly, unlike ordinary statement position
		// which wraps it in a SimpleStmt), so it must go through lowerExpr
		// rather than lowerStmt: an assignment expression such as "i=0"
		// satisfies AstStmt too (AstStmt is just AstNode) but lowerStmt's
		// switch has no case for it.
		if init, ok := n.Init.(ast.AstExpr); ok {
			b.lowerExpr(init)
		} else {
			b.lowerStmt(n.Init)
		}
	}
	condBB := b.c.NewBB("forCond")
	bodyBB := b.c.NewBB("forBody")
	postBB := b.c.NewBB("forPost")
	endBB := b.c.NewBB("forEnd")

	b.jumpTo(condBB)
	b.cur = condBB
	b.lowerCondBranch(n.Cond, bodyBB, endBB)

	b.breakTargets = append(b.breakTargets, endBB)
	b.continueTargets = append(b.continueTargets, postBB)
	b.startBlock(bodyBB)
	b.lowerDeclAsStmts(n.Body)
	b.jumpTo(postBB)
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]

	b.cur = postBB
	if n.Post != nil {
		b.lowerExpr(n.Post)
	}
	b.jumpTo(condBB)

	b.cur = endBB
}

func (b *Builder) lowerWhile(n *ast.WhileStmt) {
	condBB := b.c.NewBB("whileCond")
	bodyBB := b.c.NewBB("whileBody")
	endBB := b.c.NewBB("whileEnd")

	b.jumpTo(condBB)
	b.cur = condBB
	b.lowerCondBranch(n.Cond, bodyBB, endBB)

	b.breakTargets = append(b.breakTargets, endBB)
	b.continueTargets = append(b.continueTargets, condBB)
	b.startBlock(bodyBB)
	b.lowerDeclAsStmts(n.Body)
	b.jumpTo(condBB)
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]

	b.cur = endBB
}

// lowerSwitch compiles to a linear chain of equality comparisons against
// the tag, one TJMP per case value. The WASM emitter (component I) decides
// independently, from the AST, whether a br_table is worthwhile; the
// IR-level backend always uses a chain since x86/RISC-V have no jump-table
// instruction this pipeline emits.
func (b *Builder) lowerSwitch(n *ast.SwitchStmt) {
	tag := b.lowerExpr(n.Tag)
	endBB := b.c.NewBB("switchEnd")
	b.breakTargets = append(b.breakTargets, endBB)

	var caseBBs []*ir.BB
	for range n.Cases {
		caseBBs = append(caseBBs, b.c.NewBB("case"))
	}
	defaultBB := endBB
	if n.Default != nil {
		defaultBB = b.c.NewBB("default")
	}

	for i, c := range n.Cases {
		for _, v := range c.Values {
			val := b.lowerExpr(v)
			next := b.c.NewBB("caseTest")
			b.emit(&ir.Instr{Kind: ir.OpTJmp, Args: []*ir.VReg{tag, val}, Cond: ir.CondEQ, Target: caseBBs[i], Else: next})
			b.cur.AddSucc(caseBBs[i])
			b.cur.AddSucc(next)
			b.cur = next
		}
	}
	b.jumpTo(defaultBB)

	for i, c := range n.Cases {
		b.cur = caseBBs[i]
		b.lowerStmts(c.Body)
		b.jumpTo(endBB)
	}
	if n.Default != nil {
		b.cur = defaultBB
		b.lowerStmts(n.Default.Body)
		b.jumpTo(endBB)
	}

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.cur = endBB
}

// lowerCondBranch lowers a boolean-valued AstExpr directly into a TJMP,
// special-casing top-level comparisons and &&/|| so we do not materialize
// an intermediate 0/1 value we would immediately branch on again.
func (b *Builder) lowerCondBranch(cond ast.AstExpr, trueBB, falseBB *ir.BB) {
	if bin, ok := cond.(*ast.BinaryExpr); ok {
		if bin.Opt == ast.TK_LOGAND {
			mid := b.c.NewBB("andRhs")
			b.lowerCondBranch(bin.Left, mid, falseBB)
			b.cur = mid
			b.lowerCondBranch(bin.Right, trueBB, falseBB)
			return
		}
		if bin.Opt == ast.TK_LOGOR {
			mid := b.c.NewBB("orRhs")
			b.lowerCondBranch(bin.Left, trueBB, mid)
			b.cur = mid
			b.lowerCondBranch(bin.Right, trueBB, falseBB)
			return
		}
		if cc, ok := condFor(bin.Opt); ok {
			l := b.lowerExpr(bin.Left)
			r := b.lowerExpr(bin.Right)
			b.emit(&ir.Instr{Kind: ir.OpTJmp, Args: []*ir.VReg{l, r}, Cond: cc, Target: trueBB, Else: falseBB})
			b.cur.AddSucc(trueBB)
			b.cur.AddSucc(falseBB)
			b.cur = nil
			return
		}
	}
	if un, ok := cond.(*ast.UnaryExpr); ok && un.Opt == ast.TK_LOGNOT {
		b.lowerCondBranch(un.Left, falseBB, trueBB)
		return
	}
	// Fallback: evaluate to a 0/1 value and compare against zero.
	v := b.lowerExpr(cond)
	zero := b.c.NewConst(v.Size, 0)
	b.emit(&ir.Instr{Kind: ir.OpTJmp, Args: []*ir.VReg{v, zero}, Cond: ir.CondNE, Target: trueBB, Else: falseBB})
	b.cur.AddSucc(trueBB)
	b.cur.AddSucc(falseBB)
	b.cur = nil
}

func condFor(t ast.TokenKind) (ir.Cond, bool) {
	switch t {
	case ast.TK_EQ:
		return ir.CondEQ, true
	case ast.TK_NE:
		return ir.CondNE, true
	case ast.TK_LT:
		return ir.CondLT, true
	case ast.TK_LE:
		return ir.CondLE, true
	case ast.TK_GT:
		return ir.CondGT, true
	case ast.TK_GE:
		return ir.CondGE, true
	}
	return 0, false
}

var binOp = map[ast.TokenKind]ir.Op{
	ast.TK_PLUS: ir.OpAdd, ast.TK_MINUS: ir.OpSub, ast.TK_TIMES: ir.OpMul,
	ast.TK_DIV: ir.OpDiv, ast.TK_MOD: ir.OpMod,
	ast.TK_BITAND: ir.OpBitAnd, ast.TK_BITOR: ir.OpBitOr, ast.TK_BITXOR: ir.OpBitXor,
	ast.TK_LSHIFT: ir.OpLShift, ast.TK_RSHIFT: ir.OpRShift,
}

func (b *Builder) lowerExpr(e ast.AstExpr) *ir.VReg {
	switch n := e.(type) {
	case *ast.IntExpr:
		return b.c.NewConst(ir.Size32, int64(n.Value))
	case *ast.LongExpr:
		return b.c.NewConst(ir.Size64, n.Value)
	case *ast.ShortExpr:
		return b.c.NewConst(ir.Size16, int64(n.Value))
	case *ast.ByteExpr:
		return b.c.NewConst(ir.Size8, int64(n.Value))
	case *ast.CharExpr:
		return b.c.NewConst(ir.Size8, int64(n.Value))
	case *ast.BoolExpr:
		v := int64(0)
		if n.Value {
			v = 1
		}
		return b.c.NewConst(ir.Size8, v)
	case *ast.DoubleExpr:
		return b.c.NewFConst(ir.Size64, n.Value)
	case *ast.FloatExpr:
		return b.c.NewFConst(ir.Size32, float64(n.Value))
	case *ast.NullExpr:
		return b.c.NewConst(ir.Size64, 0)
	case *ast.StrExpr:
		vr := b.c.NewVReg(ir.Size64, 0)
		b.emit(&ir.Instr{Kind: ir.OpSOfs, Dst: vr, Sym: b.strings.intern(b.fb, n.Value)})
		return vr
	case *ast.VarExpr:
		vr, ok := b.env[n.Name]
		xerr.Assert(ok, "reference to undeclared variable %q", n.Name)
		return vr
	case *ast.IndexExpr:
		base, ok := b.env[n.Name]
		xerr.Assert(ok, "index of undeclared array %q", n.Name)
		idx := b.lowerExpr(n.Index)
		addr := b.c.NewVReg(ir.Size64, 0)
		b.emit(&ir.Instr{Kind: ir.OpIOfs, Dst: addr, Args: []*ir.VReg{base, idx}})
		dst := b.c.NewVReg(sizeOf(n.Type), flagsFor(isFlonum(n.Type)))
		b.emit(&ir.Instr{Kind: ir.OpLoad, Dst: dst, Args: []*ir.VReg{addr}})
		return dst
	case *ast.UnaryExpr:
		return b.lowerUnary(n)
	case *ast.BinaryExpr:
		return b.lowerBinary(n)
	case *ast.ConditionalExpr:
		return b.lowerConditional(n)
	case *ast.AssignExpr:
		return b.lowerAssign(n)
	case *ast.FuncCallExpr:
		return b.lowerCall(n)
	case *ast.ArrayExpr:
		return b.lowerArrayLiteral(n)
	}
	xerr.Fatal("irbuild: unhandled expression %T", e)
	return nil
}

// stringTable interns string literals to rodata symbols, deduplicated by
// content across the whole compilation unit. A literal is attached to the
// FuncBackend that first referenced it (ir.FuncBackend.Strings), so the
// emitters define each symbol exactly once even when several functions
// share a literal.
type stringTable struct {
	syms map[string]string
	n    int
}

func newStringTable() *stringTable {
	return &stringTable{syms: map[string]string{}}
}

func (t *stringTable) intern(fb *ir.FuncBackend, s string) string {
	if sym, ok := t.syms[s]; ok {
		return sym
	}
	sym := fmt.Sprintf(".Lstr%d", t.n)
	t.n++
	t.syms[s] = sym
	fb.Strings = append(fb.Strings, ir.StringLit{Sym: sym, Value: s})
	return sym
}

func (b *Builder) lowerUnary(n *ast.UnaryExpr) *ir.VReg {
	if n.Opt == ast.TK_BITAND {
		// Address-of: only valid on a VarExpr naming a local; marks it as
		// address-taken so internal/frame gives it a real stack slot
		// instead of letting the allocator keep it purely in a register.
		ve, ok := n.Left.(*ast.VarExpr)
		xerr.Assert(ok, "address-of operand must be a local variable")
		vr := b.env[ve.Name]
		vr.Flags |= ir.FlagRef
		addr := b.c.NewVReg(ir.Size64, 0)
		b.emit(&ir.Instr{Kind: ir.OpBOfs, Dst: addr, Args: []*ir.VReg{vr}})
		return addr
	}
	v := b.lowerExpr(n.Left)
	dst := b.c.NewVReg(v.Size, v.Flags&ir.FlagFlonum)
	switch n.Opt {
	case ast.TK_MINUS:
		b.emit(&ir.Instr{Kind: ir.OpNeg, Dst: dst, Args: []*ir.VReg{v}})
	case ast.TK_BITNOT:
		b.emit(&ir.Instr{Kind: ir.OpBitNot, Dst: dst, Args: []*ir.VReg{v}})
	case ast.TK_LOGNOT:
		zero := b.c.NewConst(v.Size, 0)
		b.emit(&ir.Instr{Kind: ir.OpCond, Dst: dst, Args: []*ir.VReg{v, zero}, Cond: ir.CondEQ})
	default:
		xerr.Fatal("irbuild: unhandled unary operator %v", n.Opt)
	}
	return dst
}

func (b *Builder) lowerBinary(n *ast.BinaryExpr) *ir.VReg {
	if n.Opt == ast.TK_LOGAND || n.Opt == ast.TK_LOGOR {
		return b.lowerShortCircuit(n)
	}
	l := b.lowerExpr(n.Left)
	r := b.lowerExpr(n.Right)
	if cc, ok := condFor(n.Opt); ok {
		dst := b.c.NewVReg(ir.Size8, 0)
		b.emit(&ir.Instr{Kind: ir.OpCond, Dst: dst, Args: []*ir.VReg{l, r}, Cond: cc})
		return dst
	}
	op, ok := binOp[n.Opt]
	xerr.Assert(ok, "unhandled binary operator %v", n.Opt)
	dst := b.c.NewVReg(sizeOf(n.GetType()), flagsFor(isFlonum(n.GetType())))
	b.emit(&ir.Instr{Kind: op, Dst: dst, Args: []*ir.VReg{l, r}})
	return dst
}

// lowerShortCircuit materializes && / || used in a value (not branch)
// context as a 0/1 result via a small diamond, since COND only compares
// two operands directly.
func (b *Builder) lowerShortCircuit(n *ast.BinaryExpr) *ir.VReg {
	trueBB := b.c.NewBB("scTrue")
	falseBB := b.c.NewBB("scFalse")
	joinBB := b.c.NewBB("scJoin")
	dst := b.c.NewVReg(ir.Size8, 0)

	b.lowerCondBranch(n, trueBB, falseBB)

	b.cur = trueBB
	b.mov(dst, b.c.NewConst(ir.Size8, 1))
	b.jumpTo(joinBB)

	b.cur = falseBB
	b.mov(dst, b.c.NewConst(ir.Size8, 0))
	b.jumpTo(joinBB)

	b.cur = joinBB
	return dst
}

func (b *Builder) lowerConditional(n *ast.ConditionalExpr) *ir.VReg {
	thenBB := b.c.NewBB("condThen")
	elseBB := b.c.NewBB("condElse")
	joinBB := b.c.NewBB("condJoin")
	dst := b.c.NewVReg(sizeOf(n.GetType()), flagsFor(isFlonum(n.GetType())))

	b.lowerCondBranch(n.Cond, thenBB, elseBB)

	b.cur = thenBB
	b.mov(dst, b.lowerExpr(n.Then))
	b.jumpTo(joinBB)

	b.cur = elseBB
	b.mov(dst, b.lowerExpr(n.Else))
	b.jumpTo(joinBB)

	b.cur = joinBB
	return dst
}

func (b *Builder) lowerAssign(n *ast.AssignExpr) *ir.VReg {
	var val *ir.VReg
	if n.Opt == ast.TK_ASSIGN {
		val = b.lowerExpr(n.Right)
	} else {
		cur := b.lowerExpr(n.Left)
		rhs := b.lowerExpr(n.Right)
		op, ok := binOp[compoundBase(n.Opt)]
		xerr.Assert(ok, "unhandled compound-assign operator %v", n.Opt)
		val = b.c.NewVReg(cur.Size, cur.Flags&ir.FlagFlonum)
		b.emit(&ir.Instr{Kind: op, Dst: val, Args: []*ir.VReg{cur, rhs}})
	}
	b.storeInto(n.Left, val)
	return val
}

func compoundBase(t ast.TokenKind) ast.TokenKind {
	switch t {
	case ast.TK_PLUS_AGN:
		return ast.TK_PLUS
	case ast.TK_MINUS_AGN:
		return ast.TK_MINUS
	case ast.TK_TIMES_AGN:
		return ast.TK_TIMES
	case ast.TK_DIV_AGN:
		return ast.TK_DIV
	case ast.TK_MOD_AGN:
		return ast.TK_MOD
	case ast.TK_BITAND_AGN:
		return ast.TK_BITAND
	case ast.TK_BITOR_AGN:
		return ast.TK_BITOR
	case ast.TK_BITXOR_AGN:
		return ast.TK_BITXOR
	case ast.TK_LSHIFT_AGN:
		return ast.TK_LSHIFT
	case ast.TK_RSHIFT_AGN:
		return ast.TK_RSHIFT
	}
	return ast.INVALID
}

// vaStartBuiltin is the intrinsic that resolves to the address of the
// vaarg save area internal/frame reserves for a variadic function.
// It is lowered to a BOFS of a dedicated FlagRef vreg
// that internal/frame recognizes by identity (fb.VaAreaVReg) and assigns
// directly to FrameInfo.VarargBase instead of packing it among the
// ordinary address-taken locals.
const vaStartBuiltin = "__builtin_va_start"

func (b *Builder) lowerCall(n *ast.FuncCallExpr) *ir.VReg {
	if n.Name == vaStartBuiltin {
		return b.lowerVaStart()
	}
	b.emit(&ir.Instr{Kind: ir.OpPreCall, Sym: n.Name})
	for _, a := range n.Args {
		v := b.lowerExpr(a)
		b.emit(&ir.Instr{Kind: ir.OpPushArg, Args: []*ir.VReg{v}})
	}
	callInstr := &ir.Instr{Kind: ir.OpCall, Sym: n.Name}
	b.emit(callInstr)

	if n.GetType() == nil || n.GetType().IsVoid() {
		return nil
	}
	dst := b.c.NewVReg(sizeOf(n.GetType()), flagsFor(isFlonum(n.GetType())))
	b.emit(&ir.Instr{Kind: ir.OpResult, Dst: dst})
	return dst
}

// lowerVaStart materializes the address of fb's vaarg save area. One
// FlagRef placeholder vreg is minted per function (not per call site) since
// every __builtin_va_start call in a variadic function resolves to the same
// frame offset.
func (b *Builder) lowerVaStart() *ir.VReg {
	xerr.Assert(b.fb.Variadic, "__builtin_va_start used in a non-variadic function")
	if b.fb.VaAreaVReg == nil {
		b.fb.VaAreaVReg = b.c.NewVReg(ir.Size64, ir.FlagRef)
	}
	addr := b.c.NewVReg(ir.Size64, 0)
	b.emit(&ir.Instr{Kind: ir.OpBOfs, Dst: addr, Args: []*ir.VReg{b.fb.VaAreaVReg}})
	return addr
}

// lowerArrayLiteral allocates a frame-local array of fixed size and stores
// each element, returning the array's base address vreg. internal/frame
// reserves the backing storage because the vreg carries FlagRef.
func (b *Builder) lowerArrayLiteral(n *ast.ArrayExpr) *ir.VReg {
	base := b.c.NewVReg(ir.Size64, ir.FlagRef)
	elemSize := ir.Size32
	if len(n.Elems) > 0 {
		elemSize = sizeOf(n.Elems[0].GetType())
	}
	for i, el := range n.Elems {
		v := b.lowerExpr(el)
		idx := b.c.NewConst(ir.Size64, int64(i))
		addr := b.c.NewVReg(ir.Size64, 0)
		b.emit(&ir.Instr{Kind: ir.OpIOfs, Dst: addr, Args: []*ir.VReg{base, idx}})
		b.emit(&ir.Instr{Kind: ir.OpStore, Args: []*ir.VReg{addr, v}})
	}
	_ = elemSize
	return base
}
