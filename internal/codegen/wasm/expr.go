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
	"encoding/binary"
	"math"

	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/xerr"
)

// arenaStride is the fixed number of linear-memory bytes set aside for one
// function's arrays and string literals. This emitter has no dynamic
// allocator or runtime support,
// so every function gets a disjoint, statically-addressed slice of
// memory sized generously for the small fixed-size arrays and literals the
// source language produces; CompilePackage sizes the module's memory section
// from the function count and this stride.
const arenaStride = 4096

// emitExpr evaluates x, leaving exactly one value of x's WASM-mapped type on
// the stack (or none, for the value-less ast.VoidExpr / assignment-as-
// statement cases exprHasValue already accounts for).
func (e *FuncEmitter) emitExpr(x ast.AstExpr) {
	switch n := x.(type) {
	case *ast.IntExpr:
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(n.Value))
	case *ast.LongExpr:
		e.emit(OpcodeI64Const)
		e.emitSLEB(n.Value)
	case *ast.ShortExpr:
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(n.Value))
	case *ast.CharExpr:
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(n.Value))
	case *ast.ByteExpr:
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(n.Value))
	case *ast.BoolExpr:
		e.emit(OpcodeI32Const)
		if n.Value {
			e.emitSLEB(1)
		} else {
			e.emitSLEB(0)
		}
	case *ast.DoubleExpr:
		e.emitF64Const(n.Value)
	case *ast.FloatExpr:
		e.emitF32Const(n.Value)
	case *ast.NullExpr:
		e.emit(OpcodeI32Const)
		e.emitSLEB(0)
	case *ast.VoidExpr:
		// no value: only ever reached as a statement expression.
	case *ast.StrExpr:
		e.emitStringLiteral(n)
	case *ast.VarExpr:
		idx, ok := e.locals[n.Name]
		xerr.Assert(ok, "reference to undeclared variable %q", n.Name)
		e.emit(OpcodeLocalGet)
		e.emitULEB(uint64(idx))
	case *ast.IndexExpr:
		e.emitIndexAddr(n)
		op := loadOpcode(n.Type)
		e.emitMem(op, alignFor(op))
	case *ast.UnaryExpr:
		e.emitUnary(n)
	case *ast.BinaryExpr:
		e.emitBinary(n)
	case *ast.ConditionalExpr:
		e.emitConditional(n)
	case *ast.AssignExpr:
		e.emitAssignExpr(n)
	case *ast.FuncCallExpr:
		e.emitCall(n)
	case *ast.ArrayExpr:
		e.emitArrayLiteral(n)
	default:
		xerr.Assert(false, "wasm emitter: unhandled expression %T", x)
	}
}

// emitStore writes the value valueEmitter produces into target, which must
// be an assignable lvalue (a local variable or an array element).
func (e *FuncEmitter) emitStore(target ast.AstExpr, valueEmitter func()) {
	switch n := target.(type) {
	case *ast.VarExpr:
		valueEmitter()
		idx, ok := e.locals[n.Name]
		xerr.Assert(ok, "assignment to undeclared variable %q", n.Name)
		e.emit(OpcodeLocalSet)
		e.emitULEB(uint64(idx))
	case *ast.IndexExpr:
		e.emitIndexAddr(n)
		valueEmitter()
		op := storeOpcode(n.Type)
		e.emitMem(op, alignFor(op))
	default:
		xerr.Assert(false, "wasm emitter: unsupported assignment target %T", target)
	}
}

func (e *FuncEmitter) emitAssignExpr(n *ast.AssignExpr) {
	if n.Opt == ast.TK_ASSIGN {
		e.emitStore(n.Left, func() { e.emitExpr(n.Right) })
		return
	}
	base := compoundBase(n.Opt)
	vt := valType(n.Left.GetType())
	e.emitStore(n.Left, func() {
		e.emitExpr(n.Left)
		e.emitExpr(n.Right)
		op, ok := arithOpcode(vt, base)
		xerr.Assert(ok, "wasm: unhandled compound-assign operator %v", n.Opt)
		e.emit(op)
	})
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
	xerr.Assert(false, "wasm: unhandled compound-assign operator %v", t)
	return ast.INVALID
}

// emitIndexAddr computes n's element address (base local + index*elemSize),
// leaving a single i32 on the stack. Shared by the load and store paths so
// both see the same addressing arithmetic.
func (e *FuncEmitter) emitIndexAddr(n *ast.IndexExpr) {
	idx, ok := e.locals[n.Name]
	xerr.Assert(ok, "index of undeclared array %q", n.Name)
	e.emit(OpcodeLocalGet)
	e.emitULEB(uint64(idx))
	e.emitExpr(n.Index)
	size := typeByteSize(n.Type)
	if size > 1 {
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(size))
		e.emit(OpcodeI32Mul)
	}
	e.emit(OpcodeI32Add)
}

func (e *FuncEmitter) emitUnary(n *ast.UnaryExpr) {
	if n.Opt == ast.TK_BITAND {
		ve, ok := n.Left.(*ast.VarExpr)
		xerr.Assert(ok, "wasm: address-of operand must be a local variable")
		// Array and string locals already hold their linear-memory address
		// as an ordinary i32 value (emitArrayLiteral/emitStringLiteral), so
		// &arr is just arr. A genuinely scalar local has no linear-memory
		// slot in this emitter, unlike the register-file backends' FlagRef
		// frame spill.
		xerr.Assert(e.addressLocals[ve.Name], "wasm: address-of a scalar local is not supported")
		idx := e.locals[ve.Name]
		e.emit(OpcodeLocalGet)
		e.emitULEB(uint64(idx))
		return
	}

	vt := valType(n.Left.GetType())
	switch n.Opt {
	case ast.TK_MINUS:
		switch vt {
		case ValTypeF32:
			e.emitExpr(n.Left)
			e.emit(OpcodeF32Neg)
		case ValTypeF64:
			e.emitExpr(n.Left)
			e.emit(OpcodeF64Neg)
		case ValTypeI64:
			e.emit(OpcodeI64Const)
			e.emitSLEB(0)
			e.emitExpr(n.Left)
			e.emit(OpcodeI64Sub)
		default:
			e.emit(OpcodeI32Const)
			e.emitSLEB(0)
			e.emitExpr(n.Left)
			e.emit(OpcodeI32Sub)
		}
	case ast.TK_BITNOT:
		e.emitExpr(n.Left)
		if vt == ValTypeI64 {
			e.emit(OpcodeI64Const)
			e.emitSLEB(-1)
			e.emit(OpcodeI64Xor)
		} else {
			e.emit(OpcodeI32Const)
			e.emitSLEB(-1)
			e.emit(OpcodeI32Xor)
		}
	case ast.TK_LOGNOT:
		e.emitExpr(n.Left)
		if vt == ValTypeI64 {
			e.emit(OpcodeI64Eqz)
		} else {
			e.emit(OpcodeI32Eqz)
		}
	default:
		xerr.Assert(false, "wasm emitter: unhandled unary operator %v", n.Opt)
	}
}

func (e *FuncEmitter) emitBinary(n *ast.BinaryExpr) {
	if n.Opt == ast.TK_LOGAND {
		e.emitExpr(n.Left)
		e.emit(OpcodeIf, byte(ValTypeI32))
		e.emitExpr(n.Right)
		e.emit(OpcodeElse)
		e.emit(OpcodeI32Const)
		e.emitSLEB(0)
		e.emit(OpcodeEnd)
		return
	}
	if n.Opt == ast.TK_LOGOR {
		e.emitExpr(n.Left)
		e.emit(OpcodeIf, byte(ValTypeI32))
		e.emit(OpcodeI32Const)
		e.emitSLEB(1)
		e.emit(OpcodeElse)
		e.emitExpr(n.Right)
		e.emit(OpcodeEnd)
		return
	}

	vt := valType(n.Left.GetType())
	e.emitExpr(n.Left)
	e.emitExpr(n.Right)
	if op, ok := cmpOpcode(vt, n.Opt); ok {
		e.emit(op)
		return
	}
	op, ok := arithOpcode(vt, n.Opt)
	xerr.Assert(ok, "wasm emitter: unhandled binary operator %v", n.Opt)
	e.emit(op)
}

func (e *FuncEmitter) emitConditional(n *ast.ConditionalExpr) {
	vt := valType(n.GetType())
	e.emitExpr(n.Cond)
	e.emit(OpcodeIf, byte(vt))
	e.emitExpr(n.Then)
	e.emit(OpcodeElse)
	e.emitExpr(n.Else)
	e.emit(OpcodeEnd)
}

func (e *FuncEmitter) emitCall(n *ast.FuncCallExpr) {
	for _, a := range n.Args {
		e.emitExpr(a)
	}
	idx, ok := e.funcs[n.Name]
	xerr.Assert(ok, "call to undeclared function %q", n.Name)
	e.emit(OpcodeCall)
	e.emitULEB(uint64(idx))
}

// emitArrayLiteral stores each element into a fresh arena slot and leaves
// the slot's base address on the stack, mirroring internal/irbuild's
// lowerArrayLiteral (a frame-local, FlagRef-marked base address there; a
// linear-memory offset here, WASM having no addressable register frame).
func (e *FuncEmitter) emitArrayLiteral(n *ast.ArrayExpr) {
	elemType := ast.TInt
	if len(n.Elems) > 0 {
		elemType = n.Elems[0].GetType()
	}
	elemSize := typeByteSize(elemType)
	base := e.allocArena(len(n.Elems) * elemSize)
	for i, el := range n.Elems {
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(base) + int64(i*elemSize))
		e.emitExpr(el)
		op := storeOpcode(elemType)
		e.emitMem(op, alignFor(op))
	}
	e.emit(OpcodeI32Const)
	e.emitSLEB(int64(base))
}

// emitStringLiteral writes n's bytes into a fresh arena slot (WASM memory
// starts zero-initialized, so the trailing NUL needs no explicit store) and
// leaves the slot's address on the stack. There is no data section in this
// emitter's output (module.go wires only Type/Function/Memory/Export/Code),
// so the bytes are materialized by code run at the point of use rather than
// by a Data segment; see DESIGN.md for the tradeoff.
func (e *FuncEmitter) emitStringLiteral(n *ast.StrExpr) {
	bytes := []byte(n.Value)
	base := e.allocArena(len(bytes) + 1)
	for i, b := range bytes {
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(base) + int64(i))
		e.emit(OpcodeI32Const)
		e.emitSLEB(int64(b))
		e.emitMem(OpcodeI32Store8, 0)
	}
	e.emit(OpcodeI32Const)
	e.emitSLEB(int64(base))
}

// allocArena bump-allocates size bytes from this function's arena.
func (e *FuncEmitter) allocArena(size int) uint32 {
	off := e.arenaNext
	e.arenaNext += uint32(size)
	xerr.Assert(e.arenaNext <= arenaStride,
		"wasm emitter: function %q needs more than %d bytes of static array/string storage", e.fn.Name, arenaStride)
	return e.arenaBase + off
}

func (e *FuncEmitter) emitF32Const(v float32) {
	e.emit(OpcodeF32Const)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	e.emit(b[:]...)
}

func (e *FuncEmitter) emitF64Const(v float64) {
	e.emit(OpcodeF64Const)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.emit(b[:]...)
}

// emitMem appends a memory instruction's (align, offset) immediate pair;
// every load/store this emitter generates addresses an already-computed
// absolute offset, so the static offset immediate is always 0.
func (e *FuncEmitter) emitMem(op byte, align uint32) {
	e.emit(op)
	e.emitULEB(uint64(align))
	e.emitULEB(0)
}

func alignFor(op byte) uint32 {
	switch op {
	case OpcodeI64Load, OpcodeI64Store, OpcodeF64Load, OpcodeF64Store:
		return 3
	case OpcodeI32Load, OpcodeI32Store, OpcodeF32Load, OpcodeF32Store:
		return 2
	case OpcodeI32Load16S, OpcodeI32Store16:
		return 1
	default: // I32Load8S, I32Store8
		return 0
	}
}

func loadOpcode(t *ast.Type) byte {
	switch {
	case t.IsLong():
		return OpcodeI64Load
	case t.IsDouble():
		return OpcodeF64Load
	case t.IsFloat():
		return OpcodeF32Load
	case t.IsShort():
		return OpcodeI32Load16S
	case t.IsChar(), t.IsBool(), t.IsByte():
		return OpcodeI32Load8S
	default:
		return OpcodeI32Load
	}
}

func storeOpcode(t *ast.Type) byte {
	switch {
	case t.IsLong():
		return OpcodeI64Store
	case t.IsDouble():
		return OpcodeF64Store
	case t.IsFloat():
		return OpcodeF32Store
	case t.IsShort():
		return OpcodeI32Store16
	case t.IsChar(), t.IsBool(), t.IsByte():
		return OpcodeI32Store8
	default:
		return OpcodeI32Store
	}
}

// typeByteSize is the linear-memory footprint of one value of type t;
// pointer-shaped types (arrays, strings) are carried as a plain i32 address.
func typeByteSize(t *ast.Type) int {
	switch {
	case t == nil:
		return 4
	case t.IsLong(), t.IsDouble():
		return 8
	case t.IsShort():
		return 2
	case t.IsChar(), t.IsBool(), t.IsByte():
		return 1
	default:
		return 4
	}
}

func isPointerType(t *ast.Type) bool {
	return t != nil && (t.IsArray() || t.IsString())
}

func cmpOpcode(vt ValType, t ast.TokenKind) (byte, bool) {
	switch vt {
	case ValTypeI32:
		switch t {
		case ast.TK_EQ:
			return OpcodeI32Eq, true
		case ast.TK_NE:
			return OpcodeI32Ne, true
		case ast.TK_LT:
			return OpcodeI32LtS, true
		case ast.TK_LE:
			return OpcodeI32LeS, true
		case ast.TK_GT:
			return OpcodeI32GtS, true
		case ast.TK_GE:
			return OpcodeI32GeS, true
		}
	case ValTypeI64:
		switch t {
		case ast.TK_EQ:
			return OpcodeI64Eq, true
		case ast.TK_NE:
			return OpcodeI64Ne, true
		case ast.TK_LT:
			return OpcodeI64LtS, true
		case ast.TK_LE:
			return OpcodeI64LeS, true
		case ast.TK_GT:
			return OpcodeI64GtS, true
		case ast.TK_GE:
			return OpcodeI64GeS, true
		}
	case ValTypeF32:
		switch t {
		case ast.TK_EQ:
			return OpcodeF32Eq, true
		case ast.TK_NE:
			return OpcodeF32Ne, true
		case ast.TK_LT:
			return OpcodeF32Lt, true
		case ast.TK_LE:
			return OpcodeF32Le, true
		case ast.TK_GT:
			return OpcodeF32Gt, true
		case ast.TK_GE:
			return OpcodeF32Ge, true
		}
	case ValTypeF64:
		switch t {
		case ast.TK_EQ:
			return OpcodeF64Eq, true
		case ast.TK_NE:
			return OpcodeF64Ne, true
		case ast.TK_LT:
			return OpcodeF64Lt, true
		case ast.TK_LE:
			return OpcodeF64Le, true
		case ast.TK_GT:
			return OpcodeF64Gt, true
		case ast.TK_GE:
			return OpcodeF64Ge, true
		}
	}
	return 0, false
}

func arithOpcode(vt ValType, t ast.TokenKind) (byte, bool) {
	switch vt {
	case ValTypeI32:
		switch t {
		case ast.TK_PLUS:
			return OpcodeI32Add, true
		case ast.TK_MINUS:
			return OpcodeI32Sub, true
		case ast.TK_TIMES:
			return OpcodeI32Mul, true
		case ast.TK_DIV:
			return OpcodeI32DivS, true
		case ast.TK_MOD:
			return OpcodeI32RemS, true
		case ast.TK_BITAND:
			return OpcodeI32And, true
		case ast.TK_BITOR:
			return OpcodeI32Or, true
		case ast.TK_BITXOR:
			return OpcodeI32Xor, true
		case ast.TK_LSHIFT:
			return OpcodeI32Shl, true
		case ast.TK_RSHIFT:
			return OpcodeI32ShrS, true
		}
	case ValTypeI64:
		switch t {
		case ast.TK_PLUS:
			return OpcodeI64Add, true
		case ast.TK_MINUS:
			return OpcodeI64Sub, true
		case ast.TK_TIMES:
			return OpcodeI64Mul, true
		case ast.TK_DIV:
			return OpcodeI64DivS, true
		case ast.TK_MOD:
			return OpcodeI64RemS, true
		case ast.TK_BITAND:
			return OpcodeI64And, true
		case ast.TK_BITOR:
			return OpcodeI64Or, true
		case ast.TK_BITXOR:
			return OpcodeI64Xor, true
		case ast.TK_LSHIFT:
			return OpcodeI64Shl, true
		case ast.TK_RSHIFT:
			return OpcodeI64ShrS, true
		}
	case ValTypeF32:
		switch t {
		case ast.TK_PLUS:
			return OpcodeF32Add, true
		case ast.TK_MINUS:
			return OpcodeF32Sub, true
		case ast.TK_TIMES:
			return OpcodeF32Mul, true
		case ast.TK_DIV:
			return OpcodeF32Div, true
		}
	case ValTypeF64:
		switch t {
		case ast.TK_PLUS:
			return OpcodeF64Add, true
		case ast.TK_MINUS:
			return OpcodeF64Sub, true
		case ast.TK_TIMES:
			return OpcodeF64Mul, true
		case ast.TK_DIV:
			return OpcodeF64Div, true
		}
	}
	return 0, false
}
