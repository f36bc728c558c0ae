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

package riscv

import (
	"fmt"
	"strings"

	"github.com/thomasmueller/xcc/internal/frame"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/xerr"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("riscv")

// Emitter lowers one finished FuncBackend into RV64G assembly text, in the
// same shape as internal/codegen/x86's Emitter (string-builder buf, small
// per-instruction helpers). Every RV64G ALU op takes all operands from
// registers, so a spilled value is reloaded into a withheld temporary
// immediately before use: t0/ft0 for a first operand, t1/ft1 for a second,
// and t2/ft2 for an unallocated destination, so an instruction with two
// spilled sources and a spilled destination never collides with itself.
type Emitter struct {
	buf       strings.Builder
	fb        *ir.FuncBackend
	callInt   int
	callFloat int
}

func Emit(fb *ir.FuncBackend) string {
	e := &Emitter{fb: fb}
	e.emitFunc()
	return e.buf.String()
}

func (e *Emitter) line(format string, args ...interface{}) {
	e.buf.WriteByte('\t')
	fmt.Fprintf(&e.buf, format, args...)
	e.buf.WriteByte('\n')
}

func (e *Emitter) label(name string) { fmt.Fprintf(&e.buf, "%s:\n", name) }

func (e *Emitter) blockLabel(bb *ir.BB) string {
	return fmt.Sprintf(".L%s_%d", e.fb.Name, bb.ID)
}

func (e *Emitter) emitFunc() {
	fb := e.fb
	log.Debug().Str("func", fb.Name).Msg("emitting riscv64")

	e.emitStrings()
	e.line(".text")
	e.line(".globl %s", fb.Name)
	e.line(".type %s, @function", fb.Name)
	e.line(".p2align 2")
	e.label(fb.Name)

	e.prologue()
	for i, bb := range fb.Container.Blocks {
		if i > 0 || len(bb.Preds) > 0 {
			e.label(e.blockLabel(bb))
		}
		if bb == fb.Container.Exit {
			e.loadReturnValue()
			e.epilogue()
			continue
		}
		for _, instr := range bb.Instrs {
			e.emitInstr(instr)
		}
	}
	e.line(".size %s, .-%s", fb.Name, fb.Name)
}

// emitStrings defines the rodata symbols for the string literals first
// referenced by this function, ahead of the .text block so the la sites
// resolve; interning in irbuild guarantees each symbol is defined once.
func (e *Emitter) emitStrings() {
	if len(e.fb.Strings) == 0 {
		return
	}
	e.line(".section .rodata")
	for _, s := range e.fb.Strings {
		e.label(s.Sym)
		e.line(".asciz %q", s.Value)
	}
}

// calleeSaved lists the callee-saved integer registers the allocator
// actually handed out, in ascending phys order.
func (e *Emitter) calleeSaved() []int {
	var out []int
	for phys := 0; phys < IntRegs; phys++ {
		if e.fb.RegAlloc.UsedInt&CalleeSavedMask&bit(phys) != 0 {
			out = append(out, phys)
		}
	}
	return out
}

// frameSize is the full stack adjustment: the locals/spill region laid out
// by frame.Layout (addressed at negative offsets from s0), then the ra/s0
// pair, then one slot per used callee-saved register, rounded up to 16
// bytes when the function makes calls.
func (e *Emitter) frameSize() int64 {
	n := e.fb.Frame.Size + 16 + int64(8*len(e.calleeSaved()))
	if e.fb.Frame.CallsOut {
		n = (n + 15) &^ 15
	}
	return n
}

func (e *Emitter) prologue() {
	fb := e.fb
	frameSize := e.frameSize()
	// The save slots sit below the locals region so the two never overlap:
	// s0 points at the old sp, locals run down from there for
	// fb.Frame.Size bytes, and ra/s0/callee-saved fill the rest down to sp.
	base := frameSize - fb.Frame.Size
	e.line("addi sp, sp, -%d", frameSize)
	e.line("sd ra, %d(sp)", base-8)
	e.line("sd s0, %d(sp)", base-16)
	for i, phys := range e.calleeSaved() {
		e.line("sd %s, %d(sp)", RegName(phys), base-24-int64(8*i))
	}
	e.line("addi s0, sp, %d", frameSize)
	if fb.Variadic {
		// Integer argument registers past the declared ones go to the vaarg
		// save area before landing can reuse them; the area holds
		// frame.VarargSlots words, so a6 and a7 are never saved.
		fixed := 0
		for _, p := range fb.Params {
			if !p.VReg.Flags.Has(ir.FlagFlonum) {
				fixed++
			}
		}
		for i := fixed; i < frame.VarargSlots; i++ {
			phys, _ := ArgReg(i)
			e.line("sd %s, %d(s0)", RegName(phys), fb.Frame.VarargBase+int64((i-fixed)*frame.VarargSlotSize))
		}
	}
	e.landParams()
}

// landing is one pending parameter move: from an ABI argument register
// (srcPhys >= 0) or the caller's stack slot (srcPhys == memLoc, a positive
// offset from s0 assigned by frame.Layout) into the parameter's allocated
// register (dstPhys >= 0) or frame slot (dstPhys == memLoc).
type landing struct {
	v       *ir.VReg
	srcPhys int
	dstPhys int
}

const (
	memLoc     = -1 // the value lives in a frame slot, not a register
	scratchLoc = -2 // the value was parked in the scratch register
)

// landParams resolves the parameter moves as a parallel-move set, the same
// discipline as the x86 emitter: landing one parameter must never
// overwrite an a-register a later parameter still has to be read from.
func (e *Emitter) landParams() {
	var ints, floats []landing
	intIdx, floatIdx := 0, 0
	for _, p := range e.fb.Params {
		v := p.VReg
		src, dst := memLoc, memLoc
		if phys, ok := e.physOf(v); ok {
			dst = phys
		}
		if v.Flags.Has(ir.FlagFlonum) {
			if phys, ok := FloatArgReg(floatIdx); ok {
				src = phys
			}
			floatIdx++
			floats = append(floats, landing{v: v, srcPhys: src, dstPhys: dst})
			continue
		}
		if phys, ok := ArgReg(intIdx); ok {
			src = phys
		}
		intIdx++
		ints = append(ints, landing{v: v, srcPhys: src, dstPhys: dst})
	}
	e.resolveLandings(ints, false)
	e.resolveLandings(floats, true)
}

func (e *Emitter) resolveLandings(pending []landing, float bool) {
	rest := pending[:0]
	for _, l := range pending {
		switch {
		case l.dstPhys == memLoc && l.srcPhys == memLoc:
			// Spilled stack parameter: the caller's slot already is its
			// one home.
		case l.dstPhys == memLoc:
			e.emitLanding(l, float)
		case l.dstPhys == l.srcPhys:
			// Already where it belongs.
		default:
			rest = append(rest, l)
		}
	}
	pending = rest

	isSrc := func(phys int, ls []landing) bool {
		for _, l := range ls {
			if l.srcPhys == phys {
				return true
			}
		}
		return false
	}
	for len(pending) > 0 {
		progressed := false
		for i, l := range pending {
			if !isSrc(l.dstPhys, pending) {
				e.emitLanding(l, float)
				pending = append(pending[:i], pending[i+1:]...)
				progressed = true
				break
			}
		}
		if progressed {
			continue
		}
		// A cycle: park the first blocked destination in the scratch
		// register and retarget its readers.
		d := pending[0].dstPhys
		if float {
			e.line("fmv.d ft0, %s", FRegName(d))
		} else {
			e.line("mv t0, %s", RegName(d))
		}
		for i := range pending {
			if pending[i].srcPhys == d {
				pending[i].srcPhys = scratchLoc
			}
		}
	}
}

func (e *Emitter) emitLanding(l landing, float bool) {
	v := l.v
	if float {
		var src string
		switch {
		case l.srcPhys == scratchLoc:
			src = "ft0"
		case l.srcPhys >= 0:
			src = FRegName(l.srcPhys)
		default:
			loc, ok := e.loc(v)
			xerr.Assert(ok, "stack-passed parameter %v has no frame offset", v)
			xerr.Assert(l.dstPhys >= 0, "memory-to-memory parameter landing")
			e.line("%s %s, %s", loadFOp(v.Size), FRegName(l.dstPhys), loc)
			return
		}
		if l.dstPhys < 0 {
			e.storeResultF(v, src)
			return
		}
		e.line("fmv.d %s, %s", FRegName(l.dstPhys), src)
		return
	}
	var src string
	switch {
	case l.srcPhys == scratchLoc:
		src = "t0"
	case l.srcPhys >= 0:
		src = RegName(l.srcPhys)
	default:
		loc, ok := e.loc(v)
		xerr.Assert(ok, "stack-passed parameter %v has no frame offset", v)
		xerr.Assert(l.dstPhys >= 0, "memory-to-memory parameter landing")
		e.line("ld %s, %s", RegName(l.dstPhys), loc)
		return
	}
	if l.dstPhys < 0 {
		e.storeResult(v, src)
		return
	}
	e.line("mv %s, %s", RegName(l.dstPhys), src)
}

func (e *Emitter) epilogue() {
	frameSize := e.frameSize()
	base := frameSize - e.fb.Frame.Size
	saved := e.calleeSaved()
	for i := len(saved) - 1; i >= 0; i-- {
		e.line("ld %s, %d(sp)", RegName(saved[i]), base-24-int64(8*i))
	}
	e.line("ld ra, %d(sp)", base-8)
	e.line("ld s0, %d(sp)", base-16)
	e.line("addi sp, sp, %d", frameSize)
	e.line("ret")
}

// retValue resolves the vreg instance holding the return value at the exit
// block via the KEEP irbuild plants there, same as the x86 emitter: SSA
// renaming and copy propagation rewrite the KEEP's operand along with
// everything else, so it names the surviving version (or constant).
func (e *Emitter) retValue() *ir.VReg {
	fb := e.fb
	if fb.RetVoid || fb.RetVReg == nil {
		return nil
	}
	for _, instr := range fb.Container.Exit.Instrs {
		if instr.Kind == ir.OpKeep && len(instr.Args) == 1 {
			return instr.Args[0]
		}
	}
	return fb.RetVReg
}

func (e *Emitter) loadReturnValue() {
	v := e.retValue()
	if v == nil {
		return
	}
	if v.Flags.Has(ir.FlagConst) {
		xerr.Assert(!e.fb.RetFlonum, "float constants must be pool-loaded before use")
		e.line("li a0, %d", v.IConst)
		return
	}
	if e.fb.RetFlonum {
		if phys, ok := e.physOf(v); ok {
			if FRegName(phys) != FRegName(FloatReturnReg) {
				e.line("fmv.d fa0, %s", FRegName(phys))
			}
			return
		}
		off := e.fb.Frame.SpillSlots[v.Virt]
		e.line("fld fa0, %d(s0)", off)
		return
	}
	if phys, ok := e.physOf(v); ok {
		if RegName(phys) != RegName(ReturnReg) {
			e.line("mv a0, %s", RegName(phys))
		}
		return
	}
	off := e.fb.Frame.SpillSlots[v.Virt]
	e.line("ld a0, %d(s0)", off)
}

func (e *Emitter) loc(v *ir.VReg) (string, bool) {
	off, ok := e.fb.Frame.SpillSlots[v.Virt]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d(s0)", off), true
}

func (e *Emitter) physOf(v *ir.VReg) (int, bool) {
	phys, ok := e.fb.RegAlloc.PhysReg[v.Virt]
	return phys, ok
}

// readTo materializes v into a register: its own allocated register when
// it has one, otherwise the given integer/float scratch pair.
func (e *Emitter) readTo(v *ir.VReg, intScratch, floatScratch string) string {
	if v.Flags.Has(ir.FlagConst) {
		if v.Flags.Has(ir.FlagFlonum) {
			xerr.Assert(false, "float constants must be pool-loaded before use")
		}
		e.line("li %s, %d", intScratch, v.IConst)
		return intScratch
	}
	if v.Flags.Has(ir.FlagFlonum) {
		if phys, ok := e.physOf(v); ok {
			return FRegName(phys)
		}
		loc, ok := e.loc(v)
		xerr.Assert(ok, "vreg %v has no location", v)
		e.line("%s %s, %s", loadFOp(v.Size), floatScratch, loc)
		return floatScratch
	}
	if phys, ok := e.physOf(v); ok {
		return RegName(phys)
	}
	loc, ok := e.loc(v)
	xerr.Assert(ok, "vreg %v has no location", v)
	e.line("ld %s, %s", intScratch, loc)
	return intScratch
}

func (e *Emitter) read(v *ir.VReg) string { return e.readTo(v, "t0", "ft0") }

// read2 is read for an instruction's second operand, kept apart from the
// first operand's scratch so two spilled sources never collide.
func (e *Emitter) read2(v *ir.VReg) string { return e.readTo(v, "t1", "ft1") }

func (e *Emitter) dest(v *ir.VReg) string {
	if phys, ok := e.physOf(v); ok {
		if v.Flags.Has(ir.FlagFlonum) {
			return FRegName(phys)
		}
		return RegName(phys)
	}
	if v.Flags.Has(ir.FlagFlonum) {
		return "ft2"
	}
	return "t2"
}

func (e *Emitter) storeResult(dst *ir.VReg, srcReg string) {
	if phys, ok := e.physOf(dst); ok {
		own := RegName(phys)
		if own != srcReg {
			e.line("mv %s, %s", own, srcReg)
		}
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has no location", dst)
	e.line("sd %s, %s", srcReg, loc)
}

func (e *Emitter) storeResultF(dst *ir.VReg, srcReg string) {
	if phys, ok := e.physOf(dst); ok {
		own := FRegName(phys)
		if own != srcReg {
			e.line("fmv.d %s, %s", own, srcReg)
		}
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has no location", dst)
	e.line("%s %s, %s", storeFOp(dst.Size), srcReg, loc)
}

func loadFOp(size ir.Size) string {
	if size == ir.Size32 {
		return "flw"
	}
	return "fld"
}

func storeFOp(size ir.Size) string {
	if size == ir.Size32 {
		return "fsw"
	}
	return "fsd"
}

func (e *Emitter) flush(dst *ir.VReg) {
	if _, ok := e.physOf(dst); ok {
		return
	}
	if dst.Flags.Has(ir.FlagFlonum) {
		e.storeResultF(dst, "ft2")
		return
	}
	e.storeResult(dst, "t2")
}

var binMnemonic = map[ir.Op]string{
	ir.OpAdd: "add", ir.OpSub: "sub", ir.OpBitAnd: "and", ir.OpBitOr: "or",
	ir.OpBitXor: "xor", ir.OpMul: "mul",
}

func (e *Emitter) emitInstr(instr *ir.Instr) {
	switch instr.Kind {
	case ir.OpMov:
		e.emitMov(instr)
	case ir.OpAdd, ir.OpSub, ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor, ir.OpMul:
		e.emitBinary(instr)
	case ir.OpDiv, ir.OpMod:
		e.emitDivMod(instr)
	case ir.OpLShift, ir.OpRShift:
		e.emitShift(instr)
	case ir.OpNeg:
		e.line("neg %s, %s", e.dest(instr.Dst), e.read(instr.Args[0]))
		e.flush(instr.Dst)
	case ir.OpBitNot:
		e.line("not %s, %s", e.dest(instr.Dst), e.read(instr.Args[0]))
		e.flush(instr.Dst)
	case ir.OpCond:
		e.emitCond(instr)
	case ir.OpJmp:
		e.line("j %s", e.blockLabel(instr.Target))
	case ir.OpTJmp:
		e.emitTJmp(instr)
	case ir.OpBOfs:
		loc, ok := e.loc(instr.Args[0])
		xerr.Assert(ok, "BOFS operand has no stack slot")
		e.line("addi %s, s0, %s", e.dest(instr.Dst), strings.TrimSuffix(loc, "(s0)"))
		e.flush(instr.Dst)
	case ir.OpSOfs:
		e.line("la %s, %s", e.dest(instr.Dst), instr.Sym)
		e.flush(instr.Dst)
	case ir.OpIOfs:
		base, idx := e.read(instr.Args[0]), e.read2(instr.Args[1])
		e.line("slli t1, %s, 3", idx)
		e.line("add %s, %s, t1", e.dest(instr.Dst), base)
		e.flush(instr.Dst)
	case ir.OpLoad:
		e.line("ld %s, 0(%s)", e.dest(instr.Dst), e.read(instr.Args[0]))
		e.flush(instr.Dst)
	case ir.OpStore:
		addr, val := e.read(instr.Args[0]), e.read2(instr.Args[1])
		e.line("sd %s, 0(%s)", val, addr)
	case ir.OpLoadS:
		e.line("ld %s, %d(s0)", e.dest(instr.Dst), instr.Offset)
		e.flush(instr.Dst)
	case ir.OpStoreS:
		e.line("sd %s, %d(s0)", e.read(instr.Args[0]), instr.Offset)
	case ir.OpCast:
		e.emitCast(instr)
	case ir.OpPreCall:
		e.callInt, e.callFloat = 0, 0
	case ir.OpPushArg:
		e.emitPushArg(instr)
	case ir.OpCall:
		if instr.Sym != "" {
			e.line("call %s", instr.Sym)
		} else {
			e.line("jalr %s", e.read(instr.Args[0]))
		}
	case ir.OpResult:
		if instr.Dst.Flags.Has(ir.FlagFlonum) {
			e.storeResultF(instr.Dst, FRegName(FloatReturnReg))
		} else {
			e.storeResult(instr.Dst, RegName(ReturnReg))
		}
	case ir.OpSubSp:
	case ir.OpKeep:
	case ir.OpAsm:
		e.buf.WriteString(instr.Text)
		e.buf.WriteByte('\n')
	case ir.OpPhi:
		xerr.Assert(false, "PHI reached the emitter; phi-resolution did not run")
	default:
		xerr.Assert(false, "riscv emitter: unhandled op %s", instr.Kind)
	}
}

func (e *Emitter) emitMov(instr *ir.Instr) {
	if instr.Dst.Flags.Has(ir.FlagFlonum) {
		e.storeResultF(instr.Dst, e.read(instr.Args[0]))
		return
	}
	e.storeResult(instr.Dst, e.read(instr.Args[0]))
}

func (e *Emitter) emitBinary(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	if instr.Dst.Flags.Has(ir.FlagFlonum) {
		e.emitFloatBinary(instr)
		return
	}
	e.line("%s%s %s, %s, %s", binMnemonic[instr.Kind], sizeSuffix(instr.Dst.Size), e.dest(instr.Dst), e.read(a), e.read2(b))
	e.flush(instr.Dst)
}

var floatMnemonic32 = map[ir.Op]string{ir.OpAdd: "fadd.s", ir.OpSub: "fsub.s", ir.OpMul: "fmul.s", ir.OpDiv: "fdiv.s"}
var floatMnemonic64 = map[ir.Op]string{ir.OpAdd: "fadd.d", ir.OpSub: "fsub.d", ir.OpMul: "fmul.d", ir.OpDiv: "fdiv.d"}

func (e *Emitter) emitFloatBinary(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	mnem := floatMnemonic64[instr.Kind]
	if instr.Dst.Size == ir.Size32 {
		mnem = floatMnemonic32[instr.Kind]
	}
	e.line("%s %s, %s, %s", mnem, e.dest(instr.Dst), e.read(a), e.read2(b))
	e.flush(instr.Dst)
}

func (e *Emitter) emitDivMod(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	mnem := "div"
	if instr.Kind == ir.OpMod {
		mnem = "rem"
	}
	if instr.Dst.Flags.Has(ir.FlagUnsigned) {
		mnem += "u"
	}
	e.line("%s%s %s, %s, %s", mnem, sizeSuffix(instr.Dst.Size), e.dest(instr.Dst), e.read(a), e.read2(b))
	e.flush(instr.Dst)
}

func (e *Emitter) emitShift(instr *ir.Instr) {
	a, cnt := instr.Args[0], instr.Args[1]
	mnem := "sll"
	if instr.Kind == ir.OpRShift {
		if instr.Dst.Flags.Has(ir.FlagUnsigned) {
			mnem = "srl"
		} else {
			mnem = "sra"
		}
	}
	suf := sizeSuffix(instr.Dst.Size)
	if cnt.Flags.Has(ir.FlagConst) {
		e.line("%si%s %s, %s, %d", mnem, suf, e.dest(instr.Dst), e.read(a), cnt.IConst)
	} else {
		e.line("%s%s %s, %s, %s", mnem, suf, e.dest(instr.Dst), e.read(a), e.read2(cnt))
	}
	e.flush(instr.Dst)
}

func setMnemonic(c ir.Cond) (string, bool) {
	switch c.Base() {
	case ir.CondLT:
		if c.IsUnsigned() {
			return "sltu", false
		}
		return "slt", false
	case ir.CondGT:
		if c.IsUnsigned() {
			return "sltu", true
		}
		return "slt", true
	}
	return "", false
}

// emitCond materializes a 0/1 boolean. EQ/NE/LE/GE are expressed in terms
// of slt/sltu plus xori, since RV64G's base ISA has no direct set-on-equal
// instruction.
func (e *Emitter) emitCond(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	ra, rb := e.read(a), e.read2(b)
	dst := e.dest(instr.Dst)
	switch instr.Cond.Base() {
	case ir.CondEQ:
		e.line("sub %s, %s, %s", dst, ra, rb)
		e.line("seqz %s, %s", dst, dst)
	case ir.CondNE:
		e.line("sub %s, %s, %s", dst, ra, rb)
		e.line("snez %s, %s", dst, dst)
	case ir.CondLT:
		mnem, _ := setMnemonic(instr.Cond)
		e.line("%s %s, %s, %s", mnem, dst, ra, rb)
	case ir.CondGT:
		mnem, swap := setMnemonic(instr.Cond)
		_ = swap
		e.line("%s %s, %s, %s", mnem, dst, rb, ra)
	case ir.CondLE:
		mnem := "slt"
		if instr.Cond.IsUnsigned() {
			mnem = "sltu"
		}
		e.line("%s %s, %s, %s", mnem, dst, rb, ra)
		e.line("xori %s, %s, 1", dst, dst)
	case ir.CondGE:
		mnem := "slt"
		if instr.Cond.IsUnsigned() {
			mnem = "sltu"
		}
		e.line("%s %s, %s, %s", mnem, dst, ra, rb)
		e.line("xori %s, %s, 1", dst, dst)
	}
	e.flush(instr.Dst)
}

func (e *Emitter) emitTJmp(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	ra, rb := e.read(a), e.read2(b)
	var mnem string
	switch instr.Cond.Base() {
	case ir.CondEQ:
		mnem = "beq"
	case ir.CondNE:
		mnem = "bne"
	case ir.CondLT:
		mnem = "blt"
		if instr.Cond.IsUnsigned() {
			mnem = "bltu"
		}
	case ir.CondGE:
		mnem = "bge"
		if instr.Cond.IsUnsigned() {
			mnem = "bgeu"
		}
	case ir.CondLE:
		mnem = "bge"
		if instr.Cond.IsUnsigned() {
			mnem = "bgeu"
		}
		ra, rb = rb, ra
	case ir.CondGT:
		mnem = "blt"
		if instr.Cond.IsUnsigned() {
			mnem = "bltu"
		}
		ra, rb = rb, ra
	}
	e.line("%s %s, %s, %s", mnem, ra, rb, e.blockLabel(instr.Target))
	if instr.Else != nil {
		e.line("j %s", e.blockLabel(instr.Else))
	}
}

func (e *Emitter) emitCast(instr *ir.Instr) {
	src, dst := instr.Args[0], instr.Dst
	switch {
	case src.Flags.Has(ir.FlagFlonum) && dst.Flags.Has(ir.FlagFlonum):
		if src.Size == dst.Size {
			e.storeResultF(dst, e.read(src))
			return
		}
		mnem := "fcvt.d.s"
		if src.Size == ir.Size64 {
			mnem = "fcvt.s.d"
		}
		e.line("%s %s, %s", mnem, e.dest(dst), e.read(src))
		e.flush(dst)
	case src.Flags.Has(ir.FlagFlonum) && !dst.Flags.Has(ir.FlagFlonum):
		mnem := "fcvt.l.s"
		if src.Size == ir.Size64 {
			mnem = "fcvt.l.d"
		}
		e.line("%s %s, %s, rtz", mnem, e.dest(dst), e.read(src))
		e.flush(dst)
	case !src.Flags.Has(ir.FlagFlonum) && dst.Flags.Has(ir.FlagFlonum):
		mnem := "fcvt.s.l"
		if dst.Size == ir.Size64 {
			mnem = "fcvt.d.l"
		}
		e.line("%s %s, %s", mnem, e.dest(dst), e.read(src))
		e.flush(dst)
	default:
		// Integer widen/narrow: RV64G keeps 32-bit results sign-extended
		// in the *w ops, a plain register move otherwise suffices.
		e.storeResult(dst, e.read(src))
	}
}

func (e *Emitter) emitPushArg(instr *ir.Instr) {
	v := instr.Args[0]
	if v.Flags.Has(ir.FlagFlonum) {
		phys, ok := FloatArgReg(e.callFloat)
		e.callFloat++
		if !ok {
			return
		}
		e.line("fmv.d %s, %s", FRegName(phys), e.read(v))
		return
	}
	phys, ok := ArgReg(e.callInt)
	e.callInt++
	if !ok {
		return
	}
	e.line("mv %s, %s", RegName(phys), e.read(v))
}
