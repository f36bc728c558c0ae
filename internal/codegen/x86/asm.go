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

package x86

import (
	"fmt"
	"strings"

	"github.com/thomasmueller/xcc/internal/frame"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/xerr"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("x86")

// Emitter lowers one finished FuncBackend (post-optimize, post-regalloc,
// post-frame.Layout) into AT&T-syntax text: a string-builder buf plus
// small per-instruction helpers operating against the linear-scan result.
type Emitter struct {
	buf       strings.Builder
	fb        *ir.FuncBackend
	callInt   int // PUSHARG integer-arg counter, reset at PRECALL
	callFloat int
}

// Emit renders fb's body as a complete function definition and returns the
// assembly text. fb.Frame and fb.RegAlloc must already be populated.
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

func (e *Emitter) label(name string) {
	fmt.Fprintf(&e.buf, "%s:\n", name)
}

func (e *Emitter) comment(format string, args ...interface{}) {
	e.buf.WriteString("\t# ")
	fmt.Fprintf(&e.buf, format, args...)
	e.buf.WriteByte('\n')
}

func (e *Emitter) blockLabel(bb *ir.BB) string {
	return fmt.Sprintf(".L%s_%d", e.fb.Name, bb.ID)
}

func (e *Emitter) emitFunc() {
	fb := e.fb
	log.Debug().Str("func", fb.Name).Msg("emitting x86-64")

	e.emitStrings()
	e.line(".text")
	e.line(".globl %s", fb.Name)
	e.line(".type %s, @function", fb.Name)
	e.line(".align 16")
	e.label(fb.Name)

	trivial := len(fb.Container.Blocks) == 0 || onlyAsm(fb.Container)
	if !trivial {
		e.prologue()
	}
	for i, bb := range fb.Container.Blocks {
		if i > 0 || len(bb.Preds) > 0 {
			e.label(e.blockLabel(bb))
		}
		if bb == fb.Container.Exit {
			e.loadReturnValue()
			if !trivial {
				e.epilogue()
			} else {
				e.line("ret")
			}
			continue
		}
		for _, instr := range bb.Instrs {
			e.emitInstr(bb, instr)
		}
	}
	e.line(".size %s, .-%s", fb.Name, fb.Name)
}

// emitStrings defines the rodata symbols for every string literal first
// referenced by this function (the interning in irbuild attaches each
// unique literal to exactly one FuncBackend), ahead of the .text block so
// the function's SOFS lea sites resolve.
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

// retValue resolves the vreg instance that actually holds the return value
// at the exit block. SSA renaming and copy propagation may have replaced
// the FuncBackend.RetVReg object with a versioned clone, a propagated
// source, or a constant; the KEEP irbuild plants in the exit block tracks
// that replacement (it is rewritten by the same passes), so its operand is
// authoritative.
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

// loadReturnValue moves the function's return value into RAX/XMM0 right
// before the epilogue, since Container.Exit carries no instruction of its
// own for this.
func (e *Emitter) loadReturnValue() {
	v := e.retValue()
	if v == nil {
		return
	}
	fb := e.fb
	if v.Flags.Has(ir.FlagConst) {
		xerr.Assert(!fb.RetFlonum, "float constants must be pool-loaded before use")
		e.line("mov $%d, %s", v.IConst, RegName(ReturnReg, fb.RetSize))
		return
	}
	if phys, ok := e.physOf(v); ok {
		if fb.RetFlonum {
			reg := XMMName(phys)
			if reg != XMMName(FloatReturnReg) {
				e.line("%s %s, %s", movsuffix(fb.RetSize), reg, XMMName(FloatReturnReg))
			}
			return
		}
		reg := RegName(phys, fb.RetSize)
		want := RegName(ReturnReg, fb.RetSize)
		if reg != want {
			e.line("mov %s, %s", reg, want)
		}
		return
	}
	loc, ok := e.loc(v)
	xerr.Assert(ok, "return vreg %v has neither a register nor a stack slot", v)
	if fb.RetFlonum {
		e.line("%s %s, %s", movsuffix(fb.RetSize), loc, XMMName(FloatReturnReg))
		return
	}
	e.line("mov %s, %s", loc, RegName(ReturnReg, fb.RetSize))
}

// onlyAsm reports whether a function's body is nothing but raw ASM
// passthrough instructions, in which case the source text supplies its own
// prologue/epilogue.
func onlyAsm(c *ir.BBContainer) bool {
	for _, bb := range c.Blocks {
		for _, instr := range bb.Instrs {
			if instr.Kind != ir.OpAsm {
				return false
			}
		}
	}
	return true
}

func usedCalleeSaved(mask uint64) []int {
	var out []int
	for phys := 0; phys < 16; phys++ {
		if mask&CalleeSavedMask&(uint64(1)<<uint(phys)) != 0 {
			out = append(out, phys)
		}
	}
	return out
}

func (e *Emitter) prologue() {
	fb := e.fb
	e.line("push %%rbp")
	e.line("mov %%rsp, %%rbp")
	if fb.Frame.Size > 0 {
		e.line("sub $%d, %%rsp", fb.Frame.Size)
	}
	saved := usedCalleeSaved(fb.RegAlloc.UsedInt)
	for _, phys := range saved {
		e.line("push %s", RegName(phys, ir.Size64))
	}
	e.landParams()
	if fb.Variadic {
		e.saveVarargs()
	}
}

func (e *Emitter) epilogue() {
	fb := e.fb
	saved := usedCalleeSaved(fb.RegAlloc.UsedInt)
	for i := len(saved) - 1; i >= 0; i-- {
		e.line("pop %s", RegName(saved[i], ir.Size64))
	}
	e.line("leave")
	e.line("ret")
}

// landing is one pending parameter move: from an ABI argument register
// (srcPhys >= 0) or the caller's stack slot (srcPhys == memLoc) into the
// parameter's allocated register (dstPhys >= 0) or frame slot (dstPhys ==
// memLoc).
type landing struct {
	v       *ir.VReg
	srcPhys int
	dstPhys int
}

const (
	memLoc     = -1 // the value lives in a frame slot, not a register
	scratchLoc = -2 // the value was parked in the scratch register
)

// landParams moves each formal from its System V AMD64 argument location
// into the place regalloc/frame assigned it. The moves are resolved as a
// parallel-move set: landing one parameter must not overwrite an ABI
// register a later parameter still has to be read from (e.g. a parameter
// allocated RCX ahead of the 4th integer argument arriving in RCX), the
// same discipline phi-resolution applies to vregs.
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

// resolveLandings emits pending in an order where no move overwrites a
// register another pending move still reads, parking a cycle's blocking
// register in the scratch register. The two register classes never alias,
// so each resolves independently.
func (e *Emitter) resolveLandings(pending []landing, float bool) {
	rest := pending[:0]
	for _, l := range pending {
		switch {
		case l.dstPhys == memLoc && l.srcPhys == memLoc:
			// Spilled stack parameter: the caller's slot already is its
			// one home.
		case l.dstPhys == memLoc:
			// Register into frame slot: overwrites no register, safe now.
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
		// Every pending destination is still someone's source: a cycle.
		// Park the first move's destination register in the scratch
		// register, retarget its readers, and the next sweep progresses.
		d := pending[0].dstPhys
		e.parkInScratch(d, float)
		for i := range pending {
			if pending[i].srcPhys == d {
				pending[i].srcPhys = scratchLoc
			}
		}
	}
}

func (e *Emitter) parkInScratch(phys int, float bool) {
	if float {
		e.line("movsd %s, %s", XMMName(phys), XMMName(XMMScratch))
		return
	}
	e.line("mov %s, %s", RegName(phys, ir.Size64), RegName(R11, ir.Size64))
}

func (e *Emitter) emitLanding(l landing, float bool) {
	v := l.v
	var src string
	switch {
	case l.srcPhys == scratchLoc:
		src = e.scratchName(v)
	case l.srcPhys >= 0:
		if float {
			src = XMMName(l.srcPhys)
		} else {
			src = RegName(l.srcPhys, v.Size)
		}
	default:
		loc, ok := e.loc(v)
		xerr.Assert(ok, "stack-passed parameter %v has no frame offset", v)
		src = loc
	}
	if l.dstPhys < 0 {
		if float {
			e.storeResultFloat(v, src)
		} else {
			e.storeResult(v, src)
		}
		return
	}
	if float {
		e.line("%s %s, %s", movsuffix(v.Size), src, XMMName(l.dstPhys))
		return
	}
	e.line("mov %s, %s", src, RegName(l.dstPhys, v.Size))
}

// saveVarargs spills the integer argument registers beyond the declared
// parameter list into the vaarg save area, so __builtin_va_start/va_arg
// can walk it as a flat array.
func (e *Emitter) saveVarargs() {
	fixed := 0
	for _, p := range e.fb.Params {
		if !p.VReg.Flags.Has(ir.FlagFlonum) {
			fixed++
		}
	}
	base := e.fb.Frame.VarargBase
	for i := fixed; i < frame.VarargSlots; i++ {
		phys, ok := ArgReg(i)
		if !ok {
			break
		}
		off := base + int64((i-fixed)*frame.VarargSlotSize)
		e.line("mov %s, %d(%%rbp)", RegName(phys, ir.Size64), off)
	}
}

// loc returns the frame-relative memory operand for a spilled or
// address-taken vreg, or "" if v has no memory location at all.
func (e *Emitter) loc(v *ir.VReg) (string, bool) {
	if off, ok := e.fb.Frame.SpillSlots[v.Virt]; ok {
		return fmt.Sprintf("%d(%%rbp)", off), true
	}
	return "", false
}

// physOf returns v's assigned physical register and whether it has one
// (as opposed to living only in a spill/ref slot).
func (e *Emitter) physOf(v *ir.VReg) (int, bool) {
	phys, ok := e.fb.RegAlloc.PhysReg[v.Virt]
	return phys, ok
}

func isFloat(v *ir.VReg) bool { return v.Flags.Has(ir.FlagFlonum) }

// regName renders v's register name at its own declared size.
func (e *Emitter) regName(phys int, v *ir.VReg) string {
	if isFloat(v) {
		return XMMName(phys)
	}
	return RegName(phys, v.Size)
}

// read returns an operand string usable as a source: a constant immediate,
// the vreg's own physical register, or (after a mov into scratch) the
// scratch register, never a bare reference into the stack unless the
// caller explicitly allows memory operands via readMem.
func (e *Emitter) read(v *ir.VReg) string {
	if v.Flags.Has(ir.FlagConst) {
		if isFloat(v) {
			xerr.Assert(false, "float constants must be pool-loaded before use")
		}
		return fmt.Sprintf("$%d", v.IConst)
	}
	if phys, ok := e.physOf(v); ok {
		return e.regName(phys, v)
	}
	loc, ok := e.loc(v)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", v)
	scratch := e.scratchName(v)
	e.line("mov %s, %s", loc, scratch)
	return scratch
}

// readMem is like read but allows returning the bare memory operand
// directly, for instructions (cmp, most ALU ops) whose src may be memory.
func (e *Emitter) readMem(v *ir.VReg) string {
	if v.Flags.Has(ir.FlagConst) {
		return fmt.Sprintf("$%d", v.IConst)
	}
	if phys, ok := e.physOf(v); ok {
		return e.regName(phys, v)
	}
	loc, ok := e.loc(v)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", v)
	return loc
}

func (e *Emitter) scratchName(v *ir.VReg) string {
	if isFloat(v) {
		return XMMName(XMMScratch)
	}
	return RegName(R11, v.Size)
}

// dest returns the register to compute a result into: the vreg's own
// physical register if allocated, otherwise the scratch register (the
// caller must then call storeResult to spill it back out).
func (e *Emitter) dest(v *ir.VReg) string {
	if phys, ok := e.physOf(v); ok {
		return e.regName(phys, v)
	}
	return e.scratchName(v)
}

// storeResult writes a value already sitting in srcReg into dst's real
// location, eliding the move entirely when dst already is srcReg.
func (e *Emitter) storeResult(dst *ir.VReg, srcReg string) {
	if phys, ok := e.physOf(dst); ok {
		own := e.regName(phys, dst)
		if own != srcReg {
			e.line("mov %s, %s", srcReg, own)
		}
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", dst)
	e.line("mov %s, %s", srcReg, loc)
}

func (e *Emitter) storeResultFloat(dst *ir.VReg, srcReg string) {
	if phys, ok := e.physOf(dst); ok {
		own := e.regName(phys, dst)
		if own != srcReg {
			e.line("%s %s, %s", movsuffix(dst.Size), srcReg, own)
		}
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", dst)
	e.line("%s %s, %s", movsuffix(dst.Size), srcReg, loc)
}

func movsuffix(size ir.Size) string {
	if size == ir.Size32 {
		return "movss"
	}
	return "movsd"
}

func suffix(size ir.Size) string {
	switch size {
	case ir.Size64:
		return "q"
	case ir.Size32:
		return "l"
	case ir.Size16:
		return "w"
	default:
		return "b"
	}
}

func (e *Emitter) emitInstr(bb *ir.BB, instr *ir.Instr) {
	switch instr.Kind {
	case ir.OpMov:
		e.emitMov(instr)
	case ir.OpAdd, ir.OpSub, ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor:
		e.emitBinary(instr)
	case ir.OpMul:
		e.emitMul(instr)
	case ir.OpDiv, ir.OpMod:
		e.emitDivMod(instr)
	case ir.OpLShift, ir.OpRShift:
		e.emitShift(instr)
	case ir.OpNeg:
		e.emitUnary(instr, "neg")
	case ir.OpBitNot:
		e.emitUnary(instr, "not")
	case ir.OpCond:
		e.emitCond(instr)
	case ir.OpJmp:
		e.line("jmp %s", e.blockLabel(instr.Target))
	case ir.OpTJmp:
		e.emitTJmp(instr)
	case ir.OpBOfs:
		e.emitBOfs(instr)
	case ir.OpSOfs:
		e.line("lea %s(%%rip), %s", instr.Sym, e.dest(instr.Dst))
		e.flushDest(instr.Dst)
	case ir.OpIOfs:
		e.emitIOfs(instr)
	case ir.OpLoad:
		e.emitLoad(instr)
	case ir.OpStore:
		e.emitStore(instr)
	case ir.OpLoadS:
		e.emitLoadS(instr)
	case ir.OpStoreS:
		e.emitStoreS(instr)
	case ir.OpCast:
		e.emitCast(instr)
	case ir.OpPreCall:
		e.callInt, e.callFloat = 0, 0
		e.comment("precall")
	case ir.OpPushArg:
		e.emitPushArg(instr)
	case ir.OpCall:
		e.emitCall(instr)
	case ir.OpResult:
		e.emitResult(instr)
	case ir.OpSubSp:
		e.comment("subsp folded into frame size")
	case ir.OpKeep:
		// pins liveness only, no code
	case ir.OpAsm:
		e.buf.WriteString(instr.Text)
		e.buf.WriteByte('\n')
	case ir.OpPhi:
		xerr.Assert(false, "PHI reached the emitter; phi-resolution did not run")
	default:
		xerr.Assert(false, "x86 emitter: unhandled op %s", instr.Kind)
	}
}

func (e *Emitter) emitMov(instr *ir.Instr) {
	src := instr.Args[0]
	if isFloat(instr.Dst) {
		r := e.read(src)
		e.storeResultFloat(instr.Dst, r)
		return
	}
	r := e.read(src)
	e.storeResult(instr.Dst, r)
}

var binMnemonic = map[ir.Op]string{
	ir.OpAdd: "add", ir.OpSub: "sub", ir.OpBitAnd: "and", ir.OpBitOr: "or", ir.OpBitXor: "xor",
}

func (e *Emitter) emitBinary(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	if isFloat(instr.Dst) {
		e.emitFloatBinary(instr)
		return
	}
	destReg := e.dest(instr.Dst)
	left := e.read(a)
	if left != destReg {
		e.line("mov %s, %s", left, destReg)
	}
	e.line("%s %s, %s", binMnemonic[instr.Kind], e.readMem(b), destReg)
	e.flushDest(instr.Dst)
}

var floatBinMnemonic32 = map[ir.Op]string{
	ir.OpAdd: "addss", ir.OpSub: "subss", ir.OpMul: "mulss", ir.OpDiv: "divss",
}
var floatBinMnemonic64 = map[ir.Op]string{
	ir.OpAdd: "addsd", ir.OpSub: "subsd", ir.OpMul: "mulsd", ir.OpDiv: "divsd",
}

func (e *Emitter) emitFloatBinary(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	mnem := floatBinMnemonic64[instr.Kind]
	if instr.Dst.Size == ir.Size32 {
		mnem = floatBinMnemonic32[instr.Kind]
	}
	destReg := e.dest(instr.Dst)
	left := e.read(a)
	if left != destReg {
		e.line("%s %s, %s", movsuffix(instr.Dst.Size), left, destReg)
	}
	e.line("%s %s, %s", mnem, e.readMem(b), destReg)
	e.flushDestFloat(instr.Dst)
}

func (e *Emitter) emitMul(instr *ir.Instr) {
	if isFloat(instr.Dst) {
		e.emitFloatBinary(instr)
		return
	}
	a, b := instr.Args[0], instr.Args[1]
	destReg := e.dest(instr.Dst)
	left := e.read(a)
	if left != destReg {
		e.line("mov %s, %s", left, destReg)
	}
	e.line("imul %s, %s", e.readMem(b), destReg)
	e.flushDest(instr.Dst)
}

// emitDivMod lowers DIV/MOD through RAX:RDX per the System V idiom. The
// divisor is staged into the scratch register before anything touches
// RAX/RDX: the instruction's own operands are exempt from the reserved
// mask, so the divisor may legally live in RDX, which the sign-extension
// would otherwise clobber first (and idiv cannot take an immediate).
func (e *Emitter) emitDivMod(instr *ir.Instr) {
	dividend, divisor := instr.Args[0], instr.Args[1]
	size := instr.Dst.Size
	divisorReg := RegName(R11, size)
	e.line("mov %s, %s", e.readMem(divisor), divisorReg)
	e.line("mov %s, %s", e.readMem(dividend), RegName(RAX, size))
	if instr.Dst.Flags.Has(ir.FlagUnsigned) {
		e.line("xor %s, %s", RegName(RDX, size), RegName(RDX, size))
		e.line("div %s", divisorReg)
	} else {
		e.line("%s", signExtendRaxToRdx(size))
		e.line("idiv %s", divisorReg)
	}
	if instr.Kind == ir.OpDiv {
		e.storeResult(instr.Dst, RegName(RAX, size))
	} else {
		e.storeResult(instr.Dst, RegName(RDX, size))
	}
}

func signExtendRaxToRdx(size ir.Size) string {
	switch size {
	case ir.Size64:
		return "cqto"
	case ir.Size32:
		return "cltd"
	default:
		return "cwtd"
	}
}

// emitShift lowers LSHIFT/RSHIFT; a variable (non-constant) shift count
// must sit in CL (ShiftCountMask bars other intervals from RCX here).
func (e *Emitter) emitShift(instr *ir.Instr) {
	a, cnt := instr.Args[0], instr.Args[1]
	mnem := "shl"
	if instr.Kind == ir.OpRShift {
		if instr.Dst.Flags.Has(ir.FlagUnsigned) {
			mnem = "shr"
		} else {
			mnem = "sar"
		}
	}
	// The count is landed in CL first, ahead of materializing `a` into the
	// same scratch register the count's own load may need, so the two
	// never clobber each other (both spilled operands would otherwise
	// round-trip through R11).
	var immCount *int64
	if cnt.Flags.Has(ir.FlagConst) {
		v := cnt.IConst
		immCount = &v
	} else {
		e.line("mov %s, %s", e.read(cnt), RegName(RCX, cnt.Size))
	}
	destReg := e.dest(instr.Dst)
	left := e.read(a)
	if left != destReg {
		e.line("mov %s, %s", left, destReg)
	}
	if immCount != nil {
		e.line("%s $%d, %s", mnem, *immCount, destReg)
	} else {
		e.line("%s %%cl, %s", mnem, destReg)
	}
	e.flushDest(instr.Dst)
}

func (e *Emitter) emitUnary(instr *ir.Instr, mnem string) {
	destReg := e.dest(instr.Dst)
	src := e.read(instr.Args[0])
	if src != destReg {
		e.line("mov %s, %s", src, destReg)
	}
	e.line("%s %s", mnem, destReg)
	e.flushDest(instr.Dst)
}

var condSuffix = map[ir.Cond]string{
	ir.CondEQ: "e", ir.CondNE: "ne",
}

func setSuffix(c ir.Cond) string {
	switch c.Base() {
	case ir.CondEQ:
		return "e"
	case ir.CondNE:
		return "ne"
	case ir.CondLT:
		if c.IsUnsigned() {
			return "b"
		}
		return "l"
	case ir.CondLE:
		if c.IsUnsigned() {
			return "be"
		}
		return "le"
	case ir.CondGE:
		if c.IsUnsigned() {
			return "ae"
		}
		return "ge"
	case ir.CondGT:
		if c.IsUnsigned() {
			return "a"
		}
		return "g"
	}
	return "e"
}

// emitCond materializes a 0/1 boolean via cmp+setCC+movzx, AT&T cmp
// computing dst-src so the operand order is reversed relative to "a cmp b".
func (e *Emitter) emitCond(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	left := e.read(a)
	scratch := RegName(R11, a.Size)
	if left != scratch {
		e.line("mov %s, %s", left, scratch)
	}
	e.line("cmp %s, %s", e.readMem(b), scratch)
	e.line("set%s %%r11b", setSuffix(instr.Cond))
	e.line("movzbl %%r11b, %s", RegName(R11, ir.Size32))
	e.storeResult(instr.Dst, RegName(R11, instr.Dst.Size))
}

func (e *Emitter) emitTJmp(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]
	left := e.read(a)
	e.line("cmp %s, %s", e.readMem(b), left)
	e.line("j%s %s", setSuffix(instr.Cond), e.blockLabel(instr.Target))
	if instr.Else != nil {
		e.line("jmp %s", e.blockLabel(instr.Else))
	}
}

func (e *Emitter) emitBOfs(instr *ir.Instr) {
	v := instr.Args[0]
	loc, ok := e.loc(v)
	xerr.Assert(ok, "BOFS operand %v has no stack slot", v)
	e.line("lea %s, %s", loc, e.dest(instr.Dst))
	e.flushDest(instr.Dst)
}

// emitIOfs computes base + index*8. The element stride is not carried on
// the instruction and is always one machine word (8 bytes); irbuild emits
// IOFS the same way for every element size, with no scaling ahead of it.
func (e *Emitter) emitIOfs(instr *ir.Instr) {
	base, idx := instr.Args[0], instr.Args[1]
	destReg := e.dest(instr.Dst)
	// base and idx may both need the integer scratch register to
	// materialize a spilled operand; landing base in destReg first (when
	// destReg isn't itself the scratch register) frees the scratch for idx
	// instead of letting the second read clobber the first.
	baseReg := e.read(base)
	if baseReg == RegName(R11, base.Size) && destReg != baseReg {
		e.line("mov %s, %s", baseReg, destReg)
		baseReg = destReg
	}
	idxReg := e.read(idx)
	e.line("lea (%s,%s,8), %s", baseReg, idxReg, destReg)
	e.flushDest(instr.Dst)
}

func (e *Emitter) emitLoad(instr *ir.Instr) {
	addr := instr.Args[0]
	addrReg := e.read(addr)
	if isFloat(instr.Dst) {
		e.line("%s (%s), %s", movsuffix(instr.Dst.Size), addrReg, e.dest(instr.Dst))
		e.flushDestFloat(instr.Dst)
		return
	}
	e.line("mov (%s), %s", addrReg, e.dest(instr.Dst))
	e.flushDest(instr.Dst)
}

func (e *Emitter) emitStore(instr *ir.Instr) {
	addr, val := instr.Args[0], instr.Args[1]
	addrReg := e.read(addr)
	if isFloat(val) {
		e.line("%s %s, (%s)", movsuffix(val.Size), e.read(val), addrReg)
		return
	}
	e.line("mov %s, (%s)", e.read(val), addrReg)
}

func (e *Emitter) emitLoadS(instr *ir.Instr) {
	if isFloat(instr.Dst) {
		e.line("%s %d(%%rbp), %s", movsuffix(instr.Dst.Size), instr.Offset, e.dest(instr.Dst))
		e.flushDestFloat(instr.Dst)
		return
	}
	e.line("mov %d(%%rbp), %s", instr.Offset, e.dest(instr.Dst))
	e.flushDest(instr.Dst)
}

func (e *Emitter) emitStoreS(instr *ir.Instr) {
	val := instr.Args[0]
	if isFloat(val) {
		e.line("%s %s, %d(%%rbp)", movsuffix(val.Size), e.read(val), instr.Offset)
		return
	}
	e.line("mov %s, %d(%%rbp)", e.read(val), instr.Offset)
}

// emitCast converts between widths and between integer and floating
// representations.
func (e *Emitter) emitCast(instr *ir.Instr) {
	src := instr.Args[0]
	dst := instr.Dst
	switch {
	case isFloat(src) && isFloat(dst):
		if src.Size == dst.Size {
			e.storeResultFloat(dst, e.read(src))
			return
		}
		mnem := "cvtss2sd"
		if src.Size == ir.Size64 {
			mnem = "cvtsd2ss"
		}
		srcReg := e.read(src)
		e.line("%s %s, %s", mnem, srcReg, e.dest(dst))
		e.flushDestFloat(dst)
	case isFloat(src) && !isFloat(dst):
		mnem := "cvttss2si"
		if src.Size == ir.Size64 {
			mnem = "cvttsd2si"
		}
		e.line("%s %s, %s", mnem, e.read(src), e.dest(dst))
		e.flushDest(dst)
	case !isFloat(src) && isFloat(dst):
		mnem := "cvtsi2ss"
		if dst.Size == ir.Size64 {
			mnem = "cvtsi2sd"
		}
		e.line("%s %s, %s", mnem, e.read(src), e.dest(dst))
		e.flushDestFloat(dst)
	default:
		e.emitIntCast(instr)
	}
}

func (e *Emitter) emitIntCast(instr *ir.Instr) {
	src, dst := instr.Args[0], instr.Dst
	if dst.Size <= src.Size {
		// Narrowing: reading the low bits under dst's own width suffices.
		e.storeResult(dst, e.read(src))
		return
	}
	srcReg := e.read(src)
	destReg := e.dest(dst)
	if dst.Flags.Has(ir.FlagUnsigned) {
		e.line("movz%s%s %s, %s", suffix(src.Size), suffix(dst.Size), srcReg, destReg)
	} else if dst.Size == ir.Size64 && src.Size == ir.Size32 {
		e.line("movslq %s, %s", srcReg, destReg)
	} else {
		e.line("movs%s%s %s, %s", suffix(src.Size), suffix(dst.Size), srcReg, destReg)
	}
	e.flushDest(dst)
}

func (e *Emitter) emitPushArg(instr *ir.Instr) {
	v := instr.Args[0]
	if isFloat(v) {
		phys, ok := FloatArgReg(e.callFloat)
		e.callFloat++
		if !ok {
			e.line("%s %s, -8(%%rsp)", movsuffix(v.Size), e.read(v))
			e.line("sub $8, %%rsp")
			return
		}
		e.line("%s %s, %s", movsuffix(v.Size), e.read(v), XMMName(phys))
		return
	}
	phys, ok := ArgReg(e.callInt)
	e.callInt++
	if !ok {
		e.line("push %s", e.read(v))
		return
	}
	src := e.read(v)
	if v.Flags.Has(ir.FlagConst) {
		e.line("mov %s, %s", src, RegName(phys, ir.Size64))
		return
	}
	e.line("mov %s, %s", src, RegName(phys, v.Size))
}

func (e *Emitter) emitCall(instr *ir.Instr) {
	if instr.Sym != "" {
		e.line("call %s", instr.Sym)
		return
	}
	e.line("call *%s", e.read(instr.Args[0]))
}

func (e *Emitter) emitResult(instr *ir.Instr) {
	if isFloat(instr.Dst) {
		e.storeResultFloat(instr.Dst, XMMName(FloatReturnReg))
		return
	}
	e.storeResult(instr.Dst, RegName(ReturnReg, instr.Dst.Size))
}

// flushDest writes the scratch-computed value back to dst's memory slot
// when dst has no physical register of its own; a no-op when dst is
// already a real register (dest() returned it directly).
func (e *Emitter) flushDest(dst *ir.VReg) {
	if _, ok := e.physOf(dst); ok {
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", dst)
	e.line("mov %s, %s", e.scratchName(dst), loc)
}

func (e *Emitter) flushDestFloat(dst *ir.VReg) {
	if _, ok := e.physOf(dst); ok {
		return
	}
	loc, ok := e.loc(dst)
	xerr.Assert(ok, "vreg %v has neither a register nor a stack slot", dst)
	e.line("%s %s, %s", movsuffix(dst.Size), e.scratchName(dst), loc)
}
