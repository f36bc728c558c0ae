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

// Package backend wires the single per-function pipeline every native
// target shares: IR build, SSA construction, optimization/phi-resolution,
// register allocation and frame layout. The caller (cmd/xccbe, or a test)
// passes CompilePackage a Target holding the register file and reserved-op
// table of internal/codegen/x86 or internal/codegen/riscv, which runs Run per
// function; that package's emitter then only renders the result. The WASM
// emitter bypasses this package entirely since it lowers straight from the
// AST.
package backend

import (
	"github.com/thomasmueller/xcc/internal/frame"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/irbuild"
	"github.com/thomasmueller/xcc/internal/optimize"
	"github.com/thomasmueller/xcc/internal/regalloc"
	"github.com/thomasmueller/xcc/internal/ssa"
	"github.com/thomasmueller/xcc/internal/xlog"

	"github.com/thomasmueller/xcc/ast"
)

var log = xlog.For("backend")

// Target bundles a native codegen package's register-allocation-facing
// constants so Run stays target-agnostic; cmd/xccbe (and the emitter tests)
// build one per native target from the x86 and riscv packages' own
// package-level declarations.
type Target struct {
	IntRegs     int
	FloatRegs   int
	ReservedOps []regalloc.ReservedOp
	CallAlign   int          // stack alignment required across a call, e.g. 16 on x86-64
	WordAlign   int          // natural alignment when the frame needs no call alignment
	ArgABI      frame.ArgABI // parameter-passing shape: register counts and stack-arg base
}

// Run takes one function all the way from non-SSA IR (as irbuild.Build left
// it) through SSA construction, optimization, phi-resolution, register
// allocation and frame layout, mutating fb in place. After Run returns,
// fb.RegAlloc and fb.Frame are populated and the target's Emit function can
// render fb directly.
func Run(fb *ir.FuncBackend, target Target) {
	ssa.Build(fb)
	optimize.Run(fb)
	result := regalloc.Allocate(fb, target.IntRegs, target.FloatRegs, target.ReservedOps)
	fb.RegAlloc = result.RegAllocResult
	frame.Layout(fb, target.CallAlign, target.WordAlign, target.ArgABI)
	log.Debug().Str("func", fb.Name).Int64("frame", fb.Frame.Size).Msg("backend pipeline complete")
}

// CompilePackage lowers every non-builtin function of pkg to IR and runs it
// through Run for the given target, returning one ir.FuncBackend per
// function name ready for the target's Emit.
func CompilePackage(pkg *ast.PackageDecl, target Target) map[string]*ir.FuncBackend {
	fbs := irbuild.BuildPackage(pkg)
	for _, fb := range fbs {
		Run(fb, target)
	}
	return fbs
}
