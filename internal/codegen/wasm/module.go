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
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("wasm")

// FuncType is one entry of the type section: a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Module accumulates the sections of one WASM binary as it compiles each
// ast.FuncDecl of a package in turn.
type Module struct {
	Types     []FuncType
	FuncTypes []int // one type index per defined function, in Funcs order
	Funcs     []*CompiledFunc
	Exports   []string // exported function names, parallel to Funcs
	MemoryMin uint32   // pages (64KiB each); linear memory holds the per-function
	// string/array storage arenas. No function passes or returns a result pointer.
}

// CompiledFunc is one function's code-section body: its local declarations
// (grouped by run of identical type, as the binary format requires) and
// instruction bytes.
type CompiledFunc struct {
	Name   string
	Locals []ValType // every local beyond the params, in declaration order
	Code   []byte
}

// NewModule creates an empty module with a single default linear memory
// for string/array storage; no result-pointer return area is reserved in it.
func NewModule() *Module {
	return &Module{MemoryMin: 1}
}

// Encode serializes m into the standard WASM binary format: the 8-byte
// preamble followed by each present section in ascending id order.
func (m *Module) Encode() []byte {
	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6D) // magic "\0asm"
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version 1

	out = appendSection(out, SectionIDType, m.encodeTypeSection())
	out = appendSection(out, SectionIDFunction, m.encodeFunctionSection())
	out = appendSection(out, SectionIDMemory, m.encodeMemorySection())
	out = appendSection(out, SectionIDExport, m.encodeExportSection())
	out = appendSection(out, SectionIDCode, m.encodeCodeSection())
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	if len(body) == 0 && id != SectionIDMemory {
		return out
	}
	out = append(out, id)
	out = leb128.AppendUint(out, uint64(len(body)))
	return append(out, body...)
}

func (m *Module) encodeTypeSection() []byte {
	var b []byte
	b = leb128.AppendUint(b, uint64(len(m.Types)))
	for _, t := range m.Types {
		b = append(b, FuncTypeTag)
		b = leb128.AppendUint(b, uint64(len(t.Params)))
		for _, p := range t.Params {
			b = append(b, byte(p))
		}
		b = leb128.AppendUint(b, uint64(len(t.Results)))
		for _, r := range t.Results {
			b = append(b, byte(r))
		}
	}
	return b
}

func (m *Module) encodeFunctionSection() []byte {
	var b []byte
	b = leb128.AppendUint(b, uint64(len(m.FuncTypes)))
	for _, idx := range m.FuncTypes {
		b = leb128.AppendUint(b, uint64(idx))
	}
	return b
}

func (m *Module) encodeMemorySection() []byte {
	var b []byte
	b = leb128.AppendUint(b, 1)
	b = append(b, 0x00) // limits: min only, no max
	b = leb128.AppendUint(b, uint64(m.MemoryMin))
	return b
}

func (m *Module) encodeExportSection() []byte {
	var b []byte
	b = leb128.AppendUint(b, uint64(len(m.Exports)))
	for i, name := range m.Exports {
		b = leb128.AppendUint(b, uint64(len(name)))
		b = append(b, name...)
		b = append(b, ExportFunc)
		b = leb128.AppendUint(b, uint64(i))
	}
	return b
}

func (m *Module) encodeCodeSection() []byte {
	var b []byte
	b = leb128.AppendUint(b, uint64(len(m.Funcs)))
	for _, f := range m.Funcs {
		body := f.encodeBody()
		b = leb128.AppendUint(b, uint64(len(body)))
		b = append(b, body...)
	}
	return b
}

// encodeBody renders the locals-declaration vector followed by the
// function's already-emitted instruction bytes and a trailing end opcode.
func (f *CompiledFunc) encodeBody() []byte {
	var runs [][2]interface{} // {ValType, count}
	for _, l := range f.Locals {
		if len(runs) > 0 && runs[len(runs)-1][0].(ValType) == l {
			runs[len(runs)-1][1] = runs[len(runs)-1][1].(int) + 1
			continue
		}
		runs = append(runs, [2]interface{}{l, 1})
	}
	var b []byte
	b = leb128.AppendUint(b, uint64(len(runs)))
	for _, r := range runs {
		b = leb128.AppendUint(b, uint64(r[1].(int)))
		b = append(b, byte(r[0].(ValType)))
	}
	b = append(b, f.Code...)
	b = append(b, OpcodeEnd)
	return b
}

// valType maps a front-end type to its WASM representation: every scalar
// reduces to one of the four WASM value types (narrower
// integer types are carried as i32 until stored, matching how irbuild
// widens everything narrower than a machine word at the IR boundary too).
func valType(t *ast.Type) ValType {
	switch {
	case t == nil || t.IsVoid():
		return ValTypeI32 // never actually pushed; callers check IsVoid first
	case t.IsLong():
		return ValTypeI64
	case t.IsDouble():
		return ValTypeF64
	case t.IsFloat():
		return ValTypeF32
	default:
		return ValTypeI32
	}
}
