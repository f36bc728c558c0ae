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

import "github.com/thomasmueller/xcc/ast"

// CompilePackage lowers every non-builtin function of pkg straight into a
// WASM Module, mirroring internal/backend.CompilePackage's role for the
// register-file targets but bypassing internal/ir entirely.
// Every non-builtin function is exported under its own name, so an
// embedding host can call an arbitrary
// entry point by name, not just "main".
func CompilePackage(pkg *ast.PackageDecl) *Module {
	var fns []*ast.FuncDecl
	for _, d := range pkg.Func {
		fd, ok := d.(*ast.FuncDecl)
		if !ok || fd.Builtin {
			continue
		}
		fns = append(fns, fd)
	}

	funcs := make(FuncIndex, len(fns))
	for i, fd := range fns {
		funcs[fd.Name] = i
	}

	m := NewModule()
	m.MemoryMin = memoryPages(len(fns))
	for _, fd := range fns {
		typeIdx := m.addType(signatureOf(fd))
		cf := CompileFunc(fd, funcs)
		m.FuncTypes = append(m.FuncTypes, typeIdx)
		m.Funcs = append(m.Funcs, cf)
		m.Exports = append(m.Exports, fd.Name)
	}
	return m
}

// memoryPages sizes the module's single linear memory to fit every
// function's arenaStride-sized static-storage arena, rounded up to whole
// 64KiB pages (a minimum of one page even for an empty package).
func memoryPages(numFuncs int) uint32 {
	const pageSize = 65536
	bytes := uint32(numFuncs) * arenaStride
	pages := bytes / pageSize
	if bytes%pageSize != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

func signatureOf(fd *ast.FuncDecl) FuncType {
	ft := FuncType{}
	for _, p := range fd.Params {
		ve := p.(*ast.VarExpr)
		ft.Params = append(ft.Params, valType(ve.Type))
	}
	if !fd.RetType.IsVoid() {
		ft.Results = []ValType{valType(fd.RetType)}
	}
	return ft
}

// addType interns sig into m.Types, reusing an identical earlier signature
// rather than growing the type section with duplicates.
func (m *Module) addType(sig FuncType) int {
	for i, t := range m.Types {
		if sameSignature(t, sig) {
			return i
		}
	}
	m.Types = append(m.Types, sig)
	return len(m.Types) - 1
}

func sameSignature(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
