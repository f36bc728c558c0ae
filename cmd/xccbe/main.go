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

// xccbe is the compiler backend's CLI driver: it parses one source file,
// type-checks it, and renders the result as x86-64 or RISC-V assembly, a
// WASM binary, or a plain-text IR dump, one cobra subcommand per output
// form.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/thomasmueller/xcc/ast"
	"github.com/thomasmueller/xcc/internal/backend"
	"github.com/thomasmueller/xcc/internal/codegen/riscv"
	"github.com/thomasmueller/xcc/internal/codegen/wasm"
	"github.com/thomasmueller/xcc/internal/codegen/x86"
	"github.com/thomasmueller/xcc/internal/ir"
	"github.com/thomasmueller/xcc/internal/irbuild"
	"github.com/thomasmueller/xcc/internal/irdump"
	"github.com/thomasmueller/xcc/internal/xerr"
	"github.com/thomasmueller/xcc/internal/xlog"
)

var log = xlog.For("xccbe")

func main() {
	var verbosity int
	var output string

	root := &cobra.Command{
		Use:   "xccbe [source-file]",
		Short: "compile a source file to native assembly, WASM or an IR dump",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			xlog.SetLevel(verbosity)
		},
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	root.PersistentFlags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	root.SetGlobalNormalizationFunc(func(f *flag.FlagSet, name string) flag.NormalizedName {
		return flag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(
		asmCmd("x86", x86Target, x86.Emit, &output),
		asmCmd("riscv", riscvTarget, riscv.Emit, &output),
		wasmCmd(&output),
		irDumpCmd(&output),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var x86Target = backend.Target{
	IntRegs:     x86.IntRegs,
	FloatRegs:   x86.FloatRegs,
	ReservedOps: x86.ReservedOps(),
	CallAlign:   16,
	WordAlign:   8,
	ArgABI:      x86.ArgABI(),
}

var riscvTarget = backend.Target{
	IntRegs:     riscv.IntRegs,
	FloatRegs:   riscv.FloatRegs,
	ReservedOps: riscv.ReservedOps(),
	CallAlign:   16,
	WordAlign:   8,
	ArgABI:      riscv.ArgABI(),
}

func parsePackage(path string) *ast.PackageDecl {
	pkg := ast.ParseFile(path)
	ast.InferTypes(false, pkg)
	ast.TypeCheck(false, pkg)
	return pkg
}

func asmCmd(name string, target backend.Target, emit func(*ir.FuncBackend) string, output *string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [source-file]",
		Short: "emit " + name + " assembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(name, func() error {
				pkg := parsePackage(args[0])
				fbs := backend.CompilePackage(pkg, target)
				var buf strings.Builder
				for _, fname := range sortedNames(fbs) {
					buf.WriteString(emit(fbs[fname]))
				}
				log.Info().Str("target", name).Int("funcs", len(fbs)).Msg("compiled")
				return writeOutput(*output, buf.String())
			})
		},
	}
}

func wasmCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "wasm [source-file]",
		Short: "emit a WASM binary module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile("wasm", func() error {
				pkg := parsePackage(args[0])
				m := wasm.CompilePackage(pkg)
				log.Info().Int("funcs", len(m.Funcs)).Msg("compiled to wasm")
				return writeOutputBytes(*output, m.Encode())
			})
		},
	}
}

func irDumpCmd(output *string) *cobra.Command {
	var withAlloc bool
	cmd := &cobra.Command{
		Use:   "ir-dump [source-file]",
		Short: "print the backend IR for every function, optionally after register allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile("ir-dump", func() error {
				pkg := parsePackage(args[0])

				var fbs map[string]*ir.FuncBackend
				if withAlloc {
					fbs = backend.CompilePackage(pkg, x86Target)
				} else {
					fbs = irbuild.BuildPackage(pkg)
				}

				var buf strings.Builder
				for _, fname := range sortedNames(fbs) {
					irdump.Func(&buf, fbs[fname])
				}
				return writeOutput(*output, buf.String())
			})
		},
	}
	cmd.Flags().BoolVar(&withAlloc, "alloc", false, "run the full pipeline (SSA, optimization, register allocation) before dumping")
	return cmd
}

// runCompile executes one subcommand body, translating a backend panic
// (an invariant violation or a malformed input program the lowering
// rejected) into a printed diagnostic and a non-zero exit instead of a raw
// stack trace.
func runCompile(name string, body func() error) error {
	sink := xerr.NewDiagnosticSink()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sink.Errorf("", "%v", r)
			}
		}()
		return body()
	}()
	if err != nil {
		return xerr.Wrap(err, "%s", name)
	}
	if sink.HasErrors() {
		for _, d := range sink.All() {
			fmt.Fprintln(os.Stderr, d.Error())
		}
		return fmt.Errorf("%s: compilation failed", name)
	}
	return nil
}

func sortedNames(fbs map[string]*ir.FuncBackend) []string {
	names := make([]string, 0, len(fbs))
	for name := range fbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeOutput(path, text string) error {
	if path == "" {
		fmt.Print(text)
		return nil
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func writeOutputBytes(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
