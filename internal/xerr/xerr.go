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

// Package xerr is the backend's error-handling split: internal invariant
// violations panic
// immediately rather than being threaded through error returns, while
// user-diagnosable failures (malformed input programs, unsupported target
// combinations) are collected into a DiagnosticSink and reported normally.
package xerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Assert panics with a formatted message when cond is false. Used for
// invariants that a correct backend must never violate (e.g. a vreg
// referenced outside its defining function).
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Fatal reports an internal invariant violation and panics.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(msg)
}

// Unimplement marks a code path that is not yet implemented.
func Unimplement() {
	panic("not implemented yet")
}

// ShouldNotReachHere marks a code path the caller has proven unreachable.
func ShouldNotReachHere() {
	panic("should not reach here")
}

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic describes a single user-facing compilation failure: something
// wrong with the input program or the requested target, as opposed to an
// internal invariant violation (which panics via Assert/Fatal instead).
type Diagnostic struct {
	Severity Severity
	Func     string
	Message  string
	Cause    error
}

func (d *Diagnostic) Error() string {
	if d.Func != "" {
		return fmt.Sprintf("%s: in %s: %s", d.Severity, d.Func, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Wrap attaches file/operation context to an error using pkg/errors so a
// stack trace survives across the ir -> regalloc -> codegen package
// boundaries.
func Wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// DiagnosticSink accumulates Diagnostics across a compilation run. The CLI
// driver in cmd/xccbe flushes it after each top-level operation and exits
// non-zero if any SeverityError diagnostics were recorded.
type DiagnosticSink struct {
	diags []*Diagnostic
}

func NewDiagnosticSink() *DiagnosticSink {
	return &DiagnosticSink{}
}

func (s *DiagnosticSink) Report(d *Diagnostic) {
	s.diags = append(s.diags, d)
}

func (s *DiagnosticSink) Errorf(fn, format string, args ...interface{}) {
	s.Report(&Diagnostic{Severity: SeverityError, Func: fn, Message: fmt.Sprintf(format, args...)})
}

func (s *DiagnosticSink) Warnf(fn, format string, args ...interface{}) {
	s.Report(&Diagnostic{Severity: SeverityWarning, Func: fn, Message: fmt.Sprintf(format, args...)})
}

func (s *DiagnosticSink) HasErrors() bool {
	for _, d := range s.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (s *DiagnosticSink) All() []*Diagnostic {
	return s.diags
}
