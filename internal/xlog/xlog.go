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

// Package xlog wraps zerolog so every backend package logs through one
// leveled, structured sink. Component loggers
// stay silent at InfoLevel and only emit per-pass detail once -v / -vv is
// set on the CLI.
package xlog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// SetLevel adjusts global verbosity; called once from cmd/xccbe after flag
// parsing. n=0 is InfoLevel, n=1 is DebugLevel, n>=2 is TraceLevel.
func SetLevel(n int) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case n <= 0:
		base = base.Level(zerolog.InfoLevel)
	case n == 1:
		base = base.Level(zerolog.DebugLevel)
	default:
		base = base.Level(zerolog.TraceLevel)
	}
}

// For returns a child logger tagged with the given backend component name
// (e.g. "irbuild", "ssa", "regalloc", "codegen.x86"), so per-pass debug
// output stays gated by the single global verbosity switch.
func For(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", component).Logger()
}
