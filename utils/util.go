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
package utils

import (
	"fmt"
	"math"
)

// Assert panics with a formatted message when cond is false. Used throughout
// the backend for invariants that must hold by construction (an unknown IR
// opcode, a phi with a mismatched predecessor count, and similar).
func Assert(cond bool, format string, msg ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, msg...))
	}
}

func Any[T comparable](c T, cs ...T) bool {
	for _, cc := range cs {
		if c == cc {
			return true
		}
	}
	return false
}

func Unimplement() {
	panic("Not implement yet")
}

func ShouldNotReachHere() {
	panic("Should not reach here")
}

func Abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Fatal reports an internal invariant violation. Unlike os.Exit it panics so
// a caller further up (the CLI, a test) can recover and translate it into a
// proper exit code or test failure.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	println(msg)
	panic(msg)
}

// Align16 rounds n up to the next multiple of 16, the x86-64 and RV64 psABI
// call-alignment requirement.
func Align16(n int) int {
	return (n + 15) &^ 15
}

// Align rounds n up to the next multiple of a (a must be a power of two).
func Align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func Float64ToHex(f float64) string {
	hex := fmt.Sprintf("%x", math.Float64bits(f))
	return fmt.Sprintf("0x%s", hex)
}

func Float32ToHex(f float32) string {
	hex := fmt.Sprintf("%x", math.Float32bits(f))
	return fmt.Sprintf("0x%s", hex)
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
