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

package leb128

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendIntNegative624485(t *testing.T) {
	// -624485 is the classic SLEB128 worked example; its canonical
	// encoding is {0x9b, 0xf1, 0x59}.
	got := AppendInt(nil, -624485)
	assert.Equal(t, []byte{0x9b, 0xf1, 0x59}, got)
}

func TestAppendUintSmall(t *testing.T) {
	assert.Equal(t, []byte{0x00}, AppendUint(nil, 0))
	assert.Equal(t, []byte{0x7f}, AppendUint(nil, 127))
	assert.Equal(t, []byte{0x80, 0x01}, AppendUint(nil, 128))
}

func TestRoundTripUint(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<35 + 7} {
		buf := AppendUint(nil, v)
		got, n := DecodeUint(buf)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, len(buf), SizeUint(v))
	}
}

func TestRoundTripInt(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, -65, 624485, -624485} {
		buf := AppendInt(nil, v)
		got, n := DecodeInt(buf)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestPatchUintPreservesContinuationBit(t *testing.T) {
	buf := AppendUint(nil, 5)
	buf = append(buf, 0) // pretend a second reserved byte follows
	PatchUint(buf, 0, 3)
	assert.Equal(t, byte(3), buf[0]&0x7f)
	assert.Equal(t, byte(5)&0x80, buf[0]&0x80)
}
