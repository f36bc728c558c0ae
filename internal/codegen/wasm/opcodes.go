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

// Package wasm is the independent, AST-direct WebAssembly emitter: unlike
// internal/codegen/x86 and
// internal/codegen/riscv it does not consume internal/ir at all, walking
// the typed AST straight into structured WASM control flow and opcodes.
// Opcode values and section ids follow the WebAssembly 1.0 binary format.
package wasm

// ValType is a WASM value-type byte.
type ValType byte

const (
	ValTypeI32 ValType = 0x7F
	ValTypeI64 ValType = 0x7E
	ValTypeF32 ValType = 0x7D
	ValTypeF64 ValType = 0x7C
)

// Section ids, module preamble.
const (
	SectionIDCustom   = 0
	SectionIDType     = 1
	SectionIDImport   = 2
	SectionIDFunction = 3
	SectionIDTable    = 4
	SectionIDMemory   = 5
	SectionIDGlobal   = 6
	SectionIDExport   = 7
	SectionIDStart    = 8
	SectionIDElement  = 9
	SectionIDCode     = 10
	SectionIDData     = 11
)

const (
	FuncTypeTag = 0x60
	ExportFunc  = 0x00
	ExportTable = 0x01
	ExportMem   = 0x02
	ExportGlob  = 0x03
)

// Control-flow and structural opcodes.
const (
	OpcodeUnreachable = 0x00
	OpcodeNop         = 0x01
	OpcodeBlock       = 0x02
	OpcodeLoop        = 0x03
	OpcodeIf          = 0x04
	OpcodeElse        = 0x05
	OpcodeEnd         = 0x0B
	OpcodeBr          = 0x0C
	OpcodeBrIf        = 0x0D
	OpcodeBrTable     = 0x0E
	OpcodeReturn      = 0x0F
	OpcodeCall        = 0x10
	OpcodeCallIndirect = 0x11
	OpcodeBlockTypeEmpty = 0x40
)

// Parametric/variable opcodes.
const (
	OpcodeDrop       = 0x1A
	OpcodeSelect     = 0x1B
	OpcodeLocalGet   = 0x20
	OpcodeLocalSet   = 0x21
	OpcodeLocalTee   = 0x22
	OpcodeGlobalGet  = 0x23
	OpcodeGlobalSet  = 0x24
)

// Memory opcodes (alignment/offset pairs follow each).
const (
	OpcodeI32Load    = 0x28
	OpcodeI64Load    = 0x29
	OpcodeF32Load    = 0x2A
	OpcodeF64Load    = 0x2B
	OpcodeI32Load8S  = 0x2C
	OpcodeI32Load8U  = 0x2D
	OpcodeI32Load16S = 0x2E
	OpcodeI32Load16U = 0x2F
	OpcodeI32Store   = 0x36
	OpcodeI64Store   = 0x37
	OpcodeF32Store   = 0x38
	OpcodeF64Store   = 0x39
	OpcodeI32Store8  = 0x3A
	OpcodeI32Store16 = 0x3B
	OpcodeMemorySize = 0x3F
	OpcodeMemoryGrow = 0x40
)

// Constant opcodes.
const (
	OpcodeI32Const = 0x41
	OpcodeI64Const = 0x42
	OpcodeF32Const = 0x43
	OpcodeF64Const = 0x44
)

// i32 comparison/arithmetic opcodes.
const (
	OpcodeI32Eqz  = 0x45
	OpcodeI32Eq   = 0x46
	OpcodeI32Ne   = 0x47
	OpcodeI32LtS  = 0x48
	OpcodeI32LtU  = 0x49
	OpcodeI32GtS  = 0x4A
	OpcodeI32GtU  = 0x4B
	OpcodeI32LeS  = 0x4C
	OpcodeI32LeU  = 0x4D
	OpcodeI32GeS  = 0x4E
	OpcodeI32GeU  = 0x4F
)

const (
	OpcodeI64Eqz = 0x50
	OpcodeI64Eq  = 0x51
	OpcodeI64Ne  = 0x52
	OpcodeI64LtS = 0x53
	OpcodeI64LtU = 0x54
	OpcodeI64GtS = 0x55
	OpcodeI64GtU = 0x56
	OpcodeI64LeS = 0x57
	OpcodeI64LeU = 0x58
	OpcodeI64GeS = 0x59
	OpcodeI64GeU = 0x5A
)

const (
	OpcodeF32Eq = 0x5B
	OpcodeF32Ne = 0x5C
	OpcodeF32Lt = 0x5D
	OpcodeF32Gt = 0x5E
	OpcodeF32Le = 0x5F
	OpcodeF32Ge = 0x60
)

const (
	OpcodeF64Eq = 0x61
	OpcodeF64Ne = 0x62
	OpcodeF64Lt = 0x63
	OpcodeF64Gt = 0x64
	OpcodeF64Le = 0x65
	OpcodeF64Ge = 0x66
)

const (
	OpcodeI32Clz    = 0x67
	OpcodeI32Ctz    = 0x68
	OpcodeI32Popcnt = 0x69
	OpcodeI32Add    = 0x6A
	OpcodeI32Sub    = 0x6B
	OpcodeI32Mul    = 0x6C
	OpcodeI32DivS   = 0x6D
	OpcodeI32DivU   = 0x6E
	OpcodeI32RemS   = 0x6F
	OpcodeI32RemU   = 0x70
	OpcodeI32And    = 0x71
	OpcodeI32Or     = 0x72
	OpcodeI32Xor    = 0x73
	OpcodeI32Shl    = 0x74
	OpcodeI32ShrS   = 0x75
	OpcodeI32ShrU   = 0x76
)

const (
	OpcodeI64Add  = 0x7C
	OpcodeI64Sub  = 0x7D
	OpcodeI64Mul  = 0x7E
	OpcodeI64DivS = 0x7F
	OpcodeI64DivU = 0x80
	OpcodeI64RemS = 0x81
	OpcodeI64RemU = 0x82
	OpcodeI64And  = 0x83
	OpcodeI64Or   = 0x84
	OpcodeI64Xor  = 0x85
	OpcodeI64Shl  = 0x86
	OpcodeI64ShrS = 0x87
	OpcodeI64ShrU = 0x88
)

const (
	OpcodeF32Neg = 0x8C
	OpcodeF32Add = 0x92
	OpcodeF32Sub = 0x93
	OpcodeF32Mul = 0x94
	OpcodeF32Div = 0x95
)

const (
	OpcodeF64Neg = 0x9A
	OpcodeF64Add = 0xA0
	OpcodeF64Sub = 0xA1
	OpcodeF64Mul = 0xA2
	OpcodeF64Div = 0xA3
)

// Conversion opcodes used by CAST-equivalent lowering.
const (
	OpcodeI32WrapI64      = 0xA7
	OpcodeI32TruncF32S    = 0xA8
	OpcodeI32TruncF64S    = 0xAA
	OpcodeI64ExtendI32S   = 0xAC
	OpcodeI64ExtendI32U   = 0xAD
	OpcodeI64TruncF32S    = 0xAE
	OpcodeI64TruncF64S    = 0xB0
	OpcodeF32ConvertI32S  = 0xB2
	OpcodeF32ConvertI64S  = 0xB4
	OpcodeF32DemoteF64    = 0xB6
	OpcodeF64ConvertI32S  = 0xB7
	OpcodeF64ConvertI64S  = 0xB9
	OpcodeF64PromoteF32   = 0xBB
)
