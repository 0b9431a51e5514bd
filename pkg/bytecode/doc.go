// Package bytecode loads, disassembles and executes compiled BASIC modules.
//
// A module is a small binary image produced by a front-end compiler:
//
//   - Header: five little-endian u16 counts (code length, integer and string
//     variable slots, integer and string constant pool sizes)
//   - Integer pool: one little-endian i32 per constant
//   - String pool: a little-endian u32 length followed by that many bytes
//   - Code: the instruction stream
//
// # Instructions
//
// The opcode byte is an index into the mnemonic table. Opcodes numbered below
// the hasarg sentinel are one byte long; opcodes above it carry a u16 operand
// in the two following bytes (low byte first). The operand addresses a
// variable slot, a constant, or an absolute jump target depending on the
// opcode. Operand bytes are bounds-checked before they are read.
//
// # Execution
//
// The VM keeps two fixed-capacity operand stacks, one of int32 values and one
// of string handles, plus per-module variable slots. Strings live in a
// reference-counted arena (package strobj): loading a variable or a constant
// shares it, while concatenation and input produce fresh objects. Every
// object is released exactly once, so a finished run leaves the arena empty.
//
// # Errors
//
// Every failure is an *Error carrying a Kind. Truncated modules are IoError,
// bad instructions met by the disassembler are DecodeError, and anything that
// goes wrong while executing is RuntimeError, except failed reads and writes
// of the program's own input and output, which stay IoError.
package bytecode
