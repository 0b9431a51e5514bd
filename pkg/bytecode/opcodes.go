package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// The numbering is part of the module format: an opcode's value is its index
// in the mnemonic table.
type Opcode byte

const (
	// ========================================================================
	// Argument-free instructions (1 byte)
	// ========================================================================

	OpEnd      Opcode = 0  // Halt
	OpAddInt   Opcode = 1  // Pop b, pop a, push a + b
	OpSubInt   Opcode = 2  // Pop b, pop a, push a - b
	OpMulInt   Opcode = 3  // Pop b, pop a, push a * b
	OpDivInt   Opcode = 4  // Pop b, pop a, push a / b (truncated)
	OpEqInt    Opcode = 5  // Pop b, pop a, push 1 if equal else 0
	OpCatStr   Opcode = 6  // Pop b, pop a, push a ++ b
	OpEqStr    Opcode = 7  // Pop b, pop a (strings), push 1 or 0 on the int stack
	OpPrintInt Opcode = 8  // Pop and print an integer
	OpPrintStr Opcode = 9  // Pop and print a string
	OpPrintln  Opcode = 10 // Print a newline

	// OpHasArg separates the two instruction shapes. It is not executable.
	OpHasArg Opcode = 11

	// ========================================================================
	// Argument-bearing instructions (3 bytes: opcode, operand lo, operand hi)
	// ========================================================================

	OpLoadConstInt Opcode = 12 // Push integer constant: <index:u16>
	OpLoadInt      Opcode = 13 // Push integer variable: <slot:u16>
	OpInputInt     Opcode = 14 // Read a line into an integer variable: <slot:u16>
	OpSaveInt      Opcode = 15 // Pop into an integer variable: <slot:u16>
	OpLoadConstStr Opcode = 16 // Push string constant: <index:u16>
	OpLoadStr      Opcode = 17 // Push string variable: <slot:u16>
	OpInputStr     Opcode = 18 // Read a line into a string variable: <slot:u16>
	OpSaveStr      Opcode = 19 // Pop into a string variable: <slot:u16>
	OpJmp          Opcode = 20 // Jump to absolute offset: <target:u16>
	OpJmpz         Opcode = 21 // Pop integer, jump if zero: <target:u16>
)

// OperandKind describes what an instruction's operand addresses.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandIntSlot
	OperandStrSlot
	OperandIntConst
	OperandStrConst
	OperandTarget
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string      // Mnemonic
	IntPop     int         // Values popped from the integer stack
	IntPush    int         // Values pushed to the integer stack
	StrPop     int         // Values popped from the string stack
	StrPush    int         // Values pushed to the string stack
	OperandLen int         // Number of operand bytes following the opcode
	Operand    OperandKind // What the operand refers to
}

// opcodeInfoTable is indexed by opcode value.
var opcodeInfoTable = [...]OpcodeInfo{
	OpEnd:      {"end", 0, 0, 0, 0, 0, OperandNone},
	OpAddInt:   {"add_int", 2, 1, 0, 0, 0, OperandNone},
	OpSubInt:   {"sub_int", 2, 1, 0, 0, 0, OperandNone},
	OpMulInt:   {"mul_int", 2, 1, 0, 0, 0, OperandNone},
	OpDivInt:   {"div_int", 2, 1, 0, 0, 0, OperandNone},
	OpEqInt:    {"eq_int", 2, 1, 0, 0, 0, OperandNone},
	OpCatStr:   {"cat_str", 0, 0, 2, 1, 0, OperandNone},
	OpEqStr:    {"eq_str", 0, 1, 2, 0, 0, OperandNone},
	OpPrintInt: {"print_int", 1, 0, 0, 0, 0, OperandNone},
	OpPrintStr: {"print_str", 0, 0, 1, 0, 0, OperandNone},
	OpPrintln:  {"println", 0, 0, 0, 0, 0, OperandNone},

	OpHasArg: {"hasarg", 0, 0, 0, 0, 0, OperandNone},

	OpLoadConstInt: {"load_const_int", 0, 1, 0, 0, 2, OperandIntConst},
	OpLoadInt:      {"load_int", 0, 1, 0, 0, 2, OperandIntSlot},
	OpInputInt:     {"input_int", 0, 0, 0, 0, 2, OperandIntSlot},
	OpSaveInt:      {"save_int", 1, 0, 0, 0, 2, OperandIntSlot},
	OpLoadConstStr: {"load_const_str", 0, 0, 0, 1, 2, OperandStrConst},
	OpLoadStr:      {"load_str", 0, 0, 0, 1, 2, OperandStrSlot},
	OpInputStr:     {"input_str", 0, 0, 0, 0, 2, OperandStrSlot},
	OpSaveStr:      {"save_str", 0, 0, 1, 0, 2, OperandStrSlot},
	OpJmp:          {"jmp", 0, 0, 0, 0, 2, OperandTarget},
	OpJmpz:         {"jmpz", 1, 0, 0, 0, 2, OperandTarget},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op has a mnemonic.
func (op Opcode) Valid() bool {
	return int(op) < len(opcodeInfoTable)
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// HasArg reports whether the instruction carries a 16-bit operand.
func (op Opcode) HasArg() bool {
	return op > OpHasArg
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	if op.HasArg() {
		return 2
	}
	return 0
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJmpz
}

// AllOpcodes returns every opcode with a mnemonic, in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, len(opcodeInfoTable))
	for i := range opcodeInfoTable {
		opcodes[i] = Opcode(i)
	}
	return opcodes
}

// OpcodeCount returns the size of the mnemonic table.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// LookupOpcode finds an opcode by mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	for i, info := range opcodeInfoTable {
		if info.Name == name {
			return Opcode(i), true
		}
	}
	return 0, false
}
