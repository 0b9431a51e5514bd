package bytecode

import "fmt"

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int    // absolute offset of the opcode byte
	Op     Opcode
	Arg    uint16 // operand, valid when Op.HasArg()
}

// Len returns the encoded size of the instruction.
func (in Instruction) Len() int {
	return in.Op.InstructionLen()
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Len()
}

// String renders the instruction as mnemonic plus optional operand.
func (in Instruction) String() string {
	if in.Op.HasArg() {
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	}
	return in.Op.String()
}

// decode reads the instruction starting at offset. Operand bounds are
// checked before any operand byte is read. Errors are bare sentinels; the
// caller decides the kind.
func decode(code []byte, offset int) (Instruction, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIPOutOfRange, offset, len(code))
	}

	op := Opcode(code[offset])
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(op))
	}

	in := Instruction{Offset: offset, Op: op}
	if !op.HasArg() {
		return in, nil
	}

	if len(code)-(offset+1) < 2 {
		return Instruction{}, fmt.Errorf("%w: %s needs 2 operand bytes, %d left",
			ErrTruncatedInstruction, op, len(code)-(offset+1))
	}
	in.Arg = uint16(code[offset+1]) | uint16(code[offset+2])<<8
	return in, nil
}

// DecodeAt decodes the instruction at offset, reporting failures as
// DecodeError.
func DecodeAt(code []byte, offset int) (Instruction, error) {
	in, err := decode(code, offset)
	if err != nil {
		return Instruction{}, decodeError(offset, err)
	}
	return in, nil
}
