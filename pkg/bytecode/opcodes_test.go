package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if got := OpcodeCount(); got != 22 {
		t.Errorf("OpcodeCount() = %d, want 22", got)
	}
}

func TestOpcodeNumbering(t *testing.T) {
	// The numbering is part of the module format.
	want := []string{
		"end", "add_int", "sub_int", "mul_int", "div_int", "eq_int",
		"cat_str", "eq_str", "print_int", "print_str", "println", "hasarg",
		"load_const_int", "load_int", "input_int", "save_int",
		"load_const_str", "load_str", "input_str", "save_str", "jmp", "jmpz",
	}
	for i, name := range want {
		if got := Opcode(i).String(); got != name {
			t.Errorf("Opcode(%d).String() = %q, want %q", i, got, name)
		}
		op, ok := LookupOpcode(name)
		if !ok || op != Opcode(i) {
			t.Errorf("LookupOpcode(%q) = %d, %v", name, op, ok)
		}
	}
}

func TestOpcodeHasArg(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := byte(op) > byte(OpHasArg)
		if op.HasArg() != want {
			t.Errorf("%s.HasArg() = %v, want %v", op, op.HasArg(), want)
		}
		wantLen := 1
		if want {
			wantLen = 3
		}
		if op.InstructionLen() != wantLen {
			t.Errorf("%s.InstructionLen() = %d, want %d", op, op.InstructionLen(), wantLen)
		}
		if GetOpcodeInfo(op).OperandLen != op.OperandLen() {
			t.Errorf("%s: table operand length disagrees with HasArg", op)
		}
	}
}

func TestOpcodeUnknown(t *testing.T) {
	for _, b := range []byte{22, 23, 0x7F, 0xFF} {
		op := Opcode(b)
		if op.Valid() {
			t.Errorf("Opcode(%d).Valid() = true", b)
		}
		if !strings.HasPrefix(op.String(), "UNKNOWN") {
			t.Errorf("Opcode(%d).String() = %q", b, op.String())
		}
	}
	if _, ok := LookupOpcode("no_such_op"); ok {
		t.Error("LookupOpcode found a nonexistent mnemonic")
	}
}

func TestOpcodeIsJump(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := op == OpJmp || op == OpJmpz
		if op.IsJump() != want {
			t.Errorf("%s.IsJump() = %v", op, op.IsJump())
		}
	}
}

func TestInstructionDecode(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		offset  int
		want    Instruction
		wantErr error
	}{
		{"short", []byte{byte(OpAddInt)}, 0, Instruction{Op: OpAddInt}, nil},
		{"operand little-endian", []byte{byte(OpJmp), 0x34, 0x12}, 0, Instruction{Op: OpJmp, Arg: 0x1234}, nil},
		{"at offset", []byte{0, byte(OpLoadInt), 7, 0}, 1, Instruction{Offset: 1, Op: OpLoadInt, Arg: 7}, nil},
		{"unknown", []byte{22}, 0, Instruction{}, ErrUnknownOpcode},
		{"truncated one byte", []byte{byte(OpLoadInt), 1}, 0, Instruction{}, ErrTruncatedInstruction},
		{"truncated no bytes", []byte{byte(OpJmp)}, 0, Instruction{}, ErrTruncatedInstruction},
		{"past end", []byte{0}, 1, Instruction{}, ErrIPOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAt(tt.code, tt.offset)
			if tt.wantErr != nil {
				if !isKind(err, KindDecode, tt.wantErr) {
					t.Fatalf("DecodeAt() error = %v, want DecodeError wrapping %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAt() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeAt() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInstructionString(t *testing.T) {
	if got := (Instruction{Op: OpPrintln}).String(); got != "println" {
		t.Errorf("got %q", got)
	}
	if got := (Instruction{Op: OpLoadConstInt, Arg: 3}).String(); got != "load_const_int 3" {
		t.Errorf("got %q", got)
	}
}
