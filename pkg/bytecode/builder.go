package bytecode

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// jumpPlaceholder marks an operand awaiting PatchJump.
const jumpPlaceholder = 0xdead

// Builder assembles a module instruction by instruction. It is the write side
// of the module format and what front ends and tests use to produce code.
type Builder struct {
	module *Module

	// Constant pool management (deduplication)
	intConstMap map[int32]uint16
	strConstMap map[string]uint16

	// Jump operands still holding the placeholder
	pending map[int]bool

	// Error collection
	errors []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		module:      &Module{Code: make([]byte, 0, 64)},
		intConstMap: make(map[int32]uint16),
		strConstMap: make(map[string]uint16),
		pending:     make(map[int]bool),
	}
}

// AddIntConstant interns v in the integer pool and returns its index.
func (b *Builder) AddIntConstant(v int32) uint16 {
	if idx, ok := b.intConstMap[v]; ok {
		return idx
	}
	if len(b.module.IntConsts) >= math.MaxUint16 {
		b.errors = append(b.errors, fmt.Errorf("%w: integer pool full", ErrModuleTooLarge))
		return 0
	}
	idx := uint16(len(b.module.IntConsts))
	b.module.IntConsts = append(b.module.IntConsts, v)
	b.intConstMap[v] = idx
	return idx
}

// AddStrConstant interns s in the string pool and returns its index.
func (b *Builder) AddStrConstant(s string) uint16 {
	if idx, ok := b.strConstMap[s]; ok {
		return idx
	}
	if len(b.module.StrConsts) >= math.MaxUint16 {
		b.errors = append(b.errors, fmt.Errorf("%w: string pool full", ErrModuleTooLarge))
		return 0
	}
	idx := uint16(len(b.module.StrConsts))
	b.module.StrConsts = append(b.module.StrConsts, []byte(s))
	b.strConstMap[s] = idx
	return idx
}

// ReserveVars makes sure at least nbInt integer and nbStr string slots exist.
func (b *Builder) ReserveVars(nbInt, nbStr uint16) {
	b.module.Header.NbInt = max(b.module.Header.NbInt, nbInt)
	b.module.Header.NbStr = max(b.module.Header.NbStr, nbStr)
}

// Emit appends an argument-free instruction and returns its offset.
func (b *Builder) Emit(op Opcode) int {
	if op.HasArg() {
		b.errors = append(b.errors, fmt.Errorf("%s requires an operand", op))
	}
	offset := len(b.module.Code)
	b.module.Code = append(b.module.Code, byte(op))
	return offset
}

// EmitArg appends an instruction with a 16-bit operand and returns its
// offset. Variable slots used by the instruction are reserved.
func (b *Builder) EmitArg(op Opcode, arg uint16) int {
	if !op.HasArg() {
		b.errors = append(b.errors, fmt.Errorf("%s takes no operand", op))
	}
	switch GetOpcodeInfo(op).Operand {
	case OperandIntSlot:
		b.ReserveVars(satAdd(arg), 0)
	case OperandStrSlot:
		b.ReserveVars(0, satAdd(arg))
	}
	offset := len(b.module.Code)
	b.module.Code = append(b.module.Code, byte(op), byte(arg), byte(arg>>8))
	return offset
}

// EmitIntConstant emits load_const_int for v.
func (b *Builder) EmitIntConstant(v int32) int {
	return b.EmitArg(OpLoadConstInt, b.AddIntConstant(v))
}

// EmitStrConstant emits load_const_str for s.
func (b *Builder) EmitStrConstant(s string) int {
	return b.EmitArg(OpLoadConstStr, b.AddStrConstant(s))
}

// EmitJump emits a jump with a placeholder target and returns the offset of
// the jump instruction for a later PatchJump.
func (b *Builder) EmitJump(op Opcode) int {
	if !op.IsJump() {
		b.errors = append(b.errors, fmt.Errorf("%s is not a jump", op))
	}
	offset := b.EmitArg(op, jumpPlaceholder)
	b.pending[offset] = true
	return offset
}

// PatchJump points the jump at offset to the current end of code.
func (b *Builder) PatchJump(offset int) {
	b.PatchJumpTo(offset, b.CurrentOffset())
}

// PatchJumpTo points the jump at offset to target.
func (b *Builder) PatchJumpTo(offset, target int) {
	code := b.module.Code
	if offset < 0 || offset+2 >= len(code) || !Opcode(code[offset]).IsJump() {
		b.errors = append(b.errors, fmt.Errorf("no jump at offset %d", offset))
		return
	}
	if target < 0 || target > math.MaxUint16 {
		b.errors = append(b.errors, fmt.Errorf("%w: jump target %d", ErrModuleTooLarge, target))
		return
	}
	code[offset+1] = byte(target)
	code[offset+2] = byte(target >> 8)
	delete(b.pending, offset)
}

// CurrentOffset returns the offset the next instruction will occupy.
func (b *Builder) CurrentOffset() int {
	return len(b.module.Code)
}

// Module finishes the build. It fails if any emit failed, a jump was never
// patched, or a section does not fit the format.
func (b *Builder) Module() (*Module, error) {
	errs := append([]error(nil), b.errors...)
	for offset := range b.pending {
		errs = append(errs, fmt.Errorf("jump at offset %d was never patched", offset))
	}
	if len(b.module.Code) > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("%w: code is %d bytes", ErrModuleTooLarge, len(b.module.Code)))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	m := &Module{
		Header:    b.module.Header,
		IntConsts: slices.Clone(b.module.IntConsts),
		StrConsts: slices.Clone(b.module.StrConsts),
		Code:      slices.Clone(b.module.Code),
	}
	m.Header.CodeLength = uint16(len(m.Code))
	m.Header.NbConstInt = uint16(len(m.IntConsts))
	m.Header.NbConstStr = uint16(len(m.StrConsts))
	return m, nil
}

// Encode finishes the build and serializes the module.
func (b *Builder) Encode() ([]byte, error) {
	m, err := b.Module()
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

func satAdd(slot uint16) uint16 {
	if slot == math.MaxUint16 {
		return slot
	}
	return slot + 1
}
