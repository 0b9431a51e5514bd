package bytecode

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Every failure is fatal to the run that hit it.
type Kind int

const (
	KindUsage   Kind = iota + 1 // wrong command-line arity
	KindIO                      // open/read/write failure, truncated module
	KindDecode                  // unknown opcode or truncated operand while disassembling
	KindRuntime                 // any failure while executing
)

// String returns the user-visible name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "UsageError"
	case KindIO:
		return "IoError"
	case KindDecode:
		return "DecodeError"
	case KindRuntime:
		return "RuntimeError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrUsage                = errors.New("usage")
	ErrTruncatedInput       = errors.New("truncated input")
	ErrTruncatedInstruction = errors.New("truncated instruction")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrEmptySlot            = errors.New("read of unset string variable")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrIPOutOfRange         = errors.New("instruction pointer outside code")
	ErrInputExhausted       = errors.New("input exhausted")
	ErrModuleTooLarge       = errors.New("module section too large")

	// ErrNotExecutable marks the operand sentinel opcode. It has a mnemonic
	// but no behaviour, so it also matches ErrUnknownOpcode.
	ErrNotExecutable = fmt.Errorf("%w: sentinel is not executable", ErrUnknownOpcode)
)

// Error is the error type returned by the loader, disassembler and VM.
type Error struct {
	Kind   Kind
	Offset int    // code offset of the failing instruction, -1 if none
	Op     Opcode // failing opcode, meaningful when HasOp is set
	HasOp  bool
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.HasOp {
		msg += fmt.Sprintf(" (%s)", e.Op)
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err if it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func ioError(err error) *Error {
	return &Error{Kind: KindIO, Offset: -1, Err: err}
}

func decodeError(offset int, err error) *Error {
	return &Error{Kind: KindDecode, Offset: offset, Err: err}
}
