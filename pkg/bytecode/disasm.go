package bytecode

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// Instructions decodes code lazily from left to right. Decoding stops at the
// first error, which is yielded as a DecodeError.
func Instructions(code []byte) iter.Seq2[Instruction, error] {
	return func(yield func(Instruction, error) bool) {
		offset := 0
		for offset < len(code) {
			in, err := DecodeAt(code, offset)
			if err != nil {
				yield(Instruction{}, err)
				return
			}
			if !yield(in, nil) {
				return
			}
			offset = in.Next()
		}
	}
}

// InstructionCount returns the number of instructions in code.
func InstructionCount(code []byte) (int, error) {
	count := 0
	for _, err := range Instructions(code) {
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListingOptions selects the sections of a module listing.
type ListingOptions struct {
	Header      bool
	Constants   bool
	Disassembly bool
}

// FullListing prints every section.
var FullListing = ListingOptions{Header: true, Constants: true, Disassembly: true}

// Disassemble returns the full listing of the module. On a decode error the
// listing up to the failing instruction is returned along with the error.
func (m *Module) Disassemble() (string, error) {
	var sb strings.Builder
	err := m.WriteListing(&sb, FullListing)
	return sb.String(), err
}

// WriteListing writes the diagnostic dump of the module to w.
func (m *Module) WriteListing(w io.Writer, opts ListingOptions) error {
	var sb strings.Builder

	if opts.Header {
		fmt.Fprintf(&sb, "code_length = %d\n", m.Header.CodeLength)
		fmt.Fprintf(&sb, "nb_int = %d\n", m.Header.NbInt)
		fmt.Fprintf(&sb, "nb_str = %d\n", m.Header.NbStr)
		fmt.Fprintf(&sb, "nb_const_int = %d\n", m.Header.NbConstInt)
		fmt.Fprintf(&sb, "nb_const_str = %d\n", m.Header.NbConstStr)
	}

	if opts.Constants {
		for i, v := range m.IntConsts {
			fmt.Fprintf(&sb, "const_int[%d] = %d\n", i, v)
		}
		for i, s := range m.StrConsts {
			display := displayString(s, 60)
			display = strings.ReplaceAll(display, "\n", "\\n")
			display = strings.ReplaceAll(display, "\t", "\\t")
			fmt.Fprintf(&sb, "const_str[%d] = %s\n", i, display)
		}
	}

	var decodeErr error
	if opts.Disassembly {
		for in, err := range Instructions(m.Code) {
			if err != nil {
				fmt.Fprintf(&sb, "%4d: <%v>\n", errOffset(err), err)
				decodeErr = err
				break
			}
			sb.WriteString(m.formatInstruction(in))
			sb.WriteByte('\n')
		}
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return ioError(fmt.Errorf("failed to write listing: %w", err))
	}
	return decodeErr
}

// DisassembleToLines returns one formatted line per instruction.
func (m *Module) DisassembleToLines() ([]string, error) {
	var lines []string
	for in, err := range Instructions(m.Code) {
		if err != nil {
			return lines, err
		}
		lines = append(lines, m.formatInstruction(in))
	}
	return lines, nil
}

// formatInstruction renders "OFFSET: mnemonic [operand]" with a comment
// naming the constant or target the operand refers to.
func (m *Module) formatInstruction(in Instruction) string {
	text := fmt.Sprintf("%4d: %s", in.Offset, in)
	if !in.Op.HasArg() {
		return text
	}

	var note string
	switch GetOpcodeInfo(in.Op).Operand {
	case OperandIntConst:
		if v, err := m.IntConst(in.Arg); err == nil {
			note = strconv.Itoa(int(v))
		} else {
			note = "<out of range>"
		}
	case OperandStrConst:
		if s, err := m.StrConst(in.Arg); err == nil {
			note = strconv.Quote(displayString(s, 20))
		} else {
			note = "<out of range>"
		}
	case OperandIntSlot:
		if in.Arg >= m.Header.NbInt {
			note = "<out of range>"
		}
	case OperandStrSlot:
		if in.Arg >= m.Header.NbStr {
			note = "<out of range>"
		}
	case OperandTarget:
		if int(in.Arg) >= len(m.Code) {
			note = "-> <outside code>"
		}
	}
	if note == "" {
		return text
	}
	return fmt.Sprintf("%-28s ; %s", text, note)
}

// displayString truncates long strings for readability.
func displayString(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

func errOffset(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Offset >= 0 {
		return e.Offset
	}
	return 0
}
