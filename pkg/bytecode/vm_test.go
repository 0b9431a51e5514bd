package bytecode

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/chazu/bacvm/pkg/strobj"
)

// assertNoLeaks checks that a finished run released every string.
func assertNoLeaks(t *testing.T, r runResult) {
	t.Helper()
	if live := r.arena.Live(); live != 0 {
		t.Errorf("arena has %d live strings after run", live)
	}
}

// ============ Examples ============

func TestVMSubtractAndPrint(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(7)
	b.EmitIntConstant(3)
	b.Emit(OpSubInt)
	b.Emit(OpPrintInt)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatalf("Run() error = %v", r.err)
	}
	if r.out != "4 " {
		t.Errorf("output = %q, want %q", r.out, "4 ")
	}
}

func TestVMConcatAndPrint(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("foo")
	b.EmitStrConstant("bar")
	b.Emit(OpCatStr)
	b.Emit(OpPrintStr)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatalf("Run() error = %v", r.err)
	}
	if r.out != "foobar " {
		t.Errorf("output = %q, want %q", r.out, "foobar ")
	}
	assertNoLeaks(t, r)
}

func TestVMJmpzSkips(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(0)
	skip := b.EmitJump(OpJmpz)
	b.EmitIntConstant(1)
	b.Emit(OpPrintInt)
	b.PatchJump(skip)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatalf("Run() error = %v", r.err)
	}
	if r.out != "" {
		t.Errorf("output = %q, want nothing", r.out)
	}
	if r.vm.IntStackDepth() != 0 {
		t.Errorf("int stack depth = %d, want 0", r.vm.IntStackDepth())
	}
}

func TestVMJmpzFallsThrough(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(5)
	skip := b.EmitJump(OpJmpz)
	b.EmitIntConstant(1)
	b.Emit(OpPrintInt)
	b.PatchJump(skip)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil || r.out != "1 " {
		t.Errorf("Run() = %q, %v, want %q", r.out, r.err, "1 ")
	}
}

func TestVMEqIntGuardsPrint(t *testing.T) {
	tests := []struct {
		name string
		a, b int32
		want string
	}{
		{"equal falls through", 5, 5, "skipped after "},
		{"unequal jumps", 5, 6, "after "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			b.EmitIntConstant(tt.a)
			b.EmitIntConstant(tt.b)
			b.Emit(OpEqInt)
			skip := b.EmitJump(OpJmpz)
			b.EmitStrConstant("skipped")
			b.Emit(OpPrintStr)
			b.PatchJump(skip)
			b.EmitStrConstant("after")
			b.Emit(OpPrintStr)
			b.Emit(OpEnd)

			r := runModule(t, mustBuild(t, b), "")
			if r.err != nil {
				t.Fatalf("Run() error = %v", r.err)
			}
			if r.out != tt.want {
				t.Errorf("output = %q, want %q", r.out, tt.want)
			}
			if r.vm.IntStackDepth() != 0 {
				t.Errorf("int stack depth = %d, want 0", r.vm.IntStackDepth())
			}
			assertNoLeaks(t, r)
		})
	}
}

func TestVMUnderflowProducesNoOutput(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpPrintInt), byte(OpEnd))
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrStackUnderflow) {
		t.Fatalf("Run() error = %v, want RuntimeError underflow", r.err)
	}
	if r.out != "" {
		t.Errorf("output = %q, want nothing", r.out)
	}
	var e *Error
	errors.As(r.err, &e)
	if e.Offset != 0 || e.Op != OpPrintInt || !e.HasOp {
		t.Errorf("error = %+v", e)
	}
}

func TestVMUnknownOpcode(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpPrintln), 0xFF)
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrUnknownOpcode) {
		t.Fatalf("Run() error = %v, want RuntimeError unknown opcode", r.err)
	}
	// Output written before the failure is still flushed.
	if r.out != "\n" {
		t.Errorf("output = %q", r.out)
	}
}

func TestVMHasArgNotExecutable(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpHasArg), byte(OpEnd))
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrNotExecutable) {
		t.Fatalf("Run() error = %v", r.err)
	}
	if !errors.Is(r.err, ErrUnknownOpcode) {
		t.Error("ErrNotExecutable should match ErrUnknownOpcode")
	}
}

func TestVMTruncatedOperand(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpLoadInt), 0)
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrTruncatedInstruction) {
		t.Errorf("Run() error = %v", r.err)
	}
}

// ============ Arithmetic ============

func TestVMIntArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int32
		op   Opcode
		want string
	}{
		{"add", 2, 3, OpAddInt, "5 "},
		{"sub", 2, 3, OpSubInt, "-1 "},
		{"mul", -4, 3, OpMulInt, "-12 "},
		{"div", 7, 2, OpDivInt, "3 "},
		{"div truncates toward zero", -7, 2, OpDivInt, "-3 "},
		{"eq true", 4, 4, OpEqInt, "1 "},
		{"eq false", 4, 5, OpEqInt, "0 "},
		{"add wraps", math.MaxInt32, 1, OpAddInt, "-2147483648 "},
		{"mul wraps", 1 << 30, 4, OpMulInt, "0 "},
		{"div min by -1", math.MinInt32, -1, OpDivInt, "-2147483648 "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			b.EmitIntConstant(tt.a)
			b.EmitIntConstant(tt.b)
			b.Emit(tt.op)
			b.Emit(OpPrintInt)
			b.Emit(OpEnd)
			r := runModule(t, mustBuild(t, b), "")
			if r.err != nil {
				t.Fatalf("Run() error = %v", r.err)
			}
			if r.out != tt.want {
				t.Errorf("output = %q, want %q", r.out, tt.want)
			}
		})
	}
}

func TestVMDivisionByZero(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(1)
	b.EmitIntConstant(0)
	b.Emit(OpDivInt)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if !isKind(r.err, KindRuntime, ErrDivisionByZero) {
		t.Errorf("Run() error = %v", r.err)
	}
}

func TestVMBinaryUnderflowNeedsTwo(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(1)
	b.Emit(OpAddInt)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if !isKind(r.err, KindRuntime, ErrStackUnderflow) {
		t.Errorf("Run() error = %v", r.err)
	}
}

// ============ Variables ============

func TestVMIntVariables(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpLoadInt, 1) // never written
	b.Emit(OpPrintInt)
	b.EmitIntConstant(42)
	b.EmitArg(OpSaveInt, 0)
	b.EmitArg(OpLoadInt, 0)
	b.EmitArg(OpLoadInt, 0)
	b.Emit(OpAddInt)
	b.Emit(OpPrintInt)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out != "0 84 " {
		t.Errorf("output = %q", r.out)
	}
}

func TestVMStringVariableShared(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("abc")
	b.EmitArg(OpSaveStr, 0)
	// Printing a loaded variable must not destroy it.
	b.EmitArg(OpLoadStr, 0)
	b.Emit(OpPrintStr)
	b.EmitArg(OpLoadStr, 0)
	b.EmitArg(OpLoadStr, 0)
	b.Emit(OpCatStr)
	b.Emit(OpPrintStr)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out != "abc abcabc " {
		t.Errorf("output = %q", r.out)
	}
	assertNoLeaks(t, r)
}

func TestVMSaveStrReleasesPrevious(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("one")
	b.EmitStrConstant("two")
	b.Emit(OpCatStr)
	b.EmitArg(OpSaveStr, 0)
	b.EmitStrConstant("three")
	b.EmitStrConstant("four")
	b.Emit(OpCatStr)
	b.EmitArg(OpSaveStr, 0)
	b.Emit(OpEnd)
	m := mustBuild(t, b)

	r := runModule(t, m, "")
	if r.err != nil {
		t.Fatal(r.err)
	}
	st := r.arena.Stats()
	if st.Allocs != st.Frees {
		t.Errorf("allocs = %d, frees = %d", st.Allocs, st.Frees)
	}
	assertNoLeaks(t, r)
}

func TestVMEmptyStringSlot(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpLoadStr, 0)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if !isKind(r.err, KindRuntime, ErrEmptySlot) {
		t.Errorf("Run() error = %v", r.err)
	}
}

func TestVMIndexOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"load_int", []byte{byte(OpLoadInt), 1, 0}},
		{"save_int", []byte{byte(OpLoadConstInt), 0, 0, byte(OpSaveInt), 1, 0}},
		{"load_str", []byte{byte(OpLoadStr), 1, 0}},
		{"input_int", []byte{byte(OpInputInt), 1, 0}},
		{"input_str", []byte{byte(OpInputStr), 1, 0}},
		{"load_const_int", []byte{byte(OpLoadConstInt), 1, 0}},
		{"load_const_str", []byte{byte(OpLoadConstStr), 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := moduleWithCode(1, 1, []int32{9}, []string{"s"}, append(tt.code, byte(OpEnd))...)
			r := runModule(t, m, "5\n")
			if !isKind(r.err, KindRuntime, ErrIndexOutOfRange) {
				t.Errorf("Run() error = %v", r.err)
			}
			assertNoLeaks(t, r)
		})
	}
}

// ============ Strings ============

func TestVMEqStr(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"x", "x", "1 "},
		{"x", "y", "0 "},
		{"", "", "1 "},
		{"ab", "abc", "0 "},
	}
	for _, tt := range tests {
		b := NewBuilder()
		b.EmitStrConstant(tt.a)
		b.EmitStrConstant(tt.b)
		b.Emit(OpEqStr)
		b.Emit(OpPrintInt)
		b.Emit(OpEnd)
		r := runModule(t, mustBuild(t, b), "")
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.out != tt.want {
			t.Errorf("eq_str(%q, %q) printed %q, want %q", tt.a, tt.b, r.out, tt.want)
		}
		assertNoLeaks(t, r)
	}
}

func TestVMCatStrUnderflowDoesNotLeak(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("alone")
	b.Emit(OpCatStr)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if !isKind(r.err, KindRuntime, ErrStackUnderflow) {
		t.Fatalf("Run() error = %v", r.err)
	}
	assertNoLeaks(t, r)
}

// ============ Input ============

func TestVMInputInt(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42\n", "42 "},
		{"  -17abc\n", "-17 "},
		{"+8", "8 "},
		{"abc\n", "0 "},
		{"\n", "0 "},
		{"99999999999\n", "2147483647 "},
		{"-99999999999\n", "-2147483648 "},
	}
	for _, tt := range tests {
		b := NewBuilder()
		b.EmitArg(OpInputInt, 0)
		b.EmitArg(OpLoadInt, 0)
		b.Emit(OpPrintInt)
		b.Emit(OpEnd)
		r := runModule(t, mustBuild(t, b), tt.input)
		if r.err != nil {
			t.Fatalf("input %q: %v", tt.input, r.err)
		}
		if r.out != tt.want {
			t.Errorf("input %q printed %q, want %q", tt.input, r.out, tt.want)
		}
	}
}

func TestVMInputStr(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpInputStr, 0)
	b.EmitArg(OpInputStr, 0)
	b.EmitArg(OpLoadStr, 0)
	b.Emit(OpPrintStr)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "first\nsecond\n")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out != "second " {
		t.Errorf("output = %q", r.out)
	}
	assertNoLeaks(t, r)
}

func TestVMInputStrTruncates(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpInputStr, 0)
	b.EmitArg(OpInputStr, 1)
	b.Emit(OpEnd)
	m := mustBuild(t, b)

	long := strings.Repeat("x", 150)
	var out bytes.Buffer
	vm := NewVM(m, WithInput(strings.NewReader(long+"\nnext\n")), WithOutput(&out))
	for !vm.Halted() {
		if err := vm.Step(); err != nil {
			t.Fatal(err)
		}
	}
	got, err := vm.StrVar(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 99 {
		t.Errorf("len(var 0) = %d, want 99", len(got))
	}
	// The rest of the long line is discarded, not read as the next line.
	if next, _ := vm.StrVar(1); next != "next" {
		t.Errorf("var 1 = %q, want %q", next, "next")
	}
	if vm.Stats().TruncatedInputs != 1 {
		t.Errorf("TruncatedInputs = %d", vm.Stats().TruncatedInputs)
	}
	if err := vm.Close(); err != nil {
		t.Fatal(err)
	}
	if vm.Arena().Live() != 0 {
		t.Errorf("live = %d", vm.Arena().Live())
	}
}

func TestVMInputLineLimitOption(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpInputStr, 0)
	b.EmitArg(OpLoadStr, 0)
	b.Emit(OpPrintStr)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "abcdef\n", WithLineLimit(3))
	if r.err != nil || r.out != "abc " {
		t.Errorf("Run() = %q, %v", r.out, r.err)
	}
}

func TestVMInputExhausted(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpInputInt, 0)
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if !isKind(r.err, KindIO, ErrInputExhausted) {
		t.Errorf("Run() error = %v, want IoError input exhausted", r.err)
	}
}

type probeReader struct {
	out  *bytes.Buffer
	seen *string
	r    io.Reader
}

func (p probeReader) Read(b []byte) (int, error) {
	if *p.seen == "" {
		*p.seen = p.out.String()
	}
	return p.r.Read(b)
}

func TestVMFlushesBeforeInput(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("Name?")
	b.Emit(OpPrintStr)
	b.EmitArg(OpInputStr, 0)
	b.Emit(OpEnd)

	var out bytes.Buffer
	var seen string
	in := probeReader{out: &out, seen: &seen, r: strings.NewReader("bob\n")}
	vm := NewVM(mustBuild(t, b), WithInput(in), WithOutput(&out))
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if seen != "Name? " {
		t.Errorf("output visible at first read = %q, want prompt", seen)
	}
}

// ============ Control flow ============

func TestVMCountdownLoop(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(3)
	b.EmitArg(OpSaveInt, 0)
	top := b.CurrentOffset()
	b.EmitArg(OpLoadInt, 0)
	exit := b.EmitJump(OpJmpz)
	b.EmitArg(OpLoadInt, 0)
	b.Emit(OpPrintInt)
	b.EmitArg(OpLoadInt, 0)
	b.EmitIntConstant(1)
	b.Emit(OpSubInt)
	b.EmitArg(OpSaveInt, 0)
	back := b.EmitJump(OpJmp)
	b.PatchJumpTo(back, top)
	b.PatchJump(exit)
	b.Emit(OpPrintln)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out != "3 2 1 \n" {
		t.Errorf("output = %q", r.out)
	}
}

func TestVMJumpOutsideCode(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpJmp), 100, 0)
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrIPOutOfRange) {
		t.Errorf("Run() error = %v", r.err)
	}
}

func TestVMRunsOffEnd(t *testing.T) {
	m := moduleWithCode(0, 0, nil, nil, byte(OpPrintln))
	r := runModule(t, m, "")
	if !isKind(r.err, KindRuntime, ErrIPOutOfRange) {
		t.Errorf("Run() error = %v", r.err)
	}
}

func TestVMStackOverflow(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		b := NewBuilder()
		for i := 0; i < 3; i++ {
			b.EmitIntConstant(1)
		}
		b.Emit(OpEnd)
		r := runModule(t, mustBuild(t, b), "", WithStackCapacity(2))
		if !isKind(r.err, KindRuntime, ErrStackOverflow) {
			t.Errorf("Run() error = %v", r.err)
		}
	})
	t.Run("str", func(t *testing.T) {
		b := NewBuilder()
		for i := 0; i < 3; i++ {
			b.EmitStrConstant("s")
		}
		b.Emit(OpEnd)
		r := runModule(t, mustBuild(t, b), "", WithStackCapacity(2))
		if !isKind(r.err, KindRuntime, ErrStackOverflow) {
			t.Errorf("Run() error = %v", r.err)
		}
		assertNoLeaks(t, r)
	})
	t.Run("eq_str result", func(t *testing.T) {
		b := NewBuilder()
		b.EmitIntConstant(1)
		b.EmitIntConstant(2)
		b.EmitStrConstant("a")
		b.EmitStrConstant("b")
		b.Emit(OpEqStr)
		b.Emit(OpEnd)
		r := runModule(t, mustBuild(t, b), "", WithStackCapacity(2))
		if !isKind(r.err, KindRuntime, ErrStackOverflow) {
			t.Fatalf("Run() error = %v", r.err)
		}
		if r.vm.StrStackDepth() != 0 {
			t.Errorf("strings left on stack after teardown: %d", r.vm.StrStackDepth())
		}
		assertNoLeaks(t, r)
	})
}

func TestVMDefaultStackCapacity(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < DefaultStackCapacity; i++ {
		b.EmitIntConstant(1)
	}
	b.Emit(OpEnd)
	r := runModule(t, mustBuild(t, b), "")
	if r.err != nil {
		t.Fatalf("filling the stack exactly should succeed: %v", r.err)
	}
	if r.vm.Stats().MaxIntDepth != DefaultStackCapacity {
		t.Errorf("MaxIntDepth = %d", r.vm.Stats().MaxIntDepth)
	}
}

func TestVMStackCapacityClamped(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(1)
	b.Emit(OpPrintInt)
	b.Emit(OpEnd)

	r := runModule(t, mustBuild(t, b), "", WithStackCapacity(math.MaxInt))
	if r.err != nil || r.out != "1 " {
		t.Fatalf("Run() = %q, %v", r.out, r.err)
	}
	if got := cap(r.vm.intStack); got != MaxStackCapacity {
		t.Errorf("int stack capacity = %d, want %d", got, MaxStackCapacity)
	}

	// Non-positive values keep the default.
	r = runModule(t, mustBuild(t, b), "", WithStackCapacity(-3))
	if got := cap(r.vm.intStack); got != DefaultStackCapacity {
		t.Errorf("int stack capacity = %d, want %d", got, DefaultStackCapacity)
	}
}

// ============ Lifecycle ============

func TestVMStepsMatchDisassembly(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("a")
	b.EmitStrConstant("b")
	b.Emit(OpCatStr)
	b.EmitArg(OpSaveStr, 0)
	b.EmitIntConstant(2)
	b.Emit(OpPrintInt)
	b.Emit(OpPrintln)
	b.Emit(OpEnd)
	m := mustBuild(t, b)

	n, err := InstructionCount(m.Code)
	if err != nil {
		t.Fatal(err)
	}
	r := runModule(t, m, "")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.vm.Steps() != uint64(n) {
		t.Errorf("Steps() = %d, disassembly has %d instructions", r.vm.Steps(), n)
	}
}

func TestVMTraceDoesNotChangeOutput(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(1)
	b.Emit(OpPrintInt)
	b.Emit(OpEnd)
	m := mustBuild(t, b)

	plain := runModule(t, m, "")
	traced := runModule(t, m, "", WithTrace(true))
	if plain.out != traced.out || traced.err != nil {
		t.Errorf("trace changed the run: %q vs %q (%v)", plain.out, traced.out, traced.err)
	}
}

func TestVMCloseIdempotent(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant("s")
	b.Emit(OpEnd)
	vm := NewVM(mustBuild(t, b), WithOutput(io.Discard), WithInput(strings.NewReader("")))
	if err := vm.Step(); err != nil {
		t.Fatal(err)
	}
	if err := vm.Close(); err != nil {
		t.Fatal(err)
	}
	if err := vm.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if vm.Arena().Live() != 0 {
		t.Errorf("live = %d", vm.Arena().Live())
	}
	if err := vm.Step(); !errors.Is(err, ErrVMClosed) {
		t.Errorf("Step() after Close = %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestVMWriteFailure(t *testing.T) {
	b := NewBuilder()
	b.EmitIntConstant(1)
	b.Emit(OpPrintInt)
	b.Emit(OpEnd)
	vm := NewVM(mustBuild(t, b), WithOutput(failWriter{}), WithInput(strings.NewReader("")))
	err := vm.Run()
	if k, _ := KindOf(err); k != KindIO {
		t.Errorf("Run() error = %v, want IoError", err)
	}
}

func TestVMPrintStrWriteFailure(t *testing.T) {
	b := NewBuilder()
	b.EmitStrConstant(strings.Repeat("x", 8192))
	b.Emit(OpPrintStr)
	b.Emit(OpEnd)
	arena := strobj.NewArena()
	vm := NewVM(mustBuild(t, b), WithOutput(failWriter{}), WithInput(strings.NewReader("")), WithArena(arena))
	err := vm.Run()
	if k, _ := KindOf(err); k != KindIO {
		t.Errorf("Run() error = %v, want IoError", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Op != OpPrintStr {
		t.Errorf("error op = %s, want print_str", e.Op)
	}
	if live := arena.Live(); live != 0 {
		t.Errorf("arena has %d live strings after run", live)
	}
}

func TestParseLeadingInt(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"0", 0},
		{"123", 123},
		{"\t 5", 5},
		{"-0", 0},
		{"--1", 0},
		{"+-1", 0},
		{"12 34", 12},
		{"2147483647", math.MaxInt32},
		{"2147483648", math.MaxInt32},
		{"-2147483648", math.MinInt32},
		{"-2147483649", math.MinInt32},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseLeadingInt([]byte(tt.in)); got != tt.want {
			t.Errorf("parseLeadingInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
