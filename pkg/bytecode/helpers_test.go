package bytecode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/bacvm/pkg/strobj"
)

// isKind reports whether err is an *Error of kind k wrapping target.
func isKind(err error, k Kind, target error) bool {
	got, ok := KindOf(err)
	return ok && got == k && errors.Is(err, target)
}

// moduleWithCode builds a module around raw code bytes.
func moduleWithCode(nbInt, nbStr uint16, ints []int32, strs []string, code ...byte) *Module {
	m := &Module{IntConsts: ints, Code: code}
	for _, s := range strs {
		m.StrConsts = append(m.StrConsts, []byte(s))
	}
	m.Header = Header{
		CodeLength: uint16(len(code)),
		NbInt:      nbInt,
		NbStr:      nbStr,
		NbConstInt: uint16(len(ints)),
		NbConstStr: uint16(len(strs)),
	}
	return m
}

// mustBuild finishes a builder or fails the test.
func mustBuild(t testing.TB, b *Builder) *Module {
	t.Helper()
	m, err := b.Module()
	if err != nil {
		t.Fatalf("Builder.Module() error = %v", err)
	}
	return m
}

type runResult struct {
	out   string
	err   error
	vm    *VM
	arena *strobj.Arena
}

// runModule executes m with the given input and captures its output.
func runModule(t testing.TB, m *Module, input string, opts ...Option) runResult {
	t.Helper()
	var out bytes.Buffer
	arena := strobj.NewArena()
	opts = append([]Option{
		WithInput(strings.NewReader(input)),
		WithOutput(&out),
		WithArena(arena),
	}, opts...)
	vm := NewVM(m, opts...)
	err := vm.Run()
	return runResult{out: out.String(), err: err, vm: vm, arena: arena}
}
