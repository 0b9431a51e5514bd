package bytecode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/bacvm/pkg/strobj"
)

// DefaultStackCapacity is the fixed size of each operand stack.
const DefaultStackCapacity = 100

// MaxStackCapacity bounds each operand stack.
const MaxStackCapacity = math.MaxUint16

// ErrVMClosed is returned when stepping a VM that has been torn down.
var ErrVMClosed = errors.New("vm is closed")

// Option configures a VM.
type Option func(*VM)

// WithInput sets the source read by input_int and input_str.
func WithInput(r io.Reader) Option {
	return func(vm *VM) {
		if br, ok := r.(*bufio.Reader); ok {
			vm.in = br
		} else {
			vm.in = bufio.NewReader(r)
		}
	}
}

// WithOutput sets the destination of print instructions.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		vm.out = bufio.NewWriter(w)
	}
}

// WithStackCapacity sets the capacity of both operand stacks. Values above
// MaxStackCapacity are clamped to it. Non-positive values keep the default;
// callers taking the capacity from users should validate it first.
func WithStackCapacity(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.capacity = min(n, MaxStackCapacity)
		}
	}
}

// WithLineLimit sets how many bytes of an input line are kept.
func WithLineLimit(n int) Option {
	return func(vm *VM) {
		if n >= 0 {
			vm.lineLimit = n
		}
	}
}

// WithTrace logs every executed instruction.
func WithTrace(on bool) Option {
	return func(vm *VM) {
		vm.Trace = on
	}
}

// WithLogger replaces the VM logger.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) {
		vm.log = log
	}
}

// WithArena makes the VM allocate its strings in a.
func WithArena(a *strobj.Arena) Option {
	return func(vm *VM) {
		vm.arena = a
	}
}

// Stats is a snapshot of execution counters.
type Stats struct {
	Steps           uint64 // instructions executed
	MaxIntDepth     int    // deepest integer stack seen
	MaxStrDepth     int    // deepest string stack seen
	TruncatedInputs int    // input lines cut to the line limit
	Arena           strobj.Stats
}

// VM executes one module. It holds all runtime state of a single execution;
// separate VMs share nothing but the read-only module.
type VM struct {
	module *Module
	ip     int // Instruction pointer

	intStack []int32 // Integer operand stack
	isp      int     // Integer stack pointer (next free slot)
	strStack []strobj.Handle
	ssp      int

	intVars   []int32
	strVars   []strobj.Handle // nil handle = never written
	strConsts []strobj.Handle // string pool, pinned for the life of the VM

	arena     *strobj.Arena
	in        *bufio.Reader
	out       *bufio.Writer
	capacity  int
	lineLimit int
	log       commonlog.Logger

	steps           uint64
	maxIntDepth     int
	maxStrDepth     int
	truncatedInputs int
	halted          bool
	closed          bool

	// Debug/trace mode
	Trace bool
}

// NewVM creates the runtime state for executing m.
func NewVM(m *Module, opts ...Option) *VM {
	vm := &VM{
		module:    m,
		capacity:  DefaultStackCapacity,
		lineLimit: strobj.LineLimit,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.arena == nil {
		vm.arena = strobj.NewArena()
	}
	if vm.in == nil {
		vm.in = bufio.NewReader(os.Stdin)
	}
	if vm.out == nil {
		vm.out = bufio.NewWriter(os.Stdout)
	}
	if vm.log == nil {
		vm.log = commonlog.GetLogger("bacvm.vm")
	}

	vm.intStack = make([]int32, vm.capacity)
	vm.strStack = make([]strobj.Handle, vm.capacity)
	vm.intVars = make([]int32, m.Header.NbInt)
	vm.strVars = make([]strobj.Handle, m.Header.NbStr)
	vm.strConsts = make([]strobj.Handle, len(m.StrConsts))
	for i, s := range m.StrConsts {
		vm.strConsts[i] = vm.arena.FromBytes(s)
	}
	return vm
}

// Run executes until end or the first error, then tears the VM down.
func (vm *VM) Run() (err error) {
	defer func() {
		if cerr := vm.Close(); err == nil {
			err = cerr
		}
	}()

	for !vm.halted {
		if err := vm.Step(); err != nil {
			return err
		}
	}
	vm.log.Debugf("halted after %d steps", vm.steps)
	return nil
}

// Step decodes and executes one instruction. The instruction pointer is
// advanced past the instruction before it takes effect, so jumps overwrite it.
func (vm *VM) Step() error {
	if vm.closed {
		return &Error{Kind: KindRuntime, Offset: vm.ip, Err: ErrVMClosed}
	}
	if vm.halted {
		return nil
	}

	in, err := decode(vm.module.Code, vm.ip)
	if err != nil {
		return &Error{Kind: KindRuntime, Offset: vm.ip, Err: err}
	}
	vm.ip = in.Next()
	vm.steps++

	if vm.Trace {
		vm.log.Infof("[%04d] %-20s int=%d str=%d", in.Offset, in, vm.isp, vm.ssp)
	}

	if err := vm.execute(in); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return &Error{Kind: KindRuntime, Offset: in.Offset, Op: in.Op, HasOp: true, Err: err}
	}

	if vm.isp > vm.maxIntDepth {
		vm.maxIntDepth = vm.isp
	}
	if vm.ssp > vm.maxStrDepth {
		vm.maxStrDepth = vm.ssp
	}
	return nil
}

func (vm *VM) execute(in Instruction) error {
	switch in.Op {
	case OpEnd:
		vm.halted = true

	// ============ Variables and constants ============
	case OpLoadInt:
		v, err := vm.intVar(in.Arg)
		if err != nil {
			return err
		}
		return vm.pushInt(v)

	case OpLoadStr:
		h, err := vm.strVar(in.Arg)
		if err != nil {
			return err
		}
		return vm.pushShared(h)

	case OpLoadConstInt:
		v, err := vm.module.IntConst(in.Arg)
		if err != nil {
			return err
		}
		return vm.pushInt(v)

	case OpLoadConstStr:
		if int(in.Arg) >= len(vm.strConsts) {
			return fmt.Errorf("%w: const_str[%d] of %d", ErrIndexOutOfRange, in.Arg, len(vm.strConsts))
		}
		return vm.pushShared(vm.strConsts[in.Arg])

	case OpSaveInt:
		if err := vm.checkIntSlot(in.Arg); err != nil {
			return err
		}
		v, err := vm.popInt()
		if err != nil {
			return err
		}
		vm.intVars[in.Arg] = v

	case OpSaveStr:
		if err := vm.checkStrSlot(in.Arg); err != nil {
			return err
		}
		h, err := vm.popStr()
		if err != nil {
			return err
		}
		return vm.storeStr(in.Arg, h)

	// ============ Input ============
	case OpInputInt:
		if err := vm.checkIntSlot(in.Arg); err != nil {
			return err
		}
		line, err := vm.readLine(in)
		if err != nil {
			return err
		}
		vm.intVars[in.Arg] = parseLeadingInt(line)

	case OpInputStr:
		if err := vm.checkStrSlot(in.Arg); err != nil {
			return err
		}
		line, err := vm.readLine(in)
		if err != nil {
			return err
		}
		return vm.storeStr(in.Arg, vm.arena.FromBytes(line))

	// ============ Output ============
	case OpPrintInt:
		v, err := vm.popInt()
		if err != nil {
			return err
		}
		if _, err := vm.out.WriteString(strconv.FormatInt(int64(v), 10)); err != nil {
			return vm.writeError(in, err)
		}
		if err := vm.out.WriteByte(' '); err != nil {
			return vm.writeError(in, err)
		}

	case OpPrintStr:
		h, err := vm.popStr()
		if err != nil {
			return err
		}
		b, err := vm.arena.Bytes(h)
		if err != nil {
			return err
		}
		_, werr := vm.out.Write(b)
		if werr == nil {
			werr = vm.out.WriteByte(' ')
		}
		if err := vm.arena.Release(h); err != nil {
			return err
		}
		if werr != nil {
			return vm.writeError(in, werr)
		}

	case OpPrintln:
		if err := vm.out.WriteByte('\n'); err != nil {
			return vm.writeError(in, err)
		}

	// ============ Arithmetic ============
	case OpAddInt, OpSubInt, OpMulInt, OpDivInt, OpEqInt:
		return vm.binaryInt(in.Op)

	// ============ Strings ============
	case OpCatStr:
		if vm.ssp < 2 {
			return fmt.Errorf("%w: cat_str needs 2 strings, have %d", ErrStackUnderflow, vm.ssp)
		}
		b, _ := vm.popStr()
		a, _ := vm.popStr()
		c, cerr := vm.arena.Concat(a, b)
		if err := errors.Join(vm.arena.Release(a), vm.arena.Release(b)); err != nil {
			if cerr == nil {
				vm.arena.Release(c)
			}
			return err
		}
		if cerr != nil {
			return cerr
		}
		vm.strStack[vm.ssp] = c
		vm.ssp++

	case OpEqStr:
		if vm.ssp < 2 {
			return fmt.Errorf("%w: eq_str needs 2 strings, have %d", ErrStackUnderflow, vm.ssp)
		}
		if vm.isp >= len(vm.intStack) {
			return fmt.Errorf("%w: integer stack full at %d", ErrStackOverflow, vm.isp)
		}
		b, _ := vm.popStr()
		a, _ := vm.popStr()
		eq, eerr := vm.arena.Equal(a, b)
		if err := errors.Join(eerr, vm.arena.Release(a), vm.arena.Release(b)); err != nil {
			return err
		}
		if eq {
			return vm.pushInt(1)
		}
		return vm.pushInt(0)

	// ============ Control flow ============
	case OpJmp:
		vm.ip = int(in.Arg)

	case OpJmpz:
		v, err := vm.popInt()
		if err != nil {
			return err
		}
		if v == 0 {
			vm.ip = int(in.Arg)
		}

	case OpHasArg:
		return ErrNotExecutable

	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

// binaryInt pops b then a and pushes a OP b.
func (vm *VM) binaryInt(op Opcode) error {
	if vm.isp < 2 {
		return fmt.Errorf("%w: %s needs 2 integers, have %d", ErrStackUnderflow, op, vm.isp)
	}
	b := vm.intStack[vm.isp-1]
	a := vm.intStack[vm.isp-2]

	var r int32
	switch op {
	case OpAddInt:
		r = a + b
	case OpSubInt:
		r = a - b
	case OpMulInt:
		r = a * b
	case OpDivInt:
		if b == 0 {
			return fmt.Errorf("%w: %d / 0", ErrDivisionByZero, a)
		}
		r = a / b
	case OpEqInt:
		if a == b {
			r = 1
		}
	}

	vm.isp--
	vm.intStack[vm.isp-1] = r
	return nil
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) pushInt(v int32) error {
	if vm.isp >= len(vm.intStack) {
		return fmt.Errorf("%w: integer stack full at %d", ErrStackOverflow, vm.isp)
	}
	vm.intStack[vm.isp] = v
	vm.isp++
	return nil
}

func (vm *VM) popInt() (int32, error) {
	if vm.isp == 0 {
		return 0, fmt.Errorf("%w: integer stack empty", ErrStackUnderflow)
	}
	vm.isp--
	return vm.intStack[vm.isp], nil
}

// pushShared pushes a second reference to an object that stays owned by a
// variable slot or the constant pool.
func (vm *VM) pushShared(h strobj.Handle) error {
	if vm.ssp >= len(vm.strStack) {
		return fmt.Errorf("%w: string stack full at %d", ErrStackOverflow, vm.ssp)
	}
	if err := vm.arena.Retain(h); err != nil {
		return err
	}
	vm.strStack[vm.ssp] = h
	vm.ssp++
	return nil
}

// popStr transfers the top reference to the caller.
func (vm *VM) popStr() (strobj.Handle, error) {
	if vm.ssp == 0 {
		return strobj.Handle{}, fmt.Errorf("%w: string stack empty", ErrStackUnderflow)
	}
	vm.ssp--
	h := vm.strStack[vm.ssp]
	vm.strStack[vm.ssp] = strobj.Handle{}
	return h, nil
}

// ---------------------------------------------------------------------------
// Variable slots
// ---------------------------------------------------------------------------

func (vm *VM) checkIntSlot(slot uint16) error {
	if int(slot) >= len(vm.intVars) {
		return fmt.Errorf("%w: int variable %d of %d", ErrIndexOutOfRange, slot, len(vm.intVars))
	}
	return nil
}

func (vm *VM) checkStrSlot(slot uint16) error {
	if int(slot) >= len(vm.strVars) {
		return fmt.Errorf("%w: string variable %d of %d", ErrIndexOutOfRange, slot, len(vm.strVars))
	}
	return nil
}

func (vm *VM) intVar(slot uint16) (int32, error) {
	if err := vm.checkIntSlot(slot); err != nil {
		return 0, err
	}
	return vm.intVars[slot], nil
}

func (vm *VM) strVar(slot uint16) (strobj.Handle, error) {
	if err := vm.checkStrSlot(slot); err != nil {
		return strobj.Handle{}, err
	}
	h := vm.strVars[slot]
	if h.IsNil() {
		return strobj.Handle{}, fmt.Errorf("%w: string variable %d", ErrEmptySlot, slot)
	}
	return h, nil
}

// storeStr moves h into a slot, releasing the previous occupant.
func (vm *VM) storeStr(slot uint16, h strobj.Handle) error {
	old := vm.strVars[slot]
	vm.strVars[slot] = h
	if old.IsNil() {
		return nil
	}
	return vm.arena.Release(old)
}

// ---------------------------------------------------------------------------
// I/O
// ---------------------------------------------------------------------------

// readLine flushes pending output, so prompts are visible, then reads one
// bounded line.
func (vm *VM) readLine(in Instruction) ([]byte, error) {
	if err := vm.out.Flush(); err != nil {
		return nil, vm.writeError(in, err)
	}
	line, truncated, err := strobj.ReadLineBytes(vm.in, vm.lineLimit)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrInputExhausted
		}
		return nil, &Error{Kind: KindIO, Offset: in.Offset, Op: in.Op, HasOp: true, Err: err}
	}
	if truncated {
		vm.truncatedInputs++
		vm.log.Warningf("input line truncated to %d bytes", vm.lineLimit)
	}
	return line, nil
}

func (vm *VM) writeError(in Instruction, err error) error {
	return &Error{Kind: KindIO, Offset: in.Offset, Op: in.Op, HasOp: true, Err: fmt.Errorf("failed to write output: %w", err)}
}

// parseLeadingInt reads an optionally signed decimal prefix after leading
// whitespace. Anything unparsable yields 0; out-of-range values saturate.
func parseLeadingInt(b []byte) int32 {
	i := 0
	for i < len(b) && (b[i] == ' ' || (b[i] >= '\t' && b[i] <= '\r')) {
		i++
	}
	neg := false
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		neg = b[i] == '-'
		i++
	}

	var n int64
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		n = n*10 + int64(b[i]-'0')
		if n > math.MaxInt32+1 {
			n = math.MaxInt32 + 1
		}
	}
	if neg {
		n = -n
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int32(n)
}

// ---------------------------------------------------------------------------
// Teardown and inspection
// ---------------------------------------------------------------------------

// Close releases every string still held by the stack, the variable slots
// and the constant pool, and flushes output. It is idempotent.
func (vm *VM) Close() error {
	if vm.closed {
		return nil
	}
	vm.closed = true

	var errs []error
	for vm.ssp > 0 {
		h, _ := vm.popStr()
		errs = append(errs, vm.arena.Release(h))
	}
	for i, h := range vm.strVars {
		if !h.IsNil() {
			errs = append(errs, vm.arena.Release(h))
			vm.strVars[i] = strobj.Handle{}
		}
	}
	for i, h := range vm.strConsts {
		errs = append(errs, vm.arena.Release(h))
		vm.strConsts[i] = strobj.Handle{}
	}

	var err error
	if rerr := errors.Join(errs...); rerr != nil {
		err = &Error{Kind: KindRuntime, Offset: -1, Err: rerr}
	}
	if ferr := vm.out.Flush(); ferr != nil && err == nil {
		err = ioError(fmt.Errorf("failed to flush output: %w", ferr))
	}

	vm.log.Debugf("teardown: steps=%d live strings=%d", vm.steps, vm.arena.Live())
	return err
}

// IP returns the instruction pointer.
func (vm *VM) IP() int {
	return vm.ip
}

// Halted reports whether end has been executed.
func (vm *VM) Halted() bool {
	return vm.halted
}

// Steps returns the number of instructions executed.
func (vm *VM) Steps() uint64 {
	return vm.steps
}

// IntStackDepth returns the number of values on the integer stack.
func (vm *VM) IntStackDepth() int {
	return vm.isp
}

// StrStackDepth returns the number of values on the string stack.
func (vm *VM) StrStackDepth() int {
	return vm.ssp
}

// IntVar returns integer variable slot.
func (vm *VM) IntVar(slot uint16) (int32, error) {
	return vm.intVar(slot)
}

// StrVar returns a copy of string variable slot.
func (vm *VM) StrVar(slot uint16) (string, error) {
	h, err := vm.strVar(slot)
	if err != nil {
		return "", err
	}
	return vm.arena.String(h)
}

// Arena returns the arena holding the VM's strings.
func (vm *VM) Arena() *strobj.Arena {
	return vm.arena
}

// Stats returns a snapshot of execution counters.
func (vm *VM) Stats() Stats {
	return Stats{
		Steps:           vm.steps,
		MaxIntDepth:     vm.maxIntDepth,
		MaxStrDepth:     vm.maxStrDepth,
		TruncatedInputs: vm.truncatedInputs,
		Arena:           vm.arena.Stats(),
	}
}
