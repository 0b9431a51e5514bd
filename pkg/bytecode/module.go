package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/tliron/commonlog"
)

// Header size constants for reading
const (
	headerFieldSize = 2
	headerFields    = 5
	intConstSize    = 4
	strLengthSize   = 4

	// HeaderSize is the encoded size of a module header.
	HeaderSize = headerFields * headerFieldSize
)

// Header is the fixed module header. All counts are known before any pool or
// code byte is read.
type Header struct {
	CodeLength uint16 // bytes of code
	NbInt      uint16 // integer variable slots
	NbStr      uint16 // string variable slots
	NbConstInt uint16 // integer constant pool size
	NbConstStr uint16 // string constant pool size
}

// Module is a loaded bytecode unit. It is read-only once loaded.
type Module struct {
	Header    Header
	IntConsts []int32
	StrConsts [][]byte
	Code      []byte

	// Trailing counts bytes found after the code section. They are ignored.
	Trailing int
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// moduleReader walks a module image front to back.
type moduleReader struct {
	data   []byte
	offset int
}

func (mr *moduleReader) readBytes(n int, what string) ([]byte, error) {
	if n < 0 || len(mr.data)-mr.offset < n {
		return nil, fmt.Errorf("%w: reading %s: need %d bytes at offset %d, have %d",
			ErrTruncatedInput, what, n, mr.offset, len(mr.data)-mr.offset)
	}
	b := mr.data[mr.offset : mr.offset+n]
	mr.offset += n
	return b, nil
}

func (mr *moduleReader) readUint16(what string) (uint16, error) {
	b, err := mr.readBytes(2, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (mr *moduleReader) readUint32(what string) (uint32, error) {
	b, err := mr.readBytes(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readHeader reads the five header fields in format order.
func (mr *moduleReader) readHeader() (Header, error) {
	var h Header
	fields := []struct {
		dst  *uint16
		name string
	}{
		{&h.CodeLength, "header code_length"},
		{&h.NbInt, "header nb_int"},
		{&h.NbStr, "header nb_str"},
		{&h.NbConstInt, "header nb_const_int"},
		{&h.NbConstStr, "header nb_const_str"},
	}
	for _, f := range fields {
		v, err := mr.readUint16(f.name)
		if err != nil {
			return Header{}, err
		}
		*f.dst = v
	}
	return h, nil
}

// Decode parses a module from its binary image. The order is fixed:
// header, integer pool, string pool, code.
func Decode(data []byte) (*Module, error) {
	mr := &moduleReader{data: data}

	h, err := mr.readHeader()
	if err != nil {
		return nil, ioError(err)
	}
	m := &Module{Header: h}

	m.IntConsts = make([]int32, h.NbConstInt)
	for i := range m.IntConsts {
		v, err := mr.readUint32(fmt.Sprintf("const_int[%d]", i))
		if err != nil {
			return nil, ioError(err)
		}
		m.IntConsts[i] = int32(v)
	}

	m.StrConsts = make([][]byte, h.NbConstStr)
	for i := range m.StrConsts {
		n, err := mr.readUint32(fmt.Sprintf("const_str[%d] length", i))
		if err != nil {
			return nil, ioError(err)
		}
		if uint64(n) > uint64(math.MaxInt32) {
			return nil, ioError(fmt.Errorf("%w: const_str[%d] length %d", ErrTruncatedInput, i, n))
		}
		b, err := mr.readBytes(int(n), fmt.Sprintf("const_str[%d]", i))
		if err != nil {
			return nil, ioError(err)
		}
		m.StrConsts[i] = bytes.Clone(b)
	}

	code, err := mr.readBytes(int(h.CodeLength), "code")
	if err != nil {
		return nil, ioError(err)
	}
	m.Code = bytes.Clone(code)
	m.Trailing = len(data) - mr.offset

	commonlog.GetLogger("bacvm.loader").Debugf(
		"decoded module: code=%d nb_int=%d nb_str=%d const_int=%d const_str=%d trailing=%d",
		h.CodeLength, h.NbInt, h.NbStr, h.NbConstInt, h.NbConstStr, m.Trailing)

	return m, nil
}

// Load reads a whole module from r.
func Load(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioError(fmt.Errorf("failed to read module: %w", err))
	}
	return Decode(data)
}

// LoadFile loads a module from a file.
func LoadFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError(fmt.Errorf("failed to open module file: %w", err))
	}
	defer f.Close()

	return Load(f)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode serializes the module. Pool and code counts in the header are taken
// from the slices; NbInt and NbStr are written as they are.
func (m *Module) Encode() ([]byte, error) {
	if len(m.Code) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: code is %d bytes", ErrModuleTooLarge, len(m.Code))
	}
	if len(m.IntConsts) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d integer constants", ErrModuleTooLarge, len(m.IntConsts))
	}
	if len(m.StrConsts) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d string constants", ErrModuleTooLarge, len(m.StrConsts))
	}

	size := HeaderSize + len(m.IntConsts)*intConstSize + len(m.Code)
	for _, s := range m.StrConsts {
		size += strLengthSize + len(s)
	}
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Code)))
	buf = binary.LittleEndian.AppendUint16(buf, m.Header.NbInt)
	buf = binary.LittleEndian.AppendUint16(buf, m.Header.NbStr)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.IntConsts)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.StrConsts)))

	for _, v := range m.IntConsts {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	for i, s := range m.StrConsts {
		if uint64(len(s)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: const_str[%d] is %d bytes", ErrModuleTooLarge, i, len(s))
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	buf = append(buf, m.Code...)

	return buf, nil
}

// WriteTo writes the encoded module to w.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	data, err := m.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ---------------------------------------------------------------------------
// Checked access
// ---------------------------------------------------------------------------

// IntConst returns integer constant idx.
func (m *Module) IntConst(idx uint16) (int32, error) {
	if int(idx) >= len(m.IntConsts) {
		return 0, fmt.Errorf("%w: const_int[%d] of %d", ErrIndexOutOfRange, idx, len(m.IntConsts))
	}
	return m.IntConsts[idx], nil
}

// StrConst returns string constant idx. The slice must not be modified.
func (m *Module) StrConst(idx uint16) ([]byte, error) {
	if int(idx) >= len(m.StrConsts) {
		return nil, fmt.Errorf("%w: const_str[%d] of %d", ErrIndexOutOfRange, idx, len(m.StrConsts))
	}
	return m.StrConsts[idx], nil
}
