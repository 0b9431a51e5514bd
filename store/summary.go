package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bacvm/pkg/bytecode"
)

// Digest is the sha256 of a module's canonical encoding.
type Digest [32]byte

// String returns the digest in lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex digits, for logs.
func (d Digest) Short() string {
	return d.String()[:12]
}

// ParseDigest parses a 64-digit hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("store: bad digest %q: %w", s, err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("store: bad digest %q: want %d bytes, got %d", s, len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// DigestOf hashes the encoded module.
func DigestOf(m *bytecode.Module) (Digest, []byte, error) {
	data, err := m.Encode()
	if err != nil {
		return Digest{}, nil, err
	}
	return sha256.Sum256(data), data, nil
}

// Summary describes a module without its code. Its CBOR encoding is
// canonical, so equal modules produce identical bytes.
type Summary struct {
	Digest       Digest         `cbor:"1,keyasint"`
	CodeLength   uint16         `cbor:"2,keyasint"`
	NbInt        uint16         `cbor:"3,keyasint"`
	NbStr        uint16         `cbor:"4,keyasint"`
	NbConstInt   uint16         `cbor:"5,keyasint"`
	NbConstStr   uint16         `cbor:"6,keyasint"`
	Instructions int            `cbor:"7,keyasint"`
	Opcodes      map[string]int `cbor:"8,keyasint,omitempty"` // mnemonic -> count
	DecodeError  string         `cbor:"9,keyasint,omitempty"` // first decode failure, if any
}

// Summarize computes the summary of m. Instructions after a decode failure
// are not counted; the failure is recorded instead.
func Summarize(m *bytecode.Module) (*Summary, error) {
	d, _, err := DigestOf(m)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Digest:     d,
		CodeLength: uint16(len(m.Code)),
		NbInt:      m.Header.NbInt,
		NbStr:      m.Header.NbStr,
		NbConstInt: uint16(len(m.IntConsts)),
		NbConstStr: uint16(len(m.StrConsts)),
		Opcodes:    make(map[string]int),
	}
	for in, err := range bytecode.Instructions(m.Code) {
		if err != nil {
			s.DecodeError = err.Error()
			break
		}
		s.Instructions++
		s.Opcodes[in.Op.String()]++
	}
	return s, nil
}

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeSummary serializes a Summary to CBOR bytes.
func EncodeSummary(s *Summary) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// DecodeSummary deserializes a Summary from CBOR bytes.
func DecodeSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("store: unmarshal summary: %w", err)
	}
	return &s, nil
}
