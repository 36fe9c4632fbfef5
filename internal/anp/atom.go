package anp

import "encoding/binary"

// Kind tags the four atom shapes the wire format carries.
type Kind uint8

const (
	KindU32 Kind = 1
	KindU64 Kind = 2
	KindStr Kind = 3
	KindBin Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindU32:
		return "U32"
	case KindU64:
		return "U64"
	case KindStr:
		return "STR"
	case KindBin:
		return "BIN"
	default:
		return "INVALID"
	}
}

// MaxAtomSize bounds the declared length of a STR or BIN atom. Decoding
// refuses to allocate past this without ever reading the backing bytes.
const MaxAtomSize = 100 * 1024 * 1024

// Atom is a single tagged wire value. Atoms are immutable once built by
// the constructors below.
type Atom struct {
	kind Kind
	u    uint64
	s    string
	b    []byte
}

func U32(v uint32) Atom { return Atom{kind: KindU32, u: uint64(v)} }
func U64(v uint64) Atom { return Atom{kind: KindU64, u: v} }
func Str(v string) Atom { return Atom{kind: KindStr, s: v} }
func Bin(v []byte) Atom { return Atom{kind: KindBin, b: v} }

func (a Atom) Kind() Kind { return a.kind }

// U32Value returns the atom's value interpreted as U32; it does not
// check the kind, callers that care use Reader.U32 instead.
func (a Atom) U32Value() uint32 { return uint32(a.u) }
func (a Atom) U64Value() uint64 { return a.u }
func (a Atom) StrValue() string { return a.s }
func (a Atom) BinValue() []byte { return a.b }

// EncodedSize returns the number of bytes Encode will write for this atom.
func (a Atom) EncodedSize() int {
	switch a.kind {
	case KindU32:
		return 1 + 4
	case KindU64:
		return 1 + 8
	case KindStr:
		return 1 + 4 + len(a.s)
	case KindBin:
		return 1 + 4 + len(a.b)
	default:
		return 0
	}
}

// Encode appends the tag byte and value bytes for the atom to out,
// returning the grown slice. Integers are big-endian; STR/BIN carry a
// 32-bit big-endian length followed by the raw bytes.
func Encode(out []byte, a Atom) []byte {
	out = append(out, byte(a.kind))
	switch a.kind {
	case KindU32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(a.u))
		out = append(out, b[:]...)
	case KindU64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], a.u)
		out = append(out, b[:]...)
	case KindStr:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(a.s)))
		out = append(out, b[:]...)
		out = append(out, a.s...)
	case KindBin:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(a.b)))
		out = append(out, b[:]...)
		out = append(out, a.b...)
	}
	return out
}
