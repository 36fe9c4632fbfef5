package anp

import "encoding/binary"

// Reader decodes a sequence of atoms from a payload buffer in order.
// Every atom read consumes exactly tag+value bytes (I2); Reader never
// looks ahead past what it has already consumed.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left unconsumed.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return newErr(ErrShortBuffer)
	}
	return nil
}

// Next decodes and returns the next atom, advancing the cursor.
func (r *Reader) Next() (Atom, error) {
	if err := r.need(1); err != nil {
		return Atom{}, err
	}
	kind := Kind(r.buf[r.pos])
	r.pos++
	switch kind {
	case KindU32:
		if err := r.need(4); err != nil {
			return Atom{}, err
		}
		v := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		return U32(v), nil
	case KindU64:
		if err := r.need(8); err != nil {
			return Atom{}, err
		}
		v := binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
		return U64(v), nil
	case KindStr:
		n, err := r.readLen()
		if err != nil {
			return Atom{}, err
		}
		if n > MaxAtomSize {
			return Atom{}, newErr(ErrOversizeString)
		}
		if err := r.need(n); err != nil {
			return Atom{}, err
		}
		s := string(r.buf[r.pos : r.pos+n])
		r.pos += n
		return Str(s), nil
	case KindBin:
		n, err := r.readLen()
		if err != nil {
			return Atom{}, err
		}
		if n > MaxAtomSize {
			return Atom{}, newErr(ErrOversizeBin)
		}
		if err := r.need(n); err != nil {
			return Atom{}, err
		}
		b := make([]byte, n)
		copy(b, r.buf[r.pos:r.pos+n])
		r.pos += n
		return Bin(b), nil
	default:
		return Atom{}, newErr(ErrUnexpectedTag)
	}
}

func (r *Reader) readLen() (int, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return n, nil
}

// Expect reads one atom and fails with a typed error carrying both tags
// if it does not match the expected kind. This is read_next_of_kind.
func (r *Reader) Expect(want Kind) (Atom, error) {
	a, err := r.Next()
	if err != nil {
		return Atom{}, err
	}
	if a.kind != want {
		return Atom{}, &FramingError{Kind: ErrUnexpectedTag, Want: want, Got: a.kind}
	}
	return a, nil
}

func (r *Reader) U32() (uint32, error) {
	a, err := r.Expect(KindU32)
	if err != nil {
		return 0, err
	}
	return a.U32Value(), nil
}

func (r *Reader) U64() (uint64, error) {
	a, err := r.Expect(KindU64)
	if err != nil {
		return 0, err
	}
	return a.U64Value(), nil
}

func (r *Reader) Str() (string, error) {
	a, err := r.Expect(KindStr)
	if err != nil {
		return "", err
	}
	return a.StrValue(), nil
}

func (r *Reader) Bin() ([]byte, error) {
	a, err := r.Expect(KindBin)
	if err != nil {
		return nil, err
	}
	return a.BinValue(), nil
}

// Tail reports whether any bytes remain. Optional trailing atoms in
// newer minors are read only when Tail() is true, so callers talking to
// an older effective minor tolerate their absence (§3 minor-version
// policy).
func (r *Reader) Tail() bool { return r.Remaining() > 0 }

// DecodeAll decodes every atom in buf, used by callers (and tests) that
// want positional access rather than streaming access.
func DecodeAll(buf []byte) ([]Atom, error) {
	r := NewReader(buf)
	var atoms []Atom
	for r.Remaining() > 0 {
		a, err := r.Next()
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

// Atoms is a decoded payload with positional accessors, mirroring the
// get_u32(idx)-style access spec.md's S1 scenario exercises.
type Atoms []Atom

func (a Atoms) at(i int, want Kind) (Atom, error) {
	if i < 0 || i >= len(a) {
		return Atom{}, newErr(ErrShortBuffer)
	}
	if a[i].kind != want {
		return Atom{}, &FramingError{Kind: ErrUnexpectedTag, Want: want, Got: a[i].kind}
	}
	return a[i], nil
}

func (a Atoms) U32(i int) (uint32, error) {
	v, err := a.at(i, KindU32)
	if err != nil {
		return 0, err
	}
	return v.U32Value(), nil
}

func (a Atoms) U64(i int) (uint64, error) {
	v, err := a.at(i, KindU64)
	if err != nil {
		return 0, err
	}
	return v.U64Value(), nil
}

func (a Atoms) Str(i int) (string, error) {
	v, err := a.at(i, KindStr)
	if err != nil {
		return "", err
	}
	return v.StrValue(), nil
}

func (a Atoms) Bin(i int) ([]byte, error) {
	v, err := a.at(i, KindBin)
	if err != nil {
		return nil, err
	}
	return v.BinValue(), nil
}
