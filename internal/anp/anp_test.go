package anp

import (
	"bytes"
	"testing"
)

func TestAtomRoundTrip(t *testing.T) {
	cases := []Atom{
		U32(42),
		U64(5_000_000_000),
		Str("cstr test"),
		Bin([]byte("kbuffer test")),
		Str(""),
		Bin(nil),
	}
	for _, a := range cases {
		buf := Encode(nil, a)
		if len(buf) != a.EncodedSize() {
			t.Fatalf("EncodedSize mismatch for %v: got %d want %d", a, a.EncodedSize(), len(buf))
		}
		r := NewReader(buf)
		got, err := r.Next()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind() != a.Kind() {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind(), a.Kind())
		}
		switch a.Kind() {
		case KindU32:
			if got.U32Value() != a.U32Value() {
				t.Fatalf("u32 mismatch")
			}
		case KindU64:
			if got.U64Value() != a.U64Value() {
				t.Fatalf("u64 mismatch")
			}
		case KindStr:
			if got.StrValue() != a.StrValue() {
				t.Fatalf("str mismatch")
			}
		case KindBin:
			if !bytes.Equal(got.BinValue(), a.BinValue()) {
				t.Fatalf("bin mismatch")
			}
		}
		if r.Remaining() != 0 {
			t.Fatalf("leftover bytes: %d", r.Remaining())
		}
	}
}

// TestFramingS1 exercises spec.md scenario S1: framing round-trip.
func TestFramingS1(t *testing.T) {
	var payload []byte
	payload = Encode(payload, U32(42))
	payload = Encode(payload, U64(5_000_000_000))
	payload = Encode(payload, Str("cstr test"))
	payload = Encode(payload, Str("kstr test"))
	payload = Encode(payload, Bin([]byte("kbuffer test")))

	msg, err := EncodeMessage(nil, 1, 1, MakeType(RoleCommand, NSGeneric, 42), 666, payload)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if len(msg) < HeaderSize {
		t.Fatalf("message too short")
	}

	hdrBytes := msg[:HeaderSize]
	if len(hdrBytes) != HeaderSize {
		t.Fatalf("header must be exactly %d bytes, got %d", HeaderSize, len(hdrBytes))
	}

	decoded, n, err := DecodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if n != len(msg) {
		t.Fatalf("consumed %d want %d", n, len(msg))
	}
	if decoded.Header.ID != 666 || decoded.Header.Type != MakeType(RoleCommand, NSGeneric, 42) {
		t.Fatalf("header fields not preserved: %+v", decoded.Header)
	}

	atoms, err := DecodeAll(decoded.Payload)
	if err != nil {
		t.Fatalf("decode atoms: %v", err)
	}
	as := Atoms(atoms)
	if v, err := as.U32(0); err != nil || v != 42 {
		t.Fatalf("get_u32(0) = %d, %v", v, err)
	}
	if v, err := as.U64(1); err != nil || v != 5_000_000_000 {
		t.Fatalf("get_u64(1) = %d, %v", v, err)
	}
	if v, err := as.Str(2); err != nil || v != "cstr test" {
		t.Fatalf("get_str(2) = %q, %v", v, err)
	}
	if v, err := as.Str(3); err != nil || v != "kstr test" {
		t.Fatalf("get_str(3) = %q, %v", v, err)
	}
	if v, err := as.Bin(4); err != nil || !bytes.Equal(v, []byte("kbuffer test")) {
		t.Fatalf("get_bin(4) = %q, %v", v, err)
	}
}

func TestDecodeHeaderOversizeMessage(t *testing.T) {
	h := Header{Major: 1, Minor: 1, Type: MakeType(RoleCommand, NSGeneric, 0), ID: 1, PayloadLen: MaxPayloadSize + 1}
	b := EncodeHeader(h)
	if _, err := DecodeHeader(b[:]); err == nil {
		t.Fatalf("expected oversize message error")
	} else if fe, ok := err.(*FramingError); !ok || fe.Kind != ErrOversizeMessage {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestDecodeHeaderBadType(t *testing.T) {
	h := Header{Major: 1, Minor: 1, Type: 0x0FFFFFFF, ID: 1, PayloadLen: 0}
	b := EncodeHeader(h)
	if _, err := DecodeHeader(b[:]); err == nil {
		t.Fatalf("expected bad type error")
	} else if fe, ok := err.(*FramingError); !ok || fe.Kind != ErrBadType {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short buffer error")
	}
}

// TestAtomOversize covers P3: decoding refuses an oversize declared
// length without allocating it.
func TestAtomOversize(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(KindBin))
	buf = append(buf, 0x07, 0x00, 0x00, 0x00) // declared length > 100MiB, no backing bytes
	r := NewReader(buf)
	_, err := r.Next()
	if err == nil {
		t.Fatalf("expected oversize bin error")
	}
	fe, ok := err.(*FramingError)
	if !ok || fe.Kind != ErrOversizeBin {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestExpectMismatch(t *testing.T) {
	buf := Encode(nil, U32(7))
	r := NewReader(buf)
	_, err := r.Expect(KindStr)
	if err == nil {
		t.Fatalf("expected mismatch error")
	}
	fe, ok := err.(*FramingError)
	if !ok || fe.Kind != ErrUnexpectedTag || fe.Want != KindStr || fe.Got != KindU32 {
		t.Fatalf("wrong error: %+v", err)
	}
}

func TestMakeSplitType(t *testing.T) {
	typ := MakeType(RoleResult, NSFiles, 0x05)
	family, role, ns, subtype := SplitType(typ)
	if family != ProtocolFamily || role != RoleResult || ns != NSFiles || subtype != 0x05 {
		t.Fatalf("split mismatch: %d %v %v %v", family, role, ns, subtype)
	}
	if !ValidType(typ) {
		t.Fatalf("expected valid type")
	}
}
