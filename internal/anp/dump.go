package anp

import (
	"fmt"
	"strings"
)

// DumpMessage renders a message header and payload as human-readable
// diagnostic text. It is used only for logging; it is lossless for
// integers and truncates BIN/STR atoms past dumpMaxBytes.
//
// The header line prints major, minor, type, and id exactly once each.
func DumpMessage(h Header, payload []byte) string {
	family, role, ns, subtype := SplitType(h.Type)
	var b strings.Builder
	fmt.Fprintf(&b, "anp message major=%d minor=%d type=0x%08x(family=%d role=%d ns=%d subtype=%d) id=%d len=%d\n",
		h.Major, h.Minor, h.Type, family, role, ns, subtype, h.ID, len(payload))
	b.WriteString(Dump(payload))
	return b.String()
}

const dumpMaxBytes = 64

// Dump renders a decoded payload's atoms as human text.
func Dump(payload []byte) string {
	var b strings.Builder
	r := NewReader(payload)
	idx := 0
	for r.Remaining() > 0 {
		a, err := r.Next()
		if err != nil {
			fmt.Fprintf(&b, "  [%d] <decode error: %v>\n", idx, err)
			return b.String()
		}
		switch a.Kind() {
		case KindU32:
			fmt.Fprintf(&b, "  [%d] U32 %d\n", idx, a.U32Value())
		case KindU64:
			fmt.Fprintf(&b, "  [%d] U64 %d\n", idx, a.U64Value())
		case KindStr:
			fmt.Fprintf(&b, "  [%d] STR %q\n", idx, truncateStr(a.StrValue()))
		case KindBin:
			fmt.Fprintf(&b, "  [%d] BIN %d bytes %x\n", idx, len(a.BinValue()), truncateBin(a.BinValue()))
		}
		idx++
	}
	return b.String()
}

func truncateStr(s string) string {
	if len(s) <= dumpMaxBytes {
		return s
	}
	return s[:dumpMaxBytes] + "..."
}

func truncateBin(b []byte) []byte {
	if len(b) <= dumpMaxBytes {
		return b
	}
	return b[:dumpMaxBytes]
}
