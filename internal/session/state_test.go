package session

import (
	"testing"

	"github.com/kasproject/kasd/internal/anp"
)

func TestBackpressureHysteresis(t *testing.T) {
	s := newSharedState()
	big := make([]byte, quenchHigh)

	if s.outQuench() {
		t.Fatalf("expected not quenched initially")
	}
	s.pushOutgoing(OutMsg{Type: 1, Payload: big})
	if !s.outQuench() {
		t.Fatalf("expected out_quenched after crossing quenchHigh")
	}
	if _, ok := s.popOutgoing(); !ok {
		t.Fatalf("expected a message to pop")
	}
	if s.outQuench() {
		t.Fatalf("expected out_quenched cleared once bytes drop to zero (below quenchLow)")
	}
}

func TestIncomingQuenchSuspendsPop(t *testing.T) {
	s := newSharedState()
	big := make([]byte, quenchHigh)
	s.pushIncoming(anp.Message{Header: anp.Header{PayloadLen: uint32(len(big))}, Payload: big})
	if !s.inQuench() {
		t.Fatalf("expected in_quenched after crossing threshold")
	}
	if _, ok := s.popIncoming(); ok {
		t.Fatalf("expected popIncoming to refuse while quenched")
	}
}
