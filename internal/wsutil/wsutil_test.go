package wsutil

import (
	"testing"

	"github.com/kasproject/kasd/internal/kdb"
)

func TestCommandSetJoinLeave(t *testing.T) {
	s := NewCommandSet()
	s.Join(CommandHandle{WorkspaceID: 1, LoginType: kdb.LoginNormal, UserID: 5})
	if _, ok := s.Get(1); !ok {
		t.Fatalf("expected workspace 1 to be joined")
	}
	s.Leave(1)
	if _, ok := s.Get(1); ok {
		t.Fatalf("expected workspace 1 to be left")
	}
}

func TestEventSetActiveCycle(t *testing.T) {
	s := NewEventSet()
	s.Join(EventHandle{WorkspaceID: 2, ListenDesired: true})
	s.MarkActive(2)
	s.MarkActive(99) // not joined, should be ignored

	active := s.TakeActive()
	if len(active) != 1 || active[0] != 2 {
		t.Fatalf("expected only workspace 2 active, got %v", active)
	}
	if again := s.TakeActive(); len(again) != 0 {
		t.Fatalf("expected active set drained, got %v", again)
	}

	s.AdvanceLastEventID(2, 42)
	h, ok := s.Get(2)
	if !ok || h.LastEventID != 42 {
		t.Fatalf("expected last event id advanced, got %+v", h)
	}
}
