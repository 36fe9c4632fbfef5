package ticket

import (
	"context"
	"testing"

	"github.com/kasproject/kasd/internal/kdb"
)

// stubProcs is a hand-rolled stub implementing just enough of
// kdb.Procedures to exercise mint/consume; unused methods panic if
// ever called so a test that reaches them fails loudly.
type stubProcs struct {
	kdb.Procedures
	ledger map[string]bool
}

func newStubProcs() *stubProcs { return &stubProcs{ledger: map[string]bool{}} }

func (s *stubProcs) InsertTicket(ctx context.Context, t []byte) error {
	s.ledger[string(t)] = true
	return nil
}

func (s *stubProcs) ConsumeTicket(ctx context.Context, t []byte) (bool, error) {
	if s.ledger[string(t)] {
		delete(s.ledger, string(t))
		return true, nil
	}
	return false, nil
}

// TestTicketRoundTrip exercises mint/decode/consume and invariant I5
// (spec.md scenario S5): a second consume of the same bytes fails.
func TestTicketRoundTrip(t *testing.T) {
	procs := newStubProcs()
	ctx := context.Background()

	raw, err := Mint(ctx, procs, TypeDownload, 7, kdb.LoginNormal, 99, []byte{0, 0, 0, 5})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	got, err := Consume(ctx, procs, raw)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.Type != TypeDownload || got.WorkspaceID != 7 || got.UserID != 99 {
		t.Fatalf("decoded ticket mismatch: %+v", got)
	}

	if _, err := Consume(ctx, procs, raw); err != ErrExpiredOrConsumed {
		t.Fatalf("expected ErrExpiredOrConsumed on second consume, got %v", err)
	}
}

func TestParseIssuerTicket(t *testing.T) {
	it, err := ParseIssuerTicket("Alice:alice@example.com:issuer.example.com:8443:key-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if it.Name != "Alice" || it.Port != 8443 || it.KeyID != "key-1" {
		t.Fatalf("parsed mismatch: %+v", it)
	}
	if _, err := ParseIssuerTicket("too:few:fields"); err == nil {
		t.Fatalf("expected error for malformed ticket")
	}
}

func TestTrustedKeyID(t *testing.T) {
	daemonSet := map[string]struct{}{"daemon-key": {}}
	wsSet := map[string]struct{}{"ws-key": {}}
	if !TrustedKeyID("daemon-key", daemonSet, wsSet) {
		t.Fatalf("expected daemon-wide key to be trusted")
	}
	if !TrustedKeyID("ws-key", daemonSet, wsSet) {
		t.Fatalf("expected workspace key to be trusted")
	}
	if TrustedKeyID("unknown", daemonSet, wsSet) {
		t.Fatalf("expected unknown key to be untrusted")
	}
}
