package kdb

import "testing"

func TestChannelNaming(t *testing.T) {
	if got, want := EventLogChannel(42), "kws_42_event_log"; got != want {
		t.Fatalf("event log channel = %q, want %q", got, want)
	}
	if got, want := PermCheckChannel(42), "kws_42_perm_check"; got != want {
		t.Fatalf("perm check channel = %q, want %q", got, want)
	}
}
