package klog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/crewjam/rfc5424"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func newBufLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(nopWriteCloser{&buf}), &buf
}

func TestLevelGating(t *testing.T) {
	l, buf := newBufLogger()
	l.SetLevel(WARN)
	l.Info("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below level, got %q", buf.String())
	}
	l.Warn("should appear")
	if buf.Len() == 0 {
		t.Fatalf("expected a log line at or above level")
	}
}

func TestStructuredFields(t *testing.T) {
	l, buf := newBufLogger()
	l.Info("session started", rfc5424.SDParam{Name: "conn_id", Value: "42"})
	out := buf.String()
	if !strings.Contains(out, "session started") {
		t.Fatalf("message body missing: %q", out)
	}
	if !strings.Contains(out, "conn_id") || !strings.Contains(out, "42") {
		t.Fatalf("structured field missing: %q", out)
	}
}

func TestSetLevelStringInvalid(t *testing.T) {
	l, _ := newBufLogger()
	if err := l.SetLevelString("bogus"); err != ErrInvalidLevel {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

type captureRelay struct{ lines [][]byte }

func (c *captureRelay) WriteLog(_ time.Time, b []byte) error {
	c.lines = append(c.lines, append([]byte(nil), b...))
	return nil
}

func TestRelayFanout(t *testing.T) {
	l, _ := newBufLogger()
	rel := &captureRelay{}
	if err := l.AddRelay(rel); err != nil {
		t.Fatalf("add relay: %v", err)
	}
	l.Info("fanned out")
	if len(rel.lines) != 1 {
		t.Fatalf("expected exactly one relayed line, got %d", len(rel.lines))
	}
	if !strings.Contains(string(rel.lines[0]), "fanned out") {
		t.Fatalf("relay missing message: %q", rel.lines[0])
	}
}
