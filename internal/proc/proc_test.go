package proc

import (
	"context"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), 2*time.Second, "/bin/echo", []string{"hello"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Exited || res.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %+v", res)
	}
	if string(res.Stdout) != "hello\n" {
		t.Fatalf("stdout mismatch: %q", res.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), 2*time.Second, "/bin/sh", []string{"-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Exited || res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", res)
	}
}

func TestRunTimeout(t *testing.T) {
	res, err := Run(context.Background(), 50*time.Millisecond, "/bin/sleep", []string{"5"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
}

func TestRunStdin(t *testing.T) {
	res, err := Run(context.Background(), 2*time.Second, "/bin/cat", nil, []byte("piped input"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(res.Stdout) != "piped input" {
		t.Fatalf("stdin not piped through: %q", res.Stdout)
	}
}
