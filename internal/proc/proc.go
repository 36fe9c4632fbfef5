/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package proc is the daemon's uniform subprocess gateway: every
// external helper the daemon shells out to (the ticket-issuer
// validator, the KFS sync helper, the workspace-delete helper, the
// mail sender, the screen-share reflector) goes through Run, which
// captures stdout/stderr and classifies how the process ended.
package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// Result is how one subprocess invocation ended.
type Result struct {
	Exited   bool // ran to completion and returned an exit code
	Signaled bool // killed by a signal (including our own timeout kill)
	TimedOut bool
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Run execs name with args, feeding stdin (may be nil), and waits up
// to timeout. On timeout the process is killed and Result.TimedOut is
// set; Run itself only returns a non-nil error when the process could
// not even be started.
func Run(ctx context.Context, timeout time.Duration, name string, args []string, stdin []byte) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err == nil {
		res.Exited = true
		return res, nil
	}

	if cctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.Signaled = true
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Exited = true
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Exited = false
			res.Signaled = true
		}
		return res, nil
	}

	return res, err
}

// RunDetached starts name with args and returns immediately without
// waiting for it to exit; used to launch the screen-share reflector,
// which must keep running for the lifetime of the session rather than
// complete before the caller proceeds.
func RunDetached(name string, args []string) (*exec.Cmd, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
