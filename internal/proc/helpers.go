/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proc

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Helpers names the configured paths to every external subprocess the
// daemon invokes.
type Helpers struct {
	TicketValidatorPath string
	KFSSyncPath         string
	WorkspaceDeletePath string
	MailSenderPath      string
	ReflectorPath       string
}

const (
	validatorTimeout = 5 * time.Second
	kfsSyncTimeout   = 30 * time.Second
	deleteTimeout    = 60 * time.Second
	mailTimeout      = 10 * time.Second

	validatorAttempts   = 3
	validatorRetryDelay = 250 * time.Millisecond
)

// ValidateTicket calls the external ticket-issuer validator up to
// three times with a short sleep between attempts, accepting on the
// first positive reply, per spec.md §4.4.
func (h Helpers) ValidateTicket(ctx context.Context, name, email, host string, port uint16, keyID string) (bool, error) {
	args := []string{name, email, host, fmt.Sprintf("%d", port), keyID}
	var lastErr error
	for attempt := 0; attempt < validatorAttempts; attempt++ {
		res, err := Run(ctx, validatorTimeout, h.TicketValidatorPath, args, nil)
		if err != nil {
			lastErr = err
		} else if res.Exited && res.ExitCode == 0 {
			return true, nil
		}
		if attempt < validatorAttempts-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(validatorRetryDelay):
			}
		}
	}
	return false, lastErr
}

// SyncKFS invokes the KFS structural-sync helper for a workspace whose
// property change set the sync-KFS flag.
func (h Helpers) SyncKFS(ctx context.Context, workspaceID uint64) error {
	res, err := Run(ctx, kfsSyncTimeout, h.KFSSyncPath, []string{fmt.Sprintf("%d", workspaceID)}, nil)
	if err != nil {
		return fmt.Errorf("proc: kfs sync: %w", err)
	}
	if !res.Exited || res.ExitCode != 0 {
		return fmt.Errorf("proc: kfs sync failed: %s", res.Stderr)
	}
	return nil
}

// DeleteWorkspace invokes the workspace-delete helper, used by
// CONNECT's delete-on-login path.
func (h Helpers) DeleteWorkspace(ctx context.Context, workspaceID uint64) error {
	res, err := Run(ctx, deleteTimeout, h.WorkspaceDeletePath, []string{fmt.Sprintf("%d", workspaceID)}, nil)
	if err != nil {
		return fmt.Errorf("proc: delete workspace: %w", err)
	}
	if !res.Exited || res.ExitCode != 0 {
		return fmt.Errorf("proc: delete workspace failed: %s", res.Stderr)
	}
	return nil
}

// SendMail invokes the mail-sender helper for an invitation email,
// feeding the rendered message body on stdin.
func (h Helpers) SendMail(ctx context.Context, to, subject string, body []byte) error {
	res, err := Run(ctx, mailTimeout, h.MailSenderPath, []string{to, subject}, body)
	if err != nil {
		return fmt.Errorf("proc: send mail: %w", err)
	}
	if !res.Exited || res.ExitCode != 0 {
		return fmt.Errorf("proc: send mail failed: %s", res.Stderr)
	}
	return nil
}

// StartReflector launches the screen-share reflector subprocess bound
// to port and returns a *ReflectorProc handle so the caller can track
// and eventually stop it.
func (h Helpers) StartReflector(port int) (*ReflectorProc, error) {
	cmd, err := RunDetached(h.ReflectorPath, []string{fmt.Sprintf("%d", port)})
	if err != nil {
		return nil, fmt.Errorf("proc: start reflector: %w", err)
	}
	return &ReflectorProc{cmd: cmd, Port: port}, nil
}

// ReflectorProc tracks a running screen-share reflector subprocess.
type ReflectorProc struct {
	cmd  *exec.Cmd
	Port int
}

// Stop kills the reflector and waits for it to exit.
func (r *ReflectorProc) Stop() error {
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	return r.cmd.Wait()
}
