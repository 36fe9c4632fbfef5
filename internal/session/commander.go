/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import (
	"context"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/klog"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/wsutil"
)

// commander owns a database connection and loops over incoming
// commands, invoking the dispatch table and composing the corresponding
// result, per spec.md §4.4.
type commander struct {
	shared      *sharedState
	wake        notifier
	workspaces  *wsutil.CommandSet
	procs       kdb.Procedures
	helpers     proc.Helpers
	minor       uint32
	adminSecret string
	trustedKeys map[string]struct{}
	log         *klog.Logger
	table       map[uint32]handlerFunc
}

func newCommander(shared *sharedState, wake notifier, workspaces *wsutil.CommandSet, procs kdb.Procedures,
	helpers proc.Helpers, minor uint32, adminSecret string, trustedKeys map[string]struct{}, log *klog.Logger) *commander {
	return &commander{
		shared:      shared,
		wake:        wake,
		workspaces:  workspaces,
		procs:       procs,
		helpers:     helpers,
		minor:       minor,
		adminSecret: adminSecret,
		trustedKeys: trustedKeys,
		log:         log,
		table:       buildDispatchTable(),
	}
}

// run pops commands until shutdown is signaled. It is the sole owner
// of procs' underlying connection.
func (c *commander) run(ctx context.Context) {
	for {
		select {
		case <-c.shared.done():
			return
		case <-ctx.Done():
			c.shared.shutdown(CauseShutdown)
			return
		default:
		}

		worked := false
		for _, chk := range c.shared.drainCheckWorkspace() {
			worked = true
			c.handleCheckWorkspace(ctx, chk)
		}

		cmd, ok := c.shared.popIncoming()
		if !ok {
			if !worked {
				select {
				case <-c.shared.done():
					return
				case <-ctx.Done():
					c.shared.shutdown(CauseShutdown)
					return
				case <-c.wake:
				}
			}
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *commander) dispatch(ctx context.Context, cmd anp.Message) {
	handler, ok := c.table[cmd.Header.Type]
	if !ok {
		c.reply(cmd.Header.ID, TypeFail, composeFail(FailGeneric, "unrecognized command type"))
		return
	}
	hc := &HandlerContext{
		Ctx:         ctx,
		Cmd:         cmd,
		Workspaces:  c.workspaces,
		Procs:       c.procs,
		Helpers:     c.helpers,
		Minor:       c.minor,
		AdminSecret: c.adminSecret,
		TrustedKeys: c.trustedKeys,
		Log:         c.log,
	}
	outcome, res := handler(hc)
	switch outcome {
	case outcomeOK:
		c.reply(cmd.Header.ID, toResultType(cmd.Header.Type), nil)
	case outcomeGenericFailure:
		c.reply(cmd.Header.ID, TypeFail, composeFail(res.failKind, res.failText))
	case outcomeSpecificFailure:
		c.reply(cmd.Header.ID, res.typ, res.payload)
	case outcomeInternalFailure:
		c.shared.pushOutgoing(OutMsg{Type: TypeFail, ID: 0, Payload: composeFail(FailBackend, "backend failure")})
		c.wake.wake()
		c.shared.shutdown(CauseBackend)
	}
}

// toResultType flips a command type's role bits to RoleResult, used
// for the bare ok acknowledgements of commands with no payload-bearing
// result of their own (DISCONNECT, FREEMIUM-CONFIRM); the client still
// matches the reply to its command by id (I3).
func toResultType(cmdType uint32) uint32 {
	_, _, ns, sub := anp.SplitType(cmdType)
	return anp.MakeType(anp.RoleResult, ns, sub)
}

func (c *commander) reply(id uint64, typ uint32, payload []byte) {
	c.shared.pushOutgoing(OutMsg{Type: typ, ID: id, Payload: payload})
	c.wake.wake()
}

func composeFail(kind FailKind, text string) []byte {
	var out []byte
	out = anp.Encode(out, anp.U32(uint32(kind)))
	out = anp.Encode(out, anp.Str(text))
	return out
}

// composeResourceQuotaFail composes a FailResourceQuota payload, which
// spec.md §4.6.1/§6 require to carry a trailing subkind atom (0
// general, 1 no-secure) after the standard (kind, text) pair.
func composeResourceQuotaFail(subkind ResourceQuotaSubkind, text string) []byte {
	out := composeFail(FailResourceQuota, text)
	return anp.Encode(out, anp.U32(uint32(subkind)))
}

// handleCheckWorkspace re-runs the permission procedure for a
// workspace flagged by the eventer's perm_check fan-in, removing it
// and emitting a log_out event on denial.
func (c *commander) handleCheckWorkspace(ctx context.Context, chk CheckWorkspace) {
	handle, ok := c.workspaces.Get(chk.WorkspaceID)
	if !ok {
		return
	}
	denied, err := c.procs.CheckWorkspacePermission(ctx, chk.WorkspaceID, handle.UserID)
	if err != nil {
		c.shared.shutdown(CauseBackend)
		return
	}
	if !denied {
		return
	}
	c.workspaces.Leave(chk.WorkspaceID)
	if c.minor >= 4 {
		var out []byte
		out = anp.Encode(out, anp.U32(uint32(kdb.LoginBadPasswordOrTicket)))
		out = anp.Encode(out, anp.Str("permission revoked"))
		c.shared.pushOutgoing(OutMsg{Type: TypeLogOutEvent, ID: 0, Payload: out})
		c.wake.wake()
	}
}
