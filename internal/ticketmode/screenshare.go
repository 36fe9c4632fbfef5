/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ticketmode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/session"
	"github.com/kasproject/kasd/internal/transport"
)

// pickEphemeralPort asks the kernel for a free TCP port by binding to
// :0 and immediately releasing it, the common Go idiom for reserving
// a port a subprocess is about to bind.
func pickEphemeralPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

func newSessionID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// screenShareStart implements the "start session" (host) side of
// spec.md §4.6.3: spawn the reflector, record the session, reply with
// the freshly assigned session id, then hold the control connection
// open for the licensed time budget so the caller can detect loss of
// the control channel and end the session.
func (h *Handler) screenShareStart(ctx context.Context, tp *transport.Transport, tk ticketClaim, msg anp.Message, as anp.Atoms, watch *permWatcher) error {
	const ticketAtoms = 1
	subject, err := as.Str(ticketAtoms)
	if err != nil {
		subject = ""
	}

	port, err := pickEphemeralPort()
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	reflector, err := h.cfg.Helpers.StartReflector(port)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	sessionID, err := newSessionID()
	if err != nil {
		_ = reflector.Stop()
		return err
	}
	if err := h.cfg.Procs.ScreenShareRecordStart(ctx, tk.WorkspaceID, sessionID, subject, port); err != nil {
		_ = reflector.Stop()
		h.failAndFlush(tp, msg.Header.ID, session.FailBackend, "record start failed")
		return err
	}

	var out []byte
	out = anp.Encode(out, anp.U64(sessionID))
	if err := sendBlocking(tp, session.TypeStartSessionResult, msg.Header.ID, out); err != nil {
		_ = reflector.Stop()
		_ = h.cfg.Procs.ScreenShareRecordEnd(ctx, sessionID, "send failed")
		return err
	}

	reason := h.holdControlChannel(ctx, tp, watch)
	_ = reflector.Stop()
	return h.cfg.Procs.ScreenShareRecordEnd(ctx, sessionID, reason)
}

// screenShareJoin implements the "join session" (client) side: resolve
// the session the ticket's extension names, confirming it is still
// live, and acknowledge so the caller knows it may open the separate
// raw "VNC!" relay connection (handled by the dispatch mux).
func (h *Handler) screenShareJoin(ctx context.Context, tp *transport.Transport, tk ticketClaim, msg anp.Message, as anp.Atoms, watch *permWatcher) error {
	sessionID, err := tk.sessionID()
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "malformed ticket extension")
		return err
	}
	port, err := h.cfg.Procs.ScreenShareResolveSession(ctx, sessionID)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "session not found")
		return err
	}
	var out []byte
	out = anp.Encode(out, anp.U64(sessionID))
	out = anp.Encode(out, anp.U32(uint32(port)))
	return sendBlocking(tp, session.TypeConnectSessionResult, msg.Header.ID, out)
}

// holdControlChannel keeps the host's control connection open until the
// licensed session budget expires, the connection fails, or a
// permission-check notification revokes access, returning the end
// reason for ScreenShareRecordEnd.
func (h *Handler) holdControlChannel(ctx context.Context, tp *transport.Transport, watch *permWatcher) string {
	budget := time.Duration(h.cfg.LicensedScreenShareSeconds) * time.Second
	if budget <= 0 {
		budget = 24 * time.Hour
	}
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if watch.Denied() {
				h.failAndFlush(tp, 0, session.FailPermissionDenied, "permission revoked")
				return "permission-revoked"
			}
			if time.Now().After(deadline) {
				_ = sendBlocking(tp, session.TypeFail, 0, composeResourceQuotaFail(session.ResourceQuotaGeneral, "screen-share session time budget exhausted"))
				return "resource-quota"
			}
		}
		if _, _, err := tp.RecvStep(); err != nil && err != transport.ErrWouldBlock {
			return fmt.Sprintf("connection closed: %v", err)
		}
	}
}
