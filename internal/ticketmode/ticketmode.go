/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ticketmode implements the ticket-mode handler (TM): the
// single-threaded subprotocol entered after the principal handshake
// selects a file-transfer or screen-share role. It validates the
// ticket carried by the connection's first message, opens the matching
// data plane (upload, download, screen-share control), and enforces
// per-session quotas and license limits, per spec.md §4.6.
package ticketmode

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/klog"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/session"
	"github.com/kasproject/kasd/internal/ticket"
	"github.com/kasproject/kasd/internal/transport"
)

// heartbeatInterval bounds how often a single upload flow calls
// Procs.UploadHeartbeat, independent of how often the client sends
// PHASE-2 submessages.
const heartbeatInterval = 5 * time.Second

// Config bundles everything a Handler needs: its own dedicated database
// connection (distinct from the commander's, per spec.md §5's "database
// connections are owned exclusively by their actor"), the subprocess
// helpers, and the chunking/quota knobs.
type Config struct {
	Procs      kdb.Procedures
	ListenConn *kdb.ListenConn
	Helpers    proc.Helpers

	KFSRoot          string
	DownloadMinChunk int
	DownloadMaxChunk int

	// DownloadBytesPerSec bounds the rate at which a single download
	// flow emits chunk data, smoothing the backpressure the wire spec
	// (§4.6.2, I11) otherwise leaves to TCP flow control alone. Zero
	// means unbounded.
	DownloadBytesPerSec int

	LicensedStorageBytes       int64
	LicensedScreenShareSeconds int

	Log *klog.Logger
}

// Handler runs one ticket-mode connection to completion.
type Handler struct {
	cfg           Config
	downloadLimit *rate.Limiter
	heartbeat     *rate.Limiter
}

func New(cfg Config) *Handler {
	h := &Handler{cfg: cfg, heartbeat: rate.NewLimiter(rate.Every(heartbeatInterval), 1)}
	if cfg.DownloadBytesPerSec > 0 {
		burst := cfg.DownloadMaxChunk
		if burst <= 0 {
			burst = cfg.DownloadBytesPerSec
		}
		h.downloadLimit = rate.NewLimiter(rate.Limit(cfg.DownloadBytesPerSec), burst)
	}
	return h
}

// ErrTicketTypeMismatch is returned when a consumed ticket's type does
// not match the command that presented it (e.g. a download ticket
// handed to UPLOAD-PHASE-1).
var ErrTicketTypeMismatch = errors.New("ticketmode: ticket type does not match command")

// Serve reads the connection's first message, consumes and validates
// its ticket, and dispatches to the matching data-plane flow. It
// returns once the flow completes or the connection fails.
func (h *Handler) Serve(ctx context.Context, tp *transport.Transport, preRead [4]byte, hasPreRead bool) error {
	if hasPreRead {
		tp.InjectPreRead(preRead[:])
	}
	msg, err := recvBlocking(ctx, tp)
	if err != nil {
		return err
	}

	atoms, err := anp.DecodeAll(msg.Payload)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	as := anp.Atoms(atoms)
	rawTicket, err := as.Bin(0)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "expected leading ticket atom")
		return err
	}
	rawClaim, err := ticket.Consume(ctx, h.cfg.Procs, rawTicket)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	tk := ticketClaim{Ticket: rawClaim}

	wantType, ok := wantTicketType(msg.Header.Type)
	if !ok || tk.Type != wantType {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "ticket type mismatch")
		return ErrTicketTypeMismatch
	}

	if err := h.cfg.ListenConn.Listen(ctx, tk.WorkspaceID); err != nil {
		return err
	}
	defer func() { _ = h.cfg.ListenConn.Unlisten(context.Background(), tk.WorkspaceID) }()

	watch := newPermWatcher(h.cfg.ListenConn, h.cfg.Procs, tk.WorkspaceID, tk.UserID)
	go watch.run(ctx)
	defer watch.stop()

	switch msg.Header.Type {
	case session.TypePhase1Cmd:
		return h.uploadFlow(ctx, tp, tk, msg, as, watch)
	case session.TypeDownloadCmd:
		return h.downloadFlow(ctx, tp, tk, msg, as, watch)
	case session.TypeStartSessionCmd:
		return h.screenShareStart(ctx, tp, tk, msg, as, watch)
	case session.TypeConnectSessionCmd:
		return h.screenShareJoin(ctx, tp, tk, msg, as, watch)
	default:
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "unrecognized ticket-mode entry command")
		return errors.New("ticketmode: unrecognized entry command")
	}
}

// ticketClaim wraps a consumed ticket with the role-specific extension
// decoders each flow needs.
type ticketClaim struct {
	ticket.Ticket
}

// shareID decodes a file-transfer ticket's extension: a single U32
// share id, per spec.md §4.5.
func (c ticketClaim) shareID() (uint32, error) {
	atoms, err := anp.DecodeAll(c.Extension)
	if err != nil {
		return 0, err
	}
	return anp.Atoms(atoms).U32(0)
}

// sessionID decodes a screen-share-client ticket's extension: a single
// U64 session id identifying the host's already-started session.
func (c ticketClaim) sessionID() (uint64, error) {
	atoms, err := anp.DecodeAll(c.Extension)
	if err != nil {
		return 0, err
	}
	return anp.Atoms(atoms).U64(0)
}

// wantTicketType maps the entry command's wire type to the ticket kind
// it must carry.
func wantTicketType(cmdType uint32) (ticket.Type, bool) {
	switch cmdType {
	case session.TypePhase1Cmd:
		return ticket.TypeUpload, true
	case session.TypeDownloadCmd:
		return ticket.TypeDownload, true
	case session.TypeStartSessionCmd:
		return ticket.TypeScreenShareServer, true
	case session.TypeConnectSessionCmd:
		return ticket.TypeScreenShareClient, true
	default:
		return 0, false
	}
}

func (h *Handler) failAndFlush(tp *transport.Transport, id uint64, kind session.FailKind, text string) {
	_ = sendBlocking(tp, session.TypeFail, id, composeFail(kind, text))
}

func composeFail(kind session.FailKind, text string) []byte {
	var out []byte
	out = anp.Encode(out, anp.U32(uint32(kind)))
	out = anp.Encode(out, anp.Str(text))
	return out
}

// composeResourceQuotaFail composes a FailResourceQuota payload, which
// spec.md §4.6.1/§6 require to carry a trailing subkind atom (0
// general, 1 no-secure) after the standard (kind, text) pair.
func composeResourceQuotaFail(subkind session.ResourceQuotaSubkind, text string) []byte {
	out := composeFail(session.FailResourceQuota, text)
	return anp.Encode(out, anp.U32(uint32(subkind)))
}

// recvBlocking loops the non-blocking transport's receive FSM until a
// full message is ready. Ticket-mode is single-threaded (spec.md §5),
// so unlike the session engine's three actors it can afford to block
// its one goroutine on each step of the flow.
func recvBlocking(ctx context.Context, tp *transport.Transport) (anp.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return anp.Message{}, ctx.Err()
		default:
		}
		_, ready, err := tp.RecvStep()
		if err == transport.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return anp.Message{}, err
		}
		if ready {
			return tp.TakeReceived(), nil
		}
	}
}

func sendBlocking(tp *transport.Transport, typ uint32, id uint64, payload []byte) error {
	if err := tp.SendOne(1, 0, typ, id, payload); err != nil {
		return err
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, done, err := tp.SendStep()
		if err == transport.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		if done {
			tp.ResetSend()
			return nil
		}
	}
	return errors.New("ticketmode: send timed out")
}
