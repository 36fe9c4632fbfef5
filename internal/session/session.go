/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/klog"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/transport"
	"github.com/kasproject/kasd/internal/wsutil"
)

// Role is the SELECT-ROLE command's role selector: which subprotocol
// the remainder of the connection speaks.
type Role uint32

const (
	RoleWorkspace Role = iota
	RoleFileTransfer
	RoleScreenShare
)

var (
	// ErrMustUpgrade is returned by Serve when the negotiated effective
	// minor falls below the daemon's minimum supported minor.
	ErrMustUpgrade = errors.New("session: client must upgrade")
	// ErrHandshake covers any other malformed or out-of-order first
	// message.
	ErrHandshake = errors.New("session: handshake failed")
)

// Config bundles everything a Session needs from its caller (normally
// cmd/kasd's per-connection goroutine after dispatch.Route has
// identified the connection as principal).
type Config struct {
	Procs                 kdb.Procedures
	ListenConn            *kdb.ListenConn
	Helpers               proc.Helpers
	AdminSecret           string
	TrustedKeys           map[string]struct{}
	DaemonMinor           uint32
	MinimumSupportedMinor uint32
	Log                   *klog.Logger
}

// Session runs the principal subprotocol's handshake and, for
// workspace-role connections, the full three-actor engine (B/C/E).
type Session struct {
	cfg Config
}

func New(cfg Config) *Session { return &Session{cfg: cfg} }

// HandshakeResult is what SELECT-ROLE negotiated.
type HandshakeResult struct {
	Role  Role
	Minor uint32
}

// Serve drives tp through the SELECT-ROLE handshake. For RoleWorkspace
// it then runs the engine to completion and returns only once the
// session has fully shut down. For RoleFileTransfer/RoleScreenShare it
// returns immediately after a successful handshake so the caller can
// hand tp off to the ticket-mode handler.
func (s *Session) Serve(ctx context.Context, tp *transport.Transport, preRead [4]byte, hasPreRead bool) (HandshakeResult, error) {
	if hasPreRead {
		tp.InjectPreRead(preRead[:])
	}
	hr, err := s.handshake(ctx, tp)
	if err != nil {
		return hr, err
	}
	if hr.Role != RoleWorkspace {
		return hr, nil
	}
	s.runEngine(ctx, tp, hr.Minor)
	return hr, nil
}

func (s *Session) handshake(ctx context.Context, tp *transport.Transport) (HandshakeResult, error) {
	msg, err := recvBlocking(ctx, tp)
	if err != nil {
		return HandshakeResult{}, err
	}
	if msg.Header.Type != TypeSelectRoleCmd {
		s.failAndFlush(tp, msg.Header.ID, FailGeneric, "expected SELECT-ROLE")
		return HandshakeResult{}, ErrHandshake
	}
	atoms, err := anp.DecodeAll(msg.Payload)
	if err != nil {
		s.failAndFlush(tp, msg.Header.ID, FailGeneric, err.Error())
		return HandshakeResult{}, ErrHandshake
	}
	as := anp.Atoms(atoms)
	roleCode, err := as.U32(0)
	if err != nil {
		s.failAndFlush(tp, msg.Header.ID, FailGeneric, "bad role atom")
		return HandshakeResult{}, ErrHandshake
	}
	if _, err := as.U32(1); err != nil { // client major, presence-checked only
		s.failAndFlush(tp, msg.Header.ID, FailGeneric, "bad major atom")
		return HandshakeResult{}, ErrHandshake
	}
	clientMinor, err := as.U32(2)
	if err != nil {
		s.failAndFlush(tp, msg.Header.ID, FailGeneric, "bad minor atom")
		return HandshakeResult{}, ErrHandshake
	}

	minor := clientMinor
	if s.cfg.DaemonMinor < minor {
		minor = s.cfg.DaemonMinor
	}
	if minor < s.cfg.MinimumSupportedMinor {
		s.failAndFlush(tp, msg.Header.ID, FailMustUpgrade, "must upgrade")
		return HandshakeResult{Role: Role(roleCode), Minor: minor}, ErrMustUpgrade
	}

	if err := sendBlocking(tp, TypeSelectRoleResult, msg.Header.ID, nil, 1, minor); err != nil {
		return HandshakeResult{}, err
	}
	return HandshakeResult{Role: Role(roleCode), Minor: minor}, nil
}

func (s *Session) failAndFlush(tp *transport.Transport, id uint64, kind FailKind, text string) {
	_ = sendBlocking(tp, TypeFail, id, composeFail(kind, text), 1, s.cfg.MinimumSupportedMinor)
}

func (s *Session) runEngine(ctx context.Context, tp *transport.Transport, minor uint32) {
	shared := newSharedState()
	wake := newNotifier()
	workspaces := wsutil.NewCommandSet()

	b := newBroker(tp, shared, wake, minor)
	c := newCommander(shared, wake, workspaces, s.cfg.Procs, s.cfg.Helpers, minor,
		s.cfg.AdminSecret, s.cfg.TrustedKeys, s.cfg.Log)
	e := newEventer(shared, wake, workspaces, s.cfg.ListenConn, s.cfg.Log)

	// The broker/commander/eventer actors share the mutex-protected
	// sharedState and wake each other over notifier channels, but
	// still need one place that waits for all three
	// to unwind before Serve returns; errgroup.Group gives that plus a
	// first-error slot without hand-rolling one more WaitGroup+chan.
	var g errgroup.Group
	g.Go(func() error { b.run(); return nil })
	g.Go(func() error { c.run(ctx); return nil })
	g.Go(func() error { e.run(ctx); return nil })
	_ = g.Wait()

	if s.cfg.Log != nil {
		_ = s.cfg.Log.Infof("session closed: cause=%s", shared.causeValue())
	}
}

// recvBlocking loops the non-blocking transport's receive FSM until a
// full message is ready, adapting spec.md §5's "central I/O wait
// primitive" to a short-sleep poll for the one synchronous read the
// handshake needs before the engine's actors take over.
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

func sendBlocking(tp *transport.Transport, typ uint32, id uint64, payload []byte, major, minor uint32) error {
	if err := tp.SendOne(major, minor, typ, id, payload); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
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
	return errors.New("session: send timed out")
}
