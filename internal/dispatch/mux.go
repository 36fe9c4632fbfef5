/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package dispatch

import (
	"errors"
	"net"
	"time"
)

// Keepalive tuning applied to every accepted socket before the TLS
// handshake, per spec.md §4.3: idle 240s, probe interval 10s, 9 probes
// before the kernel gives up on a half-open peer.
const (
	KeepAliveIdle     = 240 * time.Second
	KeepAliveInterval = 10 * time.Second
	KeepAliveCount    = 9
)

// TuneKeepAlive configures TCP keepalive on a freshly accepted
// connection. It is a no-op (returns nil) for connection types that do
// not support per-parameter keepalive tuning.
func TuneKeepAlive(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     KeepAliveIdle,
		Interval: KeepAliveInterval,
		Count:    KeepAliveCount,
	})
}

// Targets names the local backends the mux proxies non-principal
// connections to.
type Targets struct {
	PeerProxyAddr string // local peer-service TCP proxy target
	WebProxyAddr  string // local web-service TCP proxy target
	ScreenShareID [ProbeIDSize]byte
	ResolvePort   ScreenSharePortResolver
}

// ErrPrincipal is returned by Route when the connection was classified
// as the principal subprotocol: the caller owns the connection from
// here and should hand conn plus PreRead to the session engine via
// transport.Transport.InjectPreRead.
var ErrPrincipal = errors.New("dispatch: principal subprotocol, caller takes over")

// Route peeks a freshly accepted connection's first four bytes and
// either fully handles it (proxy and screen-share paths run to
// completion; the probe-acknowledgement and error paths return with
// the connection still open, so the caller closes it) or
// returns ErrPrincipal together with the peeked bytes so the caller can
// install them into a transport.Transport and proceed with the
// principal subprotocol.
func Route(conn net.Conn, t Targets) (preRead [4]byte, err error) {
	d, err := Peek(conn)
	if err != nil {
		return [4]byte{}, err
	}
	switch d.Kind {
	case KindPrincipal:
		return d.PreRead, ErrPrincipal
	case KindPeerProxy:
		return d.PreRead, ProxyTCP(conn, t.PeerProxyAddr, d.PreRead[:])
	case KindWebProxy:
		return d.PreRead, ProxyTCP(conn, t.WebProxyAddr, d.PreRead[:])
	case KindScreenShare:
		id, err := ReadProbeID(conn)
		if err != nil {
			return d.PreRead, err
		}
		return d.PreRead, HandleScreenShare(conn, t.ScreenShareID, t.ResolvePort, id)
	default:
		return d.PreRead, errors.New("dispatch: unreachable kind")
	}
}
