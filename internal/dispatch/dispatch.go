/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dispatch implements the dispatch mux (DM): on a freshly
// accepted TLS session it peeks four identification bytes and routes
// the connection to the principal subprotocol, a peer-service TCP
// proxy, a web-service TCP proxy, or the screen-sharing relay, per
// spec.md §4.3.
package dispatch

import (
	"io"
	"net"
	"strconv"
)

// Kind is the subprotocol a fresh connection was routed to.
type Kind int

const (
	KindPrincipal Kind = iota
	KindPeerProxy
	KindWebProxy
	KindScreenShare
)

func (k Kind) String() string {
	switch k {
	case KindPrincipal:
		return "principal"
	case KindPeerProxy:
		return "peer-proxy"
	case KindWebProxy:
		return "web-proxy"
	case KindScreenShare:
		return "screen-share"
	default:
		return "unknown"
	}
}

var peerProxyMagic = [4]byte{0x00, 0x00, 0x00, 0x04}
var principalMagic = [4]byte{0x00, 0x00, 0x00, 0x00}
var vncMagic = [4]byte{'V', 'N', 'C', '!'}

// Decision is the result of peeking a connection's first four bytes.
type Decision struct {
	Kind    Kind
	PreRead [4]byte
}

// Peek reads exactly four bytes from conn and classifies the
// subprotocol. The four bytes are returned in Decision.PreRead so the
// caller can hand them back to whichever handler it dispatches to
// (the principal subprotocol installs them as the start of its first
// message header; the proxies write them back to the backend verbatim).
func Peek(conn net.Conn) (Decision, error) {
	var b [4]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return Decision{}, err
	}
	d := Decision{PreRead: b}
	switch b {
	case vncMagic:
		d.Kind = KindScreenShare
	case peerProxyMagic:
		d.Kind = KindPeerProxy
	case principalMagic:
		d.Kind = KindPrincipal
	default:
		d.Kind = KindWebProxy
	}
	return d, nil
}

// ProbeIDSize is the length of the screen-share probe identifier read
// right after the "VNC!" magic.
const ProbeIDSize = 32

// ReadProbeID reads the 32-byte identifier that follows the "VNC!"
// magic bytes.
func ReadProbeID(conn net.Conn) ([ProbeIDSize]byte, error) {
	var id [ProbeIDSize]byte
	_, err := io.ReadFull(conn, id[:])
	return id, err
}

// ProbeAckSuffix is appended to the literal probe identifier to build
// the diagnostic acknowledgement reply (spec.md scenario S2).
const ProbeAckSuffix = "__OK\n"

// ProbeText trims trailing NUL padding from a fixed-size identifier so
// it can be compared against and echoed back as ASCII text.
func ProbeText(id [ProbeIDSize]byte) string {
	n := len(id)
	for n > 0 && id[n-1] == 0 {
		n--
	}
	return string(id[:n])
}

// ProxyTCP connects to addr, writes preRead back to the backend
// verbatim (the peer-service and web-service proxy paths both do
// this), then proxies bytes bidirectionally until either side closes.
func ProxyTCP(conn net.Conn, addr string, preRead []byte) error {
	backend, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer backend.Close()
	if len(preRead) > 0 {
		if _, err := backend.Write(preRead); err != nil {
			return err
		}
	}
	return bidiCopy(conn, backend)
}

// bidiCopy pumps bytes in both directions until one side returns EOF or
// an error; it then closes both halves so the other goroutine unblocks.
func bidiCopy(a, b net.Conn) error {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(a, b)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(b, a)
		errc <- err
	}()
	err := <-errc
	a.Close()
	b.Close()
	<-errc
	return err
}

// ScreenSharePortResolver maps a screen-share probe identifier to the
// local reflector port it should be proxied to (§4.6.3's "join session"
// path resolves a session id to a port the same way).
type ScreenSharePortResolver func(id [ProbeIDSize]byte) (port uint32, ok bool)

// HandleScreenShare implements the "VNC!" entry path: either reply with
// the fixed probe acknowledgement (diagnostic use, spec.md S2) or proxy
// to the local reflector at the resolved port.
func HandleScreenShare(conn net.Conn, probeAckID [ProbeIDSize]byte, resolve ScreenSharePortResolver, id [ProbeIDSize]byte) error {
	if id == probeAckID {
		_, err := conn.Write(append([]byte(ProbeText(id)), ProbeAckSuffix...))
		return err
	}
	port, ok := resolve(id)
	if !ok {
		return io.ErrUnexpectedEOF
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.FormatUint(uint64(port), 10))
	return ProxyTCP(conn, addr, nil)
}
