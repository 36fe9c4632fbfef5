/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package transport drives a non-blocking net.Conn (normally a TLS
// session) through the receive and send state machines described in
// spec.md §4.2. A single Transport handles one message at a time in
// each direction; a dispatcher (the session engine's broker) is
// responsible for waiting on readiness and calling Step repeatedly.
package transport

import (
	"errors"
	"net"
	"time"

	"github.com/kasproject/kasd/internal/anp"
)

// RecvState is the receive side's four states.
type RecvState int

const (
	RecvIdle RecvState = iota
	RecvHeader
	RecvPayload
	RecvReady
)

// SendState is the send side's three states.
type SendState int

const (
	SendIdle SendState = iota
	SendInflight
	SendDone
)

// ErrWouldBlock is returned by Step methods to mean "no progress was
// possible right now, try again once the dispatcher sees readiness". It
// is not a failure.
var ErrWouldBlock = errors.New("transport: would block")

// baselineSendBuf bounds the outbound buffer's resting size; Reset
// shrinks back down to it so peak memory during a send storm does not
// become the steady-state footprint.
const baselineSendBuf = 4096

type Transport struct {
	conn net.Conn

	recvState  RecvState
	headerBuf  []byte // grows to anp.HeaderSize
	header     anp.Header
	payloadBuf []byte
	payloadPos int
	ready      anp.Message
	decodeErr  error

	sendState SendState
	sendBuf   []byte
	sendPos   int
}

func New(conn net.Conn) *Transport {
	t := &Transport{conn: conn}
	t.beginRecv()
	return t
}

// Conn exposes the underlying connection for subprotocols that drop out
// of ANP framing entirely, such as the screen-share relay's raw
// bidirectional proxy loop.
func (t *Transport) Conn() net.Conn { return t.conn }

// InjectPreRead installs bytes already read off the wire (the dispatch
// mux's four-byte subprotocol peek) as the start of the header buffer,
// so the principal subprotocol never re-reads them.
func (t *Transport) InjectPreRead(b []byte) {
	t.headerBuf = append(t.headerBuf, b...)
	if len(t.headerBuf) >= anp.HeaderSize {
		t.finishHeader()
	}
}

func (t *Transport) beginRecv() {
	t.recvState = RecvHeader
	t.headerBuf = t.headerBuf[:0]
	t.payloadBuf = nil
	t.payloadPos = 0
}

func (t *Transport) finishHeader() {
	h, err := anp.DecodeHeader(t.headerBuf[:anp.HeaderSize])
	if err != nil {
		// Framing errors on the header are surfaced by the next RecvStep
		// call via the stashed error path; we reuse payloadBuf as a
		// one-shot error carrier by leaving recvState at RecvHeader and
		// letting the caller observe it through decodeErr.
		t.decodeErr = err
		return
	}
	t.header = h
	if h.PayloadLen == 0 {
		t.ready = anp.Message{Header: h}
		t.recvState = RecvReady
		return
	}
	t.payloadBuf = make([]byte, h.PayloadLen)
	t.payloadPos = 0
	t.recvState = RecvPayload
}

// RecvStep attempts exactly one read, waiting at most a millisecond for
// data, and advances the receive FSM. It returns the number of bytes moved and whether a full
// message is now available (ready). ErrWouldBlock is not fatal; any
// other error is session-fatal per spec.md §7.
func (t *Transport) RecvStep() (moved int, ready bool, err error) {
	if t.recvState == RecvReady {
		return 0, true, nil
	}
	if t.decodeErr != nil {
		err = t.decodeErr
		t.decodeErr = nil
		return
	}

	if err = t.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return
	}
	var buf []byte
	var consume func(int)
	switch t.recvState {
	case RecvHeader:
		need := anp.HeaderSize - len(t.headerBuf)
		tmp := make([]byte, need)
		n, rerr := t.conn.Read(tmp)
		if n > 0 {
			t.headerBuf = append(t.headerBuf, tmp[:n]...)
			moved = n
			if len(t.headerBuf) >= anp.HeaderSize {
				t.finishHeader()
				ready = t.recvState == RecvReady
			}
		}
		err = classifyErr(rerr)
		return
	case RecvPayload:
		buf = t.payloadBuf[t.payloadPos:]
		consume = func(n int) {
			t.payloadPos += n
			if t.payloadPos >= len(t.payloadBuf) {
				t.ready = anp.Message{Header: t.header, Payload: t.payloadBuf}
				t.recvState = RecvReady
				ready = true
			}
		}
	default:
		return 0, false, nil
	}

	n, rerr := t.conn.Read(buf)
	if n > 0 {
		moved = n
		consume(n)
	}
	err = classifyErr(rerr)
	return
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrWouldBlock
	}
	return err
}

// TakeReceived returns the ready message and resets the receive FSM to
// idle/header for the next message. It must only be called when
// RecvStep has reported ready.
func (t *Transport) TakeReceived() anp.Message {
	m := t.ready
	t.ready = anp.Message{}
	t.beginRecv()
	return m
}

// Recvd reports whether a full message is waiting to be taken.
func (t *Transport) Recvd() bool { return t.recvState == RecvReady }

// SendOne serializes a single message into the outbound buffer and
// transitions to inflight. It is an error to call this while another
// send is still inflight; callers should drain with SendStep first.
func (t *Transport) SendOne(major, minor, typ uint32, id uint64, payload []byte) error {
	return t.SendMany([]OutMessage{{Major: major, Minor: minor, Type: typ, ID: id, Payload: payload}})
}

// OutMessage is one message queued for serialization by SendMany.
type OutMessage struct {
	Major, Minor, Type uint32
	ID                 uint64
	Payload            []byte
}

// SendMany serializes several messages into a single outbound buffer
// (the broker coalesces ready outgoing messages up to ~1MiB per §5).
func (t *Transport) SendMany(msgs []OutMessage) error {
	if t.sendState == SendInflight {
		return errors.New("transport: send already inflight")
	}
	var buf []byte
	for _, m := range msgs {
		var err error
		buf, err = anp.EncodeMessage(buf, m.Major, m.Minor, m.Type, m.ID, m.Payload)
		if err != nil {
			return err
		}
	}
	t.sendBuf = buf
	t.sendPos = 0
	t.sendState = SendInflight
	return nil
}

// SendStep attempts exactly one write, bounded by a one-millisecond
// deadline, returning bytes
// moved and whether the outbound buffer has been fully flushed (done).
func (t *Transport) SendStep() (moved int, done bool, err error) {
	if t.sendState != SendInflight {
		return 0, t.sendState == SendDone || t.sendState == SendIdle, nil
	}
	if err = t.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return
	}
	n, werr := t.conn.Write(t.sendBuf[t.sendPos:])
	if n > 0 {
		t.sendPos += n
		moved = n
	}
	if t.sendPos >= len(t.sendBuf) {
		t.sendState = SendDone
		done = true
	}
	err = classifyErr(werr)
	return
}

// ResetSend transitions done->idle, shrinking the buffer back to a
// baseline size to bound peak memory.
func (t *Transport) ResetSend() {
	t.sendState = SendIdle
	t.sendPos = 0
	if cap(t.sendBuf) > baselineSendBuf {
		t.sendBuf = make([]byte, 0, baselineSendBuf)
	} else {
		t.sendBuf = t.sendBuf[:0]
	}
}

// SendIdleState reports whether the send side is idle (ready to accept
// the next SendMany call).
func (t *Transport) SendIdleState() bool { return t.sendState == SendIdle }
