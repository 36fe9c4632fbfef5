package transport

import (
	"net"
	"testing"
	"time"

	"github.com/kasproject/kasd/internal/anp"
)

func TestRecvStepFullMessage(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	payload := anp.Encode(nil, anp.U32(7))
	wire, err := anp.EncodeMessage(nil, 1, 1, anp.MakeType(anp.RoleCommand, anp.NSGeneric, 1), 99, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		clientConn.Write(wire)
	}()

	tr := New(serverConn)
	deadline := time.After(2 * time.Second)
	for {
		_, ready, err := tr.RecvStep()
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("recv step: %v", err)
		}
		if ready {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for message")
		default:
		}
	}
	msg := tr.TakeReceived()
	if msg.Header.ID != 99 {
		t.Fatalf("id mismatch: %d", msg.Header.ID)
	}
	v, err := anp.NewReader(msg.Payload).U32()
	if err != nil || v != 7 {
		t.Fatalf("payload mismatch: %v %v", v, err)
	}
	<-done
}

func TestSendStepFullMessage(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	tr := New(serverConn)
	payload := anp.Encode(nil, anp.U64(12345))
	if err := tr.SendOne(1, 1, anp.MakeType(anp.RoleResult, anp.NSGeneric, 1), 1, payload); err != nil {
		t.Fatalf("send one: %v", err)
	}

	wireCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1024)
		total := 0
		for total < anp.HeaderSize+len(payload) {
			n, err := clientConn.Read(buf[total:])
			if err != nil {
				break
			}
			total += n
		}
		wireCh <- buf[:total]
	}()

	deadline := time.After(2 * time.Second)
	for {
		_, done, err := tr.SendStep()
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("send step: %v", err)
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out sending")
		default:
		}
	}

	wire := <-wireCh
	msg, n, err := anp.DecodeMessage(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d want %d", n, len(wire))
	}
	v, err := anp.NewReader(msg.Payload).U64()
	if err != nil || v != 12345 {
		t.Fatalf("payload mismatch: %v %v", v, err)
	}

	tr.ResetSend()
	if !tr.SendIdleState() {
		t.Fatalf("expected idle after reset")
	}
}

func TestInjectPreRead(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	payload := anp.Encode(nil, anp.Str("hi"))
	wire, err := anp.EncodeMessage(nil, 1, 1, anp.MakeType(anp.RoleCommand, anp.NSGeneric, 1), 5, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	preRead := wire[:4]
	rest := wire[4:]

	done := make(chan struct{})
	go func() {
		defer close(done)
		clientConn.Write(rest)
	}()

	tr := New(serverConn)
	tr.InjectPreRead(preRead)

	deadline := time.After(2 * time.Second)
	for {
		_, ready, err := tr.RecvStep()
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("recv step: %v", err)
		}
		if ready {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out")
		default:
		}
	}
	msg := tr.TakeReceived()
	if msg.Header.ID != 5 {
		t.Fatalf("id mismatch: %d", msg.Header.ID)
	}
	<-done
}
