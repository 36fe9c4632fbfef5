package dispatch

import (
	"io"
	"net"
	"testing"
	"time"
)

// TestDispatchScreenShareProbe exercises spec.md scenario S2: a "VNC!"
// magic followed by the literal probe identifier gets back the fixed
// diagnostic acknowledgement.
func TestDispatchScreenShareProbe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var probeID [ProbeIDSize]byte
	copy(probeID[:], "VNC__META__PROXY__LOCAL__TESTING")

	done := make(chan error, 1)
	go func() {
		_, err := Route(server, Targets{ScreenShareID: probeID})
		done <- err
	}()

	if _, err := client.Write([]byte("VNC!")); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if _, err := client.Write(probeID[:]); err != nil {
		t.Fatalf("write probe id: %v", err)
	}

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(client, buf[:len("VNC__META__PROXY__LOCAL__TESTING__OK\n")])
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	got := string(buf[:n])
	want := "VNC__META__PROXY__LOCAL__TESTING__OK\n"
	if got != want {
		t.Fatalf("ack mismatch: got %q want %q", got, want)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("route: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for route to finish")
	}
}

func TestDispatchPrincipalPreRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{0, 0, 0, 0})

	preRead, err := Route(server, Targets{})
	if err != ErrPrincipal {
		t.Fatalf("expected ErrPrincipal, got %v", err)
	}
	if preRead != ([4]byte{0, 0, 0, 0}) {
		t.Fatalf("preRead mismatch: %v", preRead)
	}
}

func TestDispatchPeerProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	backendGotPreRead := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			backendGotPreRead <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		io.ReadFull(conn, buf)
		backendGotPreRead <- buf
		io.Copy(io.Discard, conn)
	}()

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Route(server, Targets{PeerProxyAddr: ln.Addr().String()})
		done <- err
	}()

	client.Write([]byte{0, 0, 0, 4})
	client.Close()

	select {
	case got := <-backendGotPreRead:
		if string(got) != string([]byte{0, 0, 0, 4}) {
			t.Fatalf("backend did not see pre-read bytes: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for backend")
	}
	<-done
}

func TestPeekWebProxyDefault(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("GET "))

	d, err := Peek(server)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if d.Kind != KindWebProxy {
		t.Fatalf("expected web proxy kind, got %v", d.Kind)
	}
}
