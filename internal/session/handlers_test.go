package session

import (
	"context"
	"testing"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/wsutil"
)

func TestHandleConnectSuccess(t *testing.T) {
	procs := stubProcs{
		validateLogin: func(ctx context.Context, req kdb.LoginRequest) (kdb.LoginResult, error) {
			return kdb.LoginResult{Code: kdb.LoginOK, ResolvedUserID: 7, EmailID: 99, LastEventID: 100, Registered: true, Password: req.Password}, nil
		},
	}
	var payload []byte
	payload = anp.Encode(payload, anp.U64(42))
	payload = anp.Encode(payload, anp.U32(0))
	payload = anp.Encode(payload, anp.U64(100))
	payload = anp.Encode(payload, anp.U64(0))
	payload = anp.Encode(payload, anp.U32(7))
	payload = anp.Encode(payload, anp.Str("alice"))
	payload = anp.Encode(payload, anp.Str("alice@example.com"))
	payload = anp.Encode(payload, anp.U64(99))
	payload = anp.Encode(payload, anp.Bin(nil))
	payload = anp.Encode(payload, anp.Str("hunter2"))

	hc := &HandlerContext{
		Ctx:        context.Background(),
		Cmd:        anp.Message{Header: anp.Header{ID: 1}, Payload: payload},
		Workspaces: wsutil.NewCommandSet(),
		Procs:      procs,
		Minor:      3,
	}
	outcome, res := handleConnect(hc)
	if outcome != outcomeSpecificFailure {
		t.Fatalf("expected specificFailure outcome carrying the composed result, got %v", outcome)
	}
	if res.typ != TypeConnectResult {
		t.Fatalf("unexpected result type %x", res.typ)
	}
	if handle, ok := hc.Workspaces.Get(42); !ok || handle.UserID != 7 {
		t.Fatalf("expected workspace 42 joined with user 7, got %+v ok=%v", handle, ok)
	}
}

func TestHandleConnectBadPassword(t *testing.T) {
	procs := stubProcs{
		validateLogin: func(ctx context.Context, req kdb.LoginRequest) (kdb.LoginResult, error) {
			return kdb.LoginResult{Code: kdb.LoginOK, ResolvedUserID: 7, Password: "correct"}, nil
		},
	}
	var payload []byte
	payload = anp.Encode(payload, anp.U64(42))
	payload = anp.Encode(payload, anp.U32(0))
	payload = anp.Encode(payload, anp.U64(0))
	payload = anp.Encode(payload, anp.U64(0))
	payload = anp.Encode(payload, anp.U32(0))
	payload = anp.Encode(payload, anp.Str(""))
	payload = anp.Encode(payload, anp.Str("bob@example.com"))
	payload = anp.Encode(payload, anp.U64(1))
	payload = anp.Encode(payload, anp.Bin(nil))
	payload = anp.Encode(payload, anp.Str("wrong"))

	hc := &HandlerContext{
		Ctx:        context.Background(),
		Cmd:        anp.Message{Payload: payload},
		Workspaces: wsutil.NewCommandSet(),
		Procs:      procs,
		Minor:      3,
	}
	outcome, res := handleConnect(hc)
	if outcome != outcomeSpecificFailure {
		t.Fatalf("expected specificFailure, got %v", outcome)
	}
	atoms, err := anp.DecodeAll(res.payload)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	code, err := anp.Atoms(atoms).U32(0)
	if err != nil {
		t.Fatalf("decode code: %v", err)
	}
	if kdb.LoginCode(code) != kdb.LoginBadPasswordOrTicket {
		t.Fatalf("expected bad-password-or-ticket, got %d", code)
	}
}

func TestPropertyChangeHandlerSyncsKFS(t *testing.T) {
	called := false
	procs := stubProcs{
		applyPropertyChange: func(ctx context.Context, workspaceID uint64, kind kdb.PropertyChangeKind, actorUserID uint32, args ...interface{}) (kdb.PropertyChangeResult, error) {
			called = true
			if kind != kdb.PropThinKFS {
				t.Fatalf("expected PropThinKFS, got %v", kind)
			}
			return kdb.PropertyChangeResult{SyncKFS: true, NewLoginType: kdb.LoginNormal}, nil
		},
	}
	ws := wsutil.NewCommandSet()
	ws.Join(wsutil.CommandHandle{WorkspaceID: 1, UserID: 5, LoginType: kdb.LoginNormal})

	var payload []byte
	payload = anp.Encode(payload, anp.U64(1))
	payload = anp.Encode(payload, anp.U32(1))

	hc := &HandlerContext{
		Ctx:        context.Background(),
		Cmd:        anp.Message{Payload: payload},
		Workspaces: ws,
		Procs:      procs,
		Helpers:    proc.Helpers{KFSSyncPath: "/bin/true"},
	}
	handler := propertyChangeHandler(kdb.PropThinKFS)
	outcome, res := handler(hc)
	if !called {
		t.Fatalf("expected ApplyPropertyChange to be invoked")
	}
	if outcome != outcomeSpecificFailure {
		t.Fatalf("expected specificFailure (result-bearing), got %v", outcome)
	}
	if res.typ != TypePropChangeResult {
		t.Fatalf("unexpected result type")
	}
}

func TestTicketGrantHandlerMintsTicket(t *testing.T) {
	var inserted []byte
	procs := stubProcs{
		insertTicket: func(ctx context.Context, ticket []byte) error {
			inserted = ticket
			return nil
		},
	}
	ws := wsutil.NewCommandSet()
	ws.Join(wsutil.CommandHandle{WorkspaceID: 42, UserID: 7, LoginType: kdb.LoginNormal})

	var payload []byte
	payload = anp.Encode(payload, anp.U64(42))
	payload = anp.Encode(payload, anp.U32(3)) // share id extension

	hc := &HandlerContext{
		Ctx:        context.Background(),
		Cmd:        anp.Message{Payload: payload},
		Workspaces: ws,
		Procs:      procs,
	}
	handler := ticketGrantHandler(2, TypeUploadReqResult)
	outcome, res := handler(hc)
	if outcome != outcomeSpecificFailure {
		t.Fatalf("expected specificFailure, got %v", outcome)
	}
	if len(inserted) == 0 {
		t.Fatalf("expected ticket to be inserted")
	}
	atoms, err := anp.DecodeAll(res.payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	raw, err := anp.Atoms(atoms).Bin(0)
	if err != nil {
		t.Fatalf("decode bin: %v", err)
	}
	if string(raw) != string(inserted) {
		t.Fatalf("reply ticket bytes do not match inserted bytes")
	}
}
