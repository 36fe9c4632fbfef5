package session

import (
	"context"

	"github.com/kasproject/kasd/internal/kdb"
)

// stubProcs implements kdb.Procedures by embedding a nil interface and
// overriding only the methods a given test exercises, mirroring
// internal/ticket's test stub.
type stubProcs struct {
	kdb.Procedures

	validateLogin       func(ctx context.Context, req kdb.LoginRequest) (kdb.LoginResult, error)
	applyPropertyChange func(ctx context.Context, workspaceID uint64, kind kdb.PropertyChangeKind, actorUserID uint32, args ...interface{}) (kdb.PropertyChangeResult, error)
	insertTicket        func(ctx context.Context, ticket []byte) error
	createWorkspace     func(ctx context.Context, ownerUserID uint32, name string) (uint64, error)
	getUURL             func(ctx context.Context, workspaceID uint64) (string, error)
	insertInvite        func(ctx context.Context, workspaceID uint64, inviterUserID uint32, email string) (uint64, error)
}

func (s stubProcs) ValidateLogin(ctx context.Context, req kdb.LoginRequest) (kdb.LoginResult, error) {
	return s.validateLogin(ctx, req)
}

func (s stubProcs) ApplyPropertyChange(ctx context.Context, workspaceID uint64, kind kdb.PropertyChangeKind, actorUserID uint32, args ...interface{}) (kdb.PropertyChangeResult, error) {
	return s.applyPropertyChange(ctx, workspaceID, kind, actorUserID, args...)
}

func (s stubProcs) InsertTicket(ctx context.Context, ticket []byte) error {
	return s.insertTicket(ctx, ticket)
}

func (s stubProcs) CreateWorkspace(ctx context.Context, ownerUserID uint32, name string) (uint64, error) {
	return s.createWorkspace(ctx, ownerUserID, name)
}

func (s stubProcs) GetUURL(ctx context.Context, workspaceID uint64) (string, error) {
	return s.getUURL(ctx, workspaceID)
}

func (s stubProcs) InsertInvite(ctx context.Context, workspaceID uint64, inviterUserID uint32, email string) (uint64, error) {
	return s.insertInvite(ctx, workspaceID, inviterUserID, email)
}
