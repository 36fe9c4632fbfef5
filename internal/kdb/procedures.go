/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kdb

import "context"

// Procedures is the full set of backend-database operations the
// commander, eventer, and ticket-mode handler invoke. Every method
// corresponds to exactly one named procedure in spec.md; keeping them
// behind an interface lets session and ticketmode tests supply a
// hand-rolled stub instead of a real database.
type Procedures interface {
	// ValidateLogin runs the CONNECT resolution procedure.
	ValidateLogin(ctx context.Context, req LoginRequest) (LoginResult, error)

	// PersistConsumedTicket records that a freshly validated ticket
	// was consumed by a non-system user, per spec.md §5's CONNECT
	// step 6.
	PersistConsumedTicket(ctx context.Context, workspaceID uint64, userID uint32, ticket []byte) error

	// RecordUserName persists a newly registered user's display name.
	RecordUserName(ctx context.Context, workspaceID uint64, userID uint32, name string) error

	// CheckWorkspacePermission re-runs the permission check for a
	// joined workspace; denied is true if the user should be removed.
	CheckWorkspacePermission(ctx context.Context, workspaceID uint64, userID uint32) (denied bool, err error)

	// ApplyPropertyChange forwards any of the property-change
	// commands (name/flags/password/...) to the single named
	// procedure that handles all of them.
	ApplyPropertyChange(ctx context.Context, workspaceID uint64, kind PropertyChangeKind, actorUserID uint32, args ...interface{}) (PropertyChangeResult, error)

	// CreateWorkspace implements the supplemented CREATE-KWS command.
	CreateWorkspace(ctx context.Context, ownerUserID uint32, name string) (workspaceID uint64, err error)

	// ConfirmFreemium implements the supplemented FREEMIUM-CONFIRM
	// command.
	ConfirmFreemium(ctx context.Context, workspaceID uint64, userID uint32) error

	// GetUURL implements the supplemented GET-UURL command.
	GetUURL(ctx context.Context, workspaceID uint64) (string, error)

	// InsertInvite records an outstanding invitation and returns the
	// email id later used to correlate acceptance.
	InsertInvite(ctx context.Context, workspaceID uint64, inviterUserID uint32, email string) (emailID uint64, err error)

	// PollEvents reads up to limit events for workspaceID with id >
	// afterID, in ascending id order.
	PollEvents(ctx context.Context, workspaceID uint64, afterID uint64, limit int) ([]Event, error)

	// InsertTicket inserts a freshly minted ticket row into the
	// ledger. The backend stamps the row's creation date itself.
	InsertTicket(ctx context.Context, ticket []byte) error

	// ConsumeTicket atomically deletes the ticket row if present
	// within its TTL, reporting whether it was found.
	ConsumeTicket(ctx context.Context, ticket []byte) (consumed bool, err error)

	// UploadPhase1 runs the change-description procedure.
	UploadPhase1(ctx context.Context, workspaceID uint64, shareID uint32, publicEmailID uint64, changes []UploadChange) (UploadPhase1Result, error)

	// UploadPhase2Commit atomically records the commit group and
	// emits the corresponding event.
	UploadPhase2Commit(ctx context.Context, group UploadCommitGroup) error

	// DownloadResolvePaths maps a share id plus requested (inode,
	// offset, commit-id) tuples to their on-disk storage paths.
	DownloadResolvePaths(ctx context.Context, shareID uint32, refs []DownloadFileRef) ([]string, error)

	// ScreenShareRecordStart records a freshly started screen-share
	// session and emits its start event.
	ScreenShareRecordStart(ctx context.Context, workspaceID uint64, sessionID uint64, subject string, port int) error

	// ScreenShareRecordEnd records the end of a screen-share session.
	ScreenShareRecordEnd(ctx context.Context, sessionID uint64, reason string) error

	// ScreenShareResolveSession maps a session id (decoded from a
	// screen-share-client ticket's extension) to the local reflector
	// port its "start session" side bound.
	ScreenShareResolveSession(ctx context.Context, sessionID uint64) (port int, err error)

	// WorkspaceStorageUsage returns the workspace's configured byte
	// quota and its currently committed total, for the upload chunk
	// ceiling in spec.md §4.6.1.
	WorkspaceStorageUsage(ctx context.Context, workspaceID uint64) (quotaBytes int64, usedBytes int64, err error)

	// GlobalStorageUsage returns the instance-wide committed total
	// against which the licensed storage ceiling is enforced.
	GlobalStorageUsage(ctx context.Context) (usedBytes int64, err error)

	// UploadHeartbeat refreshes an in-progress upload's liveness
	// timestamp. The upload flow calls it during phase 2 at most once
	// per heartbeat interval, not after every phase-2 message.
	UploadHeartbeat(ctx context.Context, commitID uint64) error
}
