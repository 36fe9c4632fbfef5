/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kdb

import "time"

// LoginType mirrors the workspace handle's login-type classification.
type LoginType uint32

const (
	LoginNormal LoginType = iota
	LoginSecure
	LoginRoot
	LoginKWMO
)

// LoginCode is the outcome of a CONNECT validation procedure.
type LoginCode uint32

const (
	LoginOK LoginCode = iota
	LoginOutOfSync
	LoginBadPasswordOrTicket
	LoginBadWorkspaceID
	LoginBadEmailID
	LoginDeletedWorkspace
	LoginAccountLocked
	LoginBanned
)

// LoginRequest is the full CONNECT input the validation procedure
// consumes.
type LoginRequest struct {
	WorkspaceID    uint64
	LoginType      LoginType
	ClaimedUserID  uint32
	UserName       string
	UserEmail      string
	EmailID        uint64
	Ticket         []byte
	Password       string
	LastEventID    uint64
	LastEventDate  time.Time
	DeleteOnLogin  bool
}

// LoginResult is the full decoded response of the login validation
// procedure, per spec.md §4.4's CONNECT resolution sequence.
type LoginResult struct {
	LastEventID    uint64
	Code           LoginCode
	ChooseUserID   bool
	PermDenied     bool
	TicketCached   bool
	Secure         bool
	V2Compat       bool
	Registered     bool
	ResolvedUserID uint32
	EmailID        uint64
	Password       string
}

// PropertyChangeKind enumerates the workspace/user mutation commands
// that all funnel through the single ApplyPropertyChange procedure.
type PropertyChangeKind uint32

const (
	PropWorkspaceName PropertyChangeKind = iota
	PropUserPassword
	PropUserName
	PropUserAdmin
	PropUserManager
	PropUserLock
	PropUserBan
	PropSecure
	PropFreeze
	PropDeepFreeze
	PropThinKFS
)

// PropertyChangeResult is what every property-change command gets
// back: whether KFS needs a structural resync and the user's possibly
// updated login-type.
type PropertyChangeResult struct {
	SyncKFS      bool
	NewLoginType LoginType
	Conflict     bool // set when a concurrent structural edit was detected
}

// UploadChange describes one entry of an upload phase-1 change list.
type UploadChangeKind uint32

const (
	ChangeCreateFile UploadChangeKind = iota
	ChangeCreateDir
	ChangeUpdateFile
	ChangeDeleteFile
	ChangeDeleteDir
	ChangeMoveFile
	ChangeMoveDir
)

type UploadChange struct {
	Kind     UploadChangeKind
	Path     string
	DestPath string // move targets only
}

// ToUploadRecord names one file the client must now stream in phase 2.
type ToUploadRecord struct {
	Create      bool
	Inode       uint64
	SharePath   string
	StoragePath string
}

// UploadPhase1Result is the backend's response to a phase-1 change
// description.
type UploadPhase1Result struct {
	CommitID         uint64
	PublicEmailID    uint64
	ToUpload         []ToUploadRecord
	PermanentDeletes []string
}

// CommittedFile is one file that completed phase 2 (COMMIT submessage
// received and MD5 matched).
type CommittedFile struct {
	Inode        uint64
	Create       bool
	SharePath    string
	StoragePath  string
	MD5          [16]byte
	CommittedSz  uint64
}

// UploadCommitGroup is the full record posted atomically at the end of
// phase 2.
type UploadCommitGroup struct {
	WorkspaceID   uint64
	ShareID       uint32
	CommitID      uint64
	PublicEmailID uint64
	Files         []CommittedFile
}

// DownloadFileRef names one file a download session asked to resume.
type DownloadFileRef struct {
	Inode    uint64
	Offset   uint64
	CommitID uint64
}

// Event is one row read off a workspace's event log.
type Event struct {
	ID        uint64
	Type      uint32
	Payload   []byte
	Permanent bool
}

// InviteRow is one per-invitee result row for the INVITE command
// (minor >= 3 shape).
type InviteRow struct {
	EmailID uint64
	URL     string
	Error   string
}
