/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import "github.com/kasproject/kasd/internal/anp"

// Subtype bytes, grouped by namespace. Values are this daemon's own
// assignment; nothing outside this wire contract depends on the
// specific numbers as long as both ends of a connection agree.
const (
	subFail uint8 = anp.SubFail
)

// Management namespace (SELECT-ROLE, CREATE-KWS, FREEMIUM-CONFIRM).
const (
	subSelectRole uint8 = iota + 1
	subCreateKWS
	subFreemiumConfirm
)

// Workspace namespace.
const (
	subConnect uint8 = iota + 1
	subDisconnect
	subInvite
	subSetUserPwd
	subSetUserName
	subSetUserAdmin
	subSetUserManager
	subSetUserLock
	subSetUserBan
	subSetName
	subSetSecure
	subSetFreeze
	subSetDeepFreeze
	subSetThinKFS
	subGetUURL
	subPropChange
	subKWSCreated
	subKWSInvited
	subUserRegistered
	subLogOut
)

// Files namespace.
const (
	subDownloadReq uint8 = iota + 1
	subUploadReq
	subDownloadData
	subPhase1
	subPhase2
	subPhase1Event
	subPhase2Event
	subDownloadEvent
	subDownloadCmd
)

// Screen-share namespace.
const (
	subStartTicket uint8 = iota + 1
	subConnectTicket
	subStartSession
	subConnectSession
	subStartEvent
	subEndEvent
)

// TypeFail is the standard generic-failure result type the commander
// emits for any handler outcome of genericFailure.
var TypeFail = anp.MakeType(anp.RoleResult, anp.NSGeneric, subFail)

var (
	TypeSelectRoleCmd      = anp.MakeType(anp.RoleCommand, anp.NSManagement, subSelectRole)
	TypeSelectRoleResult   = anp.MakeType(anp.RoleResult, anp.NSManagement, subSelectRole)
	TypeCreateKWSCmd       = anp.MakeType(anp.RoleCommand, anp.NSManagement, subCreateKWS)
	TypeCreateKWSResult    = anp.MakeType(anp.RoleResult, anp.NSManagement, subCreateKWS)
	TypeFreemiumConfirmCmd = anp.MakeType(anp.RoleCommand, anp.NSManagement, subFreemiumConfirm)
)

var (
	TypeConnectCmd          = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subConnect)
	TypeConnectResult       = anp.MakeType(anp.RoleResult, anp.NSWorkspace, subConnect)
	TypeDisconnectCmd       = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subDisconnect)
	TypeInviteCmd           = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subInvite)
	TypeInviteResult        = anp.MakeType(anp.RoleResult, anp.NSWorkspace, subInvite)
	TypeSetUserPwdCmd       = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserPwd)
	TypeSetUserNameCmd      = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserName)
	TypeSetUserAdminCmd     = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserAdmin)
	TypeSetUserManagerCmd   = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserManager)
	TypeSetUserLockCmd      = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserLock)
	TypeSetUserBanCmd       = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetUserBan)
	TypeSetNameCmd          = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetName)
	TypeSetSecureCmd        = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetSecure)
	TypeSetFreezeCmd        = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetFreeze)
	TypeSetDeepFreezeCmd    = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetDeepFreeze)
	TypeSetThinKFSCmd       = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subSetThinKFS)
	TypeGetUURLCmd          = anp.MakeType(anp.RoleCommand, anp.NSWorkspace, subGetUURL)
	TypeGetUURLResult       = anp.MakeType(anp.RoleResult, anp.NSWorkspace, subGetUURL)
	TypePropChangeResult    = anp.MakeType(anp.RoleResult, anp.NSWorkspace, subPropChange)
	TypeKWSCreatedEvent     = anp.MakeType(anp.RoleEvent, anp.NSWorkspace, subKWSCreated)
	TypeKWSInvitedEvent     = anp.MakeType(anp.RoleEvent, anp.NSWorkspace, subKWSInvited)
	TypeUserRegisteredEvent = anp.MakeType(anp.RoleEvent, anp.NSWorkspace, subUserRegistered)
	TypeLogOutEvent         = anp.MakeType(anp.RoleEvent, anp.NSWorkspace, subLogOut)
	TypePropChangeEvent     = anp.MakeType(anp.RoleEvent, anp.NSWorkspace, subPropChange)
)

var (
	TypeDownloadReqCmd    = anp.MakeType(anp.RoleCommand, anp.NSFiles, subDownloadReq)
	TypeDownloadReqResult = anp.MakeType(anp.RoleResult, anp.NSFiles, subDownloadReq)
	TypeUploadReqCmd      = anp.MakeType(anp.RoleCommand, anp.NSFiles, subUploadReq)
	TypeUploadReqResult   = anp.MakeType(anp.RoleResult, anp.NSFiles, subUploadReq)
	TypeDownloadDataResult = anp.MakeType(anp.RoleResult, anp.NSFiles, subDownloadData)
	TypePhase1Cmd         = anp.MakeType(anp.RoleCommand, anp.NSFiles, subPhase1)
	TypePhase1Result      = anp.MakeType(anp.RoleResult, anp.NSFiles, subPhase1)
	TypePhase2Cmd         = anp.MakeType(anp.RoleCommand, anp.NSFiles, subPhase2)
	TypePhase2Result      = anp.MakeType(anp.RoleResult, anp.NSFiles, subPhase2)
	TypePhase1Event       = anp.MakeType(anp.RoleEvent, anp.NSFiles, subPhase1Event)
	TypePhase2Event       = anp.MakeType(anp.RoleEvent, anp.NSFiles, subPhase2Event)
	TypeDownloadEvent     = anp.MakeType(anp.RoleEvent, anp.NSFiles, subDownloadEvent)
	// TypeDownloadCmd is the ticket-mode DOWNLOAD command: the first
	// message of a download-role connection, carrying the consumed
	// ticket plus the requested (inode, offset, commit-id) list.
	TypeDownloadCmd = anp.MakeType(anp.RoleCommand, anp.NSFiles, subDownloadCmd)
)

var (
	TypeStartTicketCmd      = anp.MakeType(anp.RoleCommand, anp.NSScreenShare, subStartTicket)
	TypeStartTicketResult   = anp.MakeType(anp.RoleResult, anp.NSScreenShare, subStartTicket)
	TypeConnectTicketCmd    = anp.MakeType(anp.RoleCommand, anp.NSScreenShare, subConnectTicket)
	TypeConnectTicketResult = anp.MakeType(anp.RoleResult, anp.NSScreenShare, subConnectTicket)
	TypeStartSessionCmd     = anp.MakeType(anp.RoleCommand, anp.NSScreenShare, subStartSession)
	TypeStartSessionResult  = anp.MakeType(anp.RoleResult, anp.NSScreenShare, subStartSession)
	TypeConnectSessionCmd   = anp.MakeType(anp.RoleCommand, anp.NSScreenShare, subConnectSession)
	TypeConnectSessionResult = anp.MakeType(anp.RoleResult, anp.NSScreenShare, subConnectSession)
	TypeStartEvent          = anp.MakeType(anp.RoleEvent, anp.NSScreenShare, subStartEvent)
	TypeEndEvent            = anp.MakeType(anp.RoleEvent, anp.NSScreenShare, subEndEvent)
)

// FailKind is the U32 failure-kind atom every FAIL result carries.
// These values are fixed by spec.md §6's wire enumeration, not this
// daemon's own assignment: a client decodes them directly off the
// wire, so they must match byte-for-byte.
type FailKind uint32

const (
	FailGeneric           FailKind = 0
	FailBackend           FailKind = 1
	FailChooseUserID      FailKind = 2
	FailEventOutOfSync    FailKind = 3
	FailMustUpgrade       FailKind = 4
	FailPermissionDenied  FailKind = 5
	FailFileQuotaExceeded FailKind = 6
	FailResourceQuota     FailKind = 7
)

// ResourceQuotaSubkind is the U32 atom trailing a FailResourceQuota
// FAIL payload, per spec.md §6.
type ResourceQuotaSubkind uint32

const (
	ResourceQuotaGeneral  ResourceQuotaSubkind = 0
	ResourceQuotaNoSecure ResourceQuotaSubkind = 1
)
