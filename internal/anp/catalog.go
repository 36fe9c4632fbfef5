package anp

// Subtype constants for the CORE command/result/event catalog named in
// spec.md §6. Namespace + subtype + role together form a Type via
// MakeType; dispatch tables key on the full 32-bit Type.

// Management namespace subtypes.
const (
	SubSelectRole       uint8 = 1
	SubCreateKWS        uint8 = 2
	SubFreemiumConfirm  uint8 = 3
)

// Workspace namespace subtypes.
const (
	SubConnect         uint8 = 1
	SubDisconnect      uint8 = 2
	SubInvite          uint8 = 3
	SubSetUserPwd      uint8 = 4
	SubSetUserName     uint8 = 5
	SubSetUserAdmin    uint8 = 6
	SubSetUserManager  uint8 = 7
	SubSetUserLock     uint8 = 8
	SubSetUserBan      uint8 = 9
	SubSetName         uint8 = 10
	SubSetSecure       uint8 = 11
	SubSetFreeze       uint8 = 12
	SubSetDeepFreeze   uint8 = 13
	SubSetThinKFS      uint8 = 14
	SubGetUURL         uint8 = 15
	SubPropChange      uint8 = 16 // result/event
	SubKWSCreated      uint8 = 17 // event
	SubKWSInvited      uint8 = 18 // event
	SubUserRegistered  uint8 = 19 // event
	SubLogOut          uint8 = 20 // event
)

// Files namespace subtypes.
const (
	SubDownloadReq uint8 = 1
	SubUploadReq   uint8 = 2
	SubDownloadData uint8 = 3
	SubPhase1      uint8 = 4
	SubPhase2      uint8 = 5
)

// Screen-share namespace subtypes.
const (
	SubStartTicket   uint8 = 1
	SubConnectTicket uint8 = 2
	SubStartSession  uint8 = 3
	SubConnectSession uint8 = 4
	SubStart         uint8 = 5 // event
	SubEnd           uint8 = 6 // event
)

// Generic namespace subtypes: OK and FAIL are the only two generic
// results. They live in NSGeneric with role Result.
const (
	SubOK   uint8 = 1
	SubFail uint8 = 2
)

// FailKind is the first atom of every FAIL payload.
type FailKind uint32

const (
	FailGeneric          FailKind = 0
	FailBackend          FailKind = 1
	FailChooseUserID     FailKind = 2
	FailEventOutOfSync   FailKind = 3
	FailMustUpgrade      FailKind = 4
	FailPermissionDenied FailKind = 5
	FailFileQuotaExceeded FailKind = 6
	FailResourceQuota    FailKind = 7
)

// ResourceQuotaSubkind qualifies FailResourceQuota.
type ResourceQuotaSubkind uint32

const (
	ResourceQuotaGeneral   ResourceQuotaSubkind = 0
	ResourceQuotaNoSecure  ResourceQuotaSubkind = 1
)

// OKType and FailType are the two generic result types, always in
// NSGeneric with role Result.
func OKType() uint32   { return MakeType(RoleResult, NSGeneric, SubOK) }
func FailType() uint32 { return MakeType(RoleResult, NSGeneric, SubFail) }

// EncodeFail builds the standard FAIL payload: kind, human text, then
// kind-specific extras the caller appends itself.
func EncodeFail(kind FailKind, text string) []byte {
	var out []byte
	out = Encode(out, U32(uint32(kind)))
	out = Encode(out, Str(text))
	return out
}
