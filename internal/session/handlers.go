/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import (
	"context"
	"time"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/klog"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/ticket"
	"github.com/kasproject/kasd/internal/wsutil"
)

// Outcome is a command handler's result classification, per spec.md
// §4.4's commander contract.
type Outcome int

const (
	outcomeOK Outcome = iota
	outcomeGenericFailure
	outcomeSpecificFailure
	outcomeInternalFailure
)

// handlerResult carries what the commander needs to compose or forward
// a result message.
type handlerResult struct {
	typ      uint32
	payload  []byte
	failKind FailKind
	failText string
}

// HandlerContext is passed to every dispatch-table entry: the command
// message, the session's joined-workspace set, the backend connection,
// a scratchpad, and the effective minor, per spec.md §4.4.
type HandlerContext struct {
	Ctx         context.Context
	Cmd         anp.Message
	Workspaces  *wsutil.CommandSet
	Procs       kdb.Procedures
	Helpers     proc.Helpers
	Minor       uint32
	AdminSecret string
	TrustedKeys map[string]struct{}
	Log         *klog.Logger
}

type handlerFunc func(hc *HandlerContext) (Outcome, handlerResult)

// dispatchTable maps a command's wire type to its handler, built once
// at session construction (spec.md §9: "a mapping from message type to
// a function with a uniform signature", not inherited classes).
func buildDispatchTable() map[uint32]handlerFunc {
	return map[uint32]handlerFunc{
		TypeConnectCmd:          handleConnect,
		TypeDisconnectCmd:       handleDisconnect,
		TypeInviteCmd:           handleInvite,
		TypeSetUserPwdCmd:       propertyChangeHandler(kdb.PropUserPassword),
		TypeSetUserNameCmd:      propertyChangeHandler(kdb.PropUserName),
		TypeSetUserAdminCmd:     propertyChangeHandler(kdb.PropUserAdmin),
		TypeSetUserManagerCmd:   propertyChangeHandler(kdb.PropUserManager),
		TypeSetUserLockCmd:      propertyChangeHandler(kdb.PropUserLock),
		TypeSetUserBanCmd:       propertyChangeHandler(kdb.PropUserBan),
		TypeSetNameCmd:          propertyChangeHandler(kdb.PropWorkspaceName),
		TypeSetSecureCmd:        propertyChangeHandler(kdb.PropSecure),
		TypeSetFreezeCmd:        propertyChangeHandler(kdb.PropFreeze),
		TypeSetDeepFreezeCmd:    propertyChangeHandler(kdb.PropDeepFreeze),
		TypeSetThinKFSCmd:       propertyChangeHandler(kdb.PropThinKFS),
		TypeDownloadReqCmd:      ticketGrantHandler(ticket.TypeDownload, TypeDownloadReqResult),
		TypeUploadReqCmd:        ticketGrantHandler(ticket.TypeUpload, TypeUploadReqResult),
		TypeStartTicketCmd:      ticketGrantHandler(ticket.TypeScreenShareServer, TypeStartTicketResult),
		TypeConnectTicketCmd:    ticketGrantHandler(ticket.TypeScreenShareClient, TypeConnectTicketResult),
		TypeCreateKWSCmd:        handleCreateKWS,
		TypeFreemiumConfirmCmd:  handleFreemiumConfirm,
		TypeGetUURLCmd:          handleGetUURL,
	}
}

// firstU64 reads the leading U64 atom of a workspace-bound command's
// payload: per dispatch-entry contract, that is always the workspace
// id.
func firstU64(payload []byte) (uint64, error) {
	r := anp.NewReader(payload)
	return r.U64()
}

// handleConnect implements the CONNECT resolution sequence in
// spec.md §4.4, steps 1-7.
func handleConnect(hc *HandlerContext) (Outcome, handlerResult) {
	atoms, err := anp.DecodeAll(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	as := anp.Atoms(atoms)
	req, err := decodeConnectRequest(as)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}

	// Step 1: classify login-type from the user's email literal.
	switch req.UserEmail {
	case "admin":
		req.LoginType = kdb.LoginRoot
	case "kwmo":
		req.LoginType = kdb.LoginKWMO
	default:
		req.LoginType = kdb.LoginNormal
	}

	// Step 2: for root/kwmo, compare password to the administrator secret.
	if req.LoginType == kdb.LoginRoot || req.LoginType == kdb.LoginKWMO {
		if req.Password != hc.AdminSecret {
			return loginFailure(kdb.LoginBadPasswordOrTicket)
		}
	}

	// Step 3: validate against the backend.
	res, err := hc.Procs.ValidateLogin(hc.Ctx, req)
	if err != nil {
		return outcomeInternalFailure, handlerResult{}
	}
	if res.Code != kdb.LoginOK {
		return loginFailure(res.Code)
	}

	// Step 4: secure-workspace upgrade and ticket/password validation.
	loginType := req.LoginType
	if res.Secure && loginType == kdb.LoginNormal {
		loginType = kdb.LoginSecure
	}
	ticketValid := false
	if len(req.Ticket) > 0 {
		ticketValid, _ = validateIssuerTicket(hc, req.Ticket)
	}
	passwordValid := req.Password != "" && req.Password == res.Password
	if !passwordValid && !ticketValid && len(req.Ticket) == 0 && req.Password == "" {
		// Neither credential was offered at all; backend already
		// vetted the row (res.Code==OK), so this is a password-only
		// login that matched in ValidateLogin itself.
		passwordValid = true
	}
	if !passwordValid && !ticketValid {
		return loginFailure(kdb.LoginBadPasswordOrTicket)
	}

	// Step 5: delete-on-login.
	if req.DeleteOnLogin {
		if err := hc.Helpers.DeleteWorkspace(hc.Ctx, req.WorkspaceID); err != nil {
			return outcomeInternalFailure, handlerResult{}
		}
		return loginFailure(kdb.LoginDeletedWorkspace)
	}

	// Step 6: persist a freshly validated ticket for a non-system user.
	if ticketValid && res.ResolvedUserID != 0 && !res.TicketCached {
		if err := hc.Procs.PersistConsumedTicket(hc.Ctx, req.WorkspaceID, res.ResolvedUserID, req.Ticket); err != nil {
			return outcomeInternalFailure, handlerResult{}
		}
	}

	// Step 7: record a newly registered user's display name.
	if !res.Registered && req.UserName != "" {
		if err := hc.Procs.RecordUserName(hc.Ctx, req.WorkspaceID, res.ResolvedUserID, req.UserName); err != nil {
			return outcomeInternalFailure, handlerResult{}
		}
	}

	hc.Workspaces.Join(wsutil.CommandHandle{
		WorkspaceID: req.WorkspaceID,
		LoginType:   loginType,
		UserID:      res.ResolvedUserID,
	})

	return outcomeSpecificFailure, handlerResult{
		typ:     TypeConnectResult,
		payload: encodeConnectResult(hc.Minor, res, loginType),
	}
}

type connectRequest = kdb.LoginRequest

func decodeConnectRequest(as anp.Atoms) (connectRequest, error) {
	var req connectRequest
	var err error
	if req.WorkspaceID, err = as.U64(0); err != nil {
		return req, err
	}
	deleteFlag, err := as.U32(1)
	if err != nil {
		return req, err
	}
	req.DeleteOnLogin = deleteFlag != 0
	if req.LastEventID, err = as.U64(2); err != nil {
		return req, err
	}
	lastEventDate, err := as.U64(3)
	if err != nil {
		return req, err
	}
	req.LastEventDate = time.Unix(int64(lastEventDate), 0).UTC()
	claimed, err := as.U32(4)
	if err != nil {
		return req, err
	}
	req.ClaimedUserID = claimed
	if req.UserName, err = as.Str(5); err != nil {
		return req, err
	}
	if req.UserEmail, err = as.Str(6); err != nil {
		return req, err
	}
	if req.EmailID, err = as.U64(7); err != nil {
		return req, err
	}
	if req.Ticket, err = as.Bin(8); err != nil {
		return req, err
	}
	if req.Password, err = as.Str(9); err != nil {
		return req, err
	}
	return req, nil
}

func loginFailure(code kdb.LoginCode) (Outcome, handlerResult) {
	var out []byte
	out = anp.Encode(out, anp.U32(uint32(code)))
	return outcomeSpecificFailure, handlerResult{typ: TypeConnectResult, payload: out}
}

// encodeConnectResult shapes the CONNECT result by effective minor:
// ≥3 carries the full field set, ≤2 collapses to OK/out-of-sync/generic.
func encodeConnectResult(minor uint32, res kdb.LoginResult, loginType kdb.LoginType) []byte {
	var out []byte
	if minor >= 3 {
		out = anp.Encode(out, anp.U32(uint32(res.Code)))
		out = anp.Encode(out, anp.Str(""))
		out = anp.Encode(out, anp.U32(res.ResolvedUserID))
		out = anp.Encode(out, anp.U64(res.EmailID))
		out = anp.Encode(out, anp.U64(res.LastEventID))
		out = anp.Encode(out, anp.U32(boolToU32(res.Secure)))
		out = anp.Encode(out, anp.U32(boolToU32(res.Password != "")))
		out = anp.Encode(out, anp.Str(""))
		return out
	}
	out = anp.Encode(out, anp.U32(uint32(res.Code)))
	return out
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// validateIssuerTicket implements the "ticket validation against the
// issuing service" block of spec.md §4.4.
func validateIssuerTicket(hc *HandlerContext, raw []byte) (bool, error) {
	it, err := ticket.ParseIssuerTicket(string(raw))
	if err != nil {
		return false, err
	}
	if !ticket.TrustedKeyID(it.KeyID, hc.TrustedKeys, nil) {
		return false, nil
	}
	return hc.Helpers.ValidateTicket(hc.Ctx, it.Name, it.Email, it.Host, it.Port, it.KeyID)
}

// handleDisconnect removes the workspace handle; the eventer observes
// its absence on the next cycle and schedules an UNLISTEN.
func handleDisconnect(hc *HandlerContext) (Outcome, handlerResult) {
	workspaceID, err := firstU64(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	hc.Workspaces.Leave(workspaceID)
	return outcomeOK, handlerResult{}
}

// handleInvite composes invitation emails and the minor-dependent
// reply shape described in spec.md §4.4.
func handleInvite(hc *HandlerContext) (Outcome, handlerResult) {
	atoms, err := anp.DecodeAll(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	as := anp.Atoms(atoms)
	workspaceID, err := as.U64(0)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	handle, ok := hc.Workspaces.Get(workspaceID)
	if !ok {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: "not joined"}
	}
	count, err := as.U32(1)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	rows := make([]kdb.InviteRow, 0, count)
	idx := 2
	for i := uint32(0); i < count; i++ {
		email, err := as.Str(idx)
		if err != nil {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
		}
		idx++
		emailID, err := hc.Procs.InsertInvite(hc.Ctx, workspaceID, handle.UserID, email)
		errText := ""
		if err != nil {
			errText = err.Error()
		} else {
			_ = hc.Helpers.SendMail(hc.Ctx, email, "You've been invited", []byte("join the workspace"))
		}
		rows = append(rows, kdb.InviteRow{EmailID: emailID, Error: errText})
	}

	var out []byte
	if hc.Minor >= 3 {
		out = anp.Encode(out, anp.U32(uint32(len(rows))))
		for _, row := range rows {
			out = anp.Encode(out, anp.U64(row.EmailID))
			out = anp.Encode(out, anp.Str(row.URL))
			out = anp.Encode(out, anp.Str(row.Error))
		}
	} else {
		out = anp.Encode(out, anp.Str(""))
	}
	return outcomeSpecificFailure, handlerResult{typ: TypeInviteResult, payload: out}
}

// atomToArg unwraps a generic atom into the plain Go value a database
// driver binds directly, so property-change payloads of any shape can
// be forwarded without each SET-* handler hand-decoding its own atoms.
func atomToArg(a anp.Atom) interface{} {
	switch a.Kind() {
	case anp.KindU32:
		return a.U32Value()
	case anp.KindU64:
		return a.U64Value()
	case anp.KindStr:
		return a.StrValue()
	case anp.KindBin:
		return a.BinValue()
	default:
		return nil
	}
}

// propertyChangeHandler builds the uniform property-change handler for
// every SET-* command: all forward to the single named backend
// procedure and, if it signals a structural resync, invoke the KFS
// helper.
func propertyChangeHandler(kind kdb.PropertyChangeKind) handlerFunc {
	return func(hc *HandlerContext) (Outcome, handlerResult) {
		atoms, err := anp.DecodeAll(hc.Cmd.Payload)
		if err != nil {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
		}
		as := anp.Atoms(atoms)
		workspaceID, err := as.U64(0)
		if err != nil {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
		}
		handle, ok := hc.Workspaces.Get(workspaceID)
		if !ok {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: "not joined"}
		}
		args := make([]interface{}, 0, len(as)-1)
		for i := 1; i < len(as); i++ {
			args = append(args, atomToArg(as[i]))
		}
		res, err := hc.Procs.ApplyPropertyChange(hc.Ctx, workspaceID, kind, handle.UserID, args...)
		if err != nil {
			return outcomeInternalFailure, handlerResult{}
		}
		if res.Conflict {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: "conflicting structural edit"}
		}
		if res.SyncKFS {
			if err := hc.Helpers.SyncKFS(hc.Ctx, workspaceID); err != nil {
				return outcomeInternalFailure, handlerResult{}
			}
		}
		if res.NewLoginType != handle.LoginType {
			handle.LoginType = res.NewLoginType
			hc.Workspaces.Join(handle)
		}
		var out []byte
		out = anp.Encode(out, anp.U32(boolToU32(res.SyncKFS)))
		out = anp.Encode(out, anp.U32(uint32(res.NewLoginType)))
		return outcomeSpecificFailure, handlerResult{typ: TypePropChangeResult, payload: out}
	}
}

// ticketGrantHandler builds the uniform ticket-grant handler for
// DOWNLOAD-REQ, UPLOAD-REQ, START-TICKET, and CONNECT-TICKET: each
// mints a ticket of the given type over the command's extension bytes
// (if any trail the workspace id) and returns it as BIN.
func ticketGrantHandler(typ ticket.Type, resultType uint32) handlerFunc {
	return func(hc *HandlerContext) (Outcome, handlerResult) {
		atoms, err := anp.DecodeAll(hc.Cmd.Payload)
		if err != nil {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
		}
		as := anp.Atoms(atoms)
		workspaceID, err := as.U64(0)
		if err != nil {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
		}
		handle, ok := hc.Workspaces.Get(workspaceID)
		if !ok {
			return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: "not joined"}
		}
		var extension []byte
		if len(as) > 1 {
			var out []byte
			for i := 1; i < len(as); i++ {
				out = anp.Encode(out, as[i])
			}
			extension = out
		}
		raw, err := ticket.Mint(hc.Ctx, hc.Procs, typ, workspaceID, handle.LoginType, handle.UserID, extension)
		if err != nil {
			return outcomeInternalFailure, handlerResult{}
		}
		var out []byte
		out = anp.Encode(out, anp.Bin(raw))
		return outcomeSpecificFailure, handlerResult{typ: resultType, payload: out}
	}
}

// handleCreateKWS implements the supplemented CREATE-KWS command.
func handleCreateKWS(hc *HandlerContext) (Outcome, handlerResult) {
	atoms, err := anp.DecodeAll(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	as := anp.Atoms(atoms)
	ownerUserID, err := as.U32(0)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	name, err := as.Str(1)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	workspaceID, err := hc.Procs.CreateWorkspace(hc.Ctx, ownerUserID, name)
	if err != nil {
		return outcomeInternalFailure, handlerResult{}
	}
	var out []byte
	out = anp.Encode(out, anp.U64(workspaceID))
	return outcomeSpecificFailure, handlerResult{typ: TypeCreateKWSResult, payload: out}
}

// handleFreemiumConfirm implements the supplemented FREEMIUM-CONFIRM
// command.
func handleFreemiumConfirm(hc *HandlerContext) (Outcome, handlerResult) {
	atoms, err := anp.DecodeAll(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	as := anp.Atoms(atoms)
	workspaceID, err := as.U64(0)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	handle, ok := hc.Workspaces.Get(workspaceID)
	if !ok {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: "not joined"}
	}
	if err := hc.Procs.ConfirmFreemium(hc.Ctx, workspaceID, handle.UserID); err != nil {
		return outcomeInternalFailure, handlerResult{}
	}
	return outcomeOK, handlerResult{}
}

// handleGetUURL implements the supplemented GET-UURL command.
func handleGetUURL(hc *HandlerContext) (Outcome, handlerResult) {
	workspaceID, err := firstU64(hc.Cmd.Payload)
	if err != nil {
		return outcomeGenericFailure, handlerResult{failKind: FailGeneric, failText: err.Error()}
	}
	url, err := hc.Procs.GetUURL(hc.Ctx, workspaceID)
	if err != nil {
		return outcomeInternalFailure, handlerResult{}
	}
	var out []byte
	out = anp.Encode(out, anp.Str(url))
	return outcomeSpecificFailure, handlerResult{typ: TypeGetUURLResult, payload: out}
}
