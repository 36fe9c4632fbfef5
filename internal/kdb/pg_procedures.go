/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and *pgx.Conn so
// pgProcedures can run against either a pooled commander connection or
// a dedicated ticket-mode connection.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// pgProcedures implements Procedures by calling named Postgres
// functions in the kasd schema. Every operation the session engine and
// ticket-mode handler need is one round trip.
type pgProcedures struct{ q querier }

// NewProcedures adapts any querier (a pooled connection or a dedicated
// ticket-mode connection) into a Procedures implementation.
func NewProcedures(q querier) Procedures { return pgProcedures{q: q} }

func (p pgProcedures) ValidateLogin(ctx context.Context, req LoginRequest) (LoginResult, error) {
	var r LoginResult
	row := p.q.QueryRow(ctx, `SELECT last_event_id, login_code, choose_user_id, perm_denied,
		ticket_cached, secure, v2_compat, registered, resolved_user_id, email_id, password
		FROM kasd.validate_login($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.WorkspaceID, int32(req.LoginType), req.ClaimedUserID, req.UserName, req.UserEmail,
		req.EmailID, req.Ticket, req.Password, req.LastEventID, req.LastEventDate)
	var code int32
	if err := row.Scan(&r.LastEventID, &code, &r.ChooseUserID, &r.PermDenied, &r.TicketCached,
		&r.Secure, &r.V2Compat, &r.Registered, &r.ResolvedUserID, &r.EmailID, &r.Password); err != nil {
		return LoginResult{}, fmt.Errorf("kdb: validate_login: %w", err)
	}
	r.Code = LoginCode(code)
	return r, nil
}

func (p pgProcedures) PersistConsumedTicket(ctx context.Context, workspaceID uint64, userID uint32, ticket []byte) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.persist_consumed_ticket($1,$2,$3)`, workspaceID, userID, ticket)
	return err
}

func (p pgProcedures) RecordUserName(ctx context.Context, workspaceID uint64, userID uint32, name string) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.record_user_name($1,$2,$3)`, workspaceID, userID, name)
	return err
}

func (p pgProcedures) CheckWorkspacePermission(ctx context.Context, workspaceID uint64, userID uint32) (bool, error) {
	var denied bool
	row := p.q.QueryRow(ctx, `SELECT denied FROM kasd.check_workspace_permission($1,$2)`, workspaceID, userID)
	if err := row.Scan(&denied); err != nil {
		return false, fmt.Errorf("kdb: check_workspace_permission: %w", err)
	}
	return denied, nil
}

func (p pgProcedures) ApplyPropertyChange(ctx context.Context, workspaceID uint64, kind PropertyChangeKind, actorUserID uint32, args ...interface{}) (PropertyChangeResult, error) {
	var res PropertyChangeResult
	var loginType int32
	callArgs := append([]interface{}{workspaceID, int32(kind), actorUserID}, args...)
	row := p.q.QueryRow(ctx, `SELECT sync_kfs, new_login_type, conflict FROM kasd.apply_property_change($1,$2,$3,$4)`, callArgs...)
	if err := row.Scan(&res.SyncKFS, &loginType, &res.Conflict); err != nil {
		return PropertyChangeResult{}, fmt.Errorf("kdb: apply_property_change: %w", err)
	}
	res.NewLoginType = LoginType(loginType)
	return res, nil
}

func (p pgProcedures) CreateWorkspace(ctx context.Context, ownerUserID uint32, name string) (uint64, error) {
	var id uint64
	row := p.q.QueryRow(ctx, `SELECT workspace_id FROM kasd.create_workspace($1,$2)`, ownerUserID, name)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("kdb: create_workspace: %w", err)
	}
	return id, nil
}

func (p pgProcedures) ConfirmFreemium(ctx context.Context, workspaceID uint64, userID uint32) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.confirm_freemium($1,$2)`, workspaceID, userID)
	return err
}

func (p pgProcedures) GetUURL(ctx context.Context, workspaceID uint64) (string, error) {
	var url string
	row := p.q.QueryRow(ctx, `SELECT uurl FROM kasd.get_uurl($1)`, workspaceID)
	if err := row.Scan(&url); err != nil {
		return ``, fmt.Errorf("kdb: get_uurl: %w", err)
	}
	return url, nil
}

func (p pgProcedures) InsertInvite(ctx context.Context, workspaceID uint64, inviterUserID uint32, email string) (uint64, error) {
	var id uint64
	row := p.q.QueryRow(ctx, `SELECT email_id FROM kasd.insert_invite($1,$2,$3)`, workspaceID, inviterUserID, email)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("kdb: insert_invite: %w", err)
	}
	return id, nil
}

func (p pgProcedures) PollEvents(ctx context.Context, workspaceID uint64, afterID uint64, limit int) ([]Event, error) {
	rows, err := p.q.Query(ctx, `SELECT id, type, payload, permanent FROM kasd.poll_events($1,$2,$3)`, workspaceID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("kdb: poll_events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.Permanent); err != nil {
			return nil, fmt.Errorf("kdb: poll_events scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p pgProcedures) InsertTicket(ctx context.Context, ticket []byte) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.insert_ticket($1, now())`, ticket)
	return err
}

func (p pgProcedures) ConsumeTicket(ctx context.Context, ticket []byte) (bool, error) {
	var consumed bool
	row := p.q.QueryRow(ctx, `SELECT consumed FROM kasd.consume_ticket($1)`, ticket)
	if err := row.Scan(&consumed); err != nil {
		return false, fmt.Errorf("kdb: consume_ticket: %w", err)
	}
	return consumed, nil
}

func (p pgProcedures) UploadPhase1(ctx context.Context, workspaceID uint64, shareID uint32, publicEmailID uint64, changes []UploadChange) (UploadPhase1Result, error) {
	kinds := make([]int32, len(changes))
	paths := make([]string, len(changes))
	dests := make([]string, len(changes))
	for i, c := range changes {
		kinds[i] = int32(c.Kind)
		paths[i] = c.Path
		dests[i] = c.DestPath
	}
	var res UploadPhase1Result
	row := p.q.QueryRow(ctx, `SELECT commit_id, public_email_id FROM kasd.upload_phase1($1,$2,$3,$4,$5,$6)`,
		workspaceID, shareID, publicEmailID, kinds, paths, dests)
	if err := row.Scan(&res.CommitID, &res.PublicEmailID); err != nil {
		return UploadPhase1Result{}, fmt.Errorf("kdb: upload_phase1: %w", err)
	}
	toUploadRows, err := p.q.Query(ctx, `SELECT create_flag, inode, share_path, storage_path FROM kasd.upload_phase1_to_upload($1)`, res.CommitID)
	if err != nil {
		return UploadPhase1Result{}, fmt.Errorf("kdb: upload_phase1_to_upload: %w", err)
	}
	defer toUploadRows.Close()
	for toUploadRows.Next() {
		var r ToUploadRecord
		if err := toUploadRows.Scan(&r.Create, &r.Inode, &r.SharePath, &r.StoragePath); err != nil {
			return UploadPhase1Result{}, fmt.Errorf("kdb: upload_phase1_to_upload scan: %w", err)
		}
		res.ToUpload = append(res.ToUpload, r)
	}
	if err := toUploadRows.Err(); err != nil {
		return UploadPhase1Result{}, err
	}
	delRows, err := p.q.Query(ctx, `SELECT storage_path FROM kasd.upload_phase1_permanent_deletes($1)`, res.CommitID)
	if err != nil {
		return UploadPhase1Result{}, fmt.Errorf("kdb: upload_phase1_permanent_deletes: %w", err)
	}
	defer delRows.Close()
	for delRows.Next() {
		var sp string
		if err := delRows.Scan(&sp); err != nil {
			return UploadPhase1Result{}, err
		}
		res.PermanentDeletes = append(res.PermanentDeletes, sp)
	}
	return res, delRows.Err()
}

func (p pgProcedures) UploadPhase2Commit(ctx context.Context, group UploadCommitGroup) error {
	inodes := make([]uint64, len(group.Files))
	creates := make([]bool, len(group.Files))
	sharePaths := make([]string, len(group.Files))
	storagePaths := make([]string, len(group.Files))
	md5s := make([][]byte, len(group.Files))
	sizes := make([]uint64, len(group.Files))
	for i, f := range group.Files {
		inodes[i] = f.Inode
		creates[i] = f.Create
		sharePaths[i] = f.SharePath
		storagePaths[i] = f.StoragePath
		md5s[i] = f.MD5[:]
		sizes[i] = f.CommittedSz
	}
	_, err := p.q.Exec(ctx, `SELECT kasd.upload_phase2_commit($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		group.WorkspaceID, group.ShareID, group.CommitID, group.PublicEmailID,
		inodes, creates, sharePaths, storagePaths, md5s, sizes)
	return err
}

func (p pgProcedures) DownloadResolvePaths(ctx context.Context, shareID uint32, refs []DownloadFileRef) ([]string, error) {
	inodes := make([]uint64, len(refs))
	offsets := make([]uint64, len(refs))
	commitIDs := make([]uint64, len(refs))
	for i, r := range refs {
		inodes[i] = r.Inode
		offsets[i] = r.Offset
		commitIDs[i] = r.CommitID
	}
	rows, err := p.q.Query(ctx, `SELECT storage_path FROM kasd.download_resolve_paths($1,$2,$3,$4)`, shareID, inodes, offsets, commitIDs)
	if err != nil {
		return nil, fmt.Errorf("kdb: download_resolve_paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sp string
		if err := rows.Scan(&sp); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (p pgProcedures) ScreenShareRecordStart(ctx context.Context, workspaceID uint64, sessionID uint64, subject string, port int) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.screen_share_record_start($1,$2,$3,$4)`, workspaceID, sessionID, subject, port)
	return err
}

func (p pgProcedures) ScreenShareRecordEnd(ctx context.Context, sessionID uint64, reason string) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.screen_share_record_end($1,$2)`, sessionID, reason)
	return err
}

func (p pgProcedures) ScreenShareResolveSession(ctx context.Context, sessionID uint64) (int, error) {
	var port int
	row := p.q.QueryRow(ctx, `SELECT port FROM kasd.screen_share_resolve_session($1)`, sessionID)
	if err := row.Scan(&port); err != nil {
		return 0, fmt.Errorf("kdb: screen_share_resolve_session: %w", err)
	}
	return port, nil
}

func (p pgProcedures) WorkspaceStorageUsage(ctx context.Context, workspaceID uint64) (int64, int64, error) {
	var quota, used int64
	row := p.q.QueryRow(ctx, `SELECT quota_bytes, used_bytes FROM kasd.workspace_storage_usage($1)`, workspaceID)
	if err := row.Scan(&quota, &used); err != nil {
		return 0, 0, fmt.Errorf("kdb: workspace_storage_usage: %w", err)
	}
	return quota, used, nil
}

func (p pgProcedures) GlobalStorageUsage(ctx context.Context) (int64, error) {
	var used int64
	row := p.q.QueryRow(ctx, `SELECT used_bytes FROM kasd.global_storage_usage()`)
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("kdb: global_storage_usage: %w", err)
	}
	return used, nil
}

func (p pgProcedures) UploadHeartbeat(ctx context.Context, commitID uint64) error {
	_, err := p.q.Exec(ctx, `SELECT kasd.upload_heartbeat($1, now())`, commitID)
	return err
}
