/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ticketmode

import (
	"context"
	"crypto/md5"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/session"
	"github.com/kasproject/kasd/internal/transport"
)

// Phase-2 submessage kinds, a flat (kind U32, ...) sequence per
// message, per spec.md §4.6.1.
const (
	submChunk  uint32 = 1
	submCommit uint32 = 2
	submAbort  uint32 = 3
)

// decodeUploadChanges parses UPLOAD-PHASE-1's per-change record list:
// (kind U32, path STR, dest-path STR) for each of count entries.
func decodeUploadChanges(as anp.Atoms, idx int, count uint32) ([]kdb.UploadChange, error) {
	out := make([]kdb.UploadChange, 0, count)
	for i := uint32(0); i < count; i++ {
		kind, err := as.U32(idx)
		if err != nil {
			return nil, err
		}
		idx++
		path, err := as.Str(idx)
		if err != nil {
			return nil, err
		}
		idx++
		dest, err := as.Str(idx)
		if err != nil {
			return nil, err
		}
		idx++
		out = append(out, kdb.UploadChange{Kind: kdb.UploadChangeKind(kind), Path: path, DestPath: dest})
	}
	return out, nil
}

func encodePhase1Result(res kdb.UploadPhase1Result) []byte {
	var out []byte
	out = anp.Encode(out, anp.U64(res.CommitID))
	out = anp.Encode(out, anp.U64(res.PublicEmailID))
	out = anp.Encode(out, anp.U32(uint32(len(res.ToUpload))))
	for _, r := range res.ToUpload {
		flag := uint32(0)
		if r.Create {
			flag = 1
		}
		out = anp.Encode(out, anp.U32(flag))
		out = anp.Encode(out, anp.U64(r.Inode))
		out = anp.Encode(out, anp.Str(r.SharePath))
		out = anp.Encode(out, anp.Str(r.StoragePath))
	}
	return out
}

// quotaCeiling reports whether projected bytes would exceed the given
// ceiling. uploadFlow calls it twice per CHUNK, once for the
// per-workspace quota and once for the licensed global storage
// ceiling, per spec.md §4.6.1's two per-CHUNK checks (I7/P8).
func quotaCeiling(projected, workspaceQuota int64) bool { return projected > workspaceQuota }

// uploadFileState tracks the in-progress file a PHASE-2 stream is
// currently writing.
type uploadFileState struct {
	record      kdb.ToUploadRecord
	f           *os.File
	hasher      hash.Hash
	runningSize int64
	storagePath string
}

func (h *Handler) uploadFlow(ctx context.Context, tp *transport.Transport, tk ticketClaim, msg anp.Message, as anp.Atoms, watch *permWatcher) error {
	const ticketAtoms = 1
	publicEmailID, err := as.U64(ticketAtoms)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	count, err := as.U32(ticketAtoms + 1)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	changes, err := decodeUploadChanges(as, ticketAtoms+2, count)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}

	shareID, err := tk.shareID()
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "malformed ticket extension")
		return err
	}

	res, err := h.cfg.Procs.UploadPhase1(ctx, tk.WorkspaceID, shareID, publicEmailID, changes)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailBackend, "upload phase 1 failed")
		return err
	}
	for _, path := range res.PermanentDeletes {
		_ = os.Remove(path)
	}
	if err := sendBlocking(tp, session.TypePhase1Result, msg.Header.ID, encodePhase1Result(res)); err != nil {
		return err
	}

	workspaceQuota, workspaceUsed, err := h.cfg.Procs.WorkspaceStorageUsage(ctx, tk.WorkspaceID)
	if err != nil {
		return err
	}
	globalUsed, err := h.cfg.Procs.GlobalStorageUsage(ctx)
	if err != nil {
		return err
	}
	licenseQuota := h.cfg.LicensedStorageBytes

	if len(res.ToUpload) == 0 {
		return h.commitUpload(ctx, tp, tk, shareID, res, nil)
	}

	idx := 0
	var cur *uploadFileState
	var committed []kdb.CommittedFile
	var committedTotal int64

	for idx < len(res.ToUpload) {
		if watch.Denied() {
			h.cleanupFile(cur)
			h.failAndFlush(tp, 0, session.FailPermissionDenied, "permission revoked")
			return fmt.Errorf("ticketmode: permission revoked mid-upload")
		}
		next, err := recvBlocking(ctx, tp)
		if err != nil {
			h.cleanupFile(cur)
			return err
		}
		if next.Header.Type != session.TypePhase2Cmd {
			h.cleanupFile(cur)
			h.failAndFlush(tp, next.Header.ID, session.FailGeneric, "expected phase-2 submessage stream")
			return fmt.Errorf("ticketmode: unexpected message type in phase 2")
		}
		subAtoms, err := anp.DecodeAll(next.Payload)
		if err != nil {
			h.cleanupFile(cur)
			h.failAndFlush(tp, next.Header.ID, session.FailGeneric, err.Error())
			return err
		}

		r := anp.Atoms(subAtoms)
		pos := 0
		failed := false
		quotaFail := false
		var failKind session.FailKind
		var failText string
		for pos < len(r) && idx < len(res.ToUpload) {
			kind, err := r.U32(pos)
			if err != nil {
				h.cleanupFile(cur)
				return err
			}
			pos++
			switch kind {
			case submChunk:
				data, err := r.Bin(pos)
				if err != nil {
					h.cleanupFile(cur)
					return err
				}
				pos++
				if cur == nil {
					cur, err = h.openUploadFile(tk.WorkspaceID, res.ToUpload[idx])
					if err != nil {
						h.failAndFlush(tp, next.Header.ID, session.FailGeneric, err.Error())
						return err
					}
				}
				projected := cur.runningSize + int64(len(data)) + committedTotal + workspaceUsed
				if quotaCeiling(projected, workspaceQuota) {
					h.cleanupFile(cur)
					cur = nil
					idx++
					failed = true
					failKind, failText = session.FailFileQuotaExceeded, "per-workspace quota exceeded"
					continue
				}
				if quotaCeiling(projected, licenseQuota-globalUsed+workspaceUsed) {
					h.cleanupFile(cur)
					cur = nil
					idx++
					failed = true
					quotaFail = true
					failKind, failText = session.FailResourceQuota, "licensed storage exhausted"
					continue
				}
				cur.hasher.Write(data)
				if _, err := cur.f.Write(data); err != nil {
					h.cleanupFile(cur)
					return err
				}
				cur.runningSize += int64(len(data))
			case submCommit:
				digest, err := r.Bin(pos)
				if err != nil {
					h.cleanupFile(cur)
					return err
				}
				pos++
				if cur == nil {
					idx++
					continue
				}
				sum := cur.hasher.Sum(nil)
				_ = cur.f.Close()
				if !bytesEqual(sum, digest) {
					_ = os.Remove(cur.storagePath)
					failed = true
					failKind, failText = session.FailGeneric, "the computed file hash does not match"
				} else {
					var md5arr [16]byte
					copy(md5arr[:], sum)
					committed = append(committed, kdb.CommittedFile{
						Inode: cur.record.Inode, Create: cur.record.Create,
						SharePath: cur.record.SharePath, StoragePath: cur.storagePath,
						MD5: md5arr, CommittedSz: uint64(cur.runningSize),
					})
					committedTotal += cur.runningSize
				}
				cur = nil
				idx++
			case submAbort:
				h.cleanupFile(cur)
				cur = nil
				idx++
			default:
				h.cleanupFile(cur)
				return fmt.Errorf("ticketmode: unknown phase-2 submessage kind %d", kind)
			}
		}

		if h.heartbeat.Allow() {
			_ = h.cfg.Procs.UploadHeartbeat(ctx, res.CommitID)
		}
		if failed {
			payload := composeFail(failKind, failText)
			if quotaFail {
				payload = composeResourceQuotaFail(session.ResourceQuotaGeneral, failText)
			}
			if err := sendBlocking(tp, session.TypeFail, next.Header.ID, payload); err != nil {
				return err
			}
			continue
		}
		done := uint32(0)
		if idx >= len(res.ToUpload) {
			done = 1
		}
		var ack []byte
		ack = anp.Encode(ack, anp.U32(done))
		if err := sendBlocking(tp, session.TypePhase2Result, next.Header.ID, ack); err != nil {
			return err
		}
	}

	return h.commitUpload(ctx, tp, tk, shareID, res, committed)
}

func (h *Handler) commitUpload(ctx context.Context, tp *transport.Transport, tk ticketClaim, shareID uint32, res kdb.UploadPhase1Result, committed []kdb.CommittedFile) error {
	group := kdb.UploadCommitGroup{
		WorkspaceID:   tk.WorkspaceID,
		ShareID:       shareID,
		CommitID:      res.CommitID,
		PublicEmailID: res.PublicEmailID,
		Files:         committed,
	}
	if err := h.cfg.Procs.UploadPhase2Commit(ctx, group); err != nil {
		return err
	}
	var ack []byte
	ack = anp.Encode(ack, anp.U32(1))
	return sendBlocking(tp, session.TypePhase2Result, 0, ack)
}

func (h *Handler) openUploadFile(workspaceID uint64, rec kdb.ToUploadRecord) (*uploadFileState, error) {
	dir := filepath.Join(h.cfg.KFSRoot, fmt.Sprintf("%d", workspaceID), filepath.Dir(rec.StoragePath))
	if err := os.MkdirAll(dir, 0700); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("ticketmode: mkdir %s: %w", dir, err)
	}
	full := filepath.Join(h.cfg.KFSRoot, fmt.Sprintf("%d", workspaceID), rec.StoragePath)
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("ticketmode: create %s: %w", full, err)
	}
	return &uploadFileState{record: rec, f: f, hasher: md5.New(), storagePath: full}, nil
}

func (h *Handler) cleanupFile(cur *uploadFileState) {
	if cur == nil {
		return
	}
	_ = cur.f.Close()
	_ = os.Remove(cur.storagePath)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
