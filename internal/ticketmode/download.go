/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ticketmode

import (
	"context"
	"fmt"
	"os"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/session"
	"github.com/kasproject/kasd/internal/transport"
)

// Download outbound submessage kinds.
const (
	submFile  uint32 = 1
	submChunkOut uint32 = 2
)

func decodeDownloadRefs(as anp.Atoms, idx int, count uint32) ([]kdb.DownloadFileRef, error) {
	out := make([]kdb.DownloadFileRef, 0, count)
	for i := uint32(0); i < count; i++ {
		inode, err := as.U64(idx)
		if err != nil {
			return nil, err
		}
		idx++
		offset, err := as.U64(idx)
		if err != nil {
			return nil, err
		}
		idx++
		commitID, err := as.U64(idx)
		if err != nil {
			return nil, err
		}
		idx++
		out = append(out, kdb.DownloadFileRef{Inode: inode, Offset: offset, CommitID: commitID})
	}
	return out, nil
}

func (h *Handler) downloadFlow(ctx context.Context, tp *transport.Transport, tk ticketClaim, msg anp.Message, as anp.Atoms, watch *permWatcher) error {
	const ticketAtoms = 1
	count, err := as.U32(ticketAtoms)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	refs, err := decodeDownloadRefs(as, ticketAtoms+1, count)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
		return err
	}
	shareID, err := tk.shareID()
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "malformed ticket extension")
		return err
	}
	paths, err := h.cfg.Procs.DownloadResolvePaths(ctx, shareID, refs)
	if err != nil {
		h.failAndFlush(tp, msg.Header.ID, session.FailBackend, "download resolve failed")
		return err
	}
	if len(paths) != len(refs) {
		h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "path count mismatch")
		return fmt.Errorf("ticketmode: download path count mismatch")
	}

	minChunk, maxChunk := h.cfg.DownloadMinChunk, h.cfg.DownloadMaxChunk
	if minChunk <= 0 {
		minChunk = 64 * 1024
	}
	if maxChunk <= 0 {
		maxChunk = 256 * 1024
	}

	for i, ref := range refs {
		if watch.Denied() {
			h.failAndFlush(tp, 0, session.FailPermissionDenied, "permission revoked")
			return fmt.Errorf("ticketmode: permission revoked mid-download")
		}
		f, err := os.Open(paths[i])
		if err != nil {
			h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, err.Error())
			return err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		total := st.Size()
		if ref.Offset > uint64(total) {
			f.Close()
			h.failAndFlush(tp, msg.Header.ID, session.FailGeneric, "offset beyond file size")
			return fmt.Errorf("ticketmode: download offset beyond size")
		}
		if _, err := f.Seek(int64(ref.Offset), 0); err != nil {
			f.Close()
			return err
		}
		remaining := total - int64(ref.Offset)

		var out []byte
		out = anp.Encode(out, anp.U32(submFile))
		out = anp.Encode(out, anp.U64(uint64(total)))
		out = anp.Encode(out, anp.U64(uint64(remaining)))

		buf := make([]byte, maxChunk)
		for remaining > 0 {
			want := int64(maxChunk)
			if want > remaining {
				want = remaining
			}
			if want < int64(minChunk) && remaining > int64(minChunk) {
				want = int64(minChunk)
			}
			n, err := f.Read(buf[:want])
			if n > 0 {
				if h.downloadLimit != nil {
					if werr := h.downloadLimit.WaitN(ctx, n); werr != nil {
						f.Close()
						return werr
					}
				}
				out = anp.Encode(out, anp.U32(submChunkOut))
				out = anp.Encode(out, anp.Bin(buf[:n]))
				remaining -= int64(n)
			}
			if err != nil {
				break
			}
			if len(out) >= maxChunk {
				if err := sendBlocking(tp, session.TypeDownloadDataResult, msg.Header.ID, out); err != nil {
					f.Close()
					return err
				}
				out = nil
			}
		}
		f.Close()
		if len(out) > 0 {
			if err := sendBlocking(tp, session.TypeDownloadDataResult, msg.Header.ID, out); err != nil {
				return err
			}
		}
	}
	return nil
}
