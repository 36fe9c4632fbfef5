/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ticketmode

import (
	"context"
	"sync/atomic"

	"github.com/kasproject/kasd/internal/kdb"
)

// permWatcher drains the dedicated connection's permission-check
// notifications in the background and sets a flag the flow loops poll
// between transport cycles, per spec.md §4.6.4's "common behavior".
type permWatcher struct {
	lc          *kdb.ListenConn
	procs       kdb.Procedures
	workspaceID uint64
	userID      uint32

	denied int32
	done   chan struct{}
}

func newPermWatcher(lc *kdb.ListenConn, procs kdb.Procedures, workspaceID uint64, userID uint32) *permWatcher {
	return &permWatcher{lc: lc, procs: procs, workspaceID: workspaceID, userID: userID, done: make(chan struct{})}
}

func (w *permWatcher) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		n, err := w.lc.WaitForNotification(ctx)
		if err != nil {
			return
		}
		if n.Channel != kdb.PermCheckChannel(w.workspaceID) {
			continue
		}
		denied, err := w.procs.CheckWorkspacePermission(ctx, w.workspaceID, w.userID)
		if err != nil || denied {
			atomic.StoreInt32(&w.denied, 1)
			return
		}
	}
}

func (w *permWatcher) stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// Denied reports whether a permission-check notification has revoked
// this session's access since the flow started.
func (w *permWatcher) Denied() bool { return atomic.LoadInt32(&w.denied) != 0 }
