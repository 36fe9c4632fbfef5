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
	"github.com/kasproject/kasd/internal/wsutil"
)

// eventPollLimit is the per-cycle ceiling spec.md §4.4 names for a
// single workspace's poll.
const eventPollLimit = 100

// eventer owns a dedicated "notification-subscriber" database
// connection and maintains the event-side workspace handle set.
type eventer struct {
	shared     *sharedState
	wake       notifier
	workspaces *wsutil.CommandSet
	events     *wsutil.EventSet
	listenConn *kdb.ListenConn
	procs      kdb.Procedures
	log        *klog.Logger
}

func newEventer(shared *sharedState, wake notifier, workspaces *wsutil.CommandSet, listenConn *kdb.ListenConn, log *klog.Logger) *eventer {
	return &eventer{
		shared:     shared,
		wake:       wake,
		workspaces: workspaces,
		events:     wsutil.NewEventSet(),
		listenConn: listenConn,
		procs:      listenConn.Procedures(),
		log:        log,
	}
}

// run alternates between reconciling the event-side handle set against
// the command-side set, running active workspaces' poll cycles, and
// draining backend notifications, until shutdown.
func (e *eventer) run(ctx context.Context) {
	notifyCh := make(chan kdb.Notification, 16)
	notifyErr := make(chan error, 1)
	go e.pumpNotifications(ctx, notifyCh, notifyErr)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.shared.done():
			return
		case <-ctx.Done():
			e.shared.shutdown(CauseShutdown)
			return
		case n := <-notifyCh:
			e.handleNotification(n)
		case err := <-notifyErr:
			_ = err
			e.shared.shutdown(CauseBackend)
			return
		case <-e.wake:
		case <-ticker.C:
		}

		e.reconcile(ctx)
		e.pollActive(ctx)
	}
}

func (e *eventer) pumpNotifications(ctx context.Context, out chan<- kdb.Notification, errCh chan<- error) {
	for {
		n, err := e.listenConn.WaitForNotification(ctx)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

func (e *eventer) handleNotification(n kdb.Notification) {
	for _, id := range e.events.IDs() {
		if n.Channel == kdb.EventLogChannel(id) {
			e.events.MarkActive(id)
			e.wake.wake()
			return
		}
		if n.Channel == kdb.PermCheckChannel(id) {
			e.shared.postCheckWorkspace(id)
			e.wake.wake()
			return
		}
	}
}

// reconcile joins/leaves the event-side set to match the command-side
// workspace set, issuing LISTEN/UNLISTEN as handles appear/disappear.
func (e *eventer) reconcile(ctx context.Context) {
	joined := map[uint64]struct{}{}
	for _, id := range e.workspaces.IDs() {
		joined[id] = struct{}{}
		if _, ok := e.events.Get(id); !ok {
			if err := e.listenConn.Listen(ctx, id); err != nil {
				e.shared.shutdown(CauseBackend)
				return
			}
			e.events.Join(wsutil.EventHandle{WorkspaceID: id, ListenDesired: true, ListenActive: true})
			e.events.MarkActive(id)
		}
	}
	for _, id := range e.events.IDs() {
		if _, ok := joined[id]; !ok {
			if err := e.listenConn.Unlisten(ctx, id); err != nil {
				e.shared.shutdown(CauseBackend)
				return
			}
			e.events.Leave(id)
		}
	}
}

// pollActive drains the active set, polling each workspace's event
// log and re-marking active if the poll returned a full page.
func (e *eventer) pollActive(ctx context.Context) {
	for _, id := range e.events.TakeActive() {
		handle, ok := e.events.Get(id)
		if !ok {
			continue
		}
		events, err := e.procs.PollEvents(ctx, id, handle.LastEventID, eventPollLimit)
		if err != nil {
			e.shared.shutdown(CauseBackend)
			return
		}
		if len(events) == 0 {
			continue
		}
		last := handle.LastEventID
		for _, ev := range events {
			eventID := ev.ID
			if !ev.Permanent {
				eventID = 0
			}
			var payload []byte
			payload = append(payload, ev.Payload...)
			e.shared.pushOutgoing(OutMsg{Type: eventWireType(ev.Type), ID: eventID, Payload: payload})
			if ev.ID > last {
				last = ev.ID
			}
		}
		e.events.AdvanceLastEventID(id, last)
		e.wake.wake()
		if len(events) == eventPollLimit {
			e.events.MarkActive(id)
		}
	}
}

// eventWireType reinterprets a stored event's type field (persisted as
// the bare namespace/subtype the backend recorded) as a full RoleEvent
// wire type.
func eventWireType(stored uint32) uint32 {
	_, _, ns, sub := anp.SplitType(stored)
	return anp.MakeType(anp.RoleEvent, ns, sub)
}
