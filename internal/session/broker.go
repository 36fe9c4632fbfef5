/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import (
	"time"

	"github.com/kasproject/kasd/internal/transport"
)

// pollInterval bounds how long the broker waits between re-evaluating
// the transport when nothing woke it early. The source drives an
// actual multiplexed wait (select/kqueue) over the socket descriptor;
// here the broker instead polls the non-blocking transport on a short
// timer, woken early by notify whenever outgoing gains work.
const pollInterval = 5 * time.Millisecond

// broker owns the TLS socket. It alternates feeding the transport's
// receive side into the shared incoming queue and draining the shared
// outgoing queue through the transport's send side.
type broker struct {
	tp     *transport.Transport
	shared *sharedState
	wake   notifier
	minor  uint32
}

func newBroker(tp *transport.Transport, shared *sharedState, wake notifier, effectiveMinor uint32) *broker {
	return &broker{tp: tp, shared: shared, wake: wake, minor: effectiveMinor}
}

// run drives the transport until the shared state is shut down or a
// fatal transport error occurs, in which case it records CauseClient.
func (b *broker) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.shared.done():
			b.flushBestEffort()
			return
		case <-b.wake:
		case <-ticker.C:
		}

		if err := b.driveRecv(); err != nil {
			b.shared.shutdown(CauseClient)
			return
		}
		if err := b.driveSend(); err != nil {
			b.shared.shutdown(CauseClient)
			return
		}
	}
}

func (b *broker) driveRecv() error {
	if b.shared.inQuench() {
		return nil
	}
	for {
		_, ready, err := b.tp.RecvStep()
		if err == transport.ErrWouldBlock {
			return nil
		}
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		msg := b.tp.TakeReceived()
		b.shared.pushIncoming(msg)
		if b.shared.inQuench() {
			return nil
		}
	}
}

func (b *broker) driveSend() error {
	for {
		if b.tp.SendIdleState() {
			m, ok := b.shared.popOutgoing()
			if !ok {
				return nil
			}
			if err := b.tp.SendOne(1, b.minor, m.Type, m.ID, m.Payload); err != nil {
				return err
			}
		}
		_, done, err := b.tp.SendStep()
		if err == transport.ErrWouldBlock {
			return nil
		}
		if err != nil {
			return err
		}
		if done {
			b.tp.ResetSend()
		}
	}
}

// flushBestEffort attempts one more drain of outgoing before the
// session closes, per §7's "never closes without attempting to
// enqueue/flush the terminating result" policy.
func (b *broker) flushBestEffort() {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := b.driveSend(); err != nil {
			return
		}
		if b.tp.SendIdleState() && b.shared.outgoing.Len() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
