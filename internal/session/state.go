/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

import (
	"sync"

	"github.com/kasproject/kasd/internal/anp"
)

// quenchHigh and quenchLow bound the backpressure hysteresis band a
// queue's byte counter must cross to toggle its quench flag (§5).
const (
	quenchHigh = 2 * 1024 * 1024
	quenchLow  = quenchHigh - 64*1024
)

// CheckWorkspace is the sole thread-message kind flowing from the
// eventer to the commander: a perm_check notification arrived for
// workspaceID and the commander should re-run the permission procedure.
type CheckWorkspace struct {
	WorkspaceID uint64
}

// sharedState is the one mutex-protected object the broker, commander,
// and eventer all touch. Every method here takes and releases the lock
// itself; callers never hold it across a blocking operation.
type sharedState struct {
	mu sync.Mutex

	incoming *msgQueue
	outgoing *msgQueue

	inQuenched  bool
	outQuenched bool

	toCommander []CheckWorkspace

	shutdownOnce sync.Once
	shutdownCh   chan Cause
	causeMu      sync.Mutex
	cause        Cause
}

func newSharedState() *sharedState {
	return &sharedState{
		incoming:   newMsgQueue(),
		outgoing:   newMsgQueue(),
		shutdownCh: make(chan Cause, 1),
	}
}

// shutdown closes the shared shutdown channel at most once, recording
// cause for every actor's select loop to observe.
func (s *sharedState) shutdown(cause Cause) {
	s.shutdownOnce.Do(func() {
		s.causeMu.Lock()
		s.cause = cause
		s.causeMu.Unlock()
		s.shutdownCh <- cause
		close(s.shutdownCh)
	})
}

func (s *sharedState) done() <-chan Cause { return s.shutdownCh }

// causeValue reports the recorded shutdown cause after done() has
// fired (CauseNone beforehand).
func (s *sharedState) causeValue() Cause {
	s.causeMu.Lock()
	defer s.causeMu.Unlock()
	return s.cause
}

// pushIncoming enqueues a received command and recomputes in_quenched.
func (s *sharedState) pushIncoming(m anp.Message) {
	s.mu.Lock()
	s.incoming.pushIn(m)
	s.inQuenched = recompute(s.inQuenched, s.incoming.Bytes())
	s.mu.Unlock()
}

// popIncoming pops the next command unless quenched.
func (s *sharedState) popIncoming() (anp.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inQuenched {
		return anp.Message{}, false
	}
	m, ok := s.incoming.popIn()
	if ok {
		s.inQuenched = recompute(s.inQuenched, s.incoming.Bytes())
	}
	return m, ok
}

func (s *sharedState) pushOutgoing(m OutMsg) {
	s.mu.Lock()
	s.outgoing.pushOut(m)
	s.outQuenched = recompute(s.outQuenched, s.outgoing.Bytes())
	s.mu.Unlock()
}

func (s *sharedState) popOutgoing() (OutMsg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outgoing.popOut()
	if ok {
		s.outQuenched = recompute(s.outQuenched, s.outgoing.Bytes())
	}
	return m, ok
}

func (s *sharedState) inQuench() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inQuenched
}

func (s *sharedState) outQuench() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outQuenched
}

func (s *sharedState) postCheckWorkspace(workspaceID uint64) {
	s.mu.Lock()
	s.toCommander = append(s.toCommander, CheckWorkspace{WorkspaceID: workspaceID})
	s.mu.Unlock()
}

func (s *sharedState) drainCheckWorkspace() []CheckWorkspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toCommander) == 0 {
		return nil
	}
	out := s.toCommander
	s.toCommander = nil
	return out
}

// recompute applies the hysteresis band: rising through quenchHigh sets
// the flag, falling through quenchLow clears it, otherwise it holds.
func recompute(current bool, bytes int) bool {
	switch {
	case bytes >= quenchHigh:
		return true
	case bytes <= quenchLow:
		return false
	default:
		return current
	}
}
