/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package session implements the principal-subprotocol session engine
// (SE): three cooperating actors — broker, commander, eventer — over
// one mutex-protected shared state object, per spec.md §4.4.
package session

import (
	"sync"

	"github.com/kasproject/kasd/internal/anp"
)

// OutMsg is one fully-formed outgoing message awaiting transmission.
type OutMsg struct {
	Type    uint32
	ID      uint64
	Payload []byte
}

func (m OutMsg) byteSize() int { return anp.HeaderSize + len(m.Payload) }

// msgQueue is a byte-accounted FIFO queue shared between the broker
// (which drains it onto the wire or feeds it from the wire) and
// whichever actor produces the messages (commander for outgoing,
// broker itself for incoming).
type msgQueue struct {
	mu    sync.Mutex
	items []interface{}
	bytes int
}

func newMsgQueue() *msgQueue { return &msgQueue{} }

func (q *msgQueue) pushOut(m OutMsg) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.bytes += m.byteSize()
	q.mu.Unlock()
}

func (q *msgQueue) pushIn(m anp.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.bytes += anp.HeaderSize + len(m.Payload)
	q.mu.Unlock()
}

func (q *msgQueue) popOut() (OutMsg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return OutMsg{}, false
	}
	m := q.items[0].(OutMsg)
	q.items = q.items[1:]
	q.bytes -= m.byteSize()
	return m, true
}

func (q *msgQueue) popIn() (anp.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return anp.Message{}, false
	}
	m := q.items[0].(anp.Message)
	q.items = q.items[1:]
	q.bytes -= anp.HeaderSize + len(m.Payload)
	return m, true
}

func (q *msgQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *msgQueue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
