/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package wsutil holds the per-session workspace handle sets shared by
// the commander (command-side handles) and eventer (event-side
// handles), per spec.md §3's data model.
package wsutil

import (
	"sync"

	"github.com/kasproject/kasd/internal/kdb"
)

// CommandHandle is a command-side workspace handle: (workspace-id,
// login-type, user-id).
type CommandHandle struct {
	WorkspaceID uint64
	LoginType   kdb.LoginType
	UserID      uint32
}

// EventHandle is an event-side workspace handle, tracking the
// eventer's per-workspace listen/poll state.
type EventHandle struct {
	WorkspaceID   uint64
	LastEventID   uint64
	ListenDesired bool
	ListenActive  bool
	PollEvents    bool
}

// CommandSet is the session's joined-workspace set as seen by the
// commander. Safe for concurrent use; the commander mutates it and the
// eventer reads it to decide which workspaces to listen on.
type CommandSet struct {
	mu   sync.Mutex
	byID map[uint64]CommandHandle
}

func NewCommandSet() *CommandSet { return &CommandSet{byID: map[uint64]CommandHandle{}} }

func (s *CommandSet) Join(h CommandHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[h.WorkspaceID] = h
}

func (s *CommandSet) Leave(workspaceID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, workspaceID)
}

func (s *CommandSet) Get(workspaceID uint64) (CommandHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byID[workspaceID]
	return h, ok
}

func (s *CommandSet) IDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

// EventSet is the eventer's index of subscribed workspace handles,
// split between "all subscribed" and "active" (needing work), per
// spec.md §4.4's Eventer description.
type EventSet struct {
	mu     sync.Mutex
	byID   map[uint64]*EventHandle
	active map[uint64]struct{}
}

func NewEventSet() *EventSet {
	return &EventSet{byID: map[uint64]*EventHandle{}, active: map[uint64]struct{}{}}
}

func (s *EventSet) Join(h EventHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := h
	s.byID[h.WorkspaceID] = &cp
}

func (s *EventSet) Leave(workspaceID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, workspaceID)
	delete(s.active, workspaceID)
}

func (s *EventSet) Get(workspaceID uint64) (EventHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byID[workspaceID]
	if !ok {
		return EventHandle{}, false
	}
	return *h, true
}

// MarkActive flags a workspace as needing an eventer work cycle
// (either a fresh poll or a listen/unlisten transition).
func (s *EventSet) MarkActive(workspaceID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[workspaceID]; ok {
		s.active[workspaceID] = struct{}{}
	}
}

// TakeActive drains and returns the current active set, clearing it.
func (s *EventSet) TakeActive() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.active = map[uint64]struct{}{}
	return ids
}

// AdvanceLastEventID updates a workspace's high-water mark after a
// successful poll cycle.
func (s *EventSet) AdvanceLastEventID(workspaceID, lastID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.byID[workspaceID]; ok {
		h.LastEventID = lastID
	}
}

func (s *EventSet) IDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}
