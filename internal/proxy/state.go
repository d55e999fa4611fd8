package proxy

import (
	"sync"

	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

// slot is the per-category record. Fields are only touched with State.mu held.
type slot struct {
	path    string
	hasPath bool
	highest uint32

	// disconnect is closed to tell every relay session of the current
	// generation to end. It stays closed until the next activation so
	// sessions accepted while draining end at once.
	disconnect chan struct{}
	closed     bool

	listener *Listener
}

// State holds every slot behind one RWMutex. Callers copy what they need
// under the lock and act after releasing it.
type State struct {
	mu        sync.RWMutex
	slots     map[target.Category]*slot
	available bool
	failures  int
}

// SlotSnapshot is a point-in-time copy of one slot
type SlotSnapshot struct {
	Path    string
	HasPath bool
	Highest uint32
}

// NewState creates empty slots for every category
func NewState() *State {
	s := &State{slots: make(map[target.Category]*slot, len(target.Categories))}
	for _, c := range target.Categories {
		s.slots[c] = &slot{disconnect: make(chan struct{})}
	}
	return s
}

// Snapshot copies the slot of a category
func (s *State) Snapshot(c target.Category) SlotSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl := s.slots[c]
	return SlotSnapshot{Path: sl.path, HasPath: sl.hasPath, Highest: sl.highest}
}

// session returns what a relay session needs at accept time
func (s *State) session(c target.Category) (path string, ok bool, disconnect <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl := s.slots[c]
	return sl.path, sl.hasPath, sl.disconnect
}

// apply records a change decision. Initial sets the path; Changed leaves the
// path to the restart. The version ratchet never moves down.
func (s *State) apply(c target.Category, ch target.Change) {
	sl := s.slots[c]
	switch ch.Kind {
	case target.Initial:
		sl.path = ch.NewPath
		sl.hasPath = true
	}
	if ch.Version > sl.highest {
		sl.highest = ch.Version
	}
}

// broadcastDisconnect closes the current generation's channel once
func (s *State) broadcastDisconnect(c target.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[c]
	if sl.closed {
		return false
	}
	close(sl.disconnect)
	sl.closed = true
	return true
}

// activate stores the new path and opens a fresh disconnect generation
func (s *State) activate(c target.Category, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[c]
	sl.path = path
	sl.hasPath = true
	if sl.closed {
		sl.disconnect = make(chan struct{})
		sl.closed = false
	}
}

func (s *State) setListener(c target.Category, l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[c].listener = l
}

func (s *State) takeListener(c target.Category) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.slots[c].listener
	s.slots[c].listener = nil
	return l
}

// Available reports whether the last discovery request succeeded
func (s *State) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Failures returns the consecutive failed discovery count
func (s *State) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}
