// Package session tracks each user's interaction mode.
//
// A user absent from the store is in ModeMainMenu; the store never needs
// eager initialization. State is process-local and lost on restart.
package session

import "sync"

// Mode is the per-user interaction mode.
type Mode int

const (
	// ModeMainMenu is the default: messages go to the completion backend.
	ModeMainMenu Mode = iota
	// ModeManualHandoff forwards messages to the manager chat.
	ModeManualHandoff
)

// String returns a short name for logging.
func (m Mode) String() string {
	switch m {
	case ModeManualHandoff:
		return "manual_handoff"
	default:
		return "main_menu"
	}
}

// Store maps user IDs to their current Mode. Safe for concurrent use; the
// router's per-user dispatch guarantees within-user ordering, so the store
// only guards cross-user access.
type Store struct {
	mu    sync.RWMutex
	modes map[int64]Mode
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{modes: make(map[int64]Mode)}
}

// Get returns the mode for the user, ModeMainMenu if never set.
func (s *Store) Get(userID int64) Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modes[userID]
}

// Set records the mode for the user.
func (s *Store) Set(userID int64, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[userID] = mode
}

// Len reports how many users have materialized state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modes)
}
