package session

import (
	"sync"

	"telegrative/internal/metrics"
)

type entry struct {
	state   State
	session *Session
}

// Store maps Telegram user ids to their state and session. It is safe for
// concurrent access.
type Store struct {
	mu    sync.Mutex
	users map[int64]entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{users: make(map[int64]entry)}
}

// Get returns the state of userID and its session when Active.
func (s *Store) Get(userID int64) (State, *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		return Unauthenticated, nil
	}
	return e.state, e.session
}

// SetState moves userID to state. Moving an Active user to another state
// drops its session. Use Activate to enter Active.
func (s *Store) SetState(userID int64, state State) {
	if state == Active {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.users[userID]
	if e.state == Active && e.session != nil {
		metrics.ActiveSessions.Dec()
	}
	if state == Unauthenticated {
		delete(s.users, userID)
		return
	}
	s.users[userID] = entry{state: state}
}

// Activate stores sess for userID, replacing any previous one.
func (s *Store) Activate(userID int64, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.users[userID]; e.state != Active || e.session == nil {
		metrics.ActiveSessions.Inc()
	}
	s.users[userID] = entry{state: Active, session: sess}
}

// Len returns the number of users holding a session.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.users {
		if e.session != nil {
			n++
		}
	}
	return n
}
