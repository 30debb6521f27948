package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/Yates-Labs/medrag/internal/narrative"
)

// SessionStore keeps each session's conversation history in memory and
// serializes turns within a session.
type SessionStore struct {
	mu      sync.Mutex
	history map[string][]narrative.Turn
	locks   map[string]*sessionLock
}

// sessionLock is a turn lock shared by every caller holding or waiting on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		history: make(map[string][]narrative.Turn),
		locks:   make(map[string]*sessionLock),
	}
}

// History returns a copy of the session's turns, oldest first.
func (s *SessionStore) History(sessionID string) []narrative.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]narrative.Turn, len(s.history[sessionID]))
	copy(out, s.history[sessionID])
	return out
}

// Append records a completed turn.
func (s *SessionStore) Append(sessionID, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], narrative.Turn{
		Question: question,
		Answer:   answer,
		At:       time.Now(),
	})
}

// Clear forgets a session's history.
func (s *SessionStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
}

// ClearAll forgets every session's history.
func (s *SessionStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string][]narrative.Turn)
}

// Len returns the number of turns recorded for a session.
func (s *SessionStore) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[sessionID])
}

// Sessions lists sessions with history, sorted.
func (s *SessionStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.history))
	for id := range s.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lock acquires the session's turn lock and returns its release func. The
// lock entry is dropped once no caller holds or waits on it.
func (s *SessionStore) Lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
	}
}

func (s *SessionStore) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
