package game

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Session binds an opaque id to a game state. The turn mutex serializes turn
// resolution per session: two concurrent requests against the same session
// must never interleave history appends or beat increments.
type Session struct {
	ID    string
	State *GameState

	turnMu sync.Mutex
}

// Lock acquires the session's turn lock.
func (s *Session) Lock() { s.turnMu.Lock() }

// Unlock releases the session's turn lock.
func (s *Session) Unlock() { s.turnMu.Unlock() }

// SessionManager owns the session map. Its internal lock guards the map
// itself; it is independent of each session's turn lock.
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	lastActivity map[string]time.Time
	timeout      time.Duration
	now          func() time.Time
}

func NewSessionManager(timeout time.Duration) *SessionManager {
	return &SessionManager{
		sessions:     make(map[string]*Session),
		lastActivity: make(map[string]time.Time),
		timeout:      timeout,
		now:          time.Now,
	}
}

// Create mints a new session around the given state.
func (m *SessionManager) Create(state *GameState) *Session {
	s := &Session{ID: uuid.NewString(), State: state}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.lastActivity[s.ID] = m.now()
	return s
}

// Get returns a live session and refreshes its activity timestamp. An
// expired session is purged on the spot and behaves exactly like a missing
// one.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().Sub(m.lastActivity[id]) > m.timeout {
		delete(m.sessions, id)
		delete(m.lastActivity, id)
		return nil, ErrSessionNotFound
	}
	m.lastActivity[id] = m.now()
	return s, nil
}

// Delete removes a session.
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.lastActivity, id)
}

// PurgeExpired drops every session past the idle timeout and reports how
// many were removed.
func (m *SessionManager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	now := m.now()
	for id, last := range m.lastActivity {
		if now.Sub(last) > m.timeout {
			delete(m.sessions, id)
			delete(m.lastActivity, id)
			purged++
		}
	}
	return purged
}

// Len reports the number of live sessions (including not-yet-purged expired
// ones).
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
