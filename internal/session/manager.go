package session

import (
	"sync"

	"github.com/google/uuid"
)

// Manager owns the live sessions. Sessions are fully isolated from one
// another; the only shared state is the dispatcher's content gate.
type Manager struct {
	dial       Dialer
	dispatcher CommandDispatcher

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(dial Dialer, d CommandDispatcher) *Manager {
	return &Manager{
		dial:       dial,
		dispatcher: d,
		sessions:   make(map[string]*Session),
	}
}

// Create registers a new idle session for the given transport.
func (m *Manager) Create(transport Transport) *Session {
	s := New(uuid.NewString(), transport, m.dial, m.dispatcher)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes the session and discards all of its state, including its
// event-id set.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears every session down. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
