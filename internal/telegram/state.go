package telegram

import (
	"sync"
)

// Session is what the bot remembers about one Telegram identity between updates.
type Session struct {
	ChatID         int64
	LastOriginalID string
}

type StateManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[string]*Session),
	}
}

// Get returns a copy of the session for identity.
func (m *StateManager) Get(identity string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[identity]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Remember records the chat an identity last wrote from.
func (m *StateManager) Remember(identity string, chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[identity]; ok {
		session.ChatID = chatID
		return
	}
	m.sessions[identity] = &Session{ChatID: chatID}
}

func (m *StateManager) SetLastOriginal(identity, originalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[identity]
	if !ok {
		session = &Session{}
		m.sessions[identity] = session
	}
	session.LastOriginalID = originalID
}

func (m *StateManager) Reset(identity string) {
	m.mu.Lock()
	delete(m.sessions, identity)
	m.mu.Unlock()
}
