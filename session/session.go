// Package session tracks per-user app state between requests.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/quiz"
)

var ErrNotFound = errors.New("session not found")

// Session bundles the DocumentGPT and QuizGPT state of one user.
type Session struct {
	ID        string
	CreatedAt time.Time
	Chat      *chat.Session
	Quiz      *quiz.Session
}

type Manager struct {
	mu       sync.RWMutex
	chat     *chat.Service
	sessions map[string]*Session
}

func NewManager(chatSvc *chat.Service) *Manager {
	return &Manager{chat: chatSvc, sessions: make(map[string]*Session)}
}

func (m *Manager) Create() *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Chat:      m.chat.NewSession(),
		Quiz:      quiz.NewSession(),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// End discards the session and everything it holds in memory.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
