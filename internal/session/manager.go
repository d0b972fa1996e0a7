// Package session binds opaque client sessions to conversation ids. The
// binding is ephemeral: it lives only in memory and expires after a TTL
// measured from the session's last activity.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/models"
)

// Manager owns session lifecycle. It never owns conversation content.
type Manager struct {
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*models.Session
	now      func() time.Time
}

func NewManager(ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

// Init resolves the inbound session id: an unknown or expired id yields a
// fresh empty session (expiry clears the conversation binding, it never
// resurrects the old one); a live id has its last activity refreshed. The
// returned snapshot is always valid.
func (m *Manager) Init(id string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[id]; ok {
		if m.valid(s, now) {
			s.LastActivity = now
			return *s
		}
		delete(m.sessions, id)
		m.logger.Debug("expired session cleared", zap.String("session_id", id))
	}

	s := &models.Session{
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[s.SessionID] = s
	return *s
}

// IsValid reports whether the session exists and has not expired.
func (m *Manager) IsValid(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && m.valid(s, m.now())
}

// BindConversation associates a conversation id with a live session and
// extends its lifetime.
func (m *Manager) BindConversation(id, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ConversationID = conversationID
		s.LastActivity = m.now()
	}
}

// ConversationID returns the bound conversation id, or "" when none.
func (m *Manager) ConversationID(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.ConversationID
	}
	return ""
}

// UnbindConversation clears the conversation binding but keeps the session.
func (m *Manager) UnbindConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ConversationID = ""
	}
}

// End removes the session entirely.
func (m *Manager) End(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return *s, true
	}
	return models.Session{}, false
}

// StartSweeper deletes expired sessions on an interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.sweep(); n > 0 {
					m.logger.Info("expired sessions removed", zap.Int("count", n))
				}
			}
		}
	}()
}

func (m *Manager) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if !m.valid(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) valid(s *models.Session, now time.Time) bool {
	return now.Before(s.LastActivity.Add(m.ttl))
}
