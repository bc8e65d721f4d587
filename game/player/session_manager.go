package player

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	logger   *zap.Logger
}

func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
	}
}

// Register adds a session. A previous session of the same identity is closed
// and returned (duplicate login / reconnect).
func (sm *SessionManager) Register(s *Session) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	old, ok := sm.sessions[s.identity]
	if ok {
		old.Close()
		sm.logger.Info("duplicate session displaced", zap.String("account", s.identity.String()))
	}
	sm.sessions[s.identity] = s
	sm.logger.Info("player session registered",
		zap.String("account", s.identity.String()),
		zap.String("name", s.name))
	return old
}

// Unregister closes and removes the session of identity. It returns the removed session, or nil.
func (sm *SessionManager) Unregister(identity uuid.UUID) *Session {
	sm.mu.Lock()
	s, ok := sm.sessions[identity]
	delete(sm.sessions, identity)
	sm.mu.Unlock()
	if !ok {
		return nil
	}
	s.Close()
	sm.logger.Info("player session unregistered", zap.String("account", identity.String()))
	return s
}

// Get returns the session of identity, or nil.
func (sm *SessionManager) Get(identity uuid.UUID) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[identity]
}

// GetByName finds a session by player name (case-insensitive).
func (sm *SessionManager) GetByName(name string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if strings.EqualFold(s.name, name) {
			return s
		}
	}
	return nil
}

func (sm *SessionManager) IsOnline(identity uuid.UUID) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.sessions[identity]
	return ok
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns the sessions ordered by join time.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	sm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].joinedAt.Before(out[j].joinedAt) })
	return out
}

// BroadcastSystemMessage sends a system message to every connected session.
func (sm *SessionManager) BroadcastSystemMessage(message string) {
	payload, _ := json.Marshal(messagePayload{Message: message})
	for _, s := range sm.All() {
		s.Send(&Packet{Type: "system_message", Payload: payload})
	}
}

// CloseAllSessions closes and removes every session.
func (sm *SessionManager) CloseAllSessions() []*Session {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for id, s := range sm.sessions {
		sessions = append(sessions, s)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}
	return sessions
}
