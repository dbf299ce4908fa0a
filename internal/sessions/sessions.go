// Package sessions provides in-memory conversation history for the tutor
// pipeline. History is bounded per session and expires after a period of
// inactivity; nothing survives a restart.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/kielitutor/tutor/pkg/models"
)

// Defaults applied when NewMemorySessionStore receives zero values.
const (
	DefaultMaxTurns = 20
	DefaultTTL      = 2 * time.Hour
)

// MemorySessionStore is a thread-safe in-memory implementation of
// contracts.SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // key: session ID
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore creates a store that keeps at most maxTurns exchanges
// per session and forgets sessions idle for longer than ttl.
func NewMemorySessionStore(maxTurns int, ttl time.Duration) *MemorySessionStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemorySessionStore{
		sessions: make(map[string]*models.Session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemorySessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// History returns a copy of the session's messages. Unknown and expired
// sessions have an empty history.
func (s *MemorySessionStore) History(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		return nil, nil
	}
	out := make([]models.ChatMessage, len(sess.Messages))
	copy(out, sess.Messages)
	return out, nil
}

// GetSession returns a snapshot of the session, or false when it is unknown
// or expired.
func (s *MemorySessionStore) GetSession(_ context.Context, sessionID string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		return models.Session{}, false
	}
	snap := *sess
	snap.Messages = append([]models.ChatMessage(nil), sess.Messages...)
	return snap, true
}

// AppendTurn records one learner/tutor exchange, creating the session on
// first use. The opening exchange that set up the scenario is always kept,
// plus at most maxTurns of the most recent exchanges.
func (s *MemorySessionStore) AppendTurn(_ context.Context, sessionID string, user, assistant models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		sess = &models.Session{ID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}

	sess.Messages = append(sess.Messages, user, assistant)
	sess.TurnCount++
	sess.UpdatedAt = now
	expires := now.Add(s.ttl)
	sess.ExpiresAt = &expires

	// Opening exchange plus the latest maxTurns exchanges.
	if recent := s.maxTurns * 2; len(sess.Messages) > recent+2 {
		keep := make([]models.ChatMessage, 0, recent+2)
		keep = append(keep, sess.Messages[:2]...)
		keep = append(keep, sess.Messages[len(sess.Messages)-recent:]...)
		sess.Messages = keep
	}
	return nil
}

// Reset discards the session's history.
func (s *MemorySessionStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// PurgeExpired removes every expired session and returns how many were removed.
func (s *MemorySessionStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of sessions held, expired or not.
func (s *MemorySessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) expired(sess *models.Session) bool {
	return sess.ExpiresAt != nil && !s.now().Before(*sess.ExpiresAt)
}
