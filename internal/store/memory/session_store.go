package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type SessionStore struct {
	mu sync.Mutex

	sessions         map[uuid.UUID]*models.Session // session_id -> Session
	sessionsByAccess map[string]uuid.UUID          // access_token -> session_id
	sessionsByRefr   map[string]uuid.UUID          // refresh_token -> session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:         make(map[uuid.UUID]*models.Session),
		sessionsByAccess: make(map[string]uuid.UUID),
		sessionsByRefr:   make(map[string]uuid.UUID),
	}
}

// Create inserts a new session. The uniqueness check and insert happen under
// one lock, matching the unique-constraint-backed insert of the SQL backend.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessionsByAccess[session.AccessToken]; exists {
		return store.ErrTokenExists
	}
	if _, exists := s.sessionsByRefr[session.RefreshToken]; exists {
		return store.ErrTokenExists
	}

	clone := *session
	s.sessions[session.SessionID] = &clone
	s.sessionsByAccess[session.AccessToken] = session.SessionID
	s.sessionsByRefr[session.RefreshToken] = session.SessionID

	return nil
}

// Get retrieves a session by ID, regardless of revocation or expiry.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	clone := *session
	return &clone, nil
}

// GetByAccessToken retrieves a session by access token.
func (s *SessionStore) GetByAccessToken(ctx context.Context, accessToken string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.sessionsByAccess[accessToken]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	clone := *s.sessions[id]
	return &clone, nil
}

// GetByRefreshToken retrieves a session by refresh token.
func (s *SessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.sessionsByRefr[refreshToken]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	clone := *s.sessions[id]
	return &clone, nil
}

// RotateAccessToken swaps in a new access token and bumps LastActivityAt.
func (s *SessionStore) RotateAccessToken(ctx context.Context, sessionID uuid.UUID, accessToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}
	if owner, taken := s.sessionsByAccess[accessToken]; taken && owner != sessionID {
		return store.ErrTokenExists
	}

	delete(s.sessionsByAccess, session.AccessToken)
	session.AccessToken = accessToken
	session.LastActivityAt = at
	s.sessionsByAccess[accessToken] = sessionID

	return nil
}

// Revoke marks a session revoked. Idempotent.
func (s *SessionStore) Revoke(ctx context.Context, sessionID uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}
	if session.Revoked {
		return nil
	}

	session.Revoked = true
	session.RevokedAt = &at
	session.RevokedBy = &revokedBy

	return nil
}

// RevokeAllForPrincipal revokes every active session for the principal.
func (s *SessionStore) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, exceptSessionID *uuid.UUID, revokedBy uuid.UUID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, session := range s.sessions {
		if session.PrincipalID != principalID || session.Revoked {
			continue
		}
		if exceptSessionID != nil && session.SessionID == *exceptSessionID {
			continue
		}
		session.Revoked = true
		revokedAt := at
		revoker := revokedBy
		session.RevokedAt = &revokedAt
		session.RevokedBy = &revoker
		count++
	}

	return count, nil
}

// DeleteExpired removes sessions past their expiry (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(before) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		session := s.sessions[id]
		delete(s.sessionsByAccess, session.AccessToken)
		delete(s.sessionsByRefr, session.RefreshToken)
		delete(s.sessions, id)
	}

	return len(toDelete), nil
}
