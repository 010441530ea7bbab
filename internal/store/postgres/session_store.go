package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionColumns = `
	session_id, principal_id, access_token, refresh_token,
	user_agent, ip_address,
	created_at, last_activity_at, expires_at,
	revoked, revoked_at, revoked_by
`

// Create inserts a new session. Token uniqueness is enforced by the
// database, atomically with the insert.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		session.PrincipalID,
		session.AccessToken,
		session.RefreshToken,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
		session.Revoked,
		session.RevokedAt,
		session.RevokedBy,
	)
	if err != nil {
		switch uniqueViolationConstraint(err) {
		case "sessions_access_token_key", "sessions_refresh_token_key":
			return store.ErrTokenExists
		}
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("principal_id", session.PrincipalID.String()).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID, regardless of revocation or expiry.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	return s.queryOne(ctx, query, sessionID)
}

// GetByAccessToken retrieves a session by its access token.
func (s *SessionStore) GetByAccessToken(ctx context.Context, accessToken string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE access_token = $1`
	return s.queryOne(ctx, query, accessToken)
}

// GetByRefreshToken retrieves a session by its refresh token.
func (s *SessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1`
	return s.queryOne(ctx, query, refreshToken)
}

func (s *SessionStore) queryOne(ctx context.Context, query string, arg any) (*models.Session, error) {
	var session models.Session
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&session.SessionID,
		&session.PrincipalID,
		&session.AccessToken,
		&session.RefreshToken,
		&session.UserAgent,
		&session.IPAddress,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&session.Revoked,
		&session.RevokedAt,
		&session.RevokedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}
	return &session, nil
}

// RotateAccessToken swaps in a new access token and bumps LastActivityAt.
func (s *SessionStore) RotateAccessToken(ctx context.Context, sessionID uuid.UUID, accessToken string, at time.Time) error {
	query := `
		UPDATE sessions
		SET access_token = $2, last_activity_at = $3
		WHERE session_id = $1
	`

	result, err := s.pool.Exec(ctx, query, sessionID, accessToken, at)
	if err != nil {
		if uniqueViolationConstraint(err) == "sessions_access_token_key" {
			return store.ErrTokenExists
		}
		return fmt.Errorf("failed to rotate access token: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// Revoke marks a session revoked. Revoking an already-revoked session keeps
// the original RevokedAt/RevokedBy and returns nil.
func (s *SessionStore) Revoke(ctx context.Context, sessionID uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	query := `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $2, revoked_by = $3
		WHERE session_id = $1 AND revoked = FALSE
	`

	result, err := s.pool.Exec(ctx, query, sessionID, at, revokedBy)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		// Already revoked, or never existed.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check session: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrSessionNotFound
		}
	}
	return nil
}

// RevokeAllForPrincipal revokes every active session for the principal,
// optionally sparing one. Returns the number newly revoked.
func (s *SessionStore) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, exceptSessionID *uuid.UUID, revokedBy uuid.UUID, at time.Time) (int, error) {
	query := `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $2, revoked_by = $3
		WHERE principal_id = $1 AND revoked = FALSE
			AND ($4::uuid IS NULL OR session_id <> $4)
	`

	result, err := s.pool.Exec(ctx, query, principalID, at, revokedBy, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions for principal: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	log.Info().
		Str("principal_id", principalID.String()).
		Int("count", count).
		Msg("Revoked sessions for principal")

	return count, nil
}

// DeleteExpired removes sessions past their expiry.
func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired sessions")
	}

	return count, nil
}
