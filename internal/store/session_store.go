package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for session store operations
var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenExists indicates a generated token collided with an existing
	// one. Inserts are unique-constraint-backed, never read-then-write, so
	// concurrent CreateSession calls cannot both win with the same token.
	ErrTokenExists = errors.New("session token already exists")
)

// SessionStore defines the interface for session storage operations.
type SessionStore interface {
	// Create inserts a new session. The insert is atomic with the uniqueness
	// check on both tokens; returns ErrTokenExists on collision.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID, regardless of revocation or expiry.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// GetByAccessToken retrieves a session by its access token.
	// Returns ErrSessionNotFound if no session has that token.
	GetByAccessToken(ctx context.Context, accessToken string) (*models.Session, error)

	// GetByRefreshToken retrieves a session by its refresh token.
	// Returns ErrSessionNotFound if no session has that token.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)

	// RotateAccessToken swaps in a new access token and bumps LastActivityAt.
	// Returns ErrTokenExists if the new token collides,
	// ErrSessionNotFound if the session doesn't exist.
	RotateAccessToken(ctx context.Context, sessionID uuid.UUID, accessToken string, at time.Time) error

	// Revoke marks a session revoked. Revoking an already-revoked session is
	// a no-op returning nil; the original RevokedAt/RevokedBy are kept.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Revoke(ctx context.Context, sessionID uuid.UUID, revokedBy uuid.UUID, at time.Time) error

	// RevokeAllForPrincipal revokes every active session belonging to the
	// principal, optionally sparing one (the caller's own). Returns the
	// number of sessions newly revoked.
	RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, exceptSessionID *uuid.UUID, revokedBy uuid.UUID, at time.Time) (int, error)

	// DeleteExpired removes sessions past their expiry (cleanup job only;
	// lookups reject expired sessions whether or not this ever runs).
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
