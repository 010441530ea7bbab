package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents an authenticated login. Access and refresh tokens are
// opaque random values, unique across all sessions.
type Session struct {
	SessionID    uuid.UUID // UUIDv7
	PrincipalID  uuid.UUID
	AccessToken  string // unique
	RefreshToken string // unique

	// Device/network metadata for audit
	UserAgent string
	IPAddress string

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time

	Revoked   bool
	RevokedAt *time.Time
	RevokedBy *uuid.UUID
}

// IsExpired reports whether the session is past its natural expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Rejected reports whether lookups must refuse the session. A revoked
// session is rejected regardless of ExpiresAt.
func (s *Session) Rejected(now time.Time) bool {
	return s.Revoked || s.IsExpired(now)
}
