package models

import (
	"time"

	"github.com/google/uuid"
)

// ApiKey is a machine credential. The secret is never stored: only its
// SHA-256 hash and a short non-secret prefix used for O(1) lookup.
// Hash and prefix are unique across all keys and never reused, even after
// revocation.
type ApiKey struct {
	KeyID     uuid.UUID // UUIDv7
	Name      string    // Friendly name (e.g., "ci-pipeline")
	KeyHash   string    // hex SHA-256 of the secret part, unique
	KeyPrefix string    // non-secret lookup prefix, unique

	PrincipalID *uuid.UUID // nil = service-level key
	Scopes      []string

	// Fixed-window rate limiting; counter mutation is delegated to the store.
	UsageCount  int64
	RateLimit   *int64 // max requests per window, nil = unlimited
	WindowStart time.Time

	ExpiresAt  *time.Time
	CreatedAt  time.Time
	LastUsedAt *time.Time

	Revoked   bool
	RevokedAt *time.Time
	RevokedBy *uuid.UUID
}

// IsExpired reports whether the key is past its optional expiry.
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// HasScope reports whether the key carries the given scope.
func (k *ApiKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
