package models

import (
	"time"

	"github.com/google/uuid"
)

// RoleGrant joins a principal to a role. Grants are unique per
// (principal, role) pair and may carry an expiry.
type RoleGrant struct {
	GrantID     uuid.UUID // UUIDv7
	PrincipalID uuid.UUID
	RoleID      uuid.UUID
	GrantedBy   *uuid.UUID // nil for system-seeded grants
	ExpiresAt   *time.Time // nil means no expiry
	Active      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveAt reports whether the grant confers its role's permissions at the
// given instant. Expiry is evaluated here, at read time; a background sweep
// flipping Active is cleanup only and evaluators must not depend on it.
func (g *RoleGrant) EffectiveAt(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
