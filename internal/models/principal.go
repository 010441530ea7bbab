package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal represents a user identity in the system.
// Principals are created on registration or invitation acceptance and are
// never hard-deleted; suspension and anonymization preserve referential
// integrity for historical audit entries.
type Principal struct {
	PrincipalID uuid.UUID // UUIDv7
	Email       string    // unique, stored lowercase
	Name        string    // Display name

	EmailVerified bool
	Suspended     bool

	// Login outcome tracking
	FailedLoginCount int
	LockedUntil      *time.Time

	// Credential material
	PasswordHash    string
	TwoFactorSecret *string // TOTP secret, nil when 2FA is not enrolled

	// Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // Soft delete marker
}

// IsLocked reports whether the account lockout window is still open.
func (p *Principal) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// IsDeleted returns true if the principal has been soft-deleted.
func (p *Principal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Anonymize clears PII fields while keeping the row (and its ID) intact so
// audit entries referencing the principal remain resolvable.
func (p *Principal) Anonymize(now time.Time) {
	p.Email = "deleted+" + p.PrincipalID.String() + "@invalid"
	p.Name = ""
	p.PasswordHash = ""
	p.TwoFactorSecret = nil
	p.Suspended = true
	p.DeletedAt = &now
	p.UpdatedAt = now
}
