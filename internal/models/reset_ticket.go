package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetTicket is a single-use credential for completing a password
// reset. Once used it is permanently inert even if unexpired.
type PasswordResetTicket struct {
	TicketID    uuid.UUID // UUIDv7
	PrincipalID uuid.UUID
	Token       string // unique

	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time

	CreatedAt time.Time
}

// Usable reports whether the ticket can still complete a reset.
func (t *PasswordResetTicket) Usable(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}
