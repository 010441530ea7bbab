package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the closed set of invitation states. The data layer
// stores these as strings; unknown values are rejected at the boundary.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationSent      InvitationStatus = "sent"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// ParseInvitationStatus validates a raw status value from the data layer.
func ParseInvitationStatus(raw string) (InvitationStatus, error) {
	switch s := InvitationStatus(raw); s {
	case InvitationPending, InvitationSent, InvitationAccepted,
		InvitationDeclined, InvitationExpired, InvitationCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown invitation status %q", raw)
}

// invitationTransitions is the exhaustive transition table. Terminal states
// have no outgoing edges. Expiry is additionally allowed from any
// non-terminal state and handled by CanTransition.
var invitationTransitions = map[InvitationStatus][]InvitationStatus{
	InvitationPending: {InvitationSent, InvitationCancelled},
	InvitationSent:    {InvitationAccepted, InvitationDeclined, InvitationCancelled},
}

// IsTerminal reports whether no further transition is permitted.
func (s InvitationStatus) IsTerminal() bool {
	switch s {
	case InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to target is permitted.
func (s InvitationStatus) CanTransition(target InvitationStatus) bool {
	if target == InvitationExpired {
		return !s.IsTerminal()
	}
	for _, allowed := range invitationTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Invitation drives onboarding of a new principal by email.
type Invitation struct {
	InvitationID uuid.UUID  // UUIDv7
	Token        string     // unique, embedded in the acceptance link
	Email        string     // target, stored lowercase
	RoleID       *uuid.UUID // optional pre-assigned role granted on acceptance
	InvitedBy    uuid.UUID
	PrincipalID  *uuid.UUID // resolved on acceptance

	Status    InvitationStatus
	ExpiresAt time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
	AcceptedAt  *time.Time
	DeclinedAt  *time.Time
	CancelledAt *time.Time
}

// IsExpired reports whether the invitation is past its expiry. Expiry is
// checked lazily at every read and transition attempt.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
