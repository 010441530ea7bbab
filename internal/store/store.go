package store

import (
	"context"
	"errors"
)

// Sentinel errors shared across stores
var (
	// ErrUnavailable indicates a dependency timeout or connection failure.
	// Operations failing with ErrUnavailable are retryable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict indicates a compare-and-set precondition failed because a
	// concurrent writer got there first. Not retryable blindly: re-read first.
	ErrConflict = errors.New("concurrent modification conflict")
)

// Stores bundles the per-entity stores an engine instance operates on.
// Implementations must be safe for concurrent use.
type Stores struct {
	Principals    PrincipalStore
	Sessions      SessionStore
	Roles         RoleStore
	Grants        GrantStore
	Invitations   InvitationStore
	ApiKeys       ApiKeyStore
	Audit         AuditStore
	LoginAttempts LoginAttemptStore
	ResetTickets  ResetTicketStore
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
