package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for invitation store operations
var (
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrInvitationAlreadyExists = errors.New("invitation token already exists")
)

// InvitationStore defines the interface for invitation storage operations.
type InvitationStore interface {
	// Create inserts a new invitation; the token carries a unique constraint.
	Create(ctx context.Context, inv *models.Invitation) error

	// Get retrieves an invitation by ID.
	Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error)

	// GetByToken retrieves an invitation by its unique token.
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)

	// CompareAndSetStatus persists the invitation only if its stored status
	// still equals expected. A concurrent transition that already moved the
	// state surfaces as ErrConflict, never as a silent skip.
	CompareAndSetStatus(ctx context.Context, inv *models.Invitation, expected models.InvitationStatus) error

	// ListExpired returns non-terminal invitations past their expiry, for
	// the cleanup sweep. Correctness never depends on the sweep: expiry is
	// evaluated lazily at every read and transition.
	ListExpired(ctx context.Context, now time.Time) ([]*models.Invitation, error)
}
