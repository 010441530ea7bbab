package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for principal store operations
var (
	ErrPrincipalNotFound      = errors.New("principal not found")
	ErrPrincipalAlreadyExists = errors.New("principal already exists")
	ErrEmailAlreadyExists     = errors.New("email already in use")
)

// PrincipalStore defines the interface for principal storage operations.
type PrincipalStore interface {
	// Create creates a new principal.
	// Returns ErrPrincipalAlreadyExists if the ID is taken, or
	// ErrEmailAlreadyExists if the email unique constraint is violated.
	Create(ctx context.Context, principal *models.Principal) error

	// Get retrieves a principal by ID.
	// Returns ErrPrincipalNotFound if the principal doesn't exist.
	Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error)

	// GetByEmail retrieves a principal by lowercase email.
	// Returns ErrPrincipalNotFound if no principal has that email.
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)

	// Update persists mutable principal fields.
	// Returns ErrPrincipalNotFound if the principal doesn't exist.
	Update(ctx context.Context, principal *models.Principal) error

	// IncrementFailedLogins atomically increments the failed-login counter
	// and returns the new count. The increment happens at the storage layer
	// so it is correct across multiple service instances.
	IncrementFailedLogins(ctx context.Context, principalID uuid.UUID) (int, error)

	// ResetFailedLogins zeroes the failed-login counter and clears any
	// lockout timestamp.
	ResetFailedLogins(ctx context.Context, principalID uuid.UUID) error

	// SetLockedUntil sets (or clears, with nil) the lockout timestamp.
	SetLockedUntil(ctx context.Context, principalID uuid.UUID, until *time.Time) error
}
