package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for grant store operations
var (
	ErrGrantNotFound = errors.New("role grant not found")
)

// GrantStore defines the interface for role grant storage operations.
// Grants are unique per (principal, role) pair.
type GrantStore interface {
	// Upsert creates the grant, or, if the (principal, role) pair already
	// exists, updates GrantedBy, ExpiresAt and re-activates it.
	Upsert(ctx context.Context, grant *models.RoleGrant) error

	// ListByPrincipal returns all grants for a principal, effective or not.
	// Effectiveness is evaluated by the caller at read time.
	ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.RoleGrant, error)

	// Revoke deactivates the grant for the pair. Idempotent: revoking an
	// already-inactive or missing grant is a no-op returning nil.
	Revoke(ctx context.Context, principalID, roleID uuid.UUID, at time.Time) error

	// DeactivateExpired flips Active=false on grants past their expiry.
	// Cleanup only; evaluators never depend on it for correctness.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}
