package store

import (
	"context"
	"errors"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for role store operations
var (
	ErrRoleNotFound      = errors.New("role not found")
	ErrRoleAlreadyExists = errors.New("role already exists")
)

// RoleStore defines the interface for role storage operations.
// Roles are long-lived reference data.
type RoleStore interface {
	// Create creates a new role.
	// Returns ErrRoleAlreadyExists if the name unique constraint is violated.
	Create(ctx context.Context, role *models.Role) error

	// Get retrieves a role by ID.
	// Returns ErrRoleNotFound if the role doesn't exist.
	Get(ctx context.Context, roleID uuid.UUID) (*models.Role, error)

	// GetByName retrieves a role by its unique name.
	GetByName(ctx context.Context, name string) (*models.Role, error)

	// GetBatch retrieves roles for a set of IDs in one round trip. Missing
	// IDs are simply absent from the result; no error is returned for them.
	GetBatch(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]*models.Role, error)

	// Update persists mutable role fields.
	Update(ctx context.Context, role *models.Role) error

	// List returns all roles.
	List(ctx context.Context) ([]*models.Role, error)
}
