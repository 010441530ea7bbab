package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoleStore implements store.RoleStore using PostgreSQL. Permission sets
// are stored as JSONB string arrays.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore creates a new PostgreSQL-backed role store.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

const roleColumns = `
	role_id, name, description, permissions, level,
	system, active, created_at, updated_at
`

// Create creates a new role.
func (s *RoleStore) Create(ctx context.Context, role *models.Role) error {
	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		role.RoleID,
		role.Name,
		role.Description,
		role.Permissions,
		role.Level,
		role.System,
		role.Active,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		if uniqueViolationConstraint(err) == "roles_name_key" {
			return store.ErrRoleAlreadyExists
		}
		return fmt.Errorf("failed to create role: %w", mapPostgresError(err))
	}
	return nil
}

// Get retrieves a role by ID.
func (s *RoleStore) Get(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE role_id = $1`
	return s.queryOne(ctx, query, roleID)
}

// GetByName retrieves a role by its unique name.
func (s *RoleStore) GetByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	return s.queryOne(ctx, query, name)
}

func (s *RoleStore) queryOne(ctx context.Context, query string, arg any) (*models.Role, error) {
	role, err := scanRole(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", mapPostgresError(err))
	}
	return role, nil
}

// GetBatch retrieves roles for a set of IDs in one round trip.
func (s *RoleStore) GetBatch(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE role_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", mapPostgresError(err))
	}
	defer rows.Close()

	result := make(map[uuid.UUID]*models.Role, len(roleIDs))
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		result[role.RoleID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", mapPostgresError(err))
	}
	return result, nil
}

// Update persists mutable role fields.
func (s *RoleStore) Update(ctx context.Context, role *models.Role) error {
	query := `
		UPDATE roles SET
			name = $2, description = $3, permissions = $4, level = $5,
			active = $6, updated_at = $7
		WHERE role_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		role.RoleID,
		role.Name,
		role.Description,
		role.Permissions,
		role.Level,
		role.Active,
		role.UpdatedAt,
	)
	if err != nil {
		if uniqueViolationConstraint(err) == "roles_name_key" {
			return store.ErrRoleAlreadyExists
		}
		return fmt.Errorf("failed to update role: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrRoleNotFound
	}
	return nil
}

// List returns all roles ordered by name.
func (s *RoleStore) List(ctx context.Context) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", mapPostgresError(err))
	}
	return roles, nil
}

func scanRole(row pgx.Row) (*models.Role, error) {
	var role models.Role
	err := row.Scan(
		&role.RoleID,
		&role.Name,
		&role.Description,
		&role.Permissions,
		&role.Level,
		&role.System,
		&role.Active,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}
