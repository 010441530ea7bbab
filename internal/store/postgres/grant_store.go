package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// GrantStore implements store.GrantStore using PostgreSQL.
type GrantStore struct {
	pool *pgxpool.Pool
}

// NewGrantStore creates a new PostgreSQL-backed grant store.
func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

// Upsert creates the grant, or re-activates and refreshes the existing
// (principal, role) pair. The ON CONFLICT clause makes concurrent grants
// of the same pair converge instead of erroring.
func (s *GrantStore) Upsert(ctx context.Context, grant *models.RoleGrant) error {
	query := `
		INSERT INTO role_grants (
			grant_id, principal_id, role_id, granted_by,
			expires_at, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (principal_id, role_id) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at,
			active = TRUE,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		grant.GrantID,
		grant.PrincipalID,
		grant.RoleID,
		grant.GrantedBy,
		grant.ExpiresAt,
		grant.Active,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert role grant: %w", mapPostgresError(err))
	}
	return nil
}

// ListByPrincipal returns all grants for a principal, effective or not.
func (s *GrantStore) ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.RoleGrant, error) {
	query := `
		SELECT
			grant_id, principal_id, role_id, granted_by,
			expires_at, active, created_at, updated_at
		FROM role_grants
		WHERE principal_id = $1
	`

	rows, err := s.pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var grants []*models.RoleGrant
	for rows.Next() {
		var grant models.RoleGrant
		err := rows.Scan(
			&grant.GrantID,
			&grant.PrincipalID,
			&grant.RoleID,
			&grant.GrantedBy,
			&grant.ExpiresAt,
			&grant.Active,
			&grant.CreatedAt,
			&grant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		grants = append(grants, &grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role grants: %w", mapPostgresError(err))
	}
	return grants, nil
}

// Revoke deactivates the grant for the pair. Idempotent.
func (s *GrantStore) Revoke(ctx context.Context, principalID, roleID uuid.UUID, at time.Time) error {
	query := `
		UPDATE role_grants
		SET active = FALSE, updated_at = $3
		WHERE principal_id = $1 AND role_id = $2 AND active = TRUE
	`

	_, err := s.pool.Exec(ctx, query, principalID, roleID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke role grant: %w", mapPostgresError(err))
	}
	return nil
}

// DeactivateExpired flips Active=false on grants past their expiry.
func (s *GrantStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE role_grants
		SET active = FALSE, updated_at = $1
		WHERE active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`

	result, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired grants: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deactivated expired role grants")
	}

	return count, nil
}
