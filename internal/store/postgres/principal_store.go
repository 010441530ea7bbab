package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PrincipalStore implements store.PrincipalStore using PostgreSQL.
type PrincipalStore struct {
	pool *pgxpool.Pool
}

// NewPrincipalStore creates a new PostgreSQL-backed principal store.
func NewPrincipalStore(pool *pgxpool.Pool) *PrincipalStore {
	return &PrincipalStore{pool: pool}
}

const principalColumns = `
	principal_id, email, name, email_verified, suspended,
	failed_login_count, locked_until, password_hash, two_factor_secret,
	created_at, updated_at, deleted_at
`

// Create creates a new principal. The email unique constraint enforces
// one-principal-per-email atomically with the insert.
func (s *PrincipalStore) Create(ctx context.Context, principal *models.Principal) error {
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		principal.PrincipalID,
		principal.Email,
		principal.Name,
		principal.EmailVerified,
		principal.Suspended,
		principal.FailedLoginCount,
		principal.LockedUntil,
		principal.PasswordHash,
		principal.TwoFactorSecret,
		principal.CreatedAt,
		principal.UpdatedAt,
		principal.DeletedAt,
	)
	if err != nil {
		switch uniqueViolationConstraint(err) {
		case "principals_email_key":
			return store.ErrEmailAlreadyExists
		case "principals_pkey":
			return store.ErrPrincipalAlreadyExists
		}
		return fmt.Errorf("failed to create principal: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("principal_id", principal.PrincipalID.String()).
		Msg("Created principal")

	return nil
}

// Get retrieves a principal by ID.
func (s *PrincipalStore) Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE principal_id = $1`
	return s.queryOne(ctx, query, principalID)
}

// GetByEmail retrieves a principal by lowercase email.
func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE email = $1`
	return s.queryOne(ctx, query, email)
}

func (s *PrincipalStore) queryOne(ctx context.Context, query string, arg any) (*models.Principal, error) {
	var principal models.Principal
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&principal.PrincipalID,
		&principal.Email,
		&principal.Name,
		&principal.EmailVerified,
		&principal.Suspended,
		&principal.FailedLoginCount,
		&principal.LockedUntil,
		&principal.PasswordHash,
		&principal.TwoFactorSecret,
		&principal.CreatedAt,
		&principal.UpdatedAt,
		&principal.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", mapPostgresError(err))
	}
	return &principal, nil
}

// Update persists mutable principal fields.
func (s *PrincipalStore) Update(ctx context.Context, principal *models.Principal) error {
	query := `
		UPDATE principals SET
			email = $2, name = $3, email_verified = $4, suspended = $5,
			password_hash = $6, two_factor_secret = $7,
			updated_at = $8, deleted_at = $9
		WHERE principal_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		principal.PrincipalID,
		principal.Email,
		principal.Name,
		principal.EmailVerified,
		principal.Suspended,
		principal.PasswordHash,
		principal.TwoFactorSecret,
		principal.UpdatedAt,
		principal.DeletedAt,
	)
	if err != nil {
		if uniqueViolationConstraint(err) == "principals_email_key" {
			return store.ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to update principal: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrPrincipalNotFound
	}
	return nil
}

// IncrementFailedLogins atomically increments the failed-login counter and
// returns the new count. Single statement, so it is correct across
// concurrent logins and multiple engine instances.
func (s *PrincipalStore) IncrementFailedLogins(ctx context.Context, principalID uuid.UUID) (int, error) {
	query := `
		UPDATE principals
		SET failed_login_count = failed_login_count + 1
		WHERE principal_id = $1
		RETURNING failed_login_count
	`

	var count int
	err := s.pool.QueryRow(ctx, query, principalID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrPrincipalNotFound
		}
		return 0, fmt.Errorf("failed to increment failed logins: %w", mapPostgresError(err))
	}
	return count, nil
}

// ResetFailedLogins zeroes the failed-login counter and clears any lockout.
func (s *PrincipalStore) ResetFailedLogins(ctx context.Context, principalID uuid.UUID) error {
	query := `
		UPDATE principals
		SET failed_login_count = 0, locked_until = NULL
		WHERE principal_id = $1
	`

	result, err := s.pool.Exec(ctx, query, principalID)
	if err != nil {
		return fmt.Errorf("failed to reset failed logins: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrPrincipalNotFound
	}
	return nil
}

// SetLockedUntil sets (or clears, with nil) the lockout timestamp.
func (s *PrincipalStore) SetLockedUntil(ctx context.Context, principalID uuid.UUID, until *time.Time) error {
	query := `UPDATE principals SET locked_until = $2 WHERE principal_id = $1`

	result, err := s.pool.Exec(ctx, query, principalID, until)
	if err != nil {
		return fmt.Errorf("failed to set locked until: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrPrincipalNotFound
	}
	return nil
}
