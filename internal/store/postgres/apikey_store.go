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
)

// ApiKeyStore implements store.ApiKeyStore using PostgreSQL.
type ApiKeyStore struct {
	pool *pgxpool.Pool
}

// NewApiKeyStore creates a new PostgreSQL-backed API key store.
func NewApiKeyStore(pool *pgxpool.Pool) *ApiKeyStore {
	return &ApiKeyStore{pool: pool}
}

const apiKeyColumns = `
	key_id, name, key_hash, key_prefix, principal_id, scopes,
	usage_count, rate_limit, window_start,
	expires_at, created_at, last_used_at,
	revoked, revoked_at, revoked_by
`

// Create inserts a new key. Hash and prefix uniqueness is enforced by the
// database, atomically with the insert.
func (s *ApiKeyStore) Create(ctx context.Context, key *models.ApiKey) error {
	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		key.KeyID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.PrincipalID,
		key.Scopes,
		key.UsageCount,
		key.RateLimit,
		key.WindowStart,
		key.ExpiresAt,
		key.CreatedAt,
		key.LastUsedAt,
		key.Revoked,
		key.RevokedAt,
		key.RevokedBy,
	)
	if err != nil {
		switch uniqueViolationConstraint(err) {
		case "api_keys_key_hash_key", "api_keys_key_prefix_key":
			return store.ErrApiKeyExists
		}
		return fmt.Errorf("failed to create api key: %w", mapPostgresError(err))
	}
	return nil
}

// Get retrieves a key by ID.
func (s *ApiKeyStore) Get(ctx context.Context, keyID uuid.UUID) (*models.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_id = $1`
	return s.queryOne(ctx, query, keyID)
}

// GetByPrefix retrieves a key by its non-secret lookup prefix.
func (s *ApiKeyStore) GetByPrefix(ctx context.Context, prefix string) (*models.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1`
	return s.queryOne(ctx, query, prefix)
}

func (s *ApiKeyStore) queryOne(ctx context.Context, query string, arg any) (*models.ApiKey, error) {
	var key models.ApiKey
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&key.KeyID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.PrincipalID,
		&key.Scopes,
		&key.UsageCount,
		&key.RateLimit,
		&key.WindowStart,
		&key.ExpiresAt,
		&key.CreatedAt,
		&key.LastUsedAt,
		&key.Revoked,
		&key.RevokedAt,
		&key.RevokedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrApiKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", mapPostgresError(err))
	}
	return &key, nil
}

// Revoke marks a key revoked. Idempotent; the original RevokedAt/RevokedBy
// are kept on a repeat call.
func (s *ApiKeyStore) Revoke(ctx context.Context, keyID uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	query := `
		UPDATE api_keys
		SET revoked = TRUE, revoked_at = $2, revoked_by = $3
		WHERE key_id = $1 AND revoked = FALSE
	`

	result, err := s.pool.Exec(ctx, query, keyID, at, revokedBy)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key_id = $1)`, keyID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check api key: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrApiKeyNotFound
		}
	}
	return nil
}

// ConsumeRateLimit atomically charges one request against the key's fixed
// window. Rollover and increment happen in one UPDATE, so under concurrent
// load a key with limit L admits exactly L requests per window. The WHERE
// guard refuses the increment once the budget is spent.
func (s *ApiKeyStore) ConsumeRateLimit(ctx context.Context, keyID uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	cutoff := now.Add(-window)
	query := `
		UPDATE api_keys SET
			usage_count = CASE WHEN window_start <= $3 THEN 1 ELSE usage_count + 1 END,
			window_start = CASE WHEN window_start <= $3 THEN $2 ELSE window_start END
		WHERE key_id = $1
			AND (rate_limit IS NULL OR window_start <= $3 OR usage_count < rate_limit)
	`

	result, err := s.pool.Exec(ctx, query, keyID, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to consume rate limit: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key_id = $1)`, keyID).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check api key: %w", mapPostgresError(err))
		}
		if !exists {
			return false, store.ErrApiKeyNotFound
		}
		return false, nil
	}
	return true, nil
}

// TouchLastUsed records key usage.
func (s *ApiKeyStore) TouchLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE key_id = $1`

	result, err := s.pool.Exec(ctx, query, keyID, at)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrApiKeyNotFound
	}
	return nil
}
