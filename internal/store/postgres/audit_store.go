package postgres

import (
	"context"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditStore implements store.AuditStore using PostgreSQL. The table is
// append-only; no update or delete statements exist in this file.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new PostgreSQL-backed audit store.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append writes one audit entry.
func (s *AuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			entry_id, actor_id, action, resource, resource_id,
			before, after, severity, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.EntryID,
		entry.ActorID,
		entry.Action,
		entry.Resource,
		entry.ResourceID,
		entry.Before,
		entry.After,
		string(entry.Severity),
		entry.Metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapPostgresError(err))
	}
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT
			entry_id, actor_id, action, resource, resource_id,
			before, after, severity, metadata, created_at
		FROM audit_entries
		ORDER BY entry_id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var severity string
		err := rows.Scan(
			&entry.EntryID,
			&entry.ActorID,
			&entry.Action,
			&entry.Resource,
			&entry.ResourceID,
			&entry.Before,
			&entry.After,
			&severity,
			&entry.Metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Severity = models.AuditSeverity(severity)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", mapPostgresError(err))
	}
	return entries, nil
}

// LoginAttemptStore implements store.LoginAttemptStore using PostgreSQL.
type LoginAttemptStore struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptStore creates a new PostgreSQL-backed login attempt store.
func NewLoginAttemptStore(pool *pgxpool.Pool) *LoginAttemptStore {
	return &LoginAttemptStore{pool: pool}
}

// Append writes one attempt record.
func (s *LoginAttemptStore) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (
			attempt_id, email, principal_id, success, fail_reason,
			ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		attempt.AttemptID,
		attempt.Email,
		attempt.PrincipalID,
		attempt.Success,
		attempt.FailReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append login attempt: %w", mapPostgresError(err))
	}
	return nil
}

// ListByEmail returns up to limit attempts for an email, newest first.
func (s *LoginAttemptStore) ListByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT
			attempt_id, email, principal_id, success, fail_reason,
			ip_address, user_agent, created_at
		FROM login_attempts
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list login attempts: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var attempts []*models.LoginAttempt
	for rows.Next() {
		var attempt models.LoginAttempt
		err := rows.Scan(
			&attempt.AttemptID,
			&attempt.Email,
			&attempt.PrincipalID,
			&attempt.Success,
			&attempt.FailReason,
			&attempt.IPAddress,
			&attempt.UserAgent,
			&attempt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read login attempts: %w", mapPostgresError(err))
	}
	return attempts, nil
}
