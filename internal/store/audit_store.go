package store

import (
	"context"

	"github.com/gatekeep-io/gatekeep/internal/models"
)

// AuditStore appends immutable audit entries. There is deliberately no
// update or delete operation.
type AuditStore interface {
	// Append writes one entry. Entries are immutable once written.
	Append(ctx context.Context, entry *models.AuditEntry) error

	// ListRecent returns up to limit entries, newest first. ULID entry IDs
	// make the ordering lexical.
	ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error)
}

// LoginAttemptStore appends immutable login attempt records.
type LoginAttemptStore interface {
	// Append writes one attempt record.
	Append(ctx context.Context, attempt *models.LoginAttempt) error

	// ListByEmail returns up to limit attempts for an email, newest first.
	ListByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error)
}
