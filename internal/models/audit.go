package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditSeverity classifies audit entries.
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical"
)

// AuditEntry is an immutable, append-only record of a security-relevant
// action. Entries are never updated or deleted. IDs are ULIDs so the log
// sorts lexically by creation time.
type AuditEntry struct {
	EntryID string // ULID

	ActorID *uuid.UUID // nil for system-initiated actions

	Action     string // e.g., "session.create", "apikey.revoke"
	Resource   string // resource type, e.g., "session"
	ResourceID string

	// Before/After snapshots of the mutated resource, when applicable
	Before map[string]any
	After  map[string]any

	Severity AuditSeverity
	Metadata map[string]string

	CreatedAt time.Time
}
