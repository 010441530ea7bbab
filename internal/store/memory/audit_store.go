package memory

import (
	"context"
	"sync"

	"github.com/gatekeep-io/gatekeep/internal/models"
)

// AuditStore implements store.AuditStore using in-memory storage.
// Entries are append-only; there is no way to update or delete them.
type AuditStore struct {
	mu sync.Mutex

	entries []*models.AuditEntry
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append writes one entry.
func (s *AuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.entries = append(s.entries, &clone)
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]*models.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		clone := *s.entries[i]
		result = append(result, &clone)
	}
	return result, nil
}
