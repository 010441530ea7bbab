package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// grantKey identifies the unique (principal, role) pair.
type grantKey struct {
	principalID uuid.UUID
	roleID      uuid.UUID
}

// GrantStore implements store.GrantStore using in-memory storage.
type GrantStore struct {
	mu sync.Mutex

	grants map[grantKey]*models.RoleGrant
}

// NewGrantStore creates a new in-memory grant store.
func NewGrantStore() *GrantStore {
	return &GrantStore{
		grants: make(map[grantKey]*models.RoleGrant),
	}
}

// Upsert creates the grant or updates the existing pair in place.
func (s *GrantStore) Upsert(ctx context.Context, grant *models.RoleGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{principalID: grant.PrincipalID, roleID: grant.RoleID}
	if current, exists := s.grants[key]; exists {
		// Keep the original grant identity; refresh the rest.
		current.GrantedBy = grant.GrantedBy
		current.ExpiresAt = grant.ExpiresAt
		current.Active = true
		current.UpdatedAt = grant.UpdatedAt
		return nil
	}

	clone := *grant
	s.grants[key] = &clone
	return nil
}

// ListByPrincipal returns all grants for a principal, effective or not.
func (s *GrantStore) ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.RoleGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.RoleGrant
	for key, grant := range s.grants {
		if key.principalID != principalID {
			continue
		}
		clone := *grant
		result = append(result, &clone)
	}
	return result, nil
}

// Revoke deactivates the grant for the pair. Idempotent.
func (s *GrantStore) Revoke(ctx context.Context, principalID, roleID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, exists := s.grants[grantKey{principalID: principalID, roleID: roleID}]
	if !exists || !grant.Active {
		return nil
	}

	grant.Active = false
	grant.UpdatedAt = at
	return nil
}

// DeactivateExpired flips Active=false on grants past their expiry.
func (s *GrantStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, grant := range s.grants {
		if grant.Active && grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) {
			grant.Active = false
			grant.UpdatedAt = now
			count++
		}
	}
	return count, nil
}
