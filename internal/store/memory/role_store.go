package memory

import (
	"context"
	"sync"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// RoleStore implements store.RoleStore using in-memory storage.
type RoleStore struct {
	mu sync.RWMutex

	roles       map[uuid.UUID]*models.Role // role_id -> Role
	rolesByName map[string]uuid.UUID       // name -> role_id
}

// NewRoleStore creates a new in-memory role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{
		roles:       make(map[uuid.UUID]*models.Role),
		rolesByName: make(map[string]uuid.UUID),
	}
}

// Create creates a new role.
func (s *RoleStore) Create(ctx context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[role.RoleID]; exists {
		return store.ErrRoleAlreadyExists
	}
	if _, exists := s.rolesByName[role.Name]; exists {
		return store.ErrRoleAlreadyExists
	}

	clone := cloneRole(role)
	s.roles[role.RoleID] = clone
	s.rolesByName[role.Name] = role.RoleID

	return nil
}

// Get retrieves a role by ID.
func (s *RoleStore) Get(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, exists := s.roles[roleID]
	if !exists {
		return nil, store.ErrRoleNotFound
	}
	return cloneRole(role), nil
}

// GetByName retrieves a role by its unique name.
func (s *RoleStore) GetByName(ctx context.Context, name string) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.rolesByName[name]
	if !exists {
		return nil, store.ErrRoleNotFound
	}
	return cloneRole(s.roles[id]), nil
}

// GetBatch retrieves roles for a set of IDs in one call.
func (s *RoleStore) GetBatch(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uuid.UUID]*models.Role, len(roleIDs))
	for _, id := range roleIDs {
		if role, exists := s.roles[id]; exists {
			result[id] = cloneRole(role)
		}
	}
	return result, nil
}

// Update persists mutable role fields.
func (s *RoleStore) Update(ctx context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.roles[role.RoleID]
	if !exists {
		return store.ErrRoleNotFound
	}

	if current.Name != role.Name {
		if _, taken := s.rolesByName[role.Name]; taken {
			return store.ErrRoleAlreadyExists
		}
		delete(s.rolesByName, current.Name)
		s.rolesByName[role.Name] = role.RoleID
	}

	s.roles[role.RoleID] = cloneRole(role)
	return nil
}

// List returns all roles.
func (s *RoleStore) List(ctx context.Context) ([]*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		result = append(result, cloneRole(role))
	}
	return result, nil
}

// cloneRole deep-copies a role so callers cannot mutate stored state.
func cloneRole(role *models.Role) *models.Role {
	clone := *role
	clone.Permissions = make(models.PermissionSet, len(role.Permissions))
	for k := range role.Permissions {
		clone.Permissions[k] = struct{}{}
	}
	return &clone
}
