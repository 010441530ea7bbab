package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// PrincipalStore implements store.PrincipalStore using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type PrincipalStore struct {
	mu sync.RWMutex

	principals       map[uuid.UUID]*models.Principal // principal_id -> Principal
	principalsByMail map[string]uuid.UUID            // email -> principal_id
}

// NewPrincipalStore creates a new in-memory principal store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		principals:       make(map[uuid.UUID]*models.Principal),
		principalsByMail: make(map[string]uuid.UUID),
	}
}

// Create creates a new principal in memory.
func (s *PrincipalStore) Create(ctx context.Context, principal *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.principals[principal.PrincipalID]; exists {
		return store.ErrPrincipalAlreadyExists
	}

	email := strings.ToLower(principal.Email)
	if _, exists := s.principalsByMail[email]; exists {
		return store.ErrEmailAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *principal
	s.principals[principal.PrincipalID] = &clone
	s.principalsByMail[email] = principal.PrincipalID

	return nil
}

// Get retrieves a principal by ID.
func (s *PrincipalStore) Get(ctx context.Context, principalID uuid.UUID) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principal, exists := s.principals[principalID]
	if !exists {
		return nil, store.ErrPrincipalNotFound
	}

	clone := *principal
	return &clone, nil
}

// GetByEmail retrieves a principal by lowercase email.
func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.principalsByMail[strings.ToLower(email)]
	if !exists {
		return nil, store.ErrPrincipalNotFound
	}

	clone := *s.principals[id]
	return &clone, nil
}

// Update persists mutable principal fields.
func (s *PrincipalStore) Update(ctx context.Context, principal *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.principals[principal.PrincipalID]
	if !exists {
		return store.ErrPrincipalNotFound
	}

	newEmail := strings.ToLower(principal.Email)
	oldEmail := strings.ToLower(current.Email)
	if newEmail != oldEmail {
		if _, taken := s.principalsByMail[newEmail]; taken {
			return store.ErrEmailAlreadyExists
		}
		delete(s.principalsByMail, oldEmail)
		s.principalsByMail[newEmail] = principal.PrincipalID
	}

	clone := *principal
	s.principals[principal.PrincipalID] = &clone

	return nil
}

// IncrementFailedLogins atomically increments the failed-login counter.
func (s *PrincipalStore) IncrementFailedLogins(ctx context.Context, principalID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	principal, exists := s.principals[principalID]
	if !exists {
		return 0, store.ErrPrincipalNotFound
	}

	principal.FailedLoginCount++
	return principal.FailedLoginCount, nil
}

// ResetFailedLogins zeroes the failed-login counter and clears any lockout.
func (s *PrincipalStore) ResetFailedLogins(ctx context.Context, principalID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	principal, exists := s.principals[principalID]
	if !exists {
		return store.ErrPrincipalNotFound
	}

	principal.FailedLoginCount = 0
	principal.LockedUntil = nil
	return nil
}

// SetLockedUntil sets or clears the lockout timestamp.
func (s *PrincipalStore) SetLockedUntil(ctx context.Context, principalID uuid.UUID, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	principal, exists := s.principals[principalID]
	if !exists {
		return store.ErrPrincipalNotFound
	}

	if until != nil {
		u := *until
		principal.LockedUntil = &u
	} else {
		principal.LockedUntil = nil
	}
	return nil
}
