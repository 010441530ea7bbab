package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// InvitationStore implements store.InvitationStore using in-memory storage.
type InvitationStore struct {
	mu sync.Mutex

	invitations map[uuid.UUID]*models.Invitation // invitation_id -> Invitation
	invsByToken map[string]uuid.UUID             // token -> invitation_id
}

// NewInvitationStore creates a new in-memory invitation store.
func NewInvitationStore() *InvitationStore {
	return &InvitationStore{
		invitations: make(map[uuid.UUID]*models.Invitation),
		invsByToken: make(map[string]uuid.UUID),
	}
}

// Create inserts a new invitation.
func (s *InvitationStore) Create(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitations[inv.InvitationID]; exists {
		return store.ErrInvitationAlreadyExists
	}
	if _, exists := s.invsByToken[inv.Token]; exists {
		return store.ErrInvitationAlreadyExists
	}

	clone := *inv
	s.invitations[inv.InvitationID] = &clone
	s.invsByToken[inv.Token] = inv.InvitationID

	return nil
}

// Get retrieves an invitation by ID.
func (s *InvitationStore) Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invitations[invitationID]
	if !exists {
		return nil, store.ErrInvitationNotFound
	}

	clone := *inv
	return &clone, nil
}

// GetByToken retrieves an invitation by its unique token.
func (s *InvitationStore) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.invsByToken[token]
	if !exists {
		return nil, store.ErrInvitationNotFound
	}

	clone := *s.invitations[id]
	return &clone, nil
}

// CompareAndSetStatus persists the invitation only if the stored status still
// equals expected. A lost race surfaces as store.ErrConflict.
func (s *InvitationStore) CompareAndSetStatus(ctx context.Context, inv *models.Invitation, expected models.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.invitations[inv.InvitationID]
	if !exists {
		return store.ErrInvitationNotFound
	}
	if current.Status != expected {
		return store.ErrConflict
	}

	clone := *inv
	s.invitations[inv.InvitationID] = &clone

	return nil
}

// ListExpired returns non-terminal invitations past their expiry.
func (s *InvitationStore) ListExpired(ctx context.Context, now time.Time) ([]*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Invitation
	for _, inv := range s.invitations {
		if !inv.Status.IsTerminal() && inv.IsExpired(now) {
			clone := *inv
			result = append(result, &clone)
		}
	}
	return result, nil
}
