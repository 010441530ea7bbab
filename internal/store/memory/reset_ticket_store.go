package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// ResetTicketStore implements store.ResetTicketStore using in-memory storage.
type ResetTicketStore struct {
	mu sync.Mutex

	tickets        map[uuid.UUID]*models.PasswordResetTicket // ticket_id -> ticket
	ticketsByToken map[string]uuid.UUID                      // token -> ticket_id
}

// NewResetTicketStore creates a new in-memory reset ticket store.
func NewResetTicketStore() *ResetTicketStore {
	return &ResetTicketStore{
		tickets:        make(map[uuid.UUID]*models.PasswordResetTicket),
		ticketsByToken: make(map[string]uuid.UUID),
	}
}

// Create inserts a new ticket.
func (s *ResetTicketStore) Create(ctx context.Context, ticket *models.PasswordResetTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ticketsByToken[ticket.Token]; exists {
		return store.ErrConflict
	}

	clone := *ticket
	s.tickets[ticket.TicketID] = &clone
	s.ticketsByToken[ticket.Token] = ticket.TicketID

	return nil
}

// GetByToken retrieves a ticket by its unique token.
func (s *ResetTicketStore) GetByToken(ctx context.Context, token string) (*models.PasswordResetTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.ticketsByToken[token]
	if !exists {
		return nil, store.ErrTicketNotFound
	}

	clone := *s.tickets[id]
	return &clone, nil
}

// ListByPrincipal returns all tickets issued to a principal. Test helper;
// not part of store.ResetTicketStore.
func (s *ResetTicketStore) ListByPrincipal(ctx context.Context, principalID uuid.UUID) []*models.PasswordResetTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.PasswordResetTicket
	for _, ticket := range s.tickets {
		if ticket.PrincipalID == principalID {
			clone := *ticket
			result = append(result, &clone)
		}
	}
	return result
}

// MarkUsed consumes the ticket. Exactly one caller wins; everyone else gets
// store.ErrTicketUsed.
func (s *ResetTicketStore) MarkUsed(ctx context.Context, ticketID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, exists := s.tickets[ticketID]
	if !exists {
		return store.ErrTicketNotFound
	}
	if ticket.Used {
		return store.ErrTicketUsed
	}

	ticket.Used = true
	used := at
	ticket.UsedAt = &used

	return nil
}
