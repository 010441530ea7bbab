package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for password reset ticket store operations
var (
	ErrTicketNotFound = errors.New("password reset ticket not found")

	// ErrTicketUsed indicates the single-use ticket was already consumed,
	// possibly by a concurrent request.
	ErrTicketUsed = errors.New("password reset ticket already used")
)

// ResetTicketStore defines the interface for password reset ticket storage.
type ResetTicketStore interface {
	// Create inserts a new ticket; the token carries a unique constraint.
	Create(ctx context.Context, ticket *models.PasswordResetTicket) error

	// GetByToken retrieves a ticket by its unique token.
	GetByToken(ctx context.Context, token string) (*models.PasswordResetTicket, error)

	// MarkUsed consumes the ticket. The used flag flips via compare-and-set:
	// exactly one caller wins, all others get ErrTicketUsed. Once used the
	// ticket is permanently inert even if unexpired.
	MarkUsed(ctx context.Context, ticketID uuid.UUID, at time.Time) error
}
