package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResetTicketStore implements store.ResetTicketStore using PostgreSQL.
type ResetTicketStore struct {
	pool *pgxpool.Pool
}

// NewResetTicketStore creates a new PostgreSQL-backed reset ticket store.
func NewResetTicketStore(pool *pgxpool.Pool) *ResetTicketStore {
	return &ResetTicketStore{pool: pool}
}

// Create inserts a new ticket.
func (s *ResetTicketStore) Create(ctx context.Context, ticket *models.PasswordResetTicket) error {
	query := `
		INSERT INTO password_reset_tickets (
			ticket_id, principal_id, token, expires_at, used, used_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		ticket.TicketID,
		ticket.PrincipalID,
		ticket.Token,
		ticket.ExpiresAt,
		ticket.Used,
		ticket.UsedAt,
		ticket.CreatedAt,
	)
	if err != nil {
		if uniqueViolationConstraint(err) == "password_reset_tickets_token_key" {
			return store.ErrConflict
		}
		return fmt.Errorf("failed to create reset ticket: %w", mapPostgresError(err))
	}
	return nil
}

// GetByToken retrieves a ticket by its unique token.
func (s *ResetTicketStore) GetByToken(ctx context.Context, token string) (*models.PasswordResetTicket, error) {
	query := `
		SELECT ticket_id, principal_id, token, expires_at, used, used_at, created_at
		FROM password_reset_tickets
		WHERE token = $1
	`

	var ticket models.PasswordResetTicket
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&ticket.TicketID,
		&ticket.PrincipalID,
		&ticket.Token,
		&ticket.ExpiresAt,
		&ticket.Used,
		&ticket.UsedAt,
		&ticket.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get reset ticket: %w", mapPostgresError(err))
	}
	return &ticket, nil
}

// MarkUsed consumes the ticket. The used=FALSE guard makes this a
// compare-and-set: exactly one concurrent caller wins.
func (s *ResetTicketStore) MarkUsed(ctx context.Context, ticketID uuid.UUID, at time.Time) error {
	query := `
		UPDATE password_reset_tickets
		SET used = TRUE, used_at = $2
		WHERE ticket_id = $1 AND used = FALSE
	`

	result, err := s.pool.Exec(ctx, query, ticketID, at)
	if err != nil {
		return fmt.Errorf("failed to mark reset ticket used: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM password_reset_tickets WHERE ticket_id = $1)`, ticketID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check reset ticket: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrTicketNotFound
		}
		return store.ErrTicketUsed
	}
	return nil
}
