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

// InvitationStore implements store.InvitationStore using PostgreSQL.
type InvitationStore struct {
	pool *pgxpool.Pool
}

// NewInvitationStore creates a new PostgreSQL-backed invitation store.
func NewInvitationStore(pool *pgxpool.Pool) *InvitationStore {
	return &InvitationStore{pool: pool}
}

const invitationColumns = `
	invitation_id, token, email, role_id, invited_by, principal_id,
	status, expires_at, created_at, updated_at,
	sent_at, accepted_at, declined_at, cancelled_at
`

// Create inserts a new invitation.
func (s *InvitationStore) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (` + invitationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		inv.InvitationID,
		inv.Token,
		inv.Email,
		inv.RoleID,
		inv.InvitedBy,
		inv.PrincipalID,
		string(inv.Status),
		inv.ExpiresAt,
		inv.CreatedAt,
		inv.UpdatedAt,
		inv.SentAt,
		inv.AcceptedAt,
		inv.DeclinedAt,
		inv.CancelledAt,
	)
	if err != nil {
		if uniqueViolationConstraint(err) == "invitations_token_key" {
			return store.ErrInvitationAlreadyExists
		}
		return fmt.Errorf("failed to create invitation: %w", mapPostgresError(err))
	}
	return nil
}

// Get retrieves an invitation by ID.
func (s *InvitationStore) Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE invitation_id = $1`
	return s.queryOne(ctx, query, invitationID)
}

// GetByToken retrieves an invitation by its unique token.
func (s *InvitationStore) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`
	return s.queryOne(ctx, query, token)
}

func (s *InvitationStore) queryOne(ctx context.Context, query string, arg any) (*models.Invitation, error) {
	inv, err := scanInvitation(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", mapPostgresError(err))
	}
	return inv, nil
}

// CompareAndSetStatus persists the invitation only if its stored status
// still equals expected. The status guard in the WHERE clause makes the
// transition a single atomic statement; a lost race returns ErrConflict.
func (s *InvitationStore) CompareAndSetStatus(ctx context.Context, inv *models.Invitation, expected models.InvitationStatus) error {
	query := `
		UPDATE invitations SET
			status = $2, principal_id = $3, updated_at = $4,
			sent_at = $5, accepted_at = $6, declined_at = $7, cancelled_at = $8
		WHERE invitation_id = $1 AND status = $9
	`

	result, err := s.pool.Exec(ctx, query,
		inv.InvitationID,
		string(inv.Status),
		inv.PrincipalID,
		inv.UpdatedAt,
		inv.SentAt,
		inv.AcceptedAt,
		inv.DeclinedAt,
		inv.CancelledAt,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invitations WHERE invitation_id = $1)`, inv.InvitationID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check invitation: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrInvitationNotFound
		}
		return store.ErrConflict
	}
	return nil
}

// ListExpired returns non-terminal invitations past their expiry.
func (s *InvitationStore) ListExpired(ctx context.Context, now time.Time) ([]*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE status IN ('pending', 'sent') AND expires_at <= $1
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired invitations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invitations: %w", mapPostgresError(err))
	}
	return invitations, nil
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	var status string
	err := row.Scan(
		&inv.InvitationID,
		&inv.Token,
		&inv.Email,
		&inv.RoleID,
		&inv.InvitedBy,
		&inv.PrincipalID,
		&status,
		&inv.ExpiresAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&inv.SentAt,
		&inv.AcceptedAt,
		&inv.DeclinedAt,
		&inv.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status, err = models.ParseInvitationStatus(status)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
