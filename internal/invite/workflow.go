// Package invite drives the invitation state machine. Every transition is
// guarded by a compare-and-set on the stored status: a concurrent
// transition that already moved the state surfaces as an error, never a
// silent skip. Expiry is evaluated lazily at every read and transition.
package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
)

// Sentinel errors for invitation operations
var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
)

// InvalidTransitionError reports a transition the state machine forbids,
// naming the current and requested state.
type InvalidTransitionError struct {
	From models.InvitationStatus
	To   models.InvitationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid invitation transition %s -> %s", e.From, e.To)
}

// PrincipalCreator is the principal-creation hook, satisfied by the session
// manager. Acceptance is the only path that may create a new principal.
type PrincipalCreator interface {
	RegisterPrincipal(ctx context.Context, email, name, password string) (*models.Principal, error)
}

// RoleGranter grants the invitation's pre-assigned role on acceptance.
// Satisfied by the RBAC evaluator.
type RoleGranter interface {
	GrantRole(ctx context.Context, principalID, roleID uuid.UUID, grantedBy uuid.UUID, expiresAt *time.Time) error
}

// Config holds invitation workflow tunables.
type Config struct {
	// InvitationTTL is how long an invitation stays acceptable.
	InvitationTTL time.Duration

	// LinkSigningKey signs acceptance link tokens. Required.
	LinkSigningKey []byte

	// AcceptBaseURL is the base URL embedded in invitation emails.
	AcceptBaseURL string
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.InvitationTTL == 0 {
		c.InvitationTTL = 7 * 24 * time.Hour
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.LinkSigningKey) < 32 {
		return errors.New("link signing key must be at least 32 bytes")
	}
	return nil
}

// Workflow drives invitation state transitions.
type Workflow struct {
	invitations store.InvitationStore
	principals  store.PrincipalStore

	creator  PrincipalCreator
	granter  RoleGranter
	recorder *audit.Recorder
	notifier notify.Notifier
	clock    clock.Clock
	logger   zerolog.Logger
	cfg      Config
	signer   linkSigner
}

// NewWorkflow creates an invitation workflow.
func NewWorkflow(stores store.Stores, creator PrincipalCreator, granter RoleGranter, recorder *audit.Recorder, notifier notify.Notifier, clk clock.Clock, logger zerolog.Logger, cfg Config) (*Workflow, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{
		invitations: stores.Invitations,
		principals:  stores.Principals,
		creator:     creator,
		granter:     granter,
		recorder:    recorder,
		notifier:    notifier,
		clock:       clk,
		logger:      logger.With().Str("component", "invite").Logger(),
		cfg:         cfg,
		signer:      linkSigner{key: cfg.LinkSigningKey},
	}, nil
}

// Create issues a new invitation in the PENDING state.
func (w *Workflow) Create(ctx context.Context, email string, roleID *uuid.UUID, invitedBy uuid.UUID) (*models.Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("valid email is required")
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := w.clock.Now()
	inv := &models.Invitation{
		InvitationID: uuid.Must(uuid.NewV7()),
		Token:        token,
		Email:        email,
		RoleID:       roleID,
		InvitedBy:    invitedBy,
		Status:       models.InvitationPending,
		ExpiresAt:    now.Add(w.cfg.InvitationTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	w.recorder.Record(ctx, audit.Event{
		Actor:      &invitedBy,
		Action:     "invitation.create",
		Resource:   "invitation",
		ResourceID: inv.InvitationID.String(),
		After:      map[string]any{"email": email},
		Severity:   models.AuditInfo,
	})

	if err := w.invitations.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Send moves a PENDING invitation to SENT and dispatches the acceptance
// link. The transition is committed before delivery is attempted: a failed
// send is logged, never rolled back.
func (w *Workflow) Send(ctx context.Context, invitationID uuid.UUID) error {
	inv, err := w.load(ctx, invitationID)
	if err != nil {
		return err
	}

	now := w.clock.Now()
	if err := w.transition(ctx, inv, models.InvitationSent, func(i *models.Invitation) {
		i.SentAt = &now
	}); err != nil {
		return err
	}

	link, err := w.signer.sign(inv.Token, inv.ExpiresAt)
	if err != nil {
		return err
	}
	if err := w.notifier.Send(ctx, notify.TemplateInvitation, inv.Email, map[string]string{
		"accept_url": w.cfg.AcceptBaseURL + "/invitations/accept?token=" + link,
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		w.logger.Warn().Err(err).Str("invitation_id", invitationID.String()).Msg("invitation delivery failed")
	}
	return nil
}

// Accept consumes a raw invitation token, creating or linking a principal.
// If the invitation's email already maps to an existing principal the
// acceptance links to it; a duplicate is never created.
func (w *Workflow) Accept(ctx context.Context, token, name, password string) (*models.Principal, error) {
	inv, err := w.invitations.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := w.lazyExpire(ctx, inv); err != nil {
		return nil, err
	}

	if !inv.Status.CanTransition(models.InvitationAccepted) {
		return nil, &InvalidTransitionError{From: inv.Status, To: models.InvitationAccepted}
	}

	principal, err := w.principals.GetByEmail(ctx, inv.Email)
	switch {
	case err == nil:
		// Existing principal: link, never duplicate.
	case errors.Is(err, store.ErrPrincipalNotFound):
		principal, err = w.creator.RegisterPrincipal(ctx, inv.Email, name, password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := w.clock.Now()
	if err := w.transition(ctx, inv, models.InvitationAccepted, func(i *models.Invitation) {
		i.AcceptedAt = &now
		i.PrincipalID = &principal.PrincipalID
	}); err != nil {
		return nil, err
	}

	if inv.RoleID != nil {
		if err := w.granter.GrantRole(ctx, principal.PrincipalID, *inv.RoleID, inv.InvitedBy, nil); err != nil {
			w.logger.Error().Err(err).Str("invitation_id", inv.InvitationID.String()).Msg("pre-assigned role grant failed")
		}
	}

	return principal, nil
}

// AcceptFromLink verifies a signed acceptance link and accepts the
// invitation it wraps.
func (w *Workflow) AcceptFromLink(ctx context.Context, link, name, password string) (*models.Principal, error) {
	token, err := w.signer.parse(link, w.clock.Now())
	if err != nil {
		return nil, ErrInvitationNotFound
	}
	return w.Accept(ctx, token, name, password)
}

// Decline moves a SENT invitation to DECLINED.
func (w *Workflow) Decline(ctx context.Context, token string) error {
	inv, err := w.invitations.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := w.lazyExpire(ctx, inv); err != nil {
		return err
	}

	now := w.clock.Now()
	return w.transition(ctx, inv, models.InvitationDeclined, func(i *models.Invitation) {
		i.DeclinedAt = &now
	})
}

// Cancel withdraws a PENDING or SENT invitation.
func (w *Workflow) Cancel(ctx context.Context, invitationID uuid.UUID, cancelledBy uuid.UUID) error {
	inv, err := w.load(ctx, invitationID)
	if err != nil {
		return err
	}

	now := w.clock.Now()
	if err := w.transition(ctx, inv, models.InvitationCancelled, func(i *models.Invitation) {
		i.CancelledAt = &now
	}); err != nil {
		return err
	}

	w.recorder.Record(ctx, audit.Event{
		Actor:      &cancelledBy,
		Action:     "invitation.cancel",
		Resource:   "invitation",
		ResourceID: invitationID.String(),
		Severity:   models.AuditInfo,
	})
	return nil
}

// ExpireSweep marks overdue invitations EXPIRED. Cleanup only: every read
// and transition already treats overdue invitations as expired, so
// correctness never depends on this running.
func (w *Workflow) ExpireSweep(ctx context.Context) (int, error) {
	overdue, err := w.invitations.ListExpired(ctx, w.clock.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inv := range overdue {
		if err := w.markExpired(ctx, inv); err == nil {
			count++
		}
	}
	return count, nil
}

// load fetches by ID and applies lazy expiry.
func (w *Workflow) load(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	inv, err := w.invitations.Get(ctx, invitationID)
	if err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := w.lazyExpire(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// lazyExpire transitions an overdue, non-terminal invitation to EXPIRED and
// reports ErrInvitationExpired. Losing the CAS race to another expirer is
// fine; the invitation still reads as expired.
func (w *Workflow) lazyExpire(ctx context.Context, inv *models.Invitation) error {
	if inv.Status.IsTerminal() || !inv.IsExpired(w.clock.Now()) {
		return nil
	}
	if err := w.markExpired(ctx, inv); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	inv.Status = models.InvitationExpired
	return ErrInvitationExpired
}

func (w *Workflow) markExpired(ctx context.Context, inv *models.Invitation) error {
	expected := inv.Status
	clone := *inv
	clone.Status = models.InvitationExpired
	clone.UpdatedAt = w.clock.Now()
	return w.invitations.CompareAndSetStatus(ctx, &clone, expected)
}

// transition applies one state-machine edge under compare-and-set. A
// concurrent transition that already changed the status fails the call with
// store.ErrConflict rather than silently skipping.
func (w *Workflow) transition(ctx context.Context, inv *models.Invitation, target models.InvitationStatus, mutate func(*models.Invitation)) error {
	if !inv.Status.CanTransition(target) {
		return &InvalidTransitionError{From: inv.Status, To: target}
	}

	expected := inv.Status
	inv.Status = target
	inv.UpdatedAt = w.clock.Now()
	if mutate != nil {
		mutate(inv)
	}

	if err := w.invitations.CompareAndSetStatus(ctx, inv, expected); err != nil {
		inv.Status = expected
		return err
	}

	w.recorder.Record(ctx, audit.Event{
		Action:     "invitation." + string(target),
		Resource:   "invitation",
		ResourceID: inv.InvitationID.String(),
		Before:     map[string]any{"status": string(expected)},
		After:      map[string]any{"status": string(target)},
		Severity:   models.AuditInfo,
	})
	return nil
}

// newInviteToken returns a high-entropy invitation token.
func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return base58.Encode(buf), nil
}
