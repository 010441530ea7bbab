package invite

import (
	"context"
	"testing"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/credential"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/session"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testStart  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signingKey = []byte("0123456789abcdef0123456789abcdef")
)

func newTestWorkflow(t *testing.T) (*Workflow, store.Stores, *clock.Fake, *rbac.Evaluator) {
	t.Helper()

	stores := memory.NewStores()
	clk := clock.NewFake(testStart)
	logger := zerolog.Nop()
	recorder := audit.NewRecorder(stores.Audit, clk, logger)
	t.Cleanup(recorder.Close)

	notifier := notify.LogNotifier{Logger: logger}
	sessions := session.NewManager(stores, credential.Argon2TOTP{}, recorder, notifier, clk, logger, session.Config{})
	evaluator := rbac.NewEvaluator(stores, recorder, clk, logger)

	workflow, err := NewWorkflow(stores, sessions, evaluator, recorder, notifier, clk, logger, Config{
		InvitationTTL:  72 * time.Hour,
		LinkSigningKey: signingKey,
	})
	require.NoError(t, err)
	return workflow, stores, clk, evaluator
}

func TestInvitationHappyPath(t *testing.T) {
	ctx := context.Background()
	workflow, stores, _, evaluator := newTestWorkflow(t)

	role := &models.Role{
		RoleID:      uuid.Must(uuid.NewV7()),
		Name:        "member",
		Permissions: models.NewPermissionSet("docs.read"),
		Active:      true,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
	require.NoError(t, stores.Roles.Create(ctx, role))

	inviter := uuid.Must(uuid.NewV7())
	inv, err := workflow.Create(ctx, "New.Hire@Example.com", &role.RoleID, inviter)
	require.NoError(t, err)
	require.Equal(t, "new.hire@example.com", inv.Email)
	require.Equal(t, models.InvitationPending, inv.Status)

	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	stored, err := stores.Invitations.Get(ctx, inv.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationSent, stored.Status)
	require.NotNil(t, stored.SentAt)

	principal, err := workflow.Accept(ctx, inv.Token, "New Hire", "welcome12345")
	require.NoError(t, err)
	require.Equal(t, "new.hire@example.com", principal.Email)

	stored, err = stores.Invitations.Get(ctx, inv.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, stored.Status)
	require.NotNil(t, stored.PrincipalID)
	require.Equal(t, principal.PrincipalID, *stored.PrincipalID)

	// The pre-assigned role was granted.
	ok, err := evaluator.HasPermission(ctx, principal.PrincipalID, "docs.read")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcceptLinksExistingPrincipal(t *testing.T) {
	ctx := context.Background()
	workflow, stores, _, _ := newTestWorkflow(t)

	existing := &models.Principal{
		PrincipalID: uuid.Must(uuid.NewV7()),
		Email:       "veteran@example.com",
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
	require.NoError(t, stores.Principals.Create(ctx, existing))

	inv, err := workflow.Create(ctx, "veteran@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	principal, err := workflow.Accept(ctx, inv.Token, "", "")
	require.NoError(t, err)
	require.Equal(t, existing.PrincipalID, principal.PrincipalID, "acceptance links, never duplicates")
}

func TestAcceptRequiresSent(t *testing.T) {
	ctx := context.Background()
	workflow, _, _, _ := newTestWorkflow(t)

	inv, err := workflow.Create(ctx, "early@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)

	_, err = workflow.Accept(ctx, inv.Token, "Early", "password1234")

	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, models.InvitationPending, transitionErr.From)
	require.Equal(t, models.InvitationAccepted, transitionErr.To)
	require.Contains(t, transitionErr.Error(), "pending")
	require.Contains(t, transitionErr.Error(), "accepted")
}

func TestAcceptTwice(t *testing.T) {
	ctx := context.Background()
	workflow, _, _, _ := newTestWorkflow(t)

	inv, err := workflow.Create(ctx, "once@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	_, err = workflow.Accept(ctx, inv.Token, "Once", "password1234")
	require.NoError(t, err)

	_, err = workflow.Accept(ctx, inv.Token, "Twice", "password1234")
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, models.InvitationAccepted, transitionErr.From)
}

func TestAcceptExpired(t *testing.T) {
	ctx := context.Background()
	workflow, stores, clk, _ := newTestWorkflow(t)

	inv, err := workflow.Create(ctx, "slow@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	clk.Advance(73 * time.Hour)

	_, err = workflow.Accept(ctx, inv.Token, "Slow", "password1234")
	require.ErrorIs(t, err, ErrInvitationExpired)

	// Lazy expiry persisted the terminal state.
	stored, err := stores.Invitations.Get(ctx, inv.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, stored.Status)

	// No principal was created for the failed acceptance.
	_, err = stores.Principals.GetByEmail(ctx, "slow@example.com")
	require.ErrorIs(t, err, store.ErrPrincipalNotFound)
}

func TestDecline(t *testing.T) {
	ctx := context.Background()
	workflow, stores, _, _ := newTestWorkflow(t)

	inv, err := workflow.Create(ctx, "nope@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	require.NoError(t, workflow.Decline(ctx, inv.Token))

	stored, err := stores.Invitations.Get(ctx, inv.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, stored.Status)

	// Declined is terminal.
	_, err = workflow.Accept(ctx, inv.Token, "Nope", "password1234")
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	workflow, stores, _, _ := newTestWorkflow(t)

	admin := uuid.Must(uuid.NewV7())
	inv, err := workflow.Create(ctx, "recalled@example.com", nil, admin)
	require.NoError(t, err)

	require.NoError(t, workflow.Cancel(ctx, inv.InvitationID, admin))

	stored, err := stores.Invitations.Get(ctx, inv.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationCancelled, stored.Status)

	err = workflow.Cancel(ctx, inv.InvitationID, admin)
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestExpireSweep(t *testing.T) {
	ctx := context.Background()
	workflow, stores, clk, _ := newTestWorkflow(t)

	admin := uuid.Must(uuid.NewV7())
	stale, err := workflow.Create(ctx, "stale@example.com", nil, admin)
	require.NoError(t, err)

	clk.Advance(100 * time.Hour)
	fresh, err := workflow.Create(ctx, "fresh@example.com", nil, admin)
	require.NoError(t, err)

	count, err := workflow.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := stores.Invitations.Get(ctx, stale.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, got.Status)

	got, err = stores.Invitations.Get(ctx, fresh.InvitationID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, got.Status)
}

func TestAcceptFromLink(t *testing.T) {
	ctx := context.Background()
	workflow, _, clk, _ := newTestWorkflow(t)

	inv, err := workflow.Create(ctx, "linked@example.com", nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, workflow.Send(ctx, inv.InvitationID))

	link, err := workflow.signer.sign(inv.Token, inv.ExpiresAt)
	require.NoError(t, err)

	t.Run("tampered link is rejected", func(t *testing.T) {
		_, err := workflow.AcceptFromLink(ctx, link+"x", "Linked", "password1234")
		require.ErrorIs(t, err, ErrInvitationNotFound)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		other := linkSigner{key: []byte("ffffffffffffffffffffffffffffffff")}
		forged, err := other.sign(inv.Token, inv.ExpiresAt)
		require.NoError(t, err)
		_, err = workflow.AcceptFromLink(ctx, forged, "Linked", "password1234")
		require.ErrorIs(t, err, ErrInvitationNotFound)
	})

	t.Run("valid link accepts", func(t *testing.T) {
		principal, err := workflow.AcceptFromLink(ctx, link, "Linked", "password1234")
		require.NoError(t, err)
		require.Equal(t, "linked@example.com", principal.Email)
	})

	t.Run("link past expiry is rejected before the store is consulted", func(t *testing.T) {
		clk.Advance(200 * time.Hour)
		_, err := workflow.AcceptFromLink(ctx, link, "Linked", "password1234")
		require.ErrorIs(t, err, ErrInvitationNotFound)
	})
}
