package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/credential"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, cfg Config) (*Manager, store.Stores, *clock.Fake) {
	t.Helper()

	stores := memory.NewStores()
	clk := clock.NewFake(testStart)
	logger := zerolog.Nop()
	recorder := audit.NewRecorder(stores.Audit, clk, logger)
	t.Cleanup(recorder.Close)

	manager := NewManager(stores, credential.Argon2TOTP{}, recorder, notify.LogNotifier{Logger: logger}, clk, logger, cfg)
	return manager, stores, clk
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t, Config{})

	principal, err := manager.RegisterPrincipal(ctx, "Alice@Example.com", "Alice", "hunter2hunter2")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", principal.Email)

	t.Run("success", func(t *testing.T) {
		got, err := manager.Authenticate(ctx, "alice@example.com", "hunter2hunter2", "", DeviceMeta{})
		require.NoError(t, err)
		require.Equal(t, principal.PrincipalID, got.PrincipalID)
	})

	t.Run("wrong password is coarse", func(t *testing.T) {
		_, err := manager.Authenticate(ctx, "alice@example.com", "wrong", "", DeviceMeta{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email is the same coarse error", func(t *testing.T) {
		_, err := manager.Authenticate(ctx, "nobody@example.com", "hunter2hunter2", "", DeviceMeta{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticateRecordsAttempts(t *testing.T) {
	ctx := context.Background()
	manager, stores, _ := newTestManager(t, Config{})

	_, err := manager.RegisterPrincipal(ctx, "bob@example.com", "Bob", "password1234")
	require.NoError(t, err)

	_, err = manager.Authenticate(ctx, "bob@example.com", "wrong", "", DeviceMeta{IPAddress: "10.0.0.1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Authenticate(ctx, "bob@example.com", "password1234", "", DeviceMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	attempts, err := stores.LoginAttempts.ListByEmail(ctx, "bob@example.com", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	var reasons []string
	for _, a := range attempts {
		if !a.Success {
			reasons = append(reasons, a.FailReason)
		}
	}
	require.Equal(t, []string{models.FailReasonBadPassword}, reasons)
}

func TestLockout(t *testing.T) {
	ctx := context.Background()
	manager, stores, clk := newTestManager(t, Config{
		LockoutThreshold: 3,
		LockoutDuration:  15 * time.Minute,
	})

	principal, err := manager.RegisterPrincipal(ctx, "carol@example.com", "Carol", "password1234")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := manager.Authenticate(ctx, "carol@example.com", "wrong", "", DeviceMeta{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.NotErrorIs(t, err, ErrLocked)
	}

	// Third failure crosses the threshold.
	_, err = manager.Authenticate(ctx, "carol@example.com", "wrong", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrLocked)

	// The correct password is refused while the window is open.
	_, err = manager.Authenticate(ctx, "carol@example.com", "password1234", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, err, ErrInvalidCredentials, "lockout is still the coarse class")

	// The lockout left an audit trace.
	entries, err := stores.Audit.ListRecent(ctx, 50)
	require.NoError(t, err)
	var foundLockout bool
	for _, entry := range entries {
		if entry.Action == "principal.lockout" && entry.ResourceID == principal.PrincipalID.String() {
			foundLockout = true
		}
	}
	require.True(t, foundLockout)

	// Past the window the account unlocks and the counter resets.
	clk.Advance(16 * time.Minute)
	_, err = manager.Authenticate(ctx, "carol@example.com", "password1234", "", DeviceMeta{})
	require.NoError(t, err)

	stored, err := stores.Principals.Get(ctx, principal.PrincipalID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginCount)
}

func TestAuthenticateSuspended(t *testing.T) {
	ctx := context.Background()
	manager, stores, _ := newTestManager(t, Config{})

	principal, err := manager.RegisterPrincipal(ctx, "dave@example.com", "Dave", "password1234")
	require.NoError(t, err)

	principal.Suspended = true
	require.NoError(t, stores.Principals.Update(ctx, principal))

	_, err = manager.Authenticate(ctx, "dave@example.com", "password1234", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateThrottled(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t, Config{
		LoginRate:  rate.Every(time.Hour),
		LoginBurst: 1,
	})

	_, err := manager.Authenticate(ctx, "eve@example.com", "x", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Authenticate(ctx, "eve@example.com", "x", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrThrottled)

	// A different email has its own budget.
	_, err = manager.Authenticate(ctx, "frank@example.com", "x", "", DeviceMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	manager, _, clk := newTestManager(t, Config{SessionTTL: time.Hour})

	principal, err := manager.RegisterPrincipal(ctx, "grace@example.com", "Grace", "password1234")
	require.NoError(t, err)

	session, err := manager.CreateSession(ctx, principal.PrincipalID, DeviceMeta{UserAgent: "cli/1.0"})
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.NotEqual(t, session.AccessToken, session.RefreshToken)

	t.Run("lookup live session", func(t *testing.T) {
		got, err := manager.Lookup(ctx, session.AccessToken)
		require.NoError(t, err)
		require.Equal(t, session.SessionID, got.SessionID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := manager.Lookup(ctx, "no-such-token")
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("expired at the TTL boundary", func(t *testing.T) {
		clk.Advance(time.Hour)
		_, err := manager.Lookup(ctx, session.AccessToken)
		require.ErrorIs(t, err, ErrSessionExpired)
		clk.Set(testStart)
	})

	t.Run("revoked wins over expired", func(t *testing.T) {
		require.NoError(t, manager.Revoke(ctx, session.SessionID, principal.PrincipalID))

		_, err := manager.Lookup(ctx, session.AccessToken)
		require.ErrorIs(t, err, ErrSessionRevoked)

		clk.Advance(2 * time.Hour)
		_, err = manager.Lookup(ctx, session.AccessToken)
		require.ErrorIs(t, err, ErrSessionRevoked, "revocation is reported even once expired")
		clk.Set(testStart)
	})

	t.Run("double revoke is a no-op", func(t *testing.T) {
		require.NoError(t, manager.Revoke(ctx, session.SessionID, principal.PrincipalID))
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	manager, _, clk := newTestManager(t, Config{SessionTTL: time.Hour})

	principal, err := manager.RegisterPrincipal(ctx, "heidi@example.com", "Heidi", "password1234")
	require.NoError(t, err)

	session, err := manager.CreateSession(ctx, principal.PrincipalID, DeviceMeta{})
	require.NoError(t, err)
	oldAccess := session.AccessToken

	newAccess, err := manager.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, oldAccess, newAccess)

	// The old access token no longer resolves; the new one does.
	_, err = manager.Lookup(ctx, oldAccess)
	require.ErrorIs(t, err, ErrSessionNotFound)
	got, err := manager.Lookup(ctx, newAccess)
	require.NoError(t, err)
	require.Equal(t, session.SessionID, got.SessionID)

	t.Run("revoked session cannot refresh", func(t *testing.T) {
		require.NoError(t, manager.Revoke(ctx, session.SessionID, principal.PrincipalID))
		_, err := manager.Refresh(ctx, session.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("expired session cannot refresh", func(t *testing.T) {
		fresh, err := manager.CreateSession(ctx, principal.PrincipalID, DeviceMeta{})
		require.NoError(t, err)
		clk.Advance(2 * time.Hour)
		_, err = manager.Refresh(ctx, fresh.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestRevokeAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t, Config{SessionTTL: time.Hour})

	principal, err := manager.RegisterPrincipal(ctx, "ivan@example.com", "Ivan", "password1234")
	require.NoError(t, err)

	var sessions []*models.Session
	for i := 0; i < 3; i++ {
		s, err := manager.CreateSession(ctx, principal.PrincipalID, DeviceMeta{})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	keep := sessions[0]
	count, err := manager.RevokeAllForPrincipal(ctx, principal.PrincipalID, &keep.SessionID, principal.PrincipalID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = manager.Lookup(ctx, keep.AccessToken)
	require.NoError(t, err)
	for _, s := range sessions[1:] {
		_, err := manager.Lookup(ctx, s.AccessToken)
		require.ErrorIs(t, err, ErrSessionRevoked)
	}

	// Nothing left to revoke.
	count, err = manager.RevokeAllForPrincipal(ctx, principal.PrincipalID, &keep.SessionID, principal.PrincipalID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	manager, stores, _ := newTestManager(t, Config{SessionTTL: time.Hour, ResetTTL: time.Hour})

	principal, err := manager.RegisterPrincipal(ctx, "judy@example.com", "Judy", "oldpassword12")
	require.NoError(t, err)

	session, err := manager.CreateSession(ctx, principal.PrincipalID, DeviceMeta{})
	require.NoError(t, err)

	t.Run("unknown email leaks nothing", func(t *testing.T) {
		require.NoError(t, manager.StartPasswordReset(ctx, "nobody@example.com"))
	})

	require.NoError(t, manager.StartPasswordReset(ctx, "judy@example.com"))

	// The ticket token travels by email; fish it out of the store.
	tickets := ticketsForPrincipal(t, stores, principal.PrincipalID)
	require.Len(t, tickets, 1)
	token := tickets[0].Token

	require.NoError(t, manager.CompletePasswordReset(ctx, token, "newpassword12"))

	t.Run("new password works, old does not", func(t *testing.T) {
		_, err := manager.Authenticate(ctx, "judy@example.com", "oldpassword12", "", DeviceMeta{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = manager.Authenticate(ctx, "judy@example.com", "newpassword12", "", DeviceMeta{})
		require.NoError(t, err)
	})

	t.Run("all sessions were revoked", func(t *testing.T) {
		_, err := manager.Lookup(ctx, session.AccessToken)
		require.ErrorIs(t, err, ErrSessionRevoked)
	})

	t.Run("ticket is single use", func(t *testing.T) {
		err := manager.CompletePasswordReset(ctx, token, "anotherpass12")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestExpiredResetTicket(t *testing.T) {
	ctx := context.Background()
	manager, stores, clk := newTestManager(t, Config{ResetTTL: time.Hour})

	principal, err := manager.RegisterPrincipal(ctx, "mallory@example.com", "Mallory", "password1234")
	require.NoError(t, err)

	require.NoError(t, manager.StartPasswordReset(ctx, "mallory@example.com"))
	tickets := ticketsForPrincipal(t, stores, principal.PrincipalID)
	require.Len(t, tickets, 1)

	clk.Advance(2 * time.Hour)
	err = manager.CompletePasswordReset(ctx, tickets[0].Token, "newpassword12")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func ticketsForPrincipal(t *testing.T, stores store.Stores, principalID uuid.UUID) []*models.PasswordResetTicket {
	t.Helper()

	lister, ok := stores.ResetTickets.(interface {
		ListByPrincipal(ctx context.Context, principalID uuid.UUID) []*models.PasswordResetTicket
	})
	require.True(t, ok, "memory reset ticket store must support listing")
	return lister.ListByPrincipal(context.Background(), principalID)
}

func TestRegisterPrincipalDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestManager(t, Config{})

	_, err := manager.RegisterPrincipal(ctx, "olivia@example.com", "Olivia", "password1234")
	require.NoError(t, err)

	_, err = manager.RegisterPrincipal(ctx, "olivia@example.com", "Other", "password5678")
	require.True(t, errors.Is(err, store.ErrEmailAlreadyExists))
}
