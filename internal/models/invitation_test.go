package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvitationStatusTransitions(t *testing.T) {
	tests := []struct {
		from    InvitationStatus
		to      InvitationStatus
		allowed bool
	}{
		{InvitationPending, InvitationSent, true},
		{InvitationPending, InvitationCancelled, true},
		{InvitationPending, InvitationAccepted, false},
		{InvitationPending, InvitationDeclined, false},
		{InvitationSent, InvitationAccepted, true},
		{InvitationSent, InvitationDeclined, true},
		{InvitationSent, InvitationCancelled, true},
		{InvitationSent, InvitationPending, false},
		{InvitationAccepted, InvitationDeclined, false},
		{InvitationAccepted, InvitationCancelled, false},
		{InvitationDeclined, InvitationAccepted, false},
		{InvitationCancelled, InvitationSent, false},
		{InvitationExpired, InvitationAccepted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestInvitationStatusExpiryFromNonTerminal(t *testing.T) {
	require.True(t, InvitationPending.CanTransition(InvitationExpired))
	require.True(t, InvitationSent.CanTransition(InvitationExpired))

	for _, terminal := range []InvitationStatus{
		InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled,
	} {
		require.False(t, terminal.CanTransition(InvitationExpired), "terminal %s must stay terminal", terminal)
	}
}

func TestParseInvitationStatus(t *testing.T) {
	status, err := ParseInvitationStatus("sent")
	require.NoError(t, err)
	require.Equal(t, InvitationSent, status)

	_, err = ParseInvitationStatus("bogus")
	require.Error(t, err)
}

func TestInvitationIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	inv := &Invitation{ExpiresAt: now.Add(time.Hour)}

	require.False(t, inv.IsExpired(now))
	require.True(t, inv.IsExpired(now.Add(time.Hour)), "expiry boundary is inclusive")
	require.True(t, inv.IsExpired(now.Add(2*time.Hour)))
}
