package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPermissionSetUnion(t *testing.T) {
	a := NewPermissionSet("users.read", "users.write")
	b := NewPermissionSet("users.read", "billing.read")

	merged := a.Union(b)
	require.Equal(t, []string{"billing.read", "users.read", "users.write"}, merged.Sorted())

	// Operands are untouched.
	require.False(t, a.Has("billing.read"))
	require.False(t, b.Has("users.write"))
}

func TestPermissionSetJSON(t *testing.T) {
	set := NewPermissionSet("b", "a")

	data, err := json.Marshal(set)
	require.NoError(t, err)
	require.JSONEq(t, `["a","b"]`, string(data))

	var decoded PermissionSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, decoded.Has("a"))
	require.True(t, decoded.Has("b"))
}

func TestRoleGrantEffectiveAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)

	grant := &RoleGrant{Active: true, ExpiresAt: &expiry}
	require.True(t, grant.EffectiveAt(now))
	require.False(t, grant.EffectiveAt(expiry), "grant is not effective at its expiry instant")
	require.False(t, grant.EffectiveAt(expiry.Add(time.Minute)))

	grant.Active = false
	require.False(t, grant.EffectiveAt(now))

	unbounded := &RoleGrant{Active: true}
	require.True(t, unbounded.EffectiveAt(now.Add(100*365*24*time.Hour)))
}
