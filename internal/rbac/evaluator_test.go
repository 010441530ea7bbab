package rbac

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(t *testing.T) (*Evaluator, store.Stores, *clock.Fake) {
	t.Helper()

	stores := memory.NewStores()
	clk := clock.NewFake(testStart)
	logger := zerolog.Nop()
	recorder := audit.NewRecorder(stores.Audit, clk, logger)
	t.Cleanup(recorder.Close)

	return NewEvaluator(stores, recorder, clk, logger), stores, clk
}

func createRole(t *testing.T, stores store.Stores, name string, level int, permissions ...string) *models.Role {
	t.Helper()

	role := &models.Role{
		RoleID:      uuid.Must(uuid.NewV7()),
		Name:        name,
		Permissions: models.NewPermissionSet(permissions...),
		Level:       level,
		Active:      true,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
	require.NoError(t, stores.Roles.Create(context.Background(), role))
	return role
}

func TestEffectivePermissionsUnion(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, _ := newTestEvaluator(t)

	viewer := createRole(t, stores, "viewer", 10, "docs.read")
	editor := createRole(t, stores, "editor", 20, "docs.read", "docs.write")
	admin := uuid.Must(uuid.NewV7())
	principal := uuid.Must(uuid.NewV7())

	require.NoError(t, evaluator.GrantRole(ctx, principal, viewer.RoleID, admin, nil))
	require.NoError(t, evaluator.GrantRole(ctx, principal, editor.RoleID, admin, nil))

	effective, err := evaluator.EffectivePermissions(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, []string{"docs.read", "docs.write"}, effective.Permissions.Sorted())
	require.Equal(t, 20, effective.Level, "level is the max across effective roles")

	ok, err := evaluator.HasPermission(ctx, principal, "docs.write")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evaluator.HasPermission(ctx, principal, "billing.read")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrantExpiryTimeline(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, clk := newTestEvaluator(t)

	role := createRole(t, stores, "temp", 5, "ops.deploy")
	admin := uuid.Must(uuid.NewV7())
	principal := uuid.Must(uuid.NewV7())

	expiry := testStart.Add(time.Hour)
	require.NoError(t, evaluator.GrantRole(ctx, principal, role.RoleID, admin, &expiry))

	ok, err := evaluator.HasPermission(ctx, principal, "ops.deploy")
	require.NoError(t, err)
	require.True(t, ok)

	// At the expiry instant the grant contributes nothing, sweep or no
	// sweep.
	clk.Set(expiry)
	ok, err = evaluator.HasPermission(ctx, principal, "ops.deploy")
	require.NoError(t, err)
	require.False(t, ok)

	// Re-granting with a later expiry restores access.
	later := expiry.Add(time.Hour)
	require.NoError(t, evaluator.GrantRole(ctx, principal, role.RoleID, admin, &later))
	ok, err = evaluator.HasPermission(ctx, principal, "ops.deploy")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInactiveRoleContributesNothing(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, _ := newTestEvaluator(t)

	role := createRole(t, stores, "legacy", 5, "legacy.use")
	admin := uuid.Must(uuid.NewV7())
	principal := uuid.Must(uuid.NewV7())
	require.NoError(t, evaluator.GrantRole(ctx, principal, role.RoleID, admin, nil))

	role.Active = false
	require.NoError(t, stores.Roles.Update(ctx, role))

	effective, err := evaluator.EffectivePermissions(ctx, principal)
	require.NoError(t, err)
	require.Empty(t, effective.Permissions)
}

func TestGrantRoleErrors(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, _ := newTestEvaluator(t)

	admin := uuid.Must(uuid.NewV7())
	principal := uuid.Must(uuid.NewV7())

	err := evaluator.GrantRole(ctx, principal, uuid.Must(uuid.NewV7()), admin, nil)
	require.ErrorIs(t, err, ErrRoleNotFound)

	role := createRole(t, stores, "retired", 1)
	role.Active = false
	require.NoError(t, stores.Roles.Update(ctx, role))

	err = evaluator.GrantRole(ctx, principal, role.RoleID, admin, nil)
	require.ErrorIs(t, err, ErrRoleInactive)
}

func TestRevokeRoleIdempotent(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, _ := newTestEvaluator(t)

	role := createRole(t, stores, "viewer", 10, "docs.read")
	admin := uuid.Must(uuid.NewV7())
	principal := uuid.Must(uuid.NewV7())
	require.NoError(t, evaluator.GrantRole(ctx, principal, role.RoleID, admin, nil))

	require.NoError(t, evaluator.RevokeRole(ctx, principal, role.RoleID, admin))
	ok, err := evaluator.HasPermission(ctx, principal, "docs.read")
	require.NoError(t, err)
	require.False(t, ok)

	// Second revoke, and a revoke of a grant that never existed.
	require.NoError(t, evaluator.RevokeRole(ctx, principal, role.RoleID, admin))
	require.NoError(t, evaluator.RevokeRole(ctx, uuid.Must(uuid.NewV7()), role.RoleID, admin))
}

func TestSeedRoles(t *testing.T) {
	ctx := context.Background()
	evaluator, stores, _ := newTestEvaluator(t)

	seed := `
roles:
  - name: admin
    description: Full access
    level: 100
    permissions: [users.read, users.write, roles.manage]
  - name: viewer
    description: Read only
    level: 10
    permissions: [users.read]
`
	require.NoError(t, evaluator.SeedRoles(ctx, strings.NewReader(seed)))

	admin, err := stores.Roles.GetByName(ctx, "admin")
	require.NoError(t, err)
	require.True(t, admin.System)
	require.True(t, admin.Active)
	require.Equal(t, 100, admin.Level)
	require.True(t, admin.Permissions.Has("roles.manage"))

	// Re-seeding updates in place instead of duplicating.
	updated := `
roles:
  - name: viewer
    description: Read only
    level: 15
    permissions: [users.read, docs.read]
`
	require.NoError(t, evaluator.SeedRoles(ctx, strings.NewReader(updated)))

	viewer, err := stores.Roles.GetByName(ctx, "viewer")
	require.NoError(t, err)
	require.Equal(t, 15, viewer.Level)
	require.True(t, viewer.Permissions.Has("docs.read"))

	all, err := stores.Roles.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
