// Package rbac resolves effective permissions from time-bound role grants.
// Evaluation performs no writes and re-reads current state on every call;
// nothing is cached across the expiry boundary.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sentinel errors for grant operations
var (
	ErrRoleNotFound = errors.New("role not found")
	ErrRoleInactive = errors.New("role inactive")
)

// Effective is the resolved authorization state of a principal.
type Effective struct {
	// Permissions is the union of all effective grants' capability sets.
	// A capability present in any effective role is granted; no role can
	// subtract another's grant.
	Permissions models.PermissionSet

	// Level is the maximum numeric level across effective roles. Display
	// and ordering only, never a security decision.
	Level int
}

// Evaluator resolves permissions and manages role grants.
type Evaluator struct {
	grants   store.GrantStore
	roles    store.RoleStore
	recorder *audit.Recorder
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewEvaluator creates an RBAC evaluator.
func NewEvaluator(stores store.Stores, recorder *audit.Recorder, clk clock.Clock, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		grants:   stores.Grants,
		roles:    stores.Roles,
		recorder: recorder,
		clock:    clk,
		logger:   logger.With().Str("component", "rbac").Logger(),
	}
}

// EffectivePermissions resolves the principal's permission set from grants
// that are effective right now. Grant expiry is evaluated here, at read
// time; an expired grant contributes nothing whether or not a sweep has
// deactivated it. Grant and role loads are batched to avoid N+1 lookups.
func (e *Evaluator) EffectivePermissions(ctx context.Context, principalID uuid.UUID) (Effective, error) {
	grants, err := e.grants.ListByPrincipal(ctx, principalID)
	if err != nil {
		return Effective{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := e.clock.Now()
	roleIDs := make([]uuid.UUID, 0, len(grants))
	for _, grant := range grants {
		if grant.EffectiveAt(now) {
			roleIDs = append(roleIDs, grant.RoleID)
		}
	}

	result := Effective{Permissions: models.PermissionSet{}}
	if len(roleIDs) == 0 {
		return result, nil
	}

	roles, err := e.roles.GetBatch(ctx, roleIDs)
	if err != nil {
		return Effective{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	for _, roleID := range roleIDs {
		role, ok := roles[roleID]
		if !ok || !role.Active {
			continue
		}
		result.Permissions = result.Permissions.Union(role.Permissions)
		if role.Level > result.Level {
			result.Level = role.Level
		}
	}
	return result, nil
}

// HasPermission reports whether the principal holds the capability. It is a
// thin wrapper over EffectivePermissions so there is exactly one
// effective-grant computation to drift from.
func (e *Evaluator) HasPermission(ctx context.Context, principalID uuid.UUID, capability string) (bool, error) {
	effective, err := e.EffectivePermissions(ctx, principalID)
	if err != nil {
		return false, err
	}
	return effective.Permissions.Has(capability), nil
}

// GrantRole grants a role to a principal. Granting an already-granted,
// still-active role updates ExpiresAt and GrantedBy rather than erroring.
func (e *Evaluator) GrantRole(ctx context.Context, principalID, roleID uuid.UUID, grantedBy uuid.UUID, expiresAt *time.Time) error {
	role, err := e.roles.Get(ctx, roleID)
	if err != nil {
		if errors.Is(err, store.ErrRoleNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !role.Active {
		return ErrRoleInactive
	}

	now := e.clock.Now()
	grant := &models.RoleGrant{
		GrantID:     uuid.Must(uuid.NewV7()),
		PrincipalID: principalID,
		RoleID:      roleID,
		GrantedBy:   &grantedBy,
		ExpiresAt:   expiresAt,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Audit before the grant becomes effective.
	e.recorder.Record(ctx, audit.Event{
		Actor:      &grantedBy,
		Action:     "rbac.grant",
		Resource:   "role_grant",
		ResourceID: principalID.String(),
		After:      map[string]any{"role": role.Name, "expires_at": expiresAt},
		Severity:   models.AuditInfo,
	})

	return e.grants.Upsert(ctx, grant)
}

// RevokeRole revokes a role grant. Idempotent: revoking a missing or
// already-revoked grant succeeds without error.
func (e *Evaluator) RevokeRole(ctx context.Context, principalID, roleID uuid.UUID, revokedBy uuid.UUID) error {
	if err := e.grants.Revoke(ctx, principalID, roleID, e.clock.Now()); err != nil {
		return err
	}

	e.recorder.Record(ctx, audit.Event{
		Actor:      &revokedBy,
		Action:     "rbac.revoke",
		Resource:   "role_grant",
		ResourceID: principalID.String(),
		After:      map[string]any{"role_id": roleID.String()},
		Severity:   models.AuditInfo,
	})
	return nil
}
