package commands

import (
	"context"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

type PrincipalCmd struct {
	Suspend PrincipalSuspendCmd `cmd:"" help:"Suspend a principal and revoke their sessions"`
	Restore PrincipalRestoreCmd `cmd:"" help:"Lift a principal's suspension"`
}

type PrincipalSuspendCmd struct {
	StoreFlags `embed:""`

	PrincipalID string `arg:"" help:"Principal ID to suspend"`
	SuspendedBy string `help:"Principal ID of the suspending admin" required:""`
}

func (c *PrincipalSuspendCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	principalID, err := uuid.Parse(c.PrincipalID)
	if err != nil {
		return fmt.Errorf("invalid principal ID: %w", err)
	}
	suspendedBy, err := uuid.Parse(c.SuspendedBy)
	if err != nil {
		return fmt.Errorf("invalid admin principal ID: %w", err)
	}

	principal, err := eng.stores.Principals.Get(ctx, principalID)
	if err != nil {
		return err
	}
	if principal.Suspended {
		fmt.Println("principal already suspended")
		return nil
	}

	now := eng.clock.Now()
	principal.Suspended = true
	principal.UpdatedAt = now

	// Suspension removes access immediately, so the audit write blocks.
	if err := eng.recorder.RecordCritical(ctx, audit.Event{
		Actor:      &suspendedBy,
		Action:     "principal.suspend",
		Resource:   "principal",
		ResourceID: principalID.String(),
		Severity:   models.AuditCritical,
	}); err != nil {
		return err
	}

	if err := eng.stores.Principals.Update(ctx, principal); err != nil {
		return err
	}

	count, err := eng.stores.Sessions.RevokeAllForPrincipal(ctx, principalID, nil, suspendedBy, now)
	if err != nil {
		return err
	}

	fmt.Printf("principal suspended, %d session(s) revoked\n", count)
	return nil
}

type PrincipalRestoreCmd struct {
	StoreFlags `embed:""`

	PrincipalID string `arg:"" help:"Principal ID to restore"`
	RestoredBy  string `help:"Principal ID of the restoring admin" required:""`
}

func (c *PrincipalRestoreCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	principalID, err := uuid.Parse(c.PrincipalID)
	if err != nil {
		return fmt.Errorf("invalid principal ID: %w", err)
	}
	restoredBy, err := uuid.Parse(c.RestoredBy)
	if err != nil {
		return fmt.Errorf("invalid admin principal ID: %w", err)
	}

	principal, err := eng.stores.Principals.Get(ctx, principalID)
	if err != nil {
		return err
	}
	if !principal.Suspended {
		fmt.Println("principal is not suspended")
		return nil
	}

	principal.Suspended = false
	principal.UpdatedAt = eng.clock.Now()

	eng.recorder.Record(ctx, audit.Event{
		Actor:      &restoredBy,
		Action:     "principal.restore",
		Resource:   "principal",
		ResourceID: principalID.String(),
		Severity:   models.AuditWarning,
	})

	if err := eng.stores.Principals.Update(ctx, principal); err != nil {
		return err
	}

	fmt.Println("principal restored")
	return nil
}
