package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/credential"
	"github.com/gatekeep-io/gatekeep/internal/invite"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/session"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

type InviteCmd struct {
	Create InviteCreateCmd `cmd:"" help:"Create and send an invitation"`
	Cancel InviteCancelCmd `cmd:"" help:"Cancel a pending or sent invitation"`
}

type InviteCreateCmd struct {
	StoreFlags `embed:""`

	Email          string `arg:"" help:"Email address to invite"`
	Role           string `help:"Role name granted on acceptance" default:""`
	InvitedBy      string `help:"Principal ID of the inviter" required:""`
	LinkSigningKey string `help:"secret for signing acceptance links (min 32 bytes)" env:"GATEKEEP_LINK_SIGNING_KEY"`
	AcceptBaseURL  string `help:"base URL for acceptance links" default:"https://localhost" env:"GATEKEEP_ACCEPT_BASE_URL"`
	Send           bool   `help:"send the invitation after creating it" default:"true" negatable:""`
}

func (c *InviteCreateCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	invitedBy, err := uuid.Parse(c.InvitedBy)
	if err != nil {
		return fmt.Errorf("invalid inviter principal ID: %w", err)
	}

	workflow, err := buildInviteWorkflow(eng, c.LinkSigningKey, c.AcceptBaseURL)
	if err != nil {
		return err
	}

	var roleID *uuid.UUID
	if c.Role != "" {
		role, err := eng.stores.Roles.GetByName(ctx, c.Role)
		if err != nil {
			if errors.Is(err, store.ErrRoleNotFound) {
				return fmt.Errorf("role %q not found", c.Role)
			}
			return err
		}
		roleID = &role.RoleID
	}

	inv, err := workflow.Create(ctx, c.Email, roleID, invitedBy)
	if err != nil {
		return err
	}

	fmt.Printf("invitation %s created for %s (expires %s)\n",
		inv.InvitationID, inv.Email, inv.ExpiresAt.Format("2006-01-02 15:04:05 MST"))

	if c.Send {
		if err := workflow.Send(ctx, inv.InvitationID); err != nil {
			return err
		}
		fmt.Println("invitation sent")
	}
	return nil
}

type InviteCancelCmd struct {
	StoreFlags `embed:""`

	InvitationID   string `arg:"" help:"Invitation ID to cancel"`
	CancelledBy    string `help:"Principal ID of the admin cancelling" required:""`
	LinkSigningKey string `help:"secret for signing acceptance links (min 32 bytes)" env:"GATEKEEP_LINK_SIGNING_KEY"`
}

func (c *InviteCancelCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	invitationID, err := uuid.Parse(c.InvitationID)
	if err != nil {
		return fmt.Errorf("invalid invitation ID: %w", err)
	}
	cancelledBy, err := uuid.Parse(c.CancelledBy)
	if err != nil {
		return fmt.Errorf("invalid principal ID: %w", err)
	}

	workflow, err := buildInviteWorkflow(eng, c.LinkSigningKey, "")
	if err != nil {
		return err
	}

	if err := workflow.Cancel(ctx, invitationID, cancelledBy); err != nil {
		return err
	}
	fmt.Println("invitation cancelled")
	return nil
}

func buildInviteWorkflow(eng *engine, signingKey, acceptBaseURL string) (*invite.Workflow, error) {
	notifier := notify.LogNotifier{Logger: eng.logger}
	sessions := session.NewManager(eng.stores, credential.Argon2TOTP{}, eng.recorder, notifier, eng.clock, eng.logger, session.Config{})
	evaluator := rbac.NewEvaluator(eng.stores, eng.recorder, eng.clock, eng.logger)

	return invite.NewWorkflow(eng.stores, sessions, evaluator, eng.recorder, notifier, eng.clock, eng.logger, invite.Config{
		LinkSigningKey: []byte(signingKey),
		AcceptBaseURL:  acceptBaseURL,
	})
}
