package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/apikey"
	"github.com/google/uuid"
)

type ApiKeyCmd struct {
	Issue  ApiKeyIssueCmd  `cmd:"" help:"Issue a new API key"`
	Revoke ApiKeyRevokeCmd `cmd:"" help:"Revoke an API key"`
}

type ApiKeyIssueCmd struct {
	StoreFlags `embed:""`

	Name      string        `arg:"" help:"Friendly key name (e.g. ci-pipeline)"`
	Principal string        `help:"Principal ID the key acts as (omit for a service key)" default:""`
	Scopes    []string      `help:"Scopes granted to the key"`
	RateLimit int64         `help:"Max requests per window (0 = unlimited)" default:"0"`
	TTL       time.Duration `help:"Key lifetime (0 = no expiry)" default:"0"`
	IssuedBy  string        `help:"Principal ID of the issuing admin" required:""`
}

func (c *ApiKeyIssueCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	issuedBy, err := uuid.Parse(c.IssuedBy)
	if err != nil {
		return fmt.Errorf("invalid issuer principal ID: %w", err)
	}

	var principalID *uuid.UUID
	if c.Principal != "" {
		id, err := uuid.Parse(c.Principal)
		if err != nil {
			return fmt.Errorf("invalid principal ID: %w", err)
		}
		principalID = &id
	}

	var rateLimit *int64
	if c.RateLimit > 0 {
		rateLimit = &c.RateLimit
	}

	var expiresAt *time.Time
	if c.TTL > 0 {
		t := eng.clock.Now().Add(c.TTL)
		expiresAt = &t
	}

	auth := apikey.NewAuthenticator(eng.stores, eng.recorder, eng.clock, eng.logger, apikey.Config{})
	issued, err := auth.IssueKey(ctx, c.Name, principalID, c.Scopes, rateLimit, expiresAt, issuedBy)
	if err != nil {
		return err
	}

	fmt.Printf("key %s issued (prefix %s)\n", issued.Key.KeyID, issued.Key.KeyPrefix)
	fmt.Println("secret (shown once, store it now):")
	fmt.Println(issued.Plaintext)
	return nil
}

type ApiKeyRevokeCmd struct {
	StoreFlags `embed:""`

	KeyID     string `arg:"" help:"API key ID to revoke"`
	RevokedBy string `help:"Principal ID of the revoking admin" required:""`
}

func (c *ApiKeyRevokeCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	keyID, err := uuid.Parse(c.KeyID)
	if err != nil {
		return fmt.Errorf("invalid key ID: %w", err)
	}
	revokedBy, err := uuid.Parse(c.RevokedBy)
	if err != nil {
		return fmt.Errorf("invalid principal ID: %w", err)
	}

	auth := apikey.NewAuthenticator(eng.stores, eng.recorder, eng.clock, eng.logger, apikey.Config{})
	if err := auth.Revoke(ctx, keyID, revokedBy); err != nil {
		return err
	}

	fmt.Println("key revoked")
	return nil
}
