package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/gatekeep-io/gatekeep/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode."`
		Version kong.VersionFlag

		Invite    commands.InviteCmd    `cmd:"" help:"Manage invitations"`
		ApiKey    commands.ApiKeyCmd    `cmd:"" name:"apikey" help:"Manage API keys"`
		Principal commands.PrincipalCmd `cmd:"" help:"Manage principals"`
		Audit     commands.AuditCmd     `cmd:"" help:"Inspect the audit trail"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
