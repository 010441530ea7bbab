package commands

import (
	"context"
	"fmt"
)

type AuditCmd struct {
	Tail AuditTailCmd `cmd:"" help:"Show the most recent audit entries"`
}

type AuditTailCmd struct {
	StoreFlags `embed:""`

	Limit int `help:"Number of entries to show" default:"20"`
}

func (c *AuditTailCmd) Run(ctx context.Context, globals *Globals) error {
	eng, err := setup(ctx, globals, c.StoreFlags)
	if err != nil {
		return err
	}
	defer eng.close()

	entries, err := eng.stores.Audit.ListRecent(ctx, c.Limit)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		actor := "system"
		if entry.ActorID != nil {
			actor = entry.ActorID.String()
		}
		fmt.Printf("%s  %-8s  %-24s  %s/%s  actor=%s\n",
			entry.CreatedAt.Format("2006-01-02T15:04:05Z"),
			entry.Severity,
			entry.Action,
			entry.Resource,
			entry.ResourceID,
			actor,
		)
	}
	return nil
}
