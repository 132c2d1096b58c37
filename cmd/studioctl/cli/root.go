package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-ops/atelier/jobs"
)

// JobOps is the subset of JobsCLI used by the jobs commands.
type JobOps interface {
	Trigger(ctx context.Context, name string, req TriggerRequest) (string, error)
	InspectQueue(ctx context.Context) ([]jobs.QueueStats, error)
}

// SessionOps issues and revokes API session tokens.
type SessionOps interface {
	Issue(ctx context.Context, userID int64, role string, ttl time.Duration) (string, error)
	Revoke(ctx context.Context, token string) error
}

// App holds the dependencies used by studioctl commands. Fields left nil
// make the matching commands fail with a configuration error.
type App struct {
	Jobs     JobOps
	Sessions SessionOps
	Schema   func() string
	Migrate  func(ctx context.Context) error
}

// NewRootCmd creates the top-level "studioctl" command.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "studioctl",
		Short:         "Operational helpers for the quotation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newJobsCmd(app),
		newSessionCmd(app),
		newSchemaCmd(app),
	)

	return root
}
