package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-ops/atelier/jobs"
)

var errJobsNotConfigured = errors.New("jobs are not configured")

func newJobsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	cmd.AddCommand(
		newJobsRecalculateCmd(app),
		newJobsCleanupCmd(app),
		newJobsStatsCmd(app),
	)

	return cmd
}

func newJobsRecalculateCmd(app *App) *cobra.Command {
	var quoteID, actorID int64

	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Reprice a quote under its current rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Jobs == nil {
				return errJobsNotConfigured
			}
			if quoteID <= 0 {
				return errors.New("--quote must be a positive id")
			}
			id, err := app.Jobs.Trigger(cmd.Context(), jobs.TaskQuoteRecalculate, TriggerRequest{QuoteID: quoteID, ActorID: actorID})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s for quote %d (%s)\n", jobs.TaskQuoteRecalculate, quoteID, id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&quoteID, "quote", 0, "Quote ID")
	cmd.Flags().Int64Var(&actorID, "actor", 0, "User ID recorded as the version author")
	_ = cmd.MarkFlagRequired("quote")

	return cmd
}

func newJobsCleanupCmd(app *App) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune idempotency keys older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Jobs == nil {
				return errJobsNotConfigured
			}
			id, err := app.Jobs.Trigger(cmd.Context(), jobs.TaskIdempotencyCleanup, TriggerRequest{Retention: retention})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s)\n", jobs.TaskIdempotencyCleanup, id)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 72*time.Hour, "Keys older than this are removed")

	return cmd
}

func newJobsStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Jobs == nil {
				return errJobsNotConfigured
			}
			queues, err := app.Jobs.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range queues {
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return nil
		},
	}
}
