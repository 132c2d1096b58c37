package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or apply the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "print",
			Short: "Print the embedded DDL",
			RunE: func(cmd *cobra.Command, args []string) error {
				if app.Schema == nil {
					return errors.New("schema is not configured")
				}
				fmt.Fprint(cmd.OutOrStdout(), app.Schema())
				return nil
			},
		},
		&cobra.Command{
			Use:   "apply",
			Short: "Apply the idempotent schema to PG_DSN",
			RunE: func(cmd *cobra.Command, args []string) error {
				if app.Migrate == nil {
					return errors.New("database is not configured")
				}
				if err := app.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			},
		},
	)

	return cmd
}
