package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-ops/atelier/internal/shared"
)

func newSessionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage API session tokens",
	}

	cmd.AddCommand(
		newSessionIssueCmd(app),
		newSessionRevokeCmd(app),
	)

	return cmd
}

func newSessionIssueCmd(app *App) *cobra.Command {
	var userID int64
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a studio user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Sessions == nil {
				return errors.New("sessions are not configured")
			}
			if !shared.KnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := app.Sessions.Issue(cmd.Context(), userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User ID")
	cmd.Flags().StringVar(&role, "role", shared.RoleDesigner, "Role: admin, designer or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newSessionRevokeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Sessions == nil {
				return errors.New("sessions are not configured")
			}
			if err := app.Sessions.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		},
	}
}
