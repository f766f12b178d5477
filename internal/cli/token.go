package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilot-dev/pilot/pkg/app"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage user session tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a fresh session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), app.GenerateSessionToken())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <token>",
		Short: "Check a session token's shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ValidateSessionToken(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token is valid")
			return nil
		},
	})

	return cmd
}
