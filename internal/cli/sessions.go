package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilot-dev/pilot/pkg/app"
	"github.com/pilot-dev/pilot/pkg/app/cache"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

func newSessionsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <token>",
		Short: "List the locally cached chat sessions for a token",
		Long: `List the chat sessions cached locally for a session token.

Reads the local cache only; use the chat loop's sessions command for the
live, reconciled list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if err := app.ValidateSessionToken(token); err != nil {
				return err
			}
			log, err := opts.Logger()
			if err != nil {
				return err
			}

			store, err := cache.Open(opts.CachePath, log)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.LoadSessions(token)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no cached sessions")
				return nil
			}
			renderSessions(cmd.OutOrStdout(), state.AppState{Sessions: sessions})
			return nil
		},
	}
}
