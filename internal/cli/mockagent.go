package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pilot-dev/pilot/internal/mockagent"
)

func newMockAgentCmd(opts *Options) *cobra.Command {
	addr := ":8000"

	cmd := &cobra.Command{
		Use:   "mockagent",
		Short: "Run the in-memory mock agent backend",
		Long: `Run the in-memory mock agent backend for local development.

The mock echoes chat messages back as a streamed reply. A message
containing "use tool" suspends the turn into a parameter negotiation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := opts.Logger()
			if err != nil {
				return err
			}
			log.Info("mock agent listening", "addr", addr)

			server := &http.Server{Addr: addr, Handler: mockagent.NewServer().Handler()}
			return server.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", addr, "Listen address")
	return cmd
}
