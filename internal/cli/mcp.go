package cli

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	mcpadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driving/mcp"
)

func newMCPCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP stdio server",
		Long: `Start an MCP (Model Context Protocol) server on stdio so coding agents
can request pull request reviews. Configure it with:

  {
    "mcpServers": {
      "prreviewer": { "command": "prreviewer", "args": ["mcp"] }
    }
  }

Available tools: start_review, get_review_status. Executions started
here run on this process's worker pool.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return st.withApp(ctx, func(a *app) error {
				var wg sync.WaitGroup
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.orch.Run(ctx)
				}()
				defer wg.Wait()
				defer stop()

				return mcpadapter.NewServer(a.gateway, st.version).ServeStdio(ctx)
			})
		},
	}
}
