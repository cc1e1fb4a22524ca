package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	tethermcp "github.com/tetherlabs/tether/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for agent dispatch",
		Long: `Starts an MCP server on stdin/stdout exposing the dispatch tools
(run_agent, continue_session, resume_session, session_status,
list_sessions).

Configure in an MCP client's settings:
  {
    "mcpServers": {
      "tether": {
        "type": "stdio",
        "command": "tether",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServe()
		},
	}
}

func runMCPServe() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	server := tethermcp.NewServer(tethermcp.Deps{
		Dispatcher: a.dispatcher,
		Registry:   a.registry,
		Store:      a.store,
		Status:     a.status,
		Prober:     a.prober,
		Bridge:     a.bridge,
		Logger:     a.log,
	}, tethermcp.WithVersion(Version))

	// Clean shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Blocks on stdio until the client disconnects.
	return server.Run(ctx)
}
