package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/mcp"
	"github.com/forest6511/animectl/pkg/store"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the read-only MCP server",
	Long: `Start an MCP server over stdio that lets AI assistants read the watchlist.

Available tools:
  - watchlist_list:   List entries (optional status filter, sort and limit)
  - watchlist_search: Search titles and genres
  - watchlist_stats:  Aggregate statistics

The server never modifies the vault, never returns notes and never opens the
adult partition.

Authentication:
  Set ANIMECTL_PASSWORD before starting the server. The password is read once
  and immediately cleared from the environment.

Example MCP configuration:
  {
    "mcpServers": {
      "animectl": {
        "type": "stdio",
        "command": "/path/to/animectl",
        "args": ["mcp-server"],
        "env": {
          "ANIMECTL_PASSWORD": "your-master-password"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	st, err := store.Open(cfg.Backend(), vaultDir, store.WithLogger(logger))
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.ServerOptions{
		VaultPath:         vaultDir,
		VaultOptions:      vaultOptions(st),
		MaxResults:        cfg.MCP.MaxResults,
		MinutesPerEpisode: cfg.MinutesPerEpisode,
		Logger:            &logger,
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
