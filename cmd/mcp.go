package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dfonseca/quadro/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to drive the sprint board natively: list sprints
and cards, create cards, and move them through the lifecycle (including
the blocked-reason and done-confirmation steps). Configure in Claude
Code with:

  {
    "mcpServers": {
      "quadro": { "command": "quadro", "args": ["mcp"] }
    }
  }

Available tools: quadro_list_sprints, quadro_sprint_status,
quadro_list_cards, quadro_create_card, quadro_move_card,
quadro_edit_card, quadro_card_audit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(dataStore, svc, getActor())

		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
		defer stop()

		ui.VerboseLog("MCP server listening on stdio")
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
