package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/reviewbot/internal/mcp"
	"github.com/joescharf/reviewbot/internal/pipeline"
)

var _ mcp.Reviewer = (*pipeline.Pipeline)(nil)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client query review state and run reviews and fixes.
Configure it with:

  {
    "mcpServers": {
      "reviewbot": { "command": "reviewbot", "args": ["mcp"] }
    }
  }

Available tools: reviewbot_list_repos, reviewbot_get_review,
reviewbot_list_unresolved, reviewbot_fix_history, reviewbot_review_pr,
reviewbot_scan_branch, reviewbot_fix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		var reviewer mcp.Reviewer
		if p, err := newPipeline(pipelineConfig()); err != nil {
			logger.Warn("review operations disabled", "error", err)
		} else {
			reviewer = p
		}

		ctx, cancel := operationContext(cmd)
		defer cancel()
		return mcp.NewServer(s, reviewer, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
