package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/reviewbot/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [owner/repo]",
	Short: "Show fix history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := repoFromArgs(args)
		if err != nil {
			return err
		}
		return historyRun(cmd, owner+"/"+repo)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of fix runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(cmd *cobra.Command, fullName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	fixes, err := s.ListFixOutcomes(cmd.Context(), fullName, historyLimit)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		ui.Info("No fix runs recorded for %s", fullName)
		return nil
	}

	table := ui.Table([]string{"When", "Result", "Issues", "Files", "Conflicts", "Failed"})
	for _, f := range fixes {
		result := output.Green("ok")
		switch {
		case f.Partial:
			result = output.Yellow("partial")
		case f.AlreadyFixed:
			result = "already fixed"
		case !f.Success:
			result = output.Red("failed")
		}
		table.Append([]string{
			timeAgo(f.CreatedAt),
			result,
			fmt.Sprintf("%d", f.FixedIssues),
			strings.Join(f.FixedFiles, ", "),
			strings.Join(f.Conflicts, ", "),
			strings.Join(f.Failed, ", "),
		})
	}
	table.Render()
	return nil
}
