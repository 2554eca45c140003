package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/output"
	"github.com/joescharf/reviewbot/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [owner/repo]",
	Short: "Show review state",
	Long: `Show stored review state across repositories or for one repository.

Without arguments, shows a summary table of every repository with review state.
With owner/repo, shows the last review and its unresolved findings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			owner, repo, err := github.ParseFullName(args[0])
			if err != nil {
				return err
			}
			return statusRepoRun(cmd, github.FullName(owner, repo))
		}
		return statusOverviewRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	stats, err := s.RepoStats(cmd.Context())
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		ui.Info("No review state yet. Use 'reviewbot review <owner/repo> <number>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Repository", "Unresolved", "Verdict", "Status", "Fixes", "Reviewed"})
	for _, st := range stats {
		reviewed := "-"
		if st.LastReviewedAt != nil {
			reviewed = timeAgo(*st.LastReviewedAt)
		}
		table.Append([]string{
			output.Cyan(st.Repo),
			output.CountColor(st.Unresolved, st.Critical),
			output.VerdictColor(string(st.LastVerdict)),
			output.StatusColor(string(st.LastStatus)),
			fmt.Sprintf("%d (%d fixed)", st.FixRuns, st.FindingsFixed),
			reviewed,
		})
	}
	table.Render()
	return nil
}

func statusRepoRun(cmd *cobra.Command, fullName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	outcome, err := s.GetReviewOutcome(ctx, fullName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ui.Info("%s has not been reviewed yet", fullName)
	case err != nil:
		return err
	default:
		printReviewOutcome(outcome)
	}
	fmt.Fprintln(ui.Out)

	findings, err := s.GetUnresolved(ctx, fullName)
	if err != nil {
		return err
	}
	printFindings(findings)
	return nil
}
