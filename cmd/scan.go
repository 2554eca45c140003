package cmd

import (
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [owner/repo]",
	Short: "Scan the default branch",
	Long: `Analyze the configured entry-point and config files on the repository's
default branch. Findings are recorded as unresolved and reported in a tracking
issue, which is reused while it stays open.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := repoFromArgs(args)
		if err != nil {
			return err
		}
		return scanRun(cmd, owner, repo)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func scanRun(cmd *cobra.Command, owner, repo string) error {
	if dryRun {
		ui.DryRunMsg("Would scan the default branch of %s/%s", owner, repo)
		return nil
	}

	p, err := newPipeline(pipelineConfig())
	if err != nil {
		return err
	}
	ctx, cancel := operationContext(cmd)
	defer cancel()

	ui.Info("Scanning %s/%s", owner, repo)
	outcome, err := p.ReviewMainBranch(ctx, owner, repo)
	if err != nil {
		return err
	}
	printReviewOutcome(outcome)
	return nil
}
