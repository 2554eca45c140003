package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review [owner/repo] <number>",
	Short: "Review a pull request",
	Long: `Review the changed lines of a pull request, post a review with a verdict,
and record its findings as unresolved.

The repository defaults to the origin remote of the current directory.
Pull requests opened by the token's own user are analyzed and recorded but
no review is submitted and nothing is merged.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		numArg := args[len(args)-1]
		number, err := strconv.Atoi(numArg)
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid pull request number: %s", numArg)
		}
		owner, repo, err := repoFromArgs(args[:len(args)-1])
		if err != nil {
			return err
		}
		return reviewRun(cmd, owner, repo, number)
	},
}

func init() {
	reviewCmd.Flags().Bool("auto-merge", false, "Merge the pull request when the verdict is not request-changes")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(cmd *cobra.Command, owner, repo string, number int) error {
	if dryRun {
		ui.DryRunMsg("Would review %s/%s#%d", owner, repo, number)
		return nil
	}

	cfg := pipelineConfig()
	if cmd.Flags().Changed("auto-merge") {
		cfg.AutoMerge, _ = cmd.Flags().GetBool("auto-merge")
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := operationContext(cmd)
	defer cancel()

	ui.Info("Reviewing %s/%s#%d", owner, repo, number)
	outcome, err := p.ReviewPullRequest(ctx, owner, repo, number)
	if err != nil {
		return err
	}
	printReviewOutcome(outcome)
	return nil
}
