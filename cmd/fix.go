package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	fixIDs []string
	fixAll bool
)

var fixCmd = &cobra.Command{
	Use:   "fix [owner/repo]",
	Short: "Commit AI fixes for unresolved findings",
	Long: `Rewrite files with their unresolved findings fixed and commit each file.

Use --id (repeatable, id or hash from 'reviewbot status') to fix selected
findings, or --all to fix every unresolved finding. Files changed since the
review are reported as conflicts and stay unresolved. With --dry-run the
findings that would be fixed are listed and nothing is written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if fixAll == (len(fixIDs) > 0) {
			return fmt.Errorf("specify either --id or --all")
		}
		owner, repo, err := repoFromArgs(args)
		if err != nil {
			return err
		}
		return fixRun(cmd, owner, repo)
	},
}

func init() {
	fixCmd.Flags().StringSliceVar(&fixIDs, "id", nil, "Finding id or hash to fix (repeatable)")
	fixCmd.Flags().BoolVar(&fixAll, "all", false, "Fix every unresolved finding")
	rootCmd.AddCommand(fixCmd)
}

func fixRun(cmd *cobra.Command, owner, repo string) error {
	fullName := owner + "/" + repo

	if dryRun {
		s, err := getStore()
		if err != nil {
			return err
		}
		findings, err := s.GetUnresolved(cmd.Context(), fullName)
		if err != nil {
			return err
		}
		if !fixAll {
			want := make(map[string]bool, len(fixIDs))
			for _, id := range fixIDs {
				want[id] = true
			}
			selected := findings[:0]
			for _, f := range findings {
				if want[f.ID] || want[f.Hash] {
					selected = append(selected, f)
				}
			}
			findings = selected
		}
		ui.DryRunMsg("Would fix %d finding(s) in %s", len(findings), fullName)
		printFindings(findings)
		return nil
	}

	p, err := newPipeline(pipelineConfig())
	if err != nil {
		return err
	}
	ctx, cancel := operationContext(cmd)
	defer cancel()

	ui.Info("Fixing %s", fullName)
	if fixAll {
		outcome, err := p.FixAll(ctx, owner, repo)
		if outcome != nil {
			printFixOutcome(outcome)
		}
		return err
	}
	outcome, err := p.FixSelected(ctx, owner, repo, fixIDs)
	if outcome != nil {
		printFixOutcome(outcome)
	}
	return err
}
