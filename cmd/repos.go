package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/output"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories the token can access",
	Long: `List the GitHub repositories visible to the configured token, with the
number of unresolved findings reviewbot has stored for each.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
}

func reposRun(cmd *cobra.Command) error {
	gh, err := newGitHubClient()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	repos, err := gh.ListRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories visible to this token")
		return nil
	}

	stats, err := s.RepoStats(ctx)
	if err != nil {
		return err
	}
	byRepo := make(map[string]*models.RepoStats, len(stats))
	for _, st := range stats {
		byRepo[st.Repo] = st
	}

	table := ui.Table([]string{"Repository", "Language", "Branch", "Visibility", "Unresolved"})
	for _, r := range repos {
		visibility := "public"
		if r.Private {
			visibility = "private"
		}
		unresolved := "-"
		if st, ok := byRepo[r.FullName]; ok {
			unresolved = output.CountColor(st.Unresolved, st.Critical)
		}
		table.Append([]string{
			output.Cyan(r.FullName),
			r.Language,
			r.DefaultBranch,
			visibility,
			unresolved,
		})
	}
	table.Render()
	fmt.Fprintf(ui.Out, "\n%d repositories\n", len(repos))
	return nil
}
