package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/output"
)

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

func printReviewOutcome(o *models.ReviewOutcome) {
	switch o.Kind {
	case models.ReviewKindPullRequest:
		fmt.Fprintf(ui.Out, "%s #%d %s\n", output.Cyan(o.Repo), o.PRNumber, o.Title)
		if o.Author != "" {
			ui.Field("Author", "%s", o.Author)
		}
	default:
		fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(o.Repo), o.BranchLabel)
	}
	if o.BranchLabel != "" && o.Kind == models.ReviewKindPullRequest {
		ui.Field("Branch", "%s", o.BranchLabel)
	}
	ui.Field("Files", "%d", o.FilesChanged)
	ui.Field("Issues", "%s (%d critical)", output.CountColor(o.IssuesFound, o.CriticalIssues), o.CriticalIssues)
	if o.IsOwnPR {
		ui.Field("Verdict", "%s", "not submitted (own pull request)")
	} else if o.Kind == models.ReviewKindPullRequest {
		ui.Field("Verdict", "%s", output.VerdictColor(string(o.Verdict)))
	}
	if o.AutoMerged {
		ui.Field("Merged", "%s", output.Green("yes"))
	}
	if o.IssueNumber > 0 {
		ui.Field("Tracking", "#%d", o.IssueNumber)
	}
	ui.Field("Status", "%s", output.StatusColor(string(o.Status)))
	if !o.ReviewedAt.IsZero() {
		ui.Field("Reviewed", "%s", timeAgo(o.ReviewedAt))
	}

	for _, fc := range o.FileChanges {
		switch {
		case fc.Error != "":
			ui.Warning("%s: %s", fc.Filename, fc.Error)
		case fc.Skipped != "":
			ui.VerboseLog("%s skipped: %s", fc.Filename, fc.Skipped)
		}
	}
}

func printFindings(findings []models.TrackedFinding) {
	if len(findings) == 0 {
		ui.Success("No unresolved findings")
		return
	}
	table := ui.Table([]string{"ID", "Severity", "Location", "Rule", "Message"})
	for _, f := range findings {
		rule := f.Rule
		if rule == "" {
			rule = string(f.Category)
		}
		table.Append([]string{
			f.ID,
			output.SeverityColor(string(f.Severity)),
			fmt.Sprintf("%s:%d", f.File, f.Line),
			rule,
			truncate(f.Message, 72),
		})
	}
	table.Render()
}

func printFixOutcome(o *models.FixOutcome) {
	switch {
	case o.AlreadyFixed:
		ui.Success("Nothing to change: findings were already fixed")
	case o.Success:
		ui.Success("Fixed %d issue(s) in %d file(s)", o.FixedIssues, len(o.FixedFiles))
	default:
		ui.Warning("No files were fixed")
	}
	for _, d := range o.FixDetails {
		fmt.Fprintf(ui.Out, "  %s:%d  %s\n", d.File, d.Line, d.Fix)
	}
	if len(o.Conflicts) > 0 {
		ui.Warning("Changed since review, left unresolved: %s", strings.Join(o.Conflicts, ", "))
	}
	if len(o.Failed) > 0 {
		ui.Warning("Failed: %s", strings.Join(o.Failed, ", "))
	}
	for _, n := range o.ClosedIssues {
		ui.Info("Closed tracking issue #%d", n)
	}
	if o.Partial {
		ui.Warning("Interrupted: remaining files were not processed")
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
