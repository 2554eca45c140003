package pipeline

import (
	"fmt"
	"strings"

	"github.com/joescharf/reviewbot/internal/explain"
	"github.com/joescharf/reviewbot/internal/models"
)

// TrackingTitlePrefix starts the title of every tracking issue reviewbot opens.
const TrackingTitlePrefix = "[reviewbot]"

// TrackingMarker is the hidden body marker identifying a repository's
// tracking issue.
func TrackingMarker(fullName string) string {
	return fmt.Sprintf("<!-- reviewbot:tracking %s -->", fullName)
}

// TrackingIssueTitle is the title of a new tracking issue.
func TrackingIssueTitle(fullName string, o *models.ReviewOutcome) string {
	return fmt.Sprintf("%s %d issue(s) found on %s (%s)", TrackingTitlePrefix, o.IssuesFound, o.BranchLabel, fullName)
}

// RenderReviewBody renders the pull-request review comment.
func RenderReviewBody(o *models.ReviewOutcome) string {
	var sb strings.Builder
	sb.WriteString("## reviewbot review\n\n")
	if len(o.Findings) == 0 {
		fmt.Fprintf(&sb, "No issues found in %d changed file(s). Looks good to merge.\n", o.FilesChanged)
		return sb.String()
	}

	warnings := o.IssuesFound - o.CriticalIssues
	fmt.Fprintf(&sb, "Found **%d** issue(s): %d critical, %d warning(s).\n", o.IssuesFound, o.CriticalIssues, warnings)

	writeSection(&sb, "Critical", o.Findings, models.SeverityCritical)
	writeSection(&sb, "Warnings", o.Findings, models.SeverityWarning)
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, findings []models.Finding, sev models.Severity) {
	n := models.CountSeverity(findings, sev)
	if n == 0 {
		return
	}
	fmt.Fprintf(sb, "\n### %s (%d)\n\n", title, n)
	for _, f := range findings {
		if f.Severity != sev {
			continue
		}
		writeFinding(sb, f)
	}
}

func writeFinding(sb *strings.Builder, f models.Finding) {
	fmt.Fprintf(sb, "- **%s:%d** %s", f.File, f.Line, f.Message)
	if f.Rule != "" {
		fmt.Fprintf(sb, " (`%s`)", f.Rule)
	}
	sb.WriteString("\n")
	if f.Suggestion != "" {
		fmt.Fprintf(sb, "  Suggestion: %s\n", f.Suggestion)
	}
	if f.OriginalCode != "" || f.SuggestedCode != "" {
		sb.WriteString("  ```diff\n")
		for _, l := range splitLines(f.OriginalCode) {
			fmt.Fprintf(sb, "  - %s\n", l)
		}
		for _, l := range splitLines(f.SuggestedCode) {
			fmt.Fprintf(sb, "  + %s\n", l)
		}
		sb.WriteString("  ```\n")
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// RenderTrackingIssue renders the tracking issue body for a branch snapshot,
// findings grouped by file.
func RenderTrackingIssue(fullName string, o *models.ReviewOutcome) string {
	var sb strings.Builder
	sb.WriteString(TrackingMarker(fullName))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "reviewbot scanned %d file(s) on `%s` and found **%d** issue(s).\n\n", o.FilesChanged, o.BranchLabel, o.IssuesFound)
	fmt.Fprintf(&sb, "| Severity | Count |\n|---|---|\n| critical | %d |\n| warning | %d |\n",
		o.CriticalIssues, o.IssuesFound-o.CriticalIssues)

	var current string
	for _, f := range o.Findings {
		if f.File != current {
			current = f.File
			fmt.Fprintf(&sb, "\n### `%s`\n\n", current)
		}
		fmt.Fprintf(&sb, "- [%s] line %d: %s", f.Severity, f.Line, f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(&sb, " Suggestion: %s", f.Suggestion)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// CommitMessage describes the fixes applied to one file.
func CommitMessage(file string, findings []models.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "reviewbot: fix %d issue(s) in %s\n\n", len(findings), file)
	for _, f := range findings {
		sb.WriteString("- ")
		sb.WriteString(explain.Line(f))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderResolutionComment lists the fixes of a batch for a tracking issue.
func RenderResolutionComment(o *models.FixOutcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "reviewbot applied fixes to %d file(s), resolving %d issue(s).\n\n", len(o.FixedFiles), o.FixedIssues)
	for _, d := range o.FixDetails {
		fmt.Fprintf(&sb, "- `%s` line %d: %s. %s (%s)\n", d.File, d.Line, d.Fix, d.Rationale, d.Issue)
	}
	if len(o.Conflicts) > 0 {
		fmt.Fprintf(&sb, "\nSkipped because the file changed during the fix: %s\n", strings.Join(o.Conflicts, ", "))
	}
	sb.WriteString("\nClosing this issue.\n")
	return sb.String()
}
