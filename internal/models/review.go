package models

import "time"

// Verdict is the formal review decision submitted on a pull request.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request-changes"
	VerdictComment        Verdict = "comment"
)

// DecideVerdict applies the verdict law: any critical finding requests
// changes, no findings approves, warnings only comments.
func DecideVerdict(findings []Finding) Verdict {
	if CountSeverity(findings, SeverityCritical) > 0 {
		return VerdictRequestChanges
	}
	if len(findings) == 0 {
		return VerdictApprove
	}
	return VerdictComment
}

// ReviewKind distinguishes pull-request reviews from branch snapshots.
type ReviewKind string

const (
	ReviewKindPullRequest ReviewKind = "pull_request"
	ReviewKindMainBranch  ReviewKind = "main_branch"
)

// ReviewStatus tracks whether a review still has outstanding findings.
type ReviewStatus string

const (
	ReviewStatusInReview  ReviewStatus = "in_review"
	ReviewStatusCompleted ReviewStatus = "completed"
)

// FileChange is per-file diff metadata recorded during a review.
type FileChange struct {
	Filename     string `json:"filename"`
	Status       string `json:"status"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	Changes      int    `json:"changes"`
	ScannedLines []int  `json:"scannedLines"`
	Skipped      string `json:"skipped,omitempty"` // why the file was not analyzed
	Error        string `json:"error,omitempty"`
}

// ReviewOutcome is the result of reviewing a pull request or a branch snapshot.
// One outcome is stored per repository; a later review replaces it.
type ReviewOutcome struct {
	ID             string       `json:"id"`
	Repo           string       `json:"repo"`
	Kind           ReviewKind   `json:"kind"`
	PRNumber       int          `json:"prNumber,omitempty"`
	Title          string       `json:"title,omitempty"`
	Author         string       `json:"author,omitempty"`
	BranchLabel    string       `json:"branchLabel,omitempty"`
	FilesChanged   int          `json:"filesChanged"`
	IssuesFound    int          `json:"issuesFound"`
	CriticalIssues int          `json:"criticalIssues"`
	Verdict        Verdict      `json:"verdict,omitempty"`
	AutoMerged     bool         `json:"autoMerged"`
	IsOwnPR        bool         `json:"isOwnPR"`
	IssueNumber    int          `json:"issueNumber,omitempty"`
	Findings       []Finding    `json:"findings"`
	FileChanges    []FileChange `json:"fileChanges"`
	Status         ReviewStatus `json:"status"`
	ReviewedAt     time.Time    `json:"reviewedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// SetFindings stores findings and derives the issue counts from them. The
// status set here only reflects this review; the store replaces it with one
// derived from the repository's whole unresolved set when the review is saved.
func (o *ReviewOutcome) SetFindings(findings []Finding) {
	o.Findings = findings
	o.IssuesFound = len(findings)
	o.CriticalIssues = CountSeverity(findings, SeverityCritical)
	if o.IssuesFound == 0 {
		o.Status = ReviewStatusCompleted
	} else {
		o.Status = ReviewStatusInReview
	}
}

// FixDetail explains one finding addressed by an applied fix.
type FixDetail struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Issue     string `json:"issue"`
	Fix       string `json:"fix"`
	Rationale string `json:"rationale"`
}

// FixOutcome is the result of one fix batch. Fix outcomes are append-only history.
type FixOutcome struct {
	ID           string      `json:"id"`
	Repo         string      `json:"repo"`
	Success      bool        `json:"success"`
	AlreadyFixed bool        `json:"alreadyFixed"`
	FixedFiles   []string    `json:"fixedFiles"`
	FixedIssues  int         `json:"fixedIssues"`
	FixDetails   []FixDetail `json:"fixDetails"`
	Conflicts    []string    `json:"conflicts,omitempty"`
	Failed       []string    `json:"failed,omitempty"`
	ClosedIssues []int       `json:"closedIssues,omitempty"`
	Partial      bool        `json:"partial,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// RepoStats aggregates stored review state for one repository.
type RepoStats struct {
	Repo           string       `json:"repo"`
	Unresolved     int          `json:"unresolved"`
	Critical       int          `json:"critical"`
	Warnings       int          `json:"warnings"`
	LastVerdict    Verdict      `json:"lastVerdict,omitempty"`
	LastStatus     ReviewStatus `json:"lastStatus,omitempty"`
	FixRuns        int          `json:"fixRuns"`
	FindingsFixed  int          `json:"findingsFixed"`
	LastReviewedAt *time.Time   `json:"lastReviewedAt,omitempty"`
	LastFixedAt    *time.Time   `json:"lastFixedAt,omitempty"`
}
