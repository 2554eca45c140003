package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/reviewbot/internal/analyzer"
	"github.com/joescharf/reviewbot/internal/diffscope"
	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/upstream"
)

// Skip reasons recorded on FileChange.
const (
	SkipRemoved        = "removed"
	SkipNothingToScope = "no changed lines"
	SkipNotFound       = "not found"
)

// fileResult is the read/analyze outcome for one file.
type fileResult struct {
	change   models.FileChange
	findings []models.Finding
	analyzed bool
	present  bool
}

// ReviewPullRequest analyzes the changed lines of a pull request, submits a
// verdict unless the caller authored it, and records the outcome.
func (p *Pipeline) ReviewPullRequest(ctx context.Context, owner, repo string, number int) (*models.ReviewOutcome, error) {
	fullName := github.FullName(owner, repo)

	me, err := p.source.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	pr, err := p.source.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("pull request %s#%d: %w", fullName, number, err)
	}
	files, err := p.source.GetPullRequestFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("pull request %s#%d files: %w", fullName, number, err)
	}

	isOwn := strings.EqualFold(strings.TrimSpace(me), strings.TrimSpace(pr.Author))
	log := p.logger.With("repo", fullName, "pr", number)
	log.Info("reviewing pull request", "files", len(files), "own", isOwn)

	results, err := p.forEachFile(ctx, len(files), func(ctx context.Context, i int) (fileResult, error) {
		return p.reviewDiffFile(ctx, owner, repo, pr.HeadSHA, files[i])
	})
	if err != nil {
		return nil, err
	}

	outcome := &models.ReviewOutcome{
		Kind:         models.ReviewKindPullRequest,
		PRNumber:     pr.Number,
		Title:        pr.Title,
		Author:       pr.Author,
		BranchLabel:  pr.HeadRef + " -> " + pr.BaseRef,
		FilesChanged: len(files),
		IsOwnPR:      isOwn,
	}
	findings, replaced := collect(results, outcome)
	outcome.SetFindings(findings)

	if !isOwn {
		outcome.Verdict = models.DecideVerdict(findings)
		body := RenderReviewBody(outcome)
		if err := p.source.CreateReview(ctx, owner, repo, number, body, reviewEvent(outcome.Verdict)); err != nil {
			return nil, fmt.Errorf("submit review: %w", err)
		}
		log.Info("review submitted", "verdict", outcome.Verdict, "issues", outcome.IssuesFound)

		if outcome.Verdict != models.VerdictRequestChanges && p.cfg.AutoMerge {
			if err := p.source.MergePullRequest(ctx, owner, repo, number, p.cfg.MergeMethod); err != nil {
				if isFatal(ctx, err) {
					return nil, fmt.Errorf("merge: %w", err)
				}
				log.Warn("auto-merge failed", "error", err)
			} else {
				outcome.AutoMerged = true
				log.Info("pull request merged", "method", p.cfg.MergeMethod)
			}
		}
	} else {
		log.Info("own pull request, skipping review submission")
	}

	if err := p.persistReview(ctx, fullName, outcome, replaced); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (p *Pipeline) reviewDiffFile(ctx context.Context, owner, repo, ref string, f github.PullRequestFile) (fileResult, error) {
	res := fileResult{change: models.FileChange{
		Filename:     f.Filename,
		Status:       f.Status,
		Additions:    f.Additions,
		Deletions:    f.Deletions,
		Changes:      f.Changes,
		ScannedLines: []int{},
	}}
	if f.Status == github.FileStatusRemoved {
		res.change.Skipped = SkipRemoved
		return res, nil
	}
	res.present = true

	lines := diffscope.ExtractChangedLines(f.Patch)
	if len(lines) == 0 {
		res.change.Skipped = SkipNothingToScope
		return res, nil
	}

	fc, err := p.source.GetFileContent(ctx, owner, repo, f.Filename, ref)
	if err != nil {
		return p.fileError(ctx, res, "fetch", err)
	}
	findings, err := p.analyzer.AnalyzeScoped(ctx, fc.Content, f.Filename, analyzer.LanguageFor(f.Filename), lines)
	if err != nil {
		return p.fileError(ctx, res, "analyze", err)
	}
	res.change.ScannedLines = lines
	res.findings = findings
	res.analyzed = true
	return res, nil
}

// ReviewMainBranch analyzes the configured entry-point files on the default
// branch and opens a tracking issue when findings remain.
func (p *Pipeline) ReviewMainBranch(ctx context.Context, owner, repo string) (*models.ReviewOutcome, error) {
	fullName := github.FullName(owner, repo)

	meta, err := p.source.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", fullName, err)
	}
	branch := meta.DefaultBranch
	candidates := p.cfg.MainBranchFiles
	log := p.logger.With("repo", fullName, "branch", branch)
	log.Info("scanning branch snapshot", "candidates", len(candidates))

	results, err := p.forEachFile(ctx, len(candidates), func(ctx context.Context, i int) (fileResult, error) {
		return p.reviewWholeFile(ctx, owner, repo, branch, candidates[i])
	})
	if err != nil {
		return nil, err
	}

	var present []fileResult
	for _, r := range results {
		if r.present {
			present = append(present, r)
		}
	}

	outcome := &models.ReviewOutcome{
		Kind:         models.ReviewKindMainBranch,
		BranchLabel:  branch,
		FilesChanged: len(present),
	}
	findings, replaced := collect(present, outcome)
	outcome.SetFindings(findings)

	if len(findings) > 0 {
		number, err := p.openTrackingIssue(ctx, owner, repo, outcome)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			log.Warn("tracking issue not created", "error", err)
		}
		outcome.IssueNumber = number
	}

	if err := p.persistReview(ctx, fullName, outcome, replaced); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (p *Pipeline) reviewWholeFile(ctx context.Context, owner, repo, ref, path string) (fileResult, error) {
	res := fileResult{change: models.FileChange{Filename: path, Status: "snapshot", ScannedLines: []int{}}}

	fc, err := p.source.GetFileContent(ctx, owner, repo, path, ref)
	if errors.Is(err, upstream.ErrNotFound) {
		res.change.Skipped = SkipNotFound
		return res, nil
	}
	res.present = true
	if err != nil {
		return p.fileError(ctx, res, "fetch", err)
	}

	findings, err := p.analyzer.AnalyzeFull(ctx, fc.Content, path, analyzer.LanguageFor(path))
	if err != nil {
		return p.fileError(ctx, res, "analyze", err)
	}
	n := strings.Count(fc.Content, "\n")
	if !strings.HasSuffix(fc.Content, "\n") {
		n++
	}
	res.change.ScannedLines = make([]int, n)
	for i := range res.change.ScannedLines {
		res.change.ScannedLines[i] = i + 1
	}
	res.change.Changes = n
	res.findings = findings
	res.analyzed = true
	return res, nil
}

// openTrackingIssue creates the repository's tracking issue, or comments on
// the open one when it already exists.
func (p *Pipeline) openTrackingIssue(ctx context.Context, owner, repo string, outcome *models.ReviewOutcome) (int, error) {
	fullName := github.FullName(owner, repo)
	body := RenderTrackingIssue(fullName, outcome)

	existing, err := p.trackingIssues(ctx, owner, repo)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		number := existing[0].Number
		if err := p.source.AddIssueComment(ctx, owner, repo, number, body); err != nil {
			return 0, fmt.Errorf("update tracking issue #%d: %w", number, err)
		}
		p.logger.Info("tracking issue updated", "repo", fullName, "issue", number)
		return number, nil
	}

	issue, err := p.source.CreateIssue(ctx, owner, repo, TrackingIssueTitle(fullName, outcome), body, p.cfg.IssueLabels)
	if err != nil {
		return 0, fmt.Errorf("create tracking issue: %w", err)
	}
	p.logger.Info("tracking issue created", "repo", fullName, "issue", issue.Number)
	return issue.Number, nil
}

// forEachFile runs fn for indexes [0, n) on a bounded pool and returns the
// results in index order. fn returns an error only for batch-fatal failures.
func (p *Pipeline) forEachFile(ctx context.Context, n int, fn func(ctx context.Context, i int) (fileResult, error)) ([]fileResult, error) {
	results := make([]fileResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// fileError records a per-file failure, or escalates it when it is fatal.
func (p *Pipeline) fileError(ctx context.Context, res fileResult, stage string, err error) (fileResult, error) {
	if isFatal(ctx, err) {
		return res, fmt.Errorf("%s %s: %w", stage, res.change.Filename, err)
	}
	p.logger.Warn("file skipped", "file", res.change.Filename, "stage", stage, "error", err)
	res.change.Error = fmt.Sprintf("%s: %v", stage, err)
	return res, nil
}

// collect drops info findings, orders the rest file-major, and returns the
// set of files whose stored findings the review replaces.
func collect(results []fileResult, outcome *models.ReviewOutcome) ([]models.Finding, map[string]bool) {
	replaced := make(map[string]bool)
	findings := []models.Finding{}
	outcome.FileChanges = make([]models.FileChange, 0, len(results))
	for _, r := range results {
		outcome.FileChanges = append(outcome.FileChanges, r.change)
		if r.analyzed || r.change.Skipped == SkipRemoved {
			replaced[r.change.Filename] = true
		}
		if !r.analyzed {
			continue
		}
		fileFindings := models.Surfaced(r.findings)
		for i := range fileFindings {
			// the analyzer attributes by line; the file is the one we asked about
			fileFindings[i].File = r.change.Filename
		}
		sort.SliceStable(fileFindings, func(i, j int) bool { return fileFindings[i].Line < fileFindings[j].Line })
		findings = append(findings, fileFindings...)
	}
	return findings, replaced
}

// persistReview replaces the unresolved findings of the files this review
// covered and upserts the outcome in one store transaction. The stored status
// follows the whole unresolved set, so findings kept from other files leave
// the review in progress.
func (p *Pipeline) persistReview(ctx context.Context, fullName string, outcome *models.ReviewOutcome, replaced map[string]bool) error {
	err := p.store.SaveReview(ctx, fullName, outcome, func(current []models.TrackedFinding) []models.Finding {
		next := make([]models.Finding, 0, len(current)+len(outcome.Findings))
		for _, tf := range current {
			if !replaced[tf.File] {
				next = append(next, tf.Finding)
			}
		}
		return append(next, outcome.Findings...)
	})
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

func reviewEvent(v models.Verdict) github.ReviewEvent {
	switch v {
	case models.VerdictRequestChanges:
		return github.ReviewEventRequestChanges
	case models.VerdictApprove:
		return github.ReviewEventApprove
	default:
		return github.ReviewEventComment
	}
}
