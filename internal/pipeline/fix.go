package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/reviewbot/internal/explain"
	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
)

// fileGroup is the findings of one file, in first-appearance order.
type fileGroup struct {
	file     string
	findings []models.Finding
}

func groupByFile(findings []models.Finding) []fileGroup {
	var groups []fileGroup
	index := make(map[string]int)
	for _, f := range findings {
		i, ok := index[f.File]
		if !ok {
			i = len(groups)
			index[f.File] = i
			groups = append(groups, fileGroup{file: f.File})
		}
		groups[i].findings = append(groups[i].findings, f)
	}
	return groups
}

// FixIssuesWithAI rewrites each affected file through the analyzer and commits
// the result guarded by the file's revision token. Files are processed one at a
// time; a conflict or failure on one file does not stop the others.
//
// On cancellation the outcome covers the files finished so far, Partial is set,
// and ctx.Err() is returned alongside it.
func (p *Pipeline) FixIssuesWithAI(ctx context.Context, owner, repo string, findings []models.Finding) (*models.FixOutcome, error) {
	fullName := github.FullName(owner, repo)
	outcome := &models.FixOutcome{
		Repo:       fullName,
		FixedFiles: []string{},
		FixDetails: []models.FixDetail{},
	}

	surfaced := models.Surfaced(findings)
	if len(surfaced) == 0 {
		outcome.Success = true
		outcome.AlreadyFixed = true
		return outcome, nil
	}

	log := p.logger.With("repo", fullName)
	branch := p.cfg.FixBranch
	var resolved []string
	var fatal error

	for _, g := range groupByFile(surfaced) {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		changed, err := p.fixFile(ctx, owner, repo, branch, g, outcome)
		switch {
		case err == nil:
			for _, f := range g.findings {
				resolved = append(resolved, f.Key())
			}
			if !changed {
				log.Info("fix produced no change", "file", g.file)
			}
		case errors.Is(err, ErrFixConflict):
			log.Warn("fix conflict, file changed since it was read", "file", g.file, "error", err)
			outcome.Conflicts = append(outcome.Conflicts, g.file)
		case isFatal(ctx, err):
			fatal = err
		default:
			log.Warn("fix failed", "file", g.file, "error", err)
			outcome.Failed = append(outcome.Failed, g.file)
		}
		if fatal != nil {
			break
		}
	}

	if fatal == nil && len(outcome.FixedFiles) > 0 {
		closed, err := p.closeTrackingIssues(ctx, owner, repo, outcome)
		outcome.ClosedIssues = closed
		if err != nil {
			if isFatal(ctx, err) {
				fatal = err
			} else {
				log.Warn("closing tracking issues failed", "error", err)
			}
		}
	}

	if fatal != nil && ctx.Err() != nil {
		outcome.Partial = true
	}
	outcome.AlreadyFixed = len(outcome.FixedFiles) == 0 && len(outcome.Conflicts) == 0 && len(outcome.Failed) == 0 && !outcome.Partial && fatal == nil
	outcome.Success = len(outcome.FixedFiles) > 0 || outcome.AlreadyFixed

	// Committed files stay committed, so their state is recorded even when the
	// batch was cut short.
	if err := p.recordFix(context.WithoutCancel(ctx), fullName, resolved, outcome); err != nil {
		if fatal != nil {
			return outcome, errors.Join(fatal, err)
		}
		return outcome, err
	}
	log.Info("fix batch finished",
		"fixed_files", len(outcome.FixedFiles), "fixed_issues", outcome.FixedIssues,
		"conflicts", len(outcome.Conflicts), "failed", len(outcome.Failed), "partial", outcome.Partial)

	if fatal != nil {
		return outcome, fatal
	}
	return outcome, nil
}

// fixFile fixes one file and reports whether its content changed.
func (p *Pipeline) fixFile(ctx context.Context, owner, repo, branch string, g fileGroup, outcome *models.FixOutcome) (bool, error) {
	fc, err := p.source.GetFileContent(ctx, owner, repo, g.file, branch)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", g.file, err)
	}
	token := fc.SHA
	if token == "" {
		token, err = p.source.GetFileRevisionToken(ctx, owner, repo, g.file, branch)
		if err != nil {
			return false, fmt.Errorf("revision token %s: %w", g.file, err)
		}
	}

	fixed, err := p.analyzer.Fix(ctx, fc.Content, g.findings)
	if err != nil {
		return false, fmt.Errorf("fix %s: %w", g.file, err)
	}
	if fixed == fc.Content {
		return false, nil
	}

	if err := p.source.UpdateFile(ctx, owner, repo, g.file, fixed, CommitMessage(g.file, g.findings), token, branch); err != nil {
		return false, fmt.Errorf("commit %s: %w", g.file, err)
	}

	outcome.FixedFiles = append(outcome.FixedFiles, g.file)
	for _, f := range g.findings {
		if !f.Fixable {
			continue
		}
		outcome.FixedIssues++
		e := explain.For(f)
		outcome.FixDetails = append(outcome.FixDetails, models.FixDetail{
			File:      f.File,
			Line:      f.Line,
			Issue:     f.Message,
			Fix:       e.What,
			Rationale: e.Why,
		})
	}
	return true, nil
}

// trackingIssues returns open issues carrying this repository's marker.
func (p *Pipeline) trackingIssues(ctx context.Context, owner, repo string) ([]github.Issue, error) {
	issues, err := p.source.ListOpenIssues(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("list open issues: %w", err)
	}
	marker := TrackingMarker(github.FullName(owner, repo))
	var out []github.Issue
	for _, is := range issues {
		if strings.HasPrefix(is.Title, TrackingTitlePrefix) && strings.Contains(is.Body, marker) {
			out = append(out, is)
		}
	}
	return out, nil
}

// closeTrackingIssues posts a resolution comment on each open tracking issue
// and closes it. It returns the numbers it closed.
func (p *Pipeline) closeTrackingIssues(ctx context.Context, owner, repo string, outcome *models.FixOutcome) ([]int, error) {
	issues, err := p.trackingIssues(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	comment := RenderResolutionComment(outcome)
	var closed []int
	for _, is := range issues {
		if err := p.source.AddIssueComment(ctx, owner, repo, is.Number, comment); err != nil {
			return closed, fmt.Errorf("comment on issue #%d: %w", is.Number, err)
		}
		if err := p.source.UpdateIssueState(ctx, owner, repo, is.Number, "closed"); err != nil {
			return closed, fmt.Errorf("close issue #%d: %w", is.Number, err)
		}
		p.logger.Info("tracking issue closed", "repo", github.FullName(owner, repo), "issue", is.Number)
		closed = append(closed, is.Number)
	}
	return closed, nil
}

// recordFix persists the fix atomically: resolved findings leave the
// unresolved set, the outcome joins the history, and the review completes
// only if the set is empty at commit time.
func (p *Pipeline) recordFix(ctx context.Context, fullName string, resolved []string, outcome *models.FixOutcome) error {
	outcome.CreatedAt = time.Now().UTC()
	if err := p.store.ApplyFix(ctx, fullName, resolved, outcome); err != nil {
		return fmt.Errorf("record fix: %w", err)
	}
	return nil
}

// FixAll fixes every stored unresolved finding of the repository.
func (p *Pipeline) FixAll(ctx context.Context, owner, repo string) (*models.FixOutcome, error) {
	current, err := p.store.GetUnresolved(ctx, github.FullName(owner, repo))
	if err != nil {
		return nil, fmt.Errorf("load unresolved findings: %w", err)
	}
	findings := make([]models.Finding, len(current))
	for i, tf := range current {
		findings[i] = tf.Finding
	}
	return p.FixIssuesWithAI(ctx, owner, repo, findings)
}

// FixOne fixes a single stored finding, looked up by id or content hash.
func (p *Pipeline) FixOne(ctx context.Context, owner, repo, id string) (*models.FixOutcome, error) {
	return p.FixSelected(ctx, owner, repo, []string{id})
}

// FixSelected fixes the stored findings named by id or content hash. Every
// key must match a stored finding; otherwise nothing is fixed.
func (p *Pipeline) FixSelected(ctx context.Context, owner, repo string, keys []string) (*models.FixOutcome, error) {
	fullName := github.FullName(owner, repo)
	current, err := p.store.GetUnresolved(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("load unresolved findings: %w", err)
	}
	byKey := make(map[string]models.Finding, 2*len(current))
	for _, tf := range current {
		byKey[tf.ID] = tf.Finding
		byKey[tf.Hash] = tf.Finding
	}

	seen := make(map[string]bool, len(keys))
	findings := make([]models.Finding, 0, len(keys))
	for _, k := range keys {
		f, ok := byKey[k]
		if !ok {
			return nil, fmt.Errorf("%s in %s: %w", k, fullName, ErrFindingNotFound)
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		findings = append(findings, f)
	}
	return p.FixIssuesWithAI(ctx, owner, repo, findings)
}
