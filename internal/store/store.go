package store

import (
	"context"

	"github.com/joescharf/reviewbot/internal/models"
)

// UnresolvedUpdate receives the current unresolved findings for a repository
// and returns the set that should replace them.
type UnresolvedUpdate func(current []models.TrackedFinding) []models.Finding

// Store persists per-repository review state: the unresolved finding set,
// the current review outcome, and the fix history.
type Store interface {
	// Unresolved findings
	GetUnresolved(ctx context.Context, repo string) ([]models.TrackedFinding, error)
	SetUnresolved(ctx context.Context, repo string, findings []models.Finding) error
	UpdateUnresolved(ctx context.Context, repo string, fn UnresolvedUpdate) error
	RemoveResolved(ctx context.Context, repo string, idsOrHashes []string) (int64, error)

	// Review outcomes, one per repository
	RecordReviewOutcome(ctx context.Context, repo string, outcome *models.ReviewOutcome) error
	SaveReview(ctx context.Context, repo string, outcome *models.ReviewOutcome, fn UnresolvedUpdate) error
	GetReviewOutcome(ctx context.Context, repo string) (*models.ReviewOutcome, error)
	ListReviewOutcomes(ctx context.Context) ([]*models.ReviewOutcome, error)
	CompleteIfResolved(ctx context.Context, repo string) (bool, error)

	// Fix history, append-only
	RecordFixOutcome(ctx context.Context, repo string, outcome *models.FixOutcome) error
	ApplyFix(ctx context.Context, repo string, resolved []string, outcome *models.FixOutcome) error
	ListFixOutcomes(ctx context.Context, repo string, limit int) ([]*models.FixOutcome, error)

	// Dashboard
	RepoStats(ctx context.Context) ([]*models.RepoStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
