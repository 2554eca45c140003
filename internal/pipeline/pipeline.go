// Package pipeline reviews pull requests and branch snapshots, submits
// verdicts, and applies AI fixes back to the repository.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/store"
	"github.com/joescharf/reviewbot/internal/upstream"
)

var (
	// ErrFixConflict is returned for a file whose content changed between the
	// read and the write of a fix.
	ErrFixConflict = upstream.ErrConflict
	// ErrFindingNotFound is returned by FixOne for an unknown finding id.
	ErrFindingNotFound = errors.New("finding not found")
)

// SourceProvider is the hosting platform the pipeline reads from and writes to.
type SourceProvider interface {
	CurrentUser(ctx context.Context) (string, error)
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	GetPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]github.PullRequestFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (*github.FileContent, error)
	GetFileRevisionToken(ctx context.Context, owner, repo, path, ref string) (string, error)
	UpdateFile(ctx context.Context, owner, repo, path, content, message, expectedSHA, branch string) error
	CreateReview(ctx context.Context, owner, repo string, number int, body string, event github.ReviewEvent) error
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*github.Issue, error)
	ListOpenIssues(ctx context.Context, owner, repo string) ([]github.Issue, error)
	UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error
	AddIssueComment(ctx context.Context, owner, repo string, number int, body string) error
}

// CodeAnalyzer produces findings for source text and rewrites it with
// findings fixed.
type CodeAnalyzer interface {
	AnalyzeScoped(ctx context.Context, content, filename, language string, lines []int) ([]models.Finding, error)
	AnalyzeFull(ctx context.Context, content, filename, language string) ([]models.Finding, error)
	Fix(ctx context.Context, content string, findings []models.Finding) (string, error)
}

// DefaultMainBranchFiles are the entry points and config files scanned by a
// branch snapshot review, in order.
var DefaultMainBranchFiles = []string{
	"src/index.js",
	"src/index.jsx",
	"src/index.ts",
	"src/index.tsx",
	"src/App.js",
	"src/App.jsx",
	"src/App.ts",
	"src/App.tsx",
	"src/main.js",
	"src/main.ts",
	"src/main.tsx",
	"index.js",
	"index.ts",
	"server.js",
	"app.js",
	"package.json",
	"vite.config.js",
	"vite.config.ts",
	"webpack.config.js",
	"tsconfig.json",
}

// Config controls pipeline behavior.
type Config struct {
	AutoMerge       bool
	MergeMethod     string
	Workers         int
	MainBranchFiles []string
	FixBranch       string // empty means the repository's default branch
	IssueLabels     []string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MergeMethod:     "squash",
		Workers:         4,
		MainBranchFiles: DefaultMainBranchFiles,
	}
}

// Pipeline wires a SourceProvider, a CodeAnalyzer and a Store together.
type Pipeline struct {
	source   SourceProvider
	analyzer CodeAnalyzer
	store    store.Store
	cfg      Config
	logger   *slog.Logger
}

// New creates a Pipeline. A nil logger uses slog.Default.
func New(source SourceProvider, analyzer CodeAnalyzer, st store.Store, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MergeMethod == "" {
		cfg.MergeMethod = "squash"
	}
	if cfg.MainBranchFiles == nil {
		cfg.MainBranchFiles = DefaultMainBranchFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{source: source, analyzer: analyzer, store: st, cfg: cfg, logger: logger}
}

// isFatal reports errors that must abort a whole batch rather than one file.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, upstream.ErrAuth) || ctx.Err() != nil
}
