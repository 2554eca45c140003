package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/store"
	"github.com/joescharf/reviewbot/internal/upstream"
)

type reviewCall struct {
	number int
	body   string
	event  github.ReviewEvent
}

type updateCall struct {
	path, content, message, sha, branch string
}

// fakeSource is an in-memory SourceProvider that counts write calls.
type fakeSource struct {
	mu sync.Mutex

	user     string
	userErr  error
	repo     github.Repository
	repoErr  error
	pr       github.PullRequest
	prErr    error
	prFiles  []github.PullRequestFile
	files    map[string]*github.FileContent
	fetchErr map[string]error

	updateErr map[string]error
	onUpdate  func(path string)

	issues    []github.Issue
	nextIssue int

	reviews      []reviewCall
	merges       int
	updates      []updateCall
	createdIssue []github.Issue
	comments     map[int][]string
	closed       []int
	tokenCalls   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		user:      "bot",
		repo:      github.Repository{FullName: "acme/web", Name: "web", Owner: "acme", DefaultBranch: "main"},
		pr:        github.PullRequest{Number: 7, Title: "Add widget", Author: "alice", HeadRef: "feature", HeadSHA: "abc123", BaseRef: "main"},
		files:     map[string]*github.FileContent{},
		fetchErr:  map[string]error{},
		updateErr: map[string]error{},
		comments:  map[int][]string{},
		nextIssue: 100,
	}
}

func (f *fakeSource) addFile(path, content string) {
	f.files[path] = &github.FileContent{Path: path, Content: content, SHA: "sha-" + path}
}

func (f *fakeSource) addPRFile(path, status, patch, content string) {
	f.prFiles = append(f.prFiles, github.PullRequestFile{Filename: path, Status: status, Patch: patch, Additions: 1, Changes: 1})
	if content != "" {
		f.addFile(path, content)
	}
}

func (f *fakeSource) writeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.reviews) + f.merges + len(f.updates) + len(f.createdIssue) + len(f.closed)
	for _, c := range f.comments {
		n += len(c)
	}
	return n
}

func (f *fakeSource) CurrentUser(context.Context) (string, error) {
	return f.user, f.userErr
}

func (f *fakeSource) GetRepository(context.Context, string, string) (*github.Repository, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	r := f.repo
	return &r, nil
}

func (f *fakeSource) GetPullRequest(context.Context, string, string, int) (*github.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	pr := f.pr
	return &pr, nil
}

func (f *fakeSource) GetPullRequestFiles(context.Context, string, string, int) ([]github.PullRequestFile, error) {
	return f.prFiles, nil
}

func (f *fakeSource) GetFileContent(_ context.Context, _, _, path, _ string) (*github.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[path]; err != nil {
		return nil, err
	}
	fc, ok := f.files[path]
	if !ok {
		return nil, &upstream.Error{Service: "github", Status: 404, Kind: upstream.ErrNotFound}
	}
	c := *fc
	return &c, nil
}

func (f *fakeSource) GetFileRevisionToken(_ context.Context, _, _, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	return "sha-" + path, nil
}

func (f *fakeSource) UpdateFile(_ context.Context, _, _, path, content, message, sha, branch string) error {
	f.mu.Lock()
	if err := f.updateErr[path]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.updates = append(f.updates, updateCall{path, content, message, sha, branch})
	f.files[path] = &github.FileContent{Path: path, Content: content, SHA: fmt.Sprintf("sha-%s-%d", path, len(f.updates))}
	hook := f.onUpdate
	f.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}

func (f *fakeSource) CreateReview(_ context.Context, _, _ string, number int, body string, event github.ReviewEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, reviewCall{number, body, event})
	return nil
}

func (f *fakeSource) MergePullRequest(context.Context, string, string, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	return nil
}

func (f *fakeSource) CreateIssue(_ context.Context, _, _, title, body string, _ []string) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIssue++
	is := github.Issue{Number: f.nextIssue, Title: title, Body: body, State: "open"}
	f.createdIssue = append(f.createdIssue, is)
	f.issues = append(f.issues, is)
	return &is, nil
}

func (f *fakeSource) ListOpenIssues(context.Context, string, string) ([]github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []github.Issue
	for _, is := range f.issues {
		if is.State == "open" {
			out = append(out, is)
		}
	}
	return out, nil
}

func (f *fakeSource) UpdateIssueState(_ context.Context, _, _ string, number int, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.issues {
		if f.issues[i].Number == number {
			f.issues[i].State = state
		}
	}
	if state == "closed" {
		f.closed = append(f.closed, number)
	}
	return nil
}

func (f *fakeSource) AddIssueComment(_ context.Context, _, _ string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[number] = append(f.comments[number], body)
	return nil
}

// fakeAnalyzer returns canned findings per file and canned fixes per file.
type fakeAnalyzer struct {
	mu sync.Mutex

	findings   map[string][]models.Finding
	analyzeErr map[string]error
	fixes      map[string]string
	fixErr     map[string]error

	scopedCalls map[string][]int
	fullCalls   []string
	fixCalls    []string
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		findings:    map[string][]models.Finding{},
		analyzeErr:  map[string]error{},
		fixes:       map[string]string{},
		fixErr:      map[string]error{},
		scopedCalls: map[string][]int{},
	}
}

func (a *fakeAnalyzer) AnalyzeScoped(_ context.Context, _, filename, _ string, lines []int) ([]models.Finding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopedCalls[filename] = lines
	if err := a.analyzeErr[filename]; err != nil {
		return nil, err
	}
	return append([]models.Finding(nil), a.findings[filename]...), nil
}

func (a *fakeAnalyzer) AnalyzeFull(_ context.Context, _, filename, _ string) ([]models.Finding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fullCalls = append(a.fullCalls, filename)
	if err := a.analyzeErr[filename]; err != nil {
		return nil, err
	}
	return append([]models.Finding(nil), a.findings[filename]...), nil
}

func (a *fakeAnalyzer) Fix(_ context.Context, content string, findings []models.Finding) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	file := findings[0].File
	a.fixCalls = append(a.fixCalls, file)
	if err := a.fixErr[file]; err != nil {
		return "", err
	}
	if fixed, ok := a.fixes[file]; ok {
		return fixed, nil
	}
	return content, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *fakeSource, *fakeAnalyzer, store.Store) {
	t.Helper()
	src := newFakeSource()
	an := newFakeAnalyzer()
	st := newTestStore(t)
	return New(src, an, st, cfg, nil), src, an, st
}

// hookStore runs beforeApplyFix once, ahead of the real ApplyFix, so a test
// can land other writes between a fix batch and its persistence.
type hookStore struct {
	store.Store
	beforeApplyFix func()
}

func (s *hookStore) ApplyFix(ctx context.Context, repo string, resolved []string, o *models.FixOutcome) error {
	if hook := s.beforeApplyFix; hook != nil {
		s.beforeApplyFix = nil
		hook()
	}
	return s.Store.ApplyFix(ctx, repo, resolved, o)
}

func finding(file string, line int, sev models.Severity, msg string) models.Finding {
	return models.Finding{File: file, Line: line, Severity: sev, Message: msg, Rule: "no-console", Fixable: true}
}

const onePlusPatch = "@@ -1,2 +1,3 @@\n line1\n+line2\n line3\n"
