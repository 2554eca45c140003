package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v71/github"

	"github.com/joescharf/reviewbot/internal/upstream"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"

	service  = "github"
	perPage  = 100
	maxPages = 30
)

// Client is a SourceProvider over the GitHub REST API.
type Client struct {
	gh         *gh.Client
	maxRetries int
	retryBase  time.Duration
}

// NewClient creates a GitHub client. apiURL may be empty for github.com; any
// other value is treated as a GitHub Enterprise API root.
func NewClient(token, apiURL string, maxRetries int) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is not set (set github.token or GITHUB_TOKEN)")
	}
	c := newClient(&http.Client{Timeout: 60 * time.Second}, token, maxRetries)
	if apiURL != "" && apiURL != DefaultAPIURL && apiURL != DefaultAPIURL+"/" {
		enterprise, err := c.gh.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("github api url %q: %w", apiURL, err)
		}
		c.gh = enterprise
	}
	return c, nil
}

func newClient(httpClient *http.Client, token string, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		gh:         gh.NewClient(httpClient).WithAuthToken(token),
		maxRetries: maxRetries,
		retryBase:  time.Second,
	}
}

// read runs an idempotent call, retrying ErrUnavailable with backoff.
// Writes go through classify once and are never retried.
func (c *Client) read(ctx context.Context, call func() error) error {
	return upstream.RetryWithBackoff(ctx, c.maxRetries, c.retryBase, func() error {
		return classify(call())
	})
}

// classify maps go-github errors onto the upstream taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &upstream.Error{Service: service, Status: statusOf(rateErr.Response), Kind: upstream.ErrUnavailable, Message: rateErr.Message}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &upstream.Error{Service: service, Status: statusOf(abuseErr.Response), Kind: upstream.ErrUnavailable, Message: abuseErr.Message}
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if classified := upstream.FromResponse(service, respErr.Response, []byte(respErr.Message)); classified != nil {
			return classified
		}
		return upstream.Invalid(service, "%v", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return upstream.Invalid(service, "decoding response: %v", err)
	}
	return upstream.Transport(service, err)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// CurrentUser returns the login of the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var user *gh.User
	err := c.read(ctx, func() (err error) {
		user, _, err = c.gh.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetching current user: %w", err)
	}
	return user.GetLogin(), nil
}

func toRepository(r *gh.Repository) Repository {
	return Repository{
		FullName:      r.GetFullName(),
		Name:          r.GetName(),
		Owner:         r.GetOwner().GetLogin(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		Language:      r.GetLanguage(),
		HTMLURL:       r.GetHTMLURL(),
	}
}

// ListRepositories returns repositories the authenticated user can access,
// most recently updated first.
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: perPage, Page: 1},
	}
	var repos []Repository
	for pages := 0; pages < maxPages; pages++ {
		var (
			batch []*gh.Repository
			resp  *gh.Response
		)
		err := c.read(ctx, func() (err error) {
			batch, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing repositories: %w", err)
		}
		for _, r := range batch {
			repos = append(repos, toRepository(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

// GetRepository returns metadata for owner/repo.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var raw *gh.Repository
	err := c.read(ctx, func() (err error) {
		raw, _, err = c.gh.Repositories.Get(ctx, owner, repo)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching repository %s/%s: %w", owner, repo, err)
	}
	r := toRepository(raw)
	return &r, nil
}

// GetPullRequest returns metadata for a pull request.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr *gh.PullRequest
	err := c.read(ctx, func() (err error) {
		pr, _, err = c.gh.PullRequests.Get(ctx, owner, repo, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching PR #%d in %s/%s: %w", number, owner, repo, err)
	}
	return &PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Author:       pr.GetUser().GetLogin(),
		HeadRef:      pr.GetHead().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseRef:      pr.GetBase().GetRef(),
		ChangedFiles: pr.GetChangedFiles(),
		HTMLURL:      pr.GetHTMLURL(),
	}, nil
}

// GetPullRequestFiles returns every changed file of a pull request in diff order.
func (c *Client) GetPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]PullRequestFile, error) {
	opts := &gh.ListOptions{PerPage: perPage, Page: 1}
	var files []PullRequestFile
	for pages := 0; pages < maxPages; pages++ {
		var (
			batch []*gh.CommitFile
			resp  *gh.Response
		)
		err := c.read(ctx, func() (err error) {
			batch, resp, err = c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetching files of PR #%d: %w", number, err)
		}
		for _, f := range batch {
			files = append(files, PullRequestFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// GetFileContent returns the decoded text of path at ref (default branch when
// ref is empty). A missing file yields an error wrapping upstream.ErrNotFound.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (*FileContent, error) {
	var file *gh.RepositoryContent
	err := c.read(ctx, func() (err error) {
		var opts *gh.RepositoryContentGetOptions
		if ref != "" {
			opts = &gh.RepositoryContentGetOptions{Ref: ref}
		}
		file, _, _, err = c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	if file == nil {
		return nil, upstream.Invalid(service, "%s is a directory, not a file", path)
	}
	if t := file.GetType(); t != "" && t != "file" {
		return nil, upstream.Invalid(service, "%s is a %s, not a file", path, t)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, upstream.Invalid(service, "decoding %s: %v", path, err)
	}
	return &FileContent{Path: path, Content: content, SHA: file.GetSHA()}, nil
}

// GetFileRevisionToken returns the current blob SHA of path at ref.
func (c *Client) GetFileRevisionToken(ctx context.Context, owner, repo, path, ref string) (string, error) {
	fc, err := c.GetFileContent(ctx, owner, repo, path, ref)
	if err != nil {
		return "", err
	}
	return fc.SHA, nil
}

// UpdateFile commits new content for path. expectedSHA must be the blob SHA
// the content was derived from; if the file moved on since, GitHub answers
// 409 and the returned error wraps upstream.ErrConflict.
func (c *Client) UpdateFile(ctx context.Context, owner, repo, path, content, message, expectedSHA, branch string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: []byte(content),
		SHA:     gh.Ptr(expectedSHA),
	}
	if branch != "" {
		opts.Branch = gh.Ptr(branch)
	}
	_, _, err := c.gh.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	if err != nil {
		return fmt.Errorf("updating %s: %w", path, classify(err))
	}
	return nil
}

// CreateReview submits a formal review on a pull request.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, number int, body string, event ReviewEvent) error {
	req := &gh.PullRequestReviewRequest{
		Body:  gh.Ptr(body),
		Event: gh.Ptr(string(event)),
	}
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		return fmt.Errorf("posting review on PR #%d: %w", number, classify(err))
	}
	return nil
}

// MergePullRequest merges a pull request with the given method (merge, squash or rebase).
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error {
	_, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, "", &gh.PullRequestOptions{MergeMethod: method})
	if err != nil {
		return fmt.Errorf("merging PR #%d: %w", number, classify(err))
	}
	return nil
}

func toIssue(i *gh.Issue) Issue {
	return Issue{
		Number: i.GetNumber(),
		Title:  i.GetTitle(),
		Body:   i.GetBody(),
		State:  i.GetState(),
	}
}

// CreateIssue opens an issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	req := &gh.IssueRequest{Title: gh.Ptr(title), Body: gh.Ptr(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	created, _, err := c.gh.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", classify(err))
	}
	issue := toIssue(created)
	return &issue, nil
}

// ListOpenIssues returns open issues, excluding pull requests.
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: perPage, Page: 1},
	}
	var issues []Issue
	for pages := 0; pages < maxPages; pages++ {
		var (
			batch []*gh.Issue
			resp  *gh.Response
		)
		err := c.read(ctx, func() (err error) {
			batch, resp, err = c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, i := range batch {
			if i.IsPullRequest() {
				continue
			}
			issues = append(issues, toIssue(i))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return issues, nil
}

// UpdateIssueState sets an issue's state ("open" or "closed").
func (c *Client) UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error {
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &gh.IssueRequest{State: gh.Ptr(state)})
	if err != nil {
		return fmt.Errorf("updating issue #%d: %w", number, classify(err))
	}
	return nil
}

// AddIssueComment posts a comment on an issue.
func (c *Client) AddIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return fmt.Errorf("commenting on issue #%d: %w", number, classify(err))
	}
	return nil
}
