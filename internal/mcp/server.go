package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/store"
)

// Reviewer runs review and fix operations against a hosted repository.
type Reviewer interface {
	ReviewPullRequest(ctx context.Context, owner, repo string, number int) (*models.ReviewOutcome, error)
	ReviewMainBranch(ctx context.Context, owner, repo string) (*models.ReviewOutcome, error)
	FixAll(ctx context.Context, owner, repo string) (*models.FixOutcome, error)
	FixOne(ctx context.Context, owner, repo, id string) (*models.FixOutcome, error)
}

// Server exposes the review store and pipeline as MCP tools.
type Server struct {
	store    store.Store
	reviewer Reviewer
	version  string
}

// NewServer creates the MCP server wrapper. reviewer may be nil, in which
// case only the read-only tools succeed.
func NewServer(s store.Store, reviewer Reviewer, version string) *Server {
	return &Server{store: s, reviewer: reviewer, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("reviewbot", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listReposTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.listUnresolvedTool())
	srv.AddTool(s.fixHistoryTool())
	srv.AddTool(s.reviewPRTool())
	srv.AddTool(s.scanBranchTool())
	srv.AddTool(s.fixTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Read-only tools
// ---------------------------------------------------------------------------

// reviewbot_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_list_repos",
		mcp.WithDescription("List every repository reviewbot has state for, with unresolved finding counts, the last verdict and fix totals. Returns a JSON array."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.RepoStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load repository stats: %v", err)), nil
	}
	if stats == nil {
		stats = []*models.RepoStats{}
	}
	return jsonResult(stats)
}

// reviewbot_get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_get_review",
		mcp.WithDescription("Get the most recent review outcome for a repository: kind (pull_request or main_branch), verdict, status (in_review/completed), findings and per-file changes."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}
	outcome, err := s.store.GetReviewOutcome(ctx, github.FullName(owner, repo))
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no review recorded for %s", github.FullName(owner, repo))), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load review: %v", err)), nil
	}
	return jsonResult(outcome)
}

// reviewbot_list_unresolved
func (s *Server) listUnresolvedTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_list_unresolved",
		mcp.WithDescription("List unresolved findings for a repository, critical first. Each finding has id, hash, file, line, severity, rule, category, message and optional suggestion. Pass an id or hash to reviewbot_fix to fix a single finding."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		mcp.WithString("severity", mcp.Description("Severity filter: critical or warning")),
		mcp.WithString("file", mcp.Description("Only findings in this file path")),
	)
	return tool, s.handleListUnresolved
}

func (s *Server) handleListUnresolved(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}
	severity := request.GetString("severity", "")
	file := request.GetString("file", "")

	findings, err := s.store.GetUnresolved(ctx, github.FullName(owner, repo))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list unresolved findings: %v", err)), nil
	}

	out := make([]models.TrackedFinding, 0, len(findings))
	for _, f := range findings {
		if severity != "" && string(f.Severity) != severity {
			continue
		}
		if file != "" && f.File != file {
			continue
		}
		out = append(out, f)
	}
	return jsonResult(out)
}

// reviewbot_fix_history
func (s *Server) fixHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_fix_history",
		mcp.WithDescription("List past fix runs for a repository, newest first, with fixed files, conflicts and failures."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 10)")),
	)
	return tool, s.handleFixHistory
}

func (s *Server) handleFixHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}
	limit := request.GetInt("limit", 10)

	fixes, err := s.store.ListFixOutcomes(ctx, github.FullName(owner, repo), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list fix history: %v", err)), nil
	}
	if fixes == nil {
		fixes = []*models.FixOutcome{}
	}
	return jsonResult(fixes)
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// reviewbot_review_pr
func (s *Server) reviewPRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_review_pr",
		mcp.WithDescription("Review a pull request: analyze changed lines, post a review with a verdict, and record unresolved findings. Returns the review outcome."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handleReviewPR
}

func (s *Server) handleReviewPR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.reviewer == nil {
		return notConfigured(), nil
	}
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}
	number, err := request.RequireInt("number")
	if err != nil || number <= 0 {
		return mcp.NewToolResultError("missing or invalid parameter: number"), nil
	}

	outcome, err := s.reviewer.ReviewPullRequest(ctx, owner, repo, number)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review failed: %v", err)), nil
	}
	return jsonResult(outcome)
}

// reviewbot_scan_branch
func (s *Server) scanBranchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_scan_branch",
		mcp.WithDescription("Scan the configured files on the repository's default branch and open or update a tracking issue when findings are found."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
	)
	return tool, s.handleScanBranch
}

func (s *Server) handleScanBranch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.reviewer == nil {
		return notConfigured(), nil
	}
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}

	outcome, err := s.reviewer.ReviewMainBranch(ctx, owner, repo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}
	return jsonResult(outcome)
}

// reviewbot_fix
func (s *Server) fixTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("reviewbot_fix",
		mcp.WithDescription("Apply AI fixes for unresolved findings and commit them. With no id, every unresolved finding is fixed. Files changed since the review are reported as conflicts and left unresolved."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		mcp.WithString("id", mcp.Description("Finding id or hash to fix a single finding")),
	)
	return tool, s.handleFix
}

func (s *Server) handleFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.reviewer == nil {
		return notConfigured(), nil
	}
	owner, repo, errResult := repoArg(request)
	if errResult != nil {
		return errResult, nil
	}

	var (
		outcome *models.FixOutcome
		err     error
	)
	if id := strings.TrimSpace(request.GetString("id", "")); id != "" {
		outcome, err = s.reviewer.FixOne(ctx, owner, repo, id)
	} else {
		outcome, err = s.reviewer.FixAll(ctx, owner, repo)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fix failed: %v", err)), nil
	}
	return jsonResult(outcome)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func repoArg(request mcp.CallToolRequest) (owner, repo string, errResult *mcp.CallToolResult) {
	full, err := request.RequireString("repo")
	if err != nil {
		return "", "", mcp.NewToolResultError("missing required parameter: repo")
	}
	owner, repo, err = github.ParseFullName(full)
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	return owner, repo, nil
}

func notConfigured() *mcp.CallToolResult {
	return mcp.NewToolResultError("review operations are not configured: set github.token and an analyzer api key")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
