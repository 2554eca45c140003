package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/pipeline"
	"github.com/joescharf/reviewbot/internal/store"
	"github.com/joescharf/reviewbot/internal/upstream"
)

// Reviewer runs review and fix operations. *pipeline.Pipeline implements it.
type Reviewer interface {
	ReviewPullRequest(ctx context.Context, owner, repo string, number int) (*models.ReviewOutcome, error)
	ReviewMainBranch(ctx context.Context, owner, repo string) (*models.ReviewOutcome, error)
	FixAll(ctx context.Context, owner, repo string) (*models.FixOutcome, error)
	FixSelected(ctx context.Context, owner, repo string, keys []string) (*models.FixOutcome, error)
}

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	reviewer Reviewer
	version  string
}

// NewServer creates a new API server.
// The reviewer may be nil when no GitHub token or analyzer is configured; the
// read-only endpoints still work.
func NewServer(s store.Store, reviewer Reviewer, version string) *Server {
	return &Server{store: s, reviewer: reviewer, version: version}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("GET /api/v1/stats", s.stats)
	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)

	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/review", s.getReview)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/unresolved", s.listUnresolved)
	mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}/unresolved/{id}", s.dismissFinding)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/fixes", s.listFixes)

	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/pulls/{number}/review", s.reviewPullRequest)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/scan", s.scanBranch)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/fix", s.fix)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, upstream.ErrNotFound), errors.Is(err, pipeline.ErrFindingNotFound):
		return http.StatusNotFound
	case errors.Is(err, upstream.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, upstream.ErrAuth), errors.Is(err, upstream.ErrUnavailable), errors.Is(err, upstream.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func repoName(r *http.Request) (owner, repo, fullName string) {
	owner, repo = r.PathValue("owner"), r.PathValue("repo")
	return owner, repo, github.FullName(owner, repo)
}

func (s *Server) requireReviewer(w http.ResponseWriter) bool {
	if s.reviewer == nil {
		writeError(w, http.StatusServiceUnavailable, "review operations are not configured (set github.token and an analyzer api key)")
		return false
	}
	return true
}

// --- Read endpoints ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"reviewing": s.reviewer != nil,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.RepoStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.store.ListReviewOutcomes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []*models.ReviewOutcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	_, _, fullName := repoName(r)
	outcome, err := s.store.GetReviewOutcome(r.Context(), fullName)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) listUnresolved(w http.ResponseWriter, r *http.Request) {
	_, _, fullName := repoName(r)
	findings, err := s.store.GetUnresolved(r.Context(), fullName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if findings == nil {
		findings = []models.TrackedFinding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

// dismissFinding marks one finding resolved without changing any code.
func (s *Server) dismissFinding(w http.ResponseWriter, r *http.Request) {
	_, _, fullName := repoName(r)
	id := r.PathValue("id")
	n, err := s.store.RemoveResolved(r.Context(), fullName, []string{id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "finding not found: "+id)
		return
	}
	if _, err := s.store.CompleteIfResolved(r.Context(), fullName); err != nil {
		slog.Warn("failed to complete review", "repo", fullName, "error", err)
	}
	slog.Info("finding dismissed", "repo", fullName, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFixes(w http.ResponseWriter, r *http.Request) {
	_, _, fullName := repoName(r)
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	fixes, err := s.store.ListFixOutcomes(r.Context(), fullName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fixes == nil {
		fixes = []*models.FixOutcome{}
	}
	writeJSON(w, http.StatusOK, fixes)
}

// --- Operations ---

func (s *Server) reviewPullRequest(w http.ResponseWriter, r *http.Request) {
	if !s.requireReviewer(w) {
		return
	}
	owner, repo, fullName := repoName(r)
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pull request number")
		return
	}

	outcome, err := s.reviewer.ReviewPullRequest(r.Context(), owner, repo, number)
	if err != nil {
		slog.Error("pull request review failed", "repo", fullName, "pr", number, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) scanBranch(w http.ResponseWriter, r *http.Request) {
	if !s.requireReviewer(w) {
		return
	}
	owner, repo, fullName := repoName(r)

	outcome, err := s.reviewer.ReviewMainBranch(r.Context(), owner, repo)
	if err != nil {
		slog.Error("branch scan failed", "repo", fullName, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type fixRequest struct {
	IDs []string `json:"ids"`
}

// fix applies AI fixes to the listed unresolved findings, or to all of them
// when no ids are given.
func (s *Server) fix(w http.ResponseWriter, r *http.Request) {
	if !s.requireReviewer(w) {
		return
	}
	owner, repo, fullName := repoName(r)

	var req fixRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	var (
		outcome *models.FixOutcome
		err     error
	)
	if len(req.IDs) == 0 {
		outcome, err = s.reviewer.FixAll(r.Context(), owner, repo)
	} else {
		outcome, err = s.reviewer.FixSelected(r.Context(), owner, repo, req.IDs)
	}
	if err != nil {
		slog.Error("fix failed", "repo", fullName, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
