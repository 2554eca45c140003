package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/pipeline"
	"github.com/joescharf/reviewbot/internal/store"
	"github.com/joescharf/reviewbot/internal/upstream"
)

type fakeReviewer struct {
	err      error
	prCalls  []int
	scans    int
	fixAll   int
	selected []string
}

func (f *fakeReviewer) ReviewPullRequest(_ context.Context, owner, repo string, number int) (*models.ReviewOutcome, error) {
	f.prCalls = append(f.prCalls, number)
	if f.err != nil {
		return nil, f.err
	}
	o := &models.ReviewOutcome{Repo: owner + "/" + repo, Kind: models.ReviewKindPullRequest, PRNumber: number, Verdict: models.VerdictApprove}
	o.SetFindings([]models.Finding{})
	return o, nil
}

func (f *fakeReviewer) ReviewMainBranch(_ context.Context, owner, repo string) (*models.ReviewOutcome, error) {
	f.scans++
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReviewOutcome{Repo: owner + "/" + repo, Kind: models.ReviewKindMainBranch, BranchLabel: "main"}, nil
}

func (f *fakeReviewer) FixSelected(_ context.Context, owner, repo string, keys []string) (*models.FixOutcome, error) {
	f.selected = keys
	if f.err != nil {
		return nil, f.err
	}
	return &models.FixOutcome{Repo: owner + "/" + repo, Success: true, FixedIssues: len(keys)}, nil
}

func (f *fakeReviewer) FixAll(_ context.Context, owner, repo string) (*models.FixOutcome, error) {
	f.fixAll++
	if f.err != nil {
		return nil, f.err
	}
	return &models.FixOutcome{Repo: owner + "/" + repo, Success: true, AlreadyFixed: true}, nil
}

func setupTestServer(t *testing.T) (*Server, store.Store, *fakeReviewer) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	rv := &fakeReviewer{}
	return NewServer(s, rv, "test"), s, rv
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seedUnresolved(t *testing.T, s store.Store) []models.TrackedFinding {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SetUnresolved(ctx, "acme/web", []models.Finding{
		{File: "a.js", Line: 2, Severity: models.SeverityWarning, Rule: "no-console", Message: "console.log left in"},
		{File: "b.js", Line: 5, Severity: models.SeverityCritical, Rule: "eqeqeq", Message: "loose equality"},
	}))
	tracked, err := s.GetUnresolved(ctx, "acme/web")
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	return tracked
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["reviewing"])
}

func TestCORS(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := do(t, srv.Router(), "OPTIONS", "/api/v1/stats", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListReviews_EmptyIsArray(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/api/v1/reviews", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetReview(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "GET", "/api/v1/repos/acme/web/review", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	o := &models.ReviewOutcome{Kind: models.ReviewKindPullRequest, PRNumber: 7, Verdict: models.VerdictComment}
	o.SetFindings([]models.Finding{{File: "a.js", Line: 1, Severity: models.SeverityWarning, Message: "w"}})
	require.NoError(t, s.RecordReviewOutcome(context.Background(), "acme/web", o))

	w = do(t, router, "GET", "/api/v1/repos/acme/web/review", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got models.ReviewOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.PRNumber)
	assert.Equal(t, 1, got.IssuesFound)
}

func TestListUnresolved(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	seedUnresolved(t, s)

	w := do(t, srv.Router(), "GET", "/api/v1/repos/acme/web/unresolved", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got []models.TrackedFinding
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, models.SeverityCritical, got[0].Severity)
}

func TestDismissFinding(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	router := srv.Router()
	tracked := seedUnresolved(t, s)
	ctx := context.Background()

	o := &models.ReviewOutcome{Kind: models.ReviewKindMainBranch}
	o.SetFindings([]models.Finding{tracked[0].Finding, tracked[1].Finding})
	require.NoError(t, s.RecordReviewOutcome(ctx, "acme/web", o))

	w := do(t, router, "DELETE", "/api/v1/repos/acme/web/unresolved/"+tracked[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, "DELETE", "/api/v1/repos/acme/web/unresolved/"+tracked[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "DELETE", "/api/v1/repos/acme/web/unresolved/"+tracked[1].Hash, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	review, err := s.GetReviewOutcome(ctx, "acme/web")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, review.Status)
}

func TestListFixes(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordFixOutcome(ctx, "acme/web", &models.FixOutcome{Success: true, FixedIssues: i}))
	}

	w := do(t, router, "GET", "/api/v1/repos/acme/web/fixes?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got []models.FixOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = do(t, router, "GET", "/api/v1/repos/acme/web/fixes?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	seedUnresolved(t, s)

	w := do(t, srv.Router(), "GET", "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got []models.RepoStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "acme/web", got[0].Repo)
	assert.Equal(t, 2, got[0].Unresolved)
	assert.Equal(t, 1, got[0].Critical)
}

func TestReviewPullRequest(t *testing.T) {
	srv, _, rv := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/repos/acme/web/pulls/7/review", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{7}, rv.prCalls)

	var got models.ReviewOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.VerdictApprove, got.Verdict)

	w = do(t, router, "POST", "/api/v1/repos/acme/web/pulls/zero/review", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, rv.prCalls, 1)
}

func TestScan(t *testing.T) {
	srv, _, rv := setupTestServer(t)
	w := do(t, srv.Router(), "POST", "/api/v1/repos/acme/web/scan", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rv.scans)
}

func TestFix_AllWhenNoIDs(t *testing.T) {
	srv, _, rv := setupTestServer(t)
	w := do(t, srv.Router(), "POST", "/api/v1/repos/acme/web/fix", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rv.fixAll)
	assert.Nil(t, rv.selected)
}

func TestFix_SelectedIDs(t *testing.T) {
	srv, s, rv := setupTestServer(t)
	router := srv.Router()
	tracked := seedUnresolved(t, s)

	body, _ := json.Marshal(fixRequest{IDs: []string{tracked[1].Hash}})
	w := do(t, router, "POST", "/api/v1/repos/acme/web/fix", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{tracked[1].Hash}, rv.selected)
	assert.Zero(t, rv.fixAll)

	rv.err = fmt.Errorf("nope in acme/web: %w", pipeline.ErrFindingNotFound)
	body, _ = json.Marshal(fixRequest{IDs: []string{"nope"}})
	w = do(t, router, "POST", "/api/v1/repos/acme/web/fix", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	rv.err = nil

	w = do(t, router, "POST", "/api/v1/repos/acme/web/fix", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &upstream.Error{Service: "github", Status: 404, Kind: upstream.ErrNotFound}, http.StatusNotFound},
		{"conflict", &upstream.Error{Service: "github", Status: 409, Kind: upstream.ErrConflict}, http.StatusConflict},
		{"auth", &upstream.Error{Service: "github", Status: 401, Kind: upstream.ErrAuth}, http.StatusBadGateway},
		{"unavailable", &upstream.Error{Service: "anthropic", Status: 503, Kind: upstream.ErrUnavailable}, http.StatusBadGateway},
		{"store", store.ErrNotFound, http.StatusNotFound},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, rv := setupTestServer(t)
			rv.err = tt.err
			w := do(t, srv.Router(), "POST", "/api/v1/repos/acme/web/scan", nil)
			assert.Equal(t, tt.want, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestOperations_WithoutReviewer(t *testing.T) {
	_, s, _ := setupTestServer(t)
	srv := NewServer(s, nil, "test")
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/repos/acme/web/scan", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, router, "GET", "/api/v1/reviews", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
