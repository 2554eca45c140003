package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/reviewbot/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a repository has no stored record.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db    *sql.DB
	locks *keyedMutex
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, locks: newKeyedMutex()}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withRepoTx runs fn in a transaction while holding the repository's lock.
func (s *SQLiteStore) withRepoTx(ctx context.Context, repo string, fn func(tx *sql.Tx) error) error {
	unlock := s.locks.Lock(repo)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// --- Unresolved findings ---

const findingColumns = `id, hash, file, line, severity, rule, category, message, suggestion, original_code, suggested_code, fixable, first_seen_at, last_seen_at`

func loadUnresolved(ctx context.Context, q queryer, repo string) ([]models.TrackedFinding, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+findingColumns+` FROM unresolved_findings WHERE repo = ?
		ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, file, line, id`, repo)
	if err != nil {
		return nil, fmt.Errorf("list unresolved findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TrackedFinding
	for rows.Next() {
		var tf models.TrackedFinding
		var severity, category string
		if err := rows.Scan(&tf.ID, &tf.Hash, &tf.File, &tf.Line, &severity, &tf.Rule, &category,
			&tf.Message, &tf.Suggestion, &tf.OriginalCode, &tf.SuggestedCode, &tf.Fixable,
			&tf.FirstSeenAt, &tf.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		tf.Severity = models.Severity(severity)
		tf.Category = models.Category(category)
		out = append(out, tf)
	}
	return out, rows.Err()
}

// replaceUnresolved swaps the repository's unresolved set for findings.
// Findings already present keep their first-seen time.
func replaceUnresolved(ctx context.Context, tx *sql.Tx, repo string, current []models.TrackedFinding, findings []models.Finding) error {
	firstSeen := make(map[string]time.Time, len(current))
	for _, tf := range current {
		firstSeen[tf.ID] = tf.FirstSeenAt
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM unresolved_findings WHERE repo = ?", repo); err != nil {
		return fmt.Errorf("clear unresolved findings: %w", err)
	}

	now := time.Now().UTC()
	for _, f := range findings {
		if !f.Severity.Surfaced() {
			continue
		}
		tf := models.Track(f)
		first, ok := firstSeen[tf.ID]
		if !ok {
			first = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO unresolved_findings (repo, `+findingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repo, tf.ID, tf.Hash, tf.File, tf.Line, string(tf.Severity), tf.Rule, string(tf.Category),
			tf.Message, tf.Suggestion, tf.OriginalCode, tf.SuggestedCode, boolToInt(tf.Fixable),
			first, now,
		)
		if err != nil {
			return fmt.Errorf("insert finding %s: %w", tf.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetUnresolved(ctx context.Context, repo string) ([]models.TrackedFinding, error) {
	return loadUnresolved(ctx, s.db, repo)
}

func (s *SQLiteStore) SetUnresolved(ctx context.Context, repo string, findings []models.Finding) error {
	return s.UpdateUnresolved(ctx, repo, func([]models.TrackedFinding) []models.Finding {
		return findings
	})
}

// UpdateUnresolved reads the current set and writes fn's result in a single
// transaction under the repository lock.
func (s *SQLiteStore) UpdateUnresolved(ctx context.Context, repo string, fn UnresolvedUpdate) error {
	return s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		current, err := loadUnresolved(ctx, tx, repo)
		if err != nil {
			return err
		}
		return replaceUnresolved(ctx, tx, repo, current, fn(current))
	})
}

// RemoveResolved deletes findings whose id or content hash is listed.
func (s *SQLiteStore) RemoveResolved(ctx context.Context, repo string, idsOrHashes []string) (int64, error) {
	if len(idsOrHashes) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		var err error
		removed, err = removeFindings(ctx, tx, repo, idsOrHashes)
		return err
	})
	return removed, err
}

func removeFindings(ctx context.Context, tx *sql.Tx, repo string, idsOrHashes []string) (int64, error) {
	if len(idsOrHashes) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(idsOrHashes))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{repo}
	for _, v := range idsOrHashes {
		args = append(args, v)
	}
	for _, v := range idsOrHashes {
		args = append(args, v)
	}

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM unresolved_findings WHERE repo = ? AND (id IN (%s) OR hash IN (%s))", placeholders, placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("remove resolved findings: %w", err)
	}
	return result.RowsAffected()
}

func countUnresolved(ctx context.Context, tx *sql.Tx, repo string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM unresolved_findings WHERE repo = ?", repo).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unresolved findings: %w", err)
	}
	return n, nil
}

// completeIfResolved marks the stored outcome completed when the repository
// has no unresolved findings left, and reports whether the set was empty.
func completeIfResolved(ctx context.Context, tx *sql.Tx, repo string) (bool, error) {
	n, err := countUnresolved(ctx, tx, repo)
	if err != nil || n > 0 {
		return false, err
	}
	_, err = tx.ExecContext(ctx, "UPDATE review_outcomes SET status = ?, updated_at = ? WHERE repo = ? AND status != ?",
		string(models.ReviewStatusCompleted), time.Now().UTC(), repo, string(models.ReviewStatusCompleted))
	if err != nil {
		return false, fmt.Errorf("mark review completed: %w", err)
	}
	return true, nil
}

// --- Review outcomes ---

const reviewColumns = `id, repo, kind, pr_number, title, author, branch_label, files_changed, issues_found, critical_issues, verdict, auto_merged, is_own_pr, issue_number, status, findings_json, file_changes_json, reviewed_at, updated_at`

// RecordReviewOutcome upserts the repository's single review outcome as given.
func (s *SQLiteStore) RecordReviewOutcome(ctx context.Context, repo string, o *models.ReviewOutcome) error {
	return s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		return upsertReviewOutcome(ctx, tx, repo, o)
	})
}

// SaveReview replaces the unresolved set with fn's result and upserts the
// outcome in one transaction. The outcome's status is derived from the
// resulting set: completed when it is empty, in review otherwise.
func (s *SQLiteStore) SaveReview(ctx context.Context, repo string, o *models.ReviewOutcome, fn UnresolvedUpdate) error {
	return s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		current, err := loadUnresolved(ctx, tx, repo)
		if err != nil {
			return err
		}
		if err := replaceUnresolved(ctx, tx, repo, current, fn(current)); err != nil {
			return err
		}
		n, err := countUnresolved(ctx, tx, repo)
		if err != nil {
			return err
		}
		if n == 0 {
			o.Status = models.ReviewStatusCompleted
		} else {
			o.Status = models.ReviewStatusInReview
		}
		return upsertReviewOutcome(ctx, tx, repo, o)
	})
}

func upsertReviewOutcome(ctx context.Context, tx *sql.Tx, repo string, o *models.ReviewOutcome) error {
	if o.ID == "" {
		o.ID = newULID()
	}
	o.Repo = repo
	now := time.Now().UTC()
	if o.ReviewedAt.IsZero() {
		o.ReviewedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.ReviewStatusInReview
	}

	findingsJSON, err := json.Marshal(nonNil(o.Findings))
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	changesJSON, err := json.Marshal(nonNil(o.FileChanges))
	if err != nil {
		return fmt.Errorf("marshal file changes: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_outcomes (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			id=excluded.id, kind=excluded.kind, pr_number=excluded.pr_number, title=excluded.title,
			author=excluded.author, branch_label=excluded.branch_label, files_changed=excluded.files_changed,
			issues_found=excluded.issues_found, critical_issues=excluded.critical_issues, verdict=excluded.verdict,
			auto_merged=excluded.auto_merged, is_own_pr=excluded.is_own_pr, issue_number=excluded.issue_number,
			status=excluded.status, findings_json=excluded.findings_json, file_changes_json=excluded.file_changes_json,
			reviewed_at=excluded.reviewed_at, updated_at=excluded.updated_at`,
		o.ID, repo, string(o.Kind), o.PRNumber, o.Title, o.Author, o.BranchLabel, o.FilesChanged,
		o.IssuesFound, o.CriticalIssues, string(o.Verdict), boolToInt(o.AutoMerged), boolToInt(o.IsOwnPR),
		o.IssueNumber, string(o.Status), string(findingsJSON), string(changesJSON), o.ReviewedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record review outcome: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReviewOutcome(row rowScanner) (*models.ReviewOutcome, error) {
	o := &models.ReviewOutcome{}
	var kind, verdict, status, findingsJSON, changesJSON string
	if err := row.Scan(&o.ID, &o.Repo, &kind, &o.PRNumber, &o.Title, &o.Author, &o.BranchLabel, &o.FilesChanged,
		&o.IssuesFound, &o.CriticalIssues, &verdict, &o.AutoMerged, &o.IsOwnPR, &o.IssueNumber, &status,
		&findingsJSON, &changesJSON, &o.ReviewedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Kind = models.ReviewKind(kind)
	o.Verdict = models.Verdict(verdict)
	o.Status = models.ReviewStatus(status)
	if err := json.Unmarshal([]byte(findingsJSON), &o.Findings); err != nil {
		return nil, fmt.Errorf("parse findings: %w", err)
	}
	if err := json.Unmarshal([]byte(changesJSON), &o.FileChanges); err != nil {
		return nil, fmt.Errorf("parse file changes: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) GetReviewOutcome(ctx context.Context, repo string) (*models.ReviewOutcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_outcomes WHERE repo = ?`, repo)
	o, err := scanReviewOutcome(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review outcome for %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get review outcome: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) ListReviewOutcomes(ctx context.Context) ([]*models.ReviewOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM review_outcomes ORDER BY updated_at DESC, repo`)
	if err != nil {
		return nil, fmt.Errorf("list review outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ReviewOutcome
	for rows.Next() {
		o, err := scanReviewOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CompleteIfResolved marks the stored outcome completed when the repository
// has no unresolved findings, checking and updating under one transaction. It
// reports whether the unresolved set was empty. A repository without a stored
// outcome is left alone.
func (s *SQLiteStore) CompleteIfResolved(ctx context.Context, repo string) (bool, error) {
	var done bool
	err := s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		var err error
		done, err = completeIfResolved(ctx, tx, repo)
		return err
	})
	return done, err
}

// --- Fix history ---

const fixColumns = `id, repo, success, already_fixed, partial, fixed_issues, fixed_files_json, fix_details_json, conflicts_json, failed_json, closed_issues_json, created_at`

func (s *SQLiteStore) RecordFixOutcome(ctx context.Context, repo string, o *models.FixOutcome) error {
	return s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		return insertFixOutcome(ctx, tx, repo, o)
	})
}

// ApplyFix removes the resolved findings, appends the fix outcome and
// completes the stored review when nothing is left unresolved, all in one
// transaction.
func (s *SQLiteStore) ApplyFix(ctx context.Context, repo string, resolved []string, o *models.FixOutcome) error {
	return s.withRepoTx(ctx, repo, func(tx *sql.Tx) error {
		if _, err := removeFindings(ctx, tx, repo, resolved); err != nil {
			return err
		}
		if err := insertFixOutcome(ctx, tx, repo, o); err != nil {
			return err
		}
		_, err := completeIfResolved(ctx, tx, repo)
		return err
	})
}

func insertFixOutcome(ctx context.Context, tx *sql.Tx, repo string, o *models.FixOutcome) error {
	if o.ID == "" {
		o.ID = newULID()
	}
	o.Repo = repo
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	encoded := make([]string, 5)
	for i, v := range []any{nonNil(o.FixedFiles), nonNil(o.FixDetails), nonNil(o.Conflicts), nonNil(o.Failed), nonNil(o.ClosedIssues)} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal fix outcome: %w", err)
		}
		encoded[i] = string(data)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO fix_outcomes (`+fixColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, repo, boolToInt(o.Success), boolToInt(o.AlreadyFixed), boolToInt(o.Partial), o.FixedIssues,
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4], o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record fix outcome: %w", err)
	}
	return nil
}

// ListFixOutcomes returns the repository's fix history, newest first.
// A limit of zero or less returns everything.
func (s *SQLiteStore) ListFixOutcomes(ctx context.Context, repo string, limit int) ([]*models.FixOutcome, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fixColumns+` FROM fix_outcomes WHERE repo = ? ORDER BY created_at DESC, id DESC LIMIT ?`, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("list fix outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.FixOutcome
	for rows.Next() {
		o := &models.FixOutcome{}
		var files, details, conflicts, failed, closed string
		if err := rows.Scan(&o.ID, &o.Repo, &o.Success, &o.AlreadyFixed, &o.Partial, &o.FixedIssues,
			&files, &details, &conflicts, &failed, &closed, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fix outcome: %w", err)
		}
		for _, pair := range []struct {
			raw    string
			target any
		}{
			{files, &o.FixedFiles}, {details, &o.FixDetails}, {conflicts, &o.Conflicts},
			{failed, &o.Failed}, {closed, &o.ClosedIssues},
		} {
			if err := json.Unmarshal([]byte(pair.raw), pair.target); err != nil {
				return nil, fmt.Errorf("parse fix outcome %s: %w", o.ID, err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Stats ---

// RepoStats aggregates unresolved findings, review outcomes and fix history
// per repository, ordered by repository name.
func (s *SQLiteStore) RepoStats(ctx context.Context) ([]*models.RepoStats, error) {
	stats := make(map[string]*models.RepoStats)
	get := func(repo string) *models.RepoStats {
		st, ok := stats[repo]
		if !ok {
			st = &models.RepoStats{Repo: repo}
			stats[repo] = st
		}
		return st
	}

	rows, err := s.db.QueryContext(ctx, `SELECT repo, severity, COUNT(*) FROM unresolved_findings GROUP BY repo, severity`)
	if err != nil {
		return nil, fmt.Errorf("count unresolved findings: %w", err)
	}
	for rows.Next() {
		var repo, severity string
		var n int
		if err := rows.Scan(&repo, &severity, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan unresolved count: %w", err)
		}
		st := get(repo)
		st.Unresolved += n
		switch models.Severity(severity) {
		case models.SeverityCritical:
			st.Critical += n
		case models.SeverityWarning:
			st.Warnings += n
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	outcomes, err := s.ListReviewOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		st := get(o.Repo)
		st.LastVerdict = o.Verdict
		st.LastStatus = o.Status
		reviewed := o.ReviewedAt
		st.LastReviewedAt = &reviewed
	}

	rows, err = s.db.QueryContext(ctx, `SELECT repo, fixed_issues, created_at FROM fix_outcomes`)
	if err != nil {
		return nil, fmt.Errorf("list fix history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var repo string
		var fixed int
		var created time.Time
		if err := rows.Scan(&repo, &fixed, &created); err != nil {
			return nil, fmt.Errorf("scan fix history: %w", err)
		}
		st := get(repo)
		st.FixRuns++
		st.FindingsFixed += fixed
		if st.LastFixedAt == nil || created.After(*st.LastFixedAt) {
			c := created
			st.LastFixedAt = &c
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.RepoStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out, nil
}

// nonNil keeps JSON columns as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
