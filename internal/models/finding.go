package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Severity is the importance level of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Surfaced reports whether findings of this severity reach review bodies,
// tracked state, and fix pipelines. Info findings are dropped after analysis.
func (s Severity) Surfaced() bool {
	return s == SeverityCritical || s == SeverityWarning
}

// ParseSeverity normalizes an analyzer-supplied severity string.
// Unknown values map to info so they never escalate a verdict.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "error", "high":
		return SeverityCritical
	case "warning", "warn", "medium":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Category is the structured kind of problem a finding describes.
type Category string

const (
	CategoryMissingSemicolon Category = "missing-semicolon"
	CategoryDebugStatement   Category = "debug-statement"
	CategoryStrictEquality   Category = "strict-equality"
	CategoryErrorHandling    Category = "error-handling"
	CategoryUnusedVariable   Category = "unused-variable"
	CategoryUnsafeDOMWrite   Category = "unsafe-dom-write"
	CategorySecurity         Category = "security"
	CategoryOther            Category = "other"
)

// Categories lists every category the analyzer may emit.
var Categories = []Category{
	CategoryMissingSemicolon,
	CategoryDebugStatement,
	CategoryStrictEquality,
	CategoryErrorHandling,
	CategoryUnusedVariable,
	CategoryUnsafeDOMWrite,
	CategorySecurity,
	CategoryOther,
}

// ParseCategory returns the matching category, or "" when s is not one of Categories.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return ""
}

// Finding is one issue located at one line of one file.
type Finding struct {
	ID            string   `json:"id,omitempty"`
	File          string   `json:"file"`
	Line          int      `json:"line"`
	Severity      Severity `json:"severity"`
	Rule          string   `json:"rule,omitempty"`
	Category      Category `json:"category,omitempty"`
	Message       string   `json:"message"`
	Suggestion    string   `json:"suggestion,omitempty"`
	OriginalCode  string   `json:"originalCode,omitempty"`
	SuggestedCode string   `json:"suggestedCode,omitempty"`
	Fixable       bool     `json:"fixable"`
}

// Key returns the stable identity of the finding: the explicit ID when set,
// otherwise a hash of file, line, rule (or category) and message.
func (f Finding) Key() string {
	if f.ID != "" {
		return f.ID
	}
	kind := f.Rule
	if kind == "" {
		kind = string(f.Category)
	}
	return shortHash(f.File, strconv.Itoa(f.Line), kind, f.Message)
}

// ContentHash covers every displayed field, so a finding whose suggestion or
// snippets changed hashes differently while keeping the same Key.
func (f Finding) ContentHash() string {
	return shortHash(f.File, strconv.Itoa(f.Line), string(f.Severity), f.Rule, string(f.Category),
		f.Message, f.Suggestion, f.OriginalCode, f.SuggestedCode, strconv.FormatBool(f.Fixable))
}

func shortHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:8])
}

// TrackedFinding is a surfaced finding persisted as unresolved for a repository.
type TrackedFinding struct {
	Finding
	Hash        string    `json:"hash"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Track wraps f with its identity and content hash.
func Track(f Finding) TrackedFinding {
	f.ID = f.Key()
	return TrackedFinding{Finding: f, Hash: f.ContentHash()}
}

// Surfaced returns the findings whose severity is critical or warning,
// preserving order. The input slice is not modified.
func Surfaced(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity.Surfaced() {
			out = append(out, f)
		}
	}
	return out
}

// CountSeverity returns how many findings have the given severity.
func CountSeverity(findings []Finding, sev Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
