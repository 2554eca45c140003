// Package explain turns finding categories into the short "what changed and
// why it matters" text used in commit messages and issue comments.
package explain

import (
	"fmt"
	"strings"

	"github.com/joescharf/reviewbot/internal/models"
)

// Explanation describes one kind of fix.
type Explanation struct {
	What string
	Why  string
}

// Generic is used when a finding's category is unknown.
var Generic = Explanation{
	What: "Applied coding-standard fix",
	Why:  "Keeps the code consistent with the project's coding standards.",
}

var byCategory = map[models.Category]Explanation{
	models.CategoryMissingSemicolon: {
		What: "Added missing semicolon",
		Why:  "Explicit statement terminators avoid automatic semicolon insertion surprises.",
	},
	models.CategoryDebugStatement: {
		What: "Removed debug statement",
		Why:  "Debug output leaks internal state and clutters production logs.",
	},
	models.CategoryStrictEquality: {
		What: "Replaced loose equality with strict equality",
		Why:  "=== and !== compare without type coercion, so unexpected matches cannot slip through.",
	},
	models.CategoryErrorHandling: {
		What: "Added error handling",
		Why:  "Unhandled failures crash the caller or fail silently; handling them keeps behavior predictable.",
	},
	models.CategoryUnusedVariable: {
		What: "Renamed unused variable with an underscore prefix",
		Why:  "The naming convention marks the value as intentionally unused and silences lint noise.",
	},
	models.CategoryUnsafeDOMWrite: {
		What: "Replaced unsafe DOM write with a safe alternative",
		Why:  "Writing untrusted strings through innerHTML enables cross-site scripting; textContent does not parse markup.",
	},
	models.CategorySecurity: {
		What: "Fixed security issue",
		Why:  "Closes a path an attacker could use to read or alter data.",
	},
}

// ruleAliases maps well-known linter rule ids to categories. Matching is exact
// (case-insensitive), never by substring.
var ruleAliases = map[string]models.Category{
	"semi":                 models.CategoryMissingSemicolon,
	"missing-semicolon":    models.CategoryMissingSemicolon,
	"no-console":           models.CategoryDebugStatement,
	"no-debugger":          models.CategoryDebugStatement,
	"no-alert":             models.CategoryDebugStatement,
	"debug-statement":      models.CategoryDebugStatement,
	"eqeqeq":               models.CategoryStrictEquality,
	"strict-equality":      models.CategoryStrictEquality,
	"error-handling":       models.CategoryErrorHandling,
	"no-floating-promises": models.CategoryErrorHandling,
	"handle-callback-err":  models.CategoryErrorHandling,
	"errcheck":             models.CategoryErrorHandling,
	"no-unused-vars":       models.CategoryUnusedVariable,
	"unused-variable":      models.CategoryUnusedVariable,
	"no-inner-html":        models.CategoryUnsafeDOMWrite,
	"no-unsanitized":       models.CategoryUnsafeDOMWrite,
	"xss-risk":             models.CategoryUnsafeDOMWrite,
	"unsafe-dom-write":     models.CategoryUnsafeDOMWrite,
	"no-eval":              models.CategorySecurity,
}

// CategoryOf returns f's category, resolving it from the rule id when the
// analyzer left it empty.
func CategoryOf(f models.Finding) models.Category {
	if f.Category != "" {
		return f.Category
	}
	if c, ok := ruleAliases[strings.ToLower(strings.TrimSpace(f.Rule))]; ok {
		return c
	}
	return models.CategoryOther
}

// For returns the explanation for f.
func For(f models.Finding) Explanation {
	if e, ok := byCategory[CategoryOf(f)]; ok {
		return e
	}
	return Generic
}

// Line renders one fix as "Line N: what. why".
func Line(f models.Finding) string {
	e := For(f)
	return fmt.Sprintf("Line %d: %s (%s). %s", f.Line, e.What, f.Message, e.Why)
}
