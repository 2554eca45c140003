package analyzer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/joescharf/reviewbot/internal/models"
)

// rawFinding is the shape the model is asked to emit for each problem.
type rawFinding struct {
	Line          int    `json:"line" jsonschema:"required,minimum=1,description=1-based line number in the file"`
	Severity      string `json:"severity" jsonschema:"required,enum=critical,enum=warning,enum=info"`
	Rule          string `json:"rule,omitempty" jsonschema:"description=short linter-style rule id such as no-console or eqeqeq"`
	Category      string `json:"category" jsonschema:"required,enum=missing-semicolon,enum=debug-statement,enum=strict-equality,enum=error-handling,enum=unused-variable,enum=unsafe-dom-write,enum=security,enum=other"`
	Message       string `json:"message" jsonschema:"required"`
	Suggestion    string `json:"suggestion,omitempty"`
	OriginalCode  string `json:"originalCode,omitempty"`
	SuggestedCode string `json:"suggestedCode,omitempty"`
	Fixable       bool   `json:"fixable"`
}

type analysisResponse struct {
	Findings []rawFinding `json:"findings" jsonschema:"required"`
}

type fixResponse struct {
	Content string `json:"content" jsonschema:"required,description=the complete corrected file content"`
}

// schemaFor renders T's JSON schema for embedding in a prompt.
func schemaFor[T any]() string {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	data, err := json.MarshalIndent(reflector.Reflect(zero), "", "  ")
	if err != nil {
		panic(fmt.Sprintf("generate schema for %T: %v", zero, err))
	}
	return string(data)
}

var (
	analysisSchema = schemaFor[analysisResponse]()
	fixSchema      = schemaFor[fixResponse]()
)

const reviewRules = `Severity:
- "critical": security holes (XSS, injection, eval), crashes, data loss, unhandled errors on important paths
- "warning": debug statements, loose equality, missing semicolons, unused variables, risky patterns
- "info": style nits and minor suggestions

Rules:
- Set "category" to the closest match from the enum; use "other" when nothing fits
- Set "fixable" to true only when the issue can be fixed mechanically in this file
- "originalCode" and "suggestedCode" are short before/after snippets, not whole files
- Return {"findings": []} when the code has no problems
- Return valid JSON only, no markdown fencing or explanation`

func buildScopedPrompt(content, filename, language string, lines []int) (system string, user string) {
	system = "You are a senior code reviewer. Review ONLY the lines marked with '>' in the numbered file below; " +
		"unmarked lines are context. Return a JSON object matching this schema:\n\n" +
		analysisSchema + "\n\n" + reviewRules

	scoped := make(map[int]bool, len(lines))
	for _, l := range lines {
		scoped[l] = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\nLanguage: %s\nChanged lines: %s\n\n", filename, language, formatLines(lines))
	for i, line := range strings.Split(content, "\n") {
		marker := " "
		if scoped[i+1] {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s%5d | %s\n", marker, i+1, line)
	}
	user = sb.String()
	return
}

func buildFullPrompt(content, filename, language string) (system string, user string) {
	system = "You are a senior code reviewer. Review the whole numbered file below. " +
		"Return a JSON object matching this schema:\n\n" + analysisSchema + "\n\n" + reviewRules

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\nLanguage: %s\n\n", filename, language)
	for i, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&sb, "%5d | %s\n", i+1, line)
	}
	user = sb.String()
	return
}

func buildFixPrompt(content string, findings []models.Finding) (system string, user string) {
	system = "You fix code review findings. Apply the smallest change that resolves each listed finding and " +
		"leave everything else byte-for-byte unchanged, including formatting and trailing newlines. " +
		"Return a JSON object matching this schema:\n\n" + fixSchema + "\n\n" +
		"Return valid JSON only, no markdown fencing or explanation."

	var sb strings.Builder
	sb.WriteString("Findings to fix:\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "- line %d [%s", f.Line, f.Severity)
		if f.Rule != "" {
			fmt.Fprintf(&sb, ", %s", f.Rule)
		}
		fmt.Fprintf(&sb, "] %s", f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(&sb, " (suggestion: %s)", f.Suggestion)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nFile content:\n")
	sb.WriteString(content)
	user = sb.String()
	return
}

func formatLines(lines []int) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprint(l)
	}
	return strings.Join(parts, ", ")
}

// fenceRe captures the body of a response wrapped in a markdown code fence.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches an opening fence whose closing fence was truncated.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// parseFindings decodes a model reply. Both {"findings": [...]} and a bare
// array are accepted.
func parseFindings(raw, filename string) ([]models.Finding, error) {
	text := stripMarkdownFences(raw)

	var resp analysisResponse
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &resp.Findings); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, err
	}

	out := make([]models.Finding, 0, len(resp.Findings))
	for _, r := range resp.Findings {
		if r.Line < 1 || strings.TrimSpace(r.Message) == "" {
			continue
		}
		out = append(out, models.Finding{
			File:          filename,
			Line:          r.Line,
			Severity:      models.ParseSeverity(r.Severity),
			Rule:          strings.TrimSpace(r.Rule),
			Category:      models.ParseCategory(r.Category),
			Message:       strings.TrimSpace(r.Message),
			Suggestion:    strings.TrimSpace(r.Suggestion),
			OriginalCode:  r.OriginalCode,
			SuggestedCode: r.SuggestedCode,
			Fixable:       r.Fixable,
		})
	}
	return out, nil
}

func parseFix(raw string) (string, error) {
	text := stripMarkdownFences(raw)
	var resp fixResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}
