// Package analyzer asks an LLM backend to review source files and to rewrite
// them with findings fixed.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/reviewbot/internal/models"
	"github.com/joescharf/reviewbot/internal/upstream"
)

const (
	service = "analyzer"

	DefaultMaxTokens = 8192
)

// Options tunes calls made to the provider.
type Options struct {
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

// Analyzer implements the code analysis contract over a Provider.
type Analyzer struct {
	provider    Provider
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// New wraps p. Zero options fall back to defaults.
func New(p Provider, opts Options) *Analyzer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Analyzer{
		provider:    p,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}
}

// AnalyzeScoped reviews only the given lines of content. Findings the model
// reports outside those lines are discarded. No lines means no call.
func (a *Analyzer) AnalyzeScoped(ctx context.Context, content, filename, language string, lines []int) ([]models.Finding, error) {
	if len(lines) == 0 {
		return []models.Finding{}, nil
	}
	system, user := buildScopedPrompt(content, filename, language, lines)
	findings, err := a.analyze(ctx, system, user, filename)
	if err != nil {
		return nil, err
	}

	scoped := make(map[int]bool, len(lines))
	for _, l := range lines {
		scoped[l] = true
	}
	out := findings[:0]
	for _, f := range findings {
		if scoped[f.Line] {
			out = append(out, f)
		} else {
			a.logger.Debug("dropping out-of-scope finding", "file", filename, "line", f.Line)
		}
	}
	return out, nil
}

// AnalyzeFull reviews the whole of content.
func (a *Analyzer) AnalyzeFull(ctx context.Context, content, filename, language string) ([]models.Finding, error) {
	system, user := buildFullPrompt(content, filename, language)
	return a.analyze(ctx, system, user, filename)
}

// Fix returns content rewritten so the findings are resolved. With no
// findings content is returned unchanged.
func (a *Analyzer) Fix(ctx context.Context, content string, findings []models.Finding) (string, error) {
	if len(findings) == 0 {
		return content, nil
	}
	system, user := buildFixPrompt(content, findings)

	raw, err := a.provider.Complete(ctx, system, user, a.maxTokens, a.temperature)
	if err != nil {
		return "", fmt.Errorf("fix %s: %w", findings[0].File, err)
	}
	fixed, perr := parseFix(raw)
	if perr != nil {
		raw, err = a.provider.Complete(ctx, system, buildRepairPrompt(user, raw, perr), a.maxTokens, a.temperature)
		if err != nil {
			return "", fmt.Errorf("fix %s: repair: %w", findings[0].File, err)
		}
		if fixed, perr = parseFix(raw); perr != nil {
			return "", upstream.Invalid(service, "unparseable fix for %s: %v", findings[0].File, perr)
		}
	}
	if strings.TrimSpace(fixed) == "" && strings.TrimSpace(content) != "" {
		return "", upstream.Invalid(service, "empty fix returned for %s", findings[0].File)
	}
	return fixed, nil
}

// analyze calls the provider and parses findings, allowing one repair round
// when the first reply is not valid JSON.
func (a *Analyzer) analyze(ctx context.Context, system, user, filename string) ([]models.Finding, error) {
	raw, err := a.provider.Complete(ctx, system, user, a.maxTokens, a.temperature)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filename, err)
	}
	findings, perr := parseFindings(raw, filename)
	if perr == nil {
		return findings, nil
	}

	a.logger.Warn("analyzer reply was not valid JSON, retrying once", "file", filename, "error", perr)
	raw, err = a.provider.Complete(ctx, system, buildRepairPrompt(user, raw, perr), a.maxTokens, a.temperature)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: repair: %w", filename, err)
	}
	findings, perr = parseFindings(raw, filename)
	if perr != nil {
		return nil, upstream.Invalid(service, "unparseable analysis for %s: %v", filename, perr)
	}
	return findings, nil
}

func buildRepairPrompt(originalUser, previous string, parseErr error) string {
	var sb strings.Builder
	sb.WriteString(originalUser)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previous)
	fmt.Fprintf(&sb, "\n\nThat response was not valid JSON: %v\n", parseErr)
	sb.WriteString("Output only the corrected JSON conforming to the schema.")
	return sb.String()
}
