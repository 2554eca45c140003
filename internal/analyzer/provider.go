package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"

	"github.com/joescharf/reviewbot/internal/upstream"
)

// Provider sends one prompt pair to an LLM backend and returns its text reply.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[string]string{
	ProviderAnthropic: "claude-haiku-4-5-20251001",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderGoogle:    "gemini-1.5-flash",
}

// NewProvider builds the named backend. An empty name selects Anthropic and
// an empty model selects the provider default.
func NewProvider(name, apiKey, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = ProviderAnthropic
	}
	if model == "" {
		model = DefaultModels[name]
	}
	switch name {
	case ProviderAnthropic:
		return newAnthropicProvider(apiKey, model), nil
	case ProviderOpenAI:
		return newOpenAIProvider(apiKey, model), nil
	case ProviderGoogle:
		if apiKey == "" {
			return nil, fmt.Errorf("google api key is not set (set google.api_key or GOOGLE_API_KEY)")
		}
		return &googleProvider{apiKey: apiKey, model: model}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q (want anthropic, openai or google)", name)
	}
}

// classify maps SDK errors onto the upstream taxonomy.
func classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return withStatus(service, anthErr.StatusCode, err)
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return withStatus(service, oaiErr.StatusCode, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return withStatus(service, gErr.Code, err)
	}
	return upstream.Transport(service, err)
}

func withStatus(service string, status int, err error) error {
	kind := upstream.KindForStatus(status)
	if kind == nil {
		kind = upstream.ErrInvalidResponse
	}
	return &upstream.Error{Service: service, Status: status, Kind: kind, Message: err.Error()}
}
