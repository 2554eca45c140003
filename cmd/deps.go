package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/reviewbot/internal/analyzer"
	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/pipeline"
)

// vendorKeyEnv is the vendor's own env var each provider's key falls back to.
var vendorKeyEnv = map[string]string{
	analyzer.ProviderAnthropic: "ANTHROPIC_API_KEY",
	analyzer.ProviderOpenAI:    "OPENAI_API_KEY",
	analyzer.ProviderGoogle:    "GOOGLE_API_KEY",
}

func githubToken() string {
	if tok := viper.GetString("github.token"); tok != "" {
		return tok
	}
	return os.Getenv("GITHUB_TOKEN")
}

// newGitHubClient creates a GitHub client from config/env.
func newGitHubClient() (*github.Client, error) {
	return github.NewClient(githubToken(), viper.GetString("github.api_url"), viper.GetInt("github.max_retries"))
}

func analyzerProvider() string {
	p := strings.ToLower(strings.TrimSpace(viper.GetString("analyzer.provider")))
	if p == "" {
		return analyzer.ProviderAnthropic
	}
	return p
}

func analyzerAPIKey(provider string) string {
	if key := viper.GetString(provider + ".api_key"); key != "" {
		return key
	}
	if env, ok := vendorKeyEnv[provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// newAnalyzer creates the configured analyzer, or an error if no API key is set.
func newAnalyzer() (*analyzer.Analyzer, error) {
	provider := analyzerProvider()
	key := analyzerAPIKey(provider)
	if key == "" {
		return nil, fmt.Errorf("%s api key is not set (set %s.api_key or %s)", provider, provider, vendorKeyEnv[provider])
	}
	p, err := analyzer.NewProvider(provider, key, viper.GetString("analyzer.model"))
	if err != nil {
		return nil, err
	}
	return analyzer.New(p, analyzer.Options{
		MaxTokens: viper.GetInt("analyzer.max_tokens"),
		Logger:    logger,
	}), nil
}

// pipelineConfig reads review and fix settings from config.
func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		AutoMerge:       viper.GetBool("review.auto_merge"),
		MergeMethod:     viper.GetString("review.merge_method"),
		Workers:         viper.GetInt("review.workers"),
		MainBranchFiles: viper.GetStringSlice("review.main_branch_files"),
		FixBranch:       viper.GetString("fix.branch"),
		IssueLabels:     viper.GetStringSlice("review.issue_labels"),
	}
}

// newPipeline wires the store, GitHub client and analyzer together.
func newPipeline(cfg pipeline.Config) (*pipeline.Pipeline, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	gh, err := newGitHubClient()
	if err != nil {
		return nil, err
	}
	an, err := newAnalyzer()
	if err != nil {
		return nil, err
	}
	return pipeline.New(gh, an, s, cfg, logger), nil
}

// repoFromArgs parses owner/repo from the first argument, or detects it from
// the origin remote of the current directory.
func repoFromArgs(args []string) (owner, repo string, err error) {
	if len(args) > 0 && args[0] != "" {
		return github.ParseFullName(args[0])
	}
	return github.DetectRepo()
}

// operationContext is cancelled on SIGINT/SIGTERM so long batches stop
// between files and persist what they finished.
func operationContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, shutdownSignals()...)
}

var (
	_ pipeline.SourceProvider = (*github.Client)(nil)
	_ pipeline.CodeAnalyzer   = (*analyzer.Analyzer)(nil)
)
