package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/reviewbot/internal/github"
	"github.com/joescharf/reviewbot/internal/output"
	"github.com/joescharf/reviewbot/internal/pipeline"
	"github.com/joescharf/reviewbot/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *slog.Logger

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "reviewbot",
	Short: "AI code review for GitHub pull requests and branches",
	Long: `reviewbot reviews GitHub pull requests with an LLM, posts a review with a
verdict, tracks unresolved findings per repository, and can commit AI-generated
fixes for them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/reviewbot/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVIEWBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "reviewbot.db"))
	viper.SetDefault("port", 8080)

	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", github.DefaultAPIURL)
	viper.SetDefault("github.max_retries", 2)

	viper.SetDefault("analyzer.provider", "anthropic")
	viper.SetDefault("analyzer.model", "")
	viper.SetDefault("analyzer.max_tokens", 8192)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("google.api_key", "")

	def := pipeline.DefaultConfig()
	viper.SetDefault("review.auto_merge", def.AutoMerge)
	viper.SetDefault("review.merge_method", def.MergeMethod)
	viper.SetDefault("review.workers", def.Workers)
	viper.SetDefault("review.main_branch_files", def.MainBranchFiles)
	viper.SetDefault("review.issue_labels", []string{"reviewbot"})
	viper.SetDefault("fix.branch", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Store is opened lazily, so config/version run without a db.
}

// rootRun handles `reviewbot` with no subcommand: show status for the repo
// in the current directory, or help when there is none.
func rootRun(cmd *cobra.Command) error {
	owner, repo, err := github.DetectRepo()
	if err != nil {
		return cmd.Help()
	}
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return statusRepoRun(cmd, github.FullName(owner, repo))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
