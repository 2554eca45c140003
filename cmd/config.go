package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "reviewbot"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage reviewbot configuration.

Running bare 'reviewbot config' is the same as 'reviewbot config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# reviewbot configuration
# See: reviewbot config show (for effective values and sources)

# State/data directory (default: ~/.config/reviewbot)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/reviewbot/reviewbot.db)
# db_path: {{ .DBPath }}

# REST API port for 'reviewbot serve'
port: {{ .Port }}

# GitHub
github:
  # Personal access token (falls back to $GITHUB_TOKEN)
  # token: ""
  api_url: "{{ .GitHubAPIURL }}"
  # Retries for GET requests on rate limits and 5xx responses
  max_retries: {{ .GitHubMaxRetries }}

# Analyzer backend
analyzer:
  # anthropic, openai or google
  provider: "{{ .AnalyzerProvider }}"
  # Model name (empty uses the provider default)
  model: "{{ .AnalyzerModel }}"
  max_tokens: {{ .AnalyzerMaxTokens }}

# API keys fall back to $ANTHROPIC_API_KEY, $OPENAI_API_KEY and $GOOGLE_API_KEY
# anthropic:
#   api_key: ""

# Review behavior
review:
  # Merge pull requests that get an approve verdict
  auto_merge: {{ .AutoMerge }}
  # merge, squash or rebase
  merge_method: "{{ .MergeMethod }}"
  # Files analyzed concurrently
  workers: {{ .Workers }}
  # Files scanned by 'reviewbot scan'
  main_branch_files:
{{- range .MainBranchFiles }}
    - {{ . }}
{{- end }}

# Fix behavior
fix:
  # Branch fixes are committed to (empty means the default branch)
  branch: "{{ .FixBranch }}"
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	Port              int
	GitHubAPIURL      string
	GitHubMaxRetries  int
	AnalyzerProvider  string
	AnalyzerModel     string
	AnalyzerMaxTokens int
	AutoMerge         bool
	MergeMethod       string
	Workers           int
	MainBranchFiles   []string
	FixBranch         string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		Port:              viper.GetInt("port"),
		GitHubAPIURL:      viper.GetString("github.api_url"),
		GitHubMaxRetries:  viper.GetInt("github.max_retries"),
		AnalyzerProvider:  viper.GetString("analyzer.provider"),
		AnalyzerModel:     viper.GetString("analyzer.model"),
		AnalyzerMaxTokens: viper.GetInt("analyzer.max_tokens"),
		AutoMerge:         viper.GetBool("review.auto_merge"),
		MergeMethod:       viper.GetString("review.merge_method"),
		Workers:           viper.GetInt("review.workers"),
		MainBranchFiles:   viper.GetStringSlice("review.main_branch_files"),
		FixBranch:         viper.GetString("fix.branch"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "REVIEWBOT_STATE_DIR"},
	{Key: "db_path", EnvVar: "REVIEWBOT_DB_PATH"},
	{Key: "port", EnvVar: "REVIEWBOT_PORT"},
	{Key: "github.token", EnvVar: "REVIEWBOT_GITHUB_TOKEN", Secret: true},
	{Key: "github.api_url", EnvVar: "REVIEWBOT_GITHUB_API_URL"},
	{Key: "github.max_retries", EnvVar: "REVIEWBOT_GITHUB_MAX_RETRIES"},
	{Key: "analyzer.provider", EnvVar: "REVIEWBOT_ANALYZER_PROVIDER"},
	{Key: "analyzer.model", EnvVar: "REVIEWBOT_ANALYZER_MODEL"},
	{Key: "analyzer.max_tokens", EnvVar: "REVIEWBOT_ANALYZER_MAX_TOKENS"},
	{Key: "anthropic.api_key", EnvVar: "REVIEWBOT_ANTHROPIC_API_KEY", Secret: true},
	{Key: "openai.api_key", EnvVar: "REVIEWBOT_OPENAI_API_KEY", Secret: true},
	{Key: "google.api_key", EnvVar: "REVIEWBOT_GOOGLE_API_KEY", Secret: true},
	{Key: "review.auto_merge", EnvVar: "REVIEWBOT_REVIEW_AUTO_MERGE"},
	{Key: "review.merge_method", EnvVar: "REVIEWBOT_REVIEW_MERGE_METHOD"},
	{Key: "review.workers", EnvVar: "REVIEWBOT_REVIEW_WORKERS"},
	{Key: "review.main_branch_files", EnvVar: "REVIEWBOT_REVIEW_MAIN_BRANCH_FILES"},
	{Key: "fix.branch", EnvVar: "REVIEWBOT_FIX_BRANCH"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret shows only the last four characters of a credential.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'reviewbot config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
