package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/reviewbot/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults()

	// Initialize output, captured per test
	ui = output.New()
	ui.Out = &bytes.Buffer{}
	ui.ErrOut = &bytes.Buffer{}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	// Store opened against the temp dir; closed and reset after the test
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
			dataStore = nil
		}
	})

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reviewbot configuration")
	assert.Contains(t, string(data), "analyzer")
	assert.Contains(t, string(data), "    - package.json")

	// the generated file is valid YAML that round-trips the defaults
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	review, ok := parsed["review"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "squash", review["merge_method"])
	assert.Equal(t, 4, review["workers"])
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reviewbot configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	t.Setenv("REVIEWBOT_TEST_KEY", "val")
	assert.Contains(t, detectSource("test_key", "REVIEWBOT_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "REVIEWBOT_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "REVIEWBOT_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "****wxyz", maskSecret("ghp_abcdefwxyz"))
}

func TestConfigShow_MasksTokens(t *testing.T) {
	testEnv(t)
	viper.Set("github.token", "ghp_supersecret1234")

	require.NoError(t, configShowRun())
	out := ui.Out.(*bytes.Buffer).String()
	assert.NotContains(t, out, "supersecret")
	assert.Contains(t, out, "****1234")
}

func TestPipelineConfig_FromViper(t *testing.T) {
	testEnv(t)
	viper.Set("review.auto_merge", true)
	viper.Set("review.workers", 8)
	viper.Set("fix.branch", "reviewbot/fixes")

	cfg := pipelineConfig()
	assert.True(t, cfg.AutoMerge)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "squash", cfg.MergeMethod)
	assert.Equal(t, "reviewbot/fixes", cfg.FixBranch)
	assert.Contains(t, cfg.MainBranchFiles, "package.json")
}

func TestAnalyzerAPIKey_FallsBackToVendorEnv(t *testing.T) {
	testEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	assert.Equal(t, "sk-env", analyzerAPIKey("openai"))

	viper.Set("openai.api_key", "sk-config")
	assert.Equal(t, "sk-config", analyzerAPIKey("openai"))
}

func TestNewAnalyzer_MissingKey(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := newAnalyzer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic api key is not set")
}

func TestRepoFromArgs(t *testing.T) {
	owner, repo, err := repoFromArgs([]string{"acme/web"})
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "web", repo)

	_, _, err = repoFromArgs([]string{"acme"})
	assert.Error(t, err)
}
