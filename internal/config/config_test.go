package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, WatchModeEvents, cfg.Navigation.WatchMode)
	require.Equal(t, 50, cfg.Guide.MaxDOMElements)
	require.Equal(t, 2000, cfg.Guide.MaxVisibleChars)
	require.Equal(t, 0.7, cfg.Matcher.AIFallbackThreshold)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Backend.BaseURL, cfg.Backend.BaseURL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboard.yaml")
	data := []byte(`
backend:
  base_url: http://localhost:9999
  employee_id: emp_042
navigation:
  watch_mode: poll
  poll_interval_ms: 250
progress:
  suppress_after_push: 2s
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999", cfg.Backend.BaseURL)
	require.Equal(t, "emp_042", cfg.Backend.EmployeeID)
	require.Equal(t, WatchModePoll, cfg.Navigation.WatchMode)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 2*time.Second, cfg.SuppressionWindow())

	// Untouched sections keep defaults.
	require.Equal(t, 300*time.Millisecond, cfg.StaggerInterval())
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ONBOARD_BACKEND_URL", "http://env:8000")
	t.Setenv("ONBOARD_EMPLOYEE_ID", "emp_env")
	t.Setenv("ONBOARD_WATCH_MODE", "POLL")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "http://env:8000", cfg.Backend.BaseURL)
	require.Equal(t, "emp_env", cfg.Backend.EmployeeID)
	require.Equal(t, WatchModePoll, cfg.Navigation.WatchMode)
}

func TestDurationGettersFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Timeout = "bogus"
	require.Equal(t, 15*time.Second, cfg.BackendTimeout())

	cfg.Guide.FetchTimeout = ""
	require.Equal(t, 20*time.Second, cfg.FetchTimeout())

	cfg.Guide.IdlePrompt = "0"
	require.Equal(t, time.Duration(0), cfg.IdlePrompt())

	cfg.Navigation.PollIntervalMs = 0
	require.Equal(t, 800*time.Millisecond, cfg.PollInterval())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Navigation.WatchMode = "mutation"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend.EmployeeID = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Matcher.AIFallbackThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "onboard.yaml")

	cfg := DefaultConfig()
	cfg.Backend.EmployeeID = "emp_rt"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "emp_rt", loaded.Backend.EmployeeID)
}
