// Package config loads the onboard configuration from YAML with environment
// overrides. Every component receives its section at construction; nothing
// reads ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all onboard configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Backend API reached through the bridge
	Backend BackendConfig `yaml:"backend"`

	// Browser attachment / launch
	Browser BrowserConfig `yaml:"browser"`

	// Navigation watching
	Navigation NavigationConfig `yaml:"navigation"`

	// Overlay rendering
	Overlay OverlayConfig `yaml:"overlay"`

	// Progress trigger
	Progress ProgressConfig `yaml:"progress"`

	// Session controller
	Guide GuideConfig `yaml:"guide"`

	// Free-text task matcher thresholds
	Matcher MatcherConfig `yaml:"matcher"`

	// Local control surface
	Control ControlConfig `yaml:"control"`

	// Action knowledge base
	KB KBConfig `yaml:"kb"`

	// Guidance history journal
	Journal JournalConfig `yaml:"journal"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the backend API client.
type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	EmployeeID string `yaml:"employee_id"`
	Timeout    string `yaml:"timeout"`
}

// BrowserConfig configures the Chrome attachment.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
}

// WatchMode selects the navigation detection strategy.
type WatchMode string

const (
	WatchModeEvents WatchMode = "events"
	WatchModePoll   WatchMode = "poll"
)

// NavigationConfig configures SPA navigation detection.
type NavigationConfig struct {
	WatchMode      WatchMode `yaml:"watch_mode"`
	PollIntervalMs int       `yaml:"poll_interval_ms"`
	SettleDelayMs  int       `yaml:"settle_delay_ms"`
}

// OverlayConfig configures overlay rendering.
type OverlayConfig struct {
	StaggerMs    int `yaml:"stagger_ms"`
	MarginPx     int `yaml:"margin_px"`
	EdgeInsetPx  int `yaml:"edge_inset_px"`
	TooltipWidth int `yaml:"tooltip_width_px"`
}

// ProgressConfig configures the optimistic progress trigger.
type ProgressConfig struct {
	SuppressAfterPush string `yaml:"suppress_after_push"`
	DrainIntervalMs   int    `yaml:"drain_interval_ms"`
}

// GuideConfig configures the session controller.
type GuideConfig struct {
	AutoStart       bool   `yaml:"auto_start"`
	IdleRecheck     string `yaml:"idle_recheck"`
	IdlePrompt      string `yaml:"idle_prompt"`
	FetchTimeout    string `yaml:"fetch_timeout"`
	MaxDOMElements  int    `yaml:"max_dom_elements"`
	MaxVisibleChars int    `yaml:"max_visible_chars"`
}

// MatcherConfig tunes the free-text action matcher.
type MatcherConfig struct {
	AIFallbackThreshold float64 `yaml:"ai_fallback_threshold"`
	URLPlatformBonus    float64 `yaml:"url_platform_bonus"`
	ExactTitleFloor     float64 `yaml:"exact_title_floor"`
	TopK                int     `yaml:"top_k"`
}

// ControlConfig configures the local WebSocket control surface.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// KBConfig configures the action knowledge base.
type KBConfig struct {
	Path      string `yaml:"path"`
	HotReload bool   `yaml:"hot_reload"`
}

// JournalConfig configures the guidance history journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "onboard",
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL:    "http://localhost:8000",
			EmployeeID: "emp_001",
			Timeout:    "15s",
		},

		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
		},

		Navigation: NavigationConfig{
			WatchMode:      WatchModeEvents,
			PollIntervalMs: 800,
			SettleDelayMs:  1200,
		},

		Overlay: OverlayConfig{
			StaggerMs:    300,
			MarginPx:     5,
			EdgeInsetPx:  10,
			TooltipWidth: 280,
		},

		Progress: ProgressConfig{
			SuppressAfterPush: "10s",
			DrainIntervalMs:   500,
		},

		Guide: GuideConfig{
			AutoStart:       true,
			IdleRecheck:     "30s",
			IdlePrompt:      "45s",
			FetchTimeout:    "20s",
			MaxDOMElements:  50,
			MaxVisibleChars: 2000,
		},

		Matcher: MatcherConfig{
			AIFallbackThreshold: 0.7,
			URLPlatformBonus:    0.15,
			ExactTitleFloor:     0.9,
			TopK:                5,
		},

		Control: ControlConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:7763",
		},

		KB: KBConfig{
			Path:      "action_kb.yaml",
			HotReload: true,
		},

		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/onboard.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, returning defaults when the file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies ONBOARD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("ONBOARD_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if key := os.Getenv("ONBOARD_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if id := os.Getenv("ONBOARD_EMPLOYEE_ID"); id != "" {
		c.Backend.EmployeeID = id
	}
	if url := os.Getenv("ONBOARD_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if mode := os.Getenv("ONBOARD_WATCH_MODE"); mode != "" {
		c.Navigation.WatchMode = WatchMode(strings.ToLower(mode))
	}
	if addr := os.Getenv("ONBOARD_CONTROL_ADDR"); addr != "" {
		c.Control.ListenAddr = addr
	}
	if path := os.Getenv("ONBOARD_KB_PATH"); path != "" {
		c.KB.Path = path
	}
	if path := os.Getenv("ONBOARD_DB"); path != "" {
		c.Journal.Path = path
	}
}

// duration parses s, falling back to def on empty or malformed input.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// BackendTimeout returns the per-request backend timeout.
func (c *Config) BackendTimeout() time.Duration {
	return duration(c.Backend.Timeout, 15*time.Second)
}

// NavigationTimeout returns the page navigation timeout.
func (c *Config) NavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Browser.NavigationTimeoutMs) * time.Millisecond
}

// PollInterval returns the URL poll interval for poll watch mode.
func (c *Config) PollInterval() time.Duration {
	if c.Navigation.PollIntervalMs <= 0 {
		return 800 * time.Millisecond
	}
	return time.Duration(c.Navigation.PollIntervalMs) * time.Millisecond
}

// SettleDelay returns the post-navigation settle delay.
func (c *Config) SettleDelay() time.Duration {
	if c.Navigation.SettleDelayMs < 0 {
		return 0
	}
	return time.Duration(c.Navigation.SettleDelayMs) * time.Millisecond
}

// StaggerInterval returns the cosmetic delay between rendered actions.
func (c *Config) StaggerInterval() time.Duration {
	if c.Overlay.StaggerMs < 0 {
		return 0
	}
	return time.Duration(c.Overlay.StaggerMs) * time.Millisecond
}

// SuppressionWindow returns how long guidance fetches are skipped after an
// optimistic progress push.
func (c *Config) SuppressionWindow() time.Duration {
	return duration(c.Progress.SuppressAfterPush, 10*time.Second)
}

// DrainInterval returns how often the in-page event buffer is drained.
func (c *Config) DrainInterval() time.Duration {
	if c.Progress.DrainIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Progress.DrainIntervalMs) * time.Millisecond
}

// IdleRecheck returns how long to wait in Idle before rechecking for a task.
func (c *Config) IdleRecheck() time.Duration {
	return duration(c.Guide.IdleRecheck, 30*time.Second)
}

// IdlePrompt returns the quiet period before the start-guidance nudge.
// Zero disables the prompt.
func (c *Config) IdlePrompt() time.Duration {
	if c.Guide.IdlePrompt == "" || c.Guide.IdlePrompt == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.Guide.IdlePrompt)
	if err != nil || d < 0 {
		return 45 * time.Second
	}
	return d
}

// FetchTimeout returns the guidance fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return duration(c.Guide.FetchTimeout, 20*time.Second)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url not configured")
	}
	if c.Backend.EmployeeID == "" {
		return fmt.Errorf("backend.employee_id not configured (set ONBOARD_EMPLOYEE_ID)")
	}
	switch c.Navigation.WatchMode {
	case WatchModeEvents, WatchModePoll:
	default:
		return fmt.Errorf("invalid navigation.watch_mode: %q (valid: events, poll)", c.Navigation.WatchMode)
	}
	if c.Matcher.AIFallbackThreshold < 0 || c.Matcher.AIFallbackThreshold > 1 {
		return fmt.Errorf("matcher.ai_fallback_threshold must be in [0, 1], got %v", c.Matcher.AIFallbackThreshold)
	}
	if c.Guide.MaxDOMElements <= 0 {
		return fmt.Errorf("guide.max_dom_elements must be positive, got %d", c.Guide.MaxDOMElements)
	}
	return nil
}
