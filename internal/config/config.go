package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level configuration.
	WorkspaceDirName = ".gaiabrowser"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the browser host server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Host    HostConfig    `yaml:"host"`
	VLM     VLMConfig     `yaml:"vlm"`
	Plan    PlanConfig    `yaml:"plan"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// DataRoot is the root directory traces, PDFs, screenshots, and downloads
	// are restricted to (§6 "Persistent storage").
	DataRoot string `yaml:"data_root"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the host launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode. Spec default is
	// non-headless so a human can intervene on captchas/auth gates.
	Headless *bool `yaml:"headless"`
	// Stealth enables the go-rod/stealth anti-automation launch mitigations.
	Stealth *bool `yaml:"stealth"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width/height for new sessions (default: 1920x1080).
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	// SnapshotElementCap bounds the number of elements kept per snapshot (default 2200).
	SnapshotElementCap int `yaml:"snapshot_element_cap"`
	// SnapshotCacheSize bounds the number of snapshots retained per session (default 20).
	SnapshotCacheSize int `yaml:"snapshot_cache_size"`
	// RingBufferCap bounds console/network/error/dialog ring buffers per session (default 800).
	RingBufferCap int `yaml:"ring_buffer_cap"`
	// NetworkIdleTimeout bounds the post-navigation network-idle wait (default 5s).
	NetworkIdleTimeout string `yaml:"network_idle_timeout"`
	// NavigationSettle is a fixed post-navigation settle delay for SPA hydration (default 3s).
	NavigationSettle string `yaml:"navigation_settle"`
	// ActionBudget bounds a single action's total wall-clock time (default 45s).
	ActionBudget string `yaml:"action_budget"`
	// SubmitActionBudget bounds submit-like clicks specifically (default 20s).
	SubmitActionBudget string `yaml:"submit_action_budget"`
}

// HostConfig configures the HTTP/WebSocket transport.
type HostConfig struct {
	// Addr is the listen address for the HTTP server (e.g., ":8080").
	Addr string `yaml:"addr"`
	// ScreencastSubscriberBuffer bounds each screencast subscriber's outbound
	// channel; a full channel drops the newest frame rather than blocking (§5).
	ScreencastSubscriberBuffer int `yaml:"screencast_subscriber_buffer"`
}

// VLMConfig configures the vision-capable model client.
type VLMConfig struct {
	Provider    string `yaml:"provider"` // currently "gemini" (google.golang.org/genai)
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	Temperature string `yaml:"temperature"`
}

// PlanConfig configures the plan-repository adapter.
type PlanConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DBPath   string `yaml:"db_path"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "gaiabrowser-host",
			Version:  "0.1.0",
			LogFile:  "gaiabrowser-host.log",
			DataRoot: "data",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			SessionStore:             "sessions.json",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			SnapshotElementCap:       2200,
			SnapshotCacheSize:        20,
			RingBufferCap:            800,
			NetworkIdleTimeout:       "5s",
			NavigationSettle:         "3s",
			ActionBudget:             "45s",
			SubmitActionBudget:       "20s",
		},
		Host: HostConfig{
			Addr:                       ":8080",
			ScreencastSubscriberBuffer: 4,
		},
		VLM: VLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			APIKeyEnv:   "GEMINI_API_KEY",
			MaxTokens:   4096,
			Temperature: "0.1",
		},
		Plan: PlanConfig{
			Enabled: true,
			DBPath:  "data/plans.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .gaiabrowser/config.yaml file.
// Returns the workspace root directory (parent of .gaiabrowser/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .gaiabrowser/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .gaiabrowser/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# gaiabrowser project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720

# vlm:
#   provider: gemini
#   model: gemini-2.0-flash
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Server.DataRoot = resolve(cfg.Server.DataRoot)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Plan.DBPath = resolve(cfg.Plan.DBPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Host.Addr == "" {
		return errors.New("host.addr is required")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDurationOr(b.DefaultAttachTimeout, 10*time.Second)
}

// NetworkIdle returns the post-navigation network-idle cap.
func (b BrowserConfig) NetworkIdle() time.Duration {
	return parseDurationOr(b.NetworkIdleTimeout, 5*time.Second)
}

// Settle returns the fixed post-navigation SPA-hydration delay.
func (b BrowserConfig) Settle() time.Duration {
	return parseDurationOr(b.NavigationSettle, 3*time.Second)
}

// ActionBudgetDuration returns the default per-action wall-clock budget.
func (b BrowserConfig) ActionBudgetDuration() time.Duration {
	return parseDurationOr(b.ActionBudget, 45*time.Second)
}

// SubmitActionBudgetDuration returns the per-action budget for submit-like clicks.
func (b BrowserConfig) SubmitActionBudgetDuration() time.Duration {
	return parseDurationOr(b.SubmitActionBudget, 20*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode.
// The spec's default is non-headless (to allow human intervention), the
// opposite of the teacher repository's default.
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// UseStealth returns whether the go-rod/stealth launch mitigations apply (default: true).
func (b BrowserConfig) UseStealth() bool {
	if b.Stealth == nil {
		return true
	}
	return *b.Stealth
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetSnapshotElementCap returns the max elements retained per snapshot.
func (b BrowserConfig) GetSnapshotElementCap() int {
	if b.SnapshotElementCap <= 0 {
		return 2200
	}
	return b.SnapshotElementCap
}

// GetSnapshotCacheSize returns the max snapshots retained per session.
func (b BrowserConfig) GetSnapshotCacheSize() int {
	if b.SnapshotCacheSize <= 0 {
		return 20
	}
	return b.SnapshotCacheSize
}

// GetRingBufferCap returns the max entries retained per observability ring buffer.
func (b BrowserConfig) GetRingBufferCap() int {
	if b.RingBufferCap <= 0 {
		return 800
	}
	return b.RingBufferCap
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
