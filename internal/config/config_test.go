package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Name != "gaiabrowser-host" {
		t.Errorf("expected server name 'gaiabrowser-host', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "gaiabrowser-host.log" {
		t.Errorf("expected log file 'gaiabrowser-host.log', got %q", cfg.Server.LogFile)
	}
	if cfg.Server.DataRoot != "data" {
		t.Errorf("expected data root 'data', got %q", cfg.Server.DataRoot)
	}

	// Browser defaults
	if !cfg.Browser.AutoStart {
		t.Error("expected AutoStart to be true")
	}
	if cfg.Browser.DefaultNavigationTimeout != "15s" {
		t.Errorf("expected navigation timeout '15s', got %q", cfg.Browser.DefaultNavigationTimeout)
	}
	if cfg.Browser.DefaultAttachTimeout != "10s" {
		t.Errorf("expected attach timeout '10s', got %q", cfg.Browser.DefaultAttachTimeout)
	}
	if cfg.Browser.SessionStore != "sessions.json" {
		t.Errorf("expected session store 'sessions.json', got %q", cfg.Browser.SessionStore)
	}
	if cfg.Browser.ViewportWidth != 1920 {
		t.Errorf("expected viewport width 1920, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("expected viewport height 1080, got %d", cfg.Browser.ViewportHeight)
	}
	if cfg.Browser.SnapshotElementCap != 2200 {
		t.Errorf("expected snapshot element cap 2200, got %d", cfg.Browser.SnapshotElementCap)
	}
	if cfg.Browser.SnapshotCacheSize != 20 {
		t.Errorf("expected snapshot cache size 20, got %d", cfg.Browser.SnapshotCacheSize)
	}
	if cfg.Browser.RingBufferCap != 800 {
		t.Errorf("expected ring buffer cap 800, got %d", cfg.Browser.RingBufferCap)
	}

	// Host defaults
	if cfg.Host.Addr != ":8080" {
		t.Errorf("expected host addr ':8080', got %q", cfg.Host.Addr)
	}
	if cfg.Host.ScreencastSubscriberBuffer != 4 {
		t.Errorf("expected screencast subscriber buffer 4, got %d", cfg.Host.ScreencastSubscriberBuffer)
	}

	// VLM defaults
	if cfg.VLM.Provider != "gemini" {
		t.Errorf("expected vlm provider 'gemini', got %q", cfg.VLM.Provider)
	}
	if cfg.VLM.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("expected api key env 'GEMINI_API_KEY', got %q", cfg.VLM.APIKeyEnv)
	}

	// Plan defaults
	if !cfg.Plan.Enabled {
		t.Error("expected Plan.Enabled to be true")
	}
	if cfg.Plan.DBPath != "data/plans.db" {
		t.Errorf("expected plan db path 'data/plans.db', got %q", cfg.Plan.DBPath)
	}

	// Metrics defaults
	if !cfg.Metrics.Enabled {
		t.Error("expected Metrics.Enabled to be true")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected metrics path '/metrics', got %q", cfg.Metrics.Path)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Error("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-server"
  version: "1.0.0"
  log_file: "test.log"

browser:
  debugger_url: "ws://localhost:9222"
  auto_start: true
  headless: true
  default_navigation_timeout: "20s"
  default_attach_timeout: "5s"
  viewport_width: 1280
  viewport_height: 720

host:
  addr: ":9090"

vlm:
  provider: "gemini"
  model: "gemini-2.0-flash"

plan:
  enabled: true
  db_path: "test-plans.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Name != "test-server" {
		t.Errorf("expected server name 'test-server', got %q", cfg.Server.Name)
	}
	if cfg.Server.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", cfg.Server.Version)
	}
	if cfg.Browser.DebuggerURL != "ws://localhost:9222" {
		t.Errorf("expected debugger URL 'ws://localhost:9222', got %q", cfg.Browser.DebuggerURL)
	}
	if cfg.Browser.ViewportWidth != 1280 {
		t.Errorf("expected viewport width 1280, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Host.Addr != ":9090" {
		t.Errorf("expected host addr ':9090', got %q", cfg.Host.Addr)
	}
	if cfg.Plan.DBPath != "test-plans.db" {
		t.Errorf("expected plan db path 'test-plans.db', got %q", cfg.Plan.DBPath)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty server name",
			cfg:     Config{Server: ServerConfig{Name: ""}},
			wantErr: true,
			errMsg:  "server.name is required",
		},
		{
			name: "auto_start without debugger_url or launch",
			cfg: Config{
				Server:  ServerConfig{Name: "test"},
				Browser: BrowserConfig{AutoStart: true},
				Host:    HostConfig{Addr: ":8080"},
			},
			wantErr: true,
			errMsg:  "browser.debugger_url or browser.launch must be provided",
		},
		{
			name: "auto_start with debugger_url",
			cfg: Config{
				Server:  ServerConfig{Name: "test"},
				Browser: BrowserConfig{AutoStart: true, DebuggerURL: "ws://localhost:9222"},
				Host:    HostConfig{Addr: ":8080"},
			},
			wantErr: false,
		},
		{
			name: "auto_start with launch",
			cfg: Config{
				Server:  ServerConfig{Name: "test"},
				Browser: BrowserConfig{AutoStart: true, Launch: []string{"chrome"}},
				Host:    HostConfig{Addr: ":8080"},
			},
			wantErr: false,
		},
		{
			name: "auto_start false without debugger_url",
			cfg: Config{
				Server:  ServerConfig{Name: "test"},
				Browser: BrowserConfig{AutoStart: false},
				Host:    HostConfig{Addr: ":8080"},
			},
			wantErr: false,
		},
		{
			name: "missing host addr",
			cfg: Config{
				Server: ServerConfig{Name: "test"},
				Host:   HostConfig{Addr: ""},
			},
			wantErr: true,
			errMsg:  "host.addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestNavigationTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{"empty string", "", 15 * time.Second},
		{"valid duration", "20s", 20 * time.Second},
		{"invalid duration", "invalid", 15 * time.Second},
		{"milliseconds", "500ms", 500 * time.Millisecond},
		{"minutes", "2m", 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultNavigationTimeout: tt.timeout}
			result := cfg.NavigationTimeout()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestAttachTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{"empty string", "", 10 * time.Second},
		{"valid duration", "30s", 30 * time.Second},
		{"invalid duration", "not-a-duration", 10 * time.Second},
		{"milliseconds", "100ms", 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultAttachTimeout: tt.timeout}
			result := cfg.AttachTimeout()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHeadless(t *testing.T) {
	t.Run("nil headless defaults to false", func(t *testing.T) {
		cfg := BrowserConfig{Headless: nil}
		if cfg.IsHeadless() {
			t.Error("expected false when Headless is nil")
		}
	})

	t.Run("explicit true", func(t *testing.T) {
		val := true
		cfg := BrowserConfig{Headless: &val}
		if !cfg.IsHeadless() {
			t.Error("expected true when Headless is true")
		}
	})

	t.Run("explicit false", func(t *testing.T) {
		val := false
		cfg := BrowserConfig{Headless: &val}
		if cfg.IsHeadless() {
			t.Error("expected false when Headless is false")
		}
	})
}

func TestUseStealth(t *testing.T) {
	t.Run("nil stealth defaults to true", func(t *testing.T) {
		cfg := BrowserConfig{Stealth: nil}
		if !cfg.UseStealth() {
			t.Error("expected true when Stealth is nil")
		}
	})

	t.Run("explicit false", func(t *testing.T) {
		val := false
		cfg := BrowserConfig{Stealth: &val}
		if cfg.UseStealth() {
			t.Error("expected false when Stealth is false")
		}
	})
}

func TestGetViewportWidth(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		expected int
	}{
		{"zero defaults to 1920", 0, 1920},
		{"negative defaults to 1920", -100, 1920},
		{"custom width", 1280, 1280},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{ViewportWidth: tt.width}
			result := cfg.GetViewportWidth()
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetViewportHeight(t *testing.T) {
	tests := []struct {
		name     string
		height   int
		expected int
	}{
		{"zero defaults to 1080", 0, 1080},
		{"negative defaults to 1080", -50, 1080},
		{"custom height", 720, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{ViewportHeight: tt.height}
			result := cfg.GetViewportHeight()
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetSnapshotElementCap(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		expected int
	}{
		{"zero defaults to 2200", 0, 2200},
		{"negative defaults to 2200", -1, 2200},
		{"custom cap", 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{SnapshotElementCap: tt.cap}
			result := cfg.GetSnapshotElementCap()
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetRingBufferCap(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		expected int
	}{
		{"zero defaults to 800", 0, 800},
		{"custom cap", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{RingBufferCap: tt.cap}
			result := cfg.GetRingBufferCap()
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestActionBudgetDuration(t *testing.T) {
	tests := []struct {
		name     string
		budget   string
		expected time.Duration
	}{
		{"empty defaults to 45s", "", 45 * time.Second},
		{"custom budget", "30s", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{ActionBudget: tt.budget}
			result := cfg.ActionBudgetDuration()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSubmitActionBudgetDuration(t *testing.T) {
	cfg := BrowserConfig{}
	if cfg.SubmitActionBudgetDuration() != 20*time.Second {
		t.Errorf("expected default submit budget 20s, got %v", cfg.SubmitActionBudgetDuration())
	}
}
