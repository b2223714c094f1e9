package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
	"github.com/gaia-qa/gaiabrowser/internal/host"
	"github.com/gaia-qa/gaiabrowser/internal/metrics"
)

// TestIntegrationServerLifecycle exercises the same wiring main() does,
// without actually running main(), so initialization bugs surface in `go
// test` rather than only at deploy time.
func TestIntegrationServerLifecycle(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping integration tests (SKIP_LIVE_TESTS set)")
	}

	// metrics.New registers with the default registry, so it is called once
	// here and shared by the subtests.
	m := metrics.New()

	t.Run("config defaults are internally consistent", func(t *testing.T) {
		cfg := config.DefaultConfig()
		if cfg.Server.Name == "" {
			t.Error("expected a non-empty server name")
		}
		if cfg.Host.Addr == "" {
			t.Error("expected a non-empty host addr")
		}
	})

	t.Run("session manager starts disconnected", func(t *testing.T) {
		cfg := mainBoolPtrConfig(true)
		sessions := browser.NewSessionManager(cfg)
		if sessions == nil {
			t.Fatal("expected non-nil session manager")
		}
		if sessions.IsConnected() {
			t.Error("session manager should not be connected before Start()")
		}
	})

	t.Run("host server builds its route table", func(t *testing.T) {
		cfg := mainBoolPtrConfig(true)
		sessions := browser.NewSessionManager(cfg)
		exec := executor.New(sessions, cfg.Browser)
		srv := host.New(cfg, sessions, exec, m)

		ts := httptest.NewServer(srv)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
		}
	})

	t.Run("full lifecycle with a live browser", func(t *testing.T) {
		cfg := mainBoolPtrConfig(true)
		sessions := browser.NewSessionManager(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := sessions.Start(ctx); err != nil {
			t.Skipf("browser start failed (Chrome not available?): %v", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = sessions.Shutdown(shutdownCtx)
		}()

		exec := executor.New(sessions, cfg.Browser)
		srv := host.New(cfg, sessions, exec, m)
		ts := httptest.NewServer(srv)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/execute", "application/json",
			strings.NewReader(`{"action":"browser_start","params":{"session_id":"it-1","url":"about:blank"}}`))
		if err != nil {
			t.Fatalf("POST /execute: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 from browser_start, got %d", resp.StatusCode)
		}

		if !sessions.IsConnected() {
			t.Error("expected browser to remain connected after a session was created")
		}
	})
}

func mainBoolPtrConfig(headless bool) config.Config {
	cfg := config.DefaultConfig()
	cfg.Browser.Headless = &headless
	cfg.Browser.AutoStart = false
	return cfg
}

