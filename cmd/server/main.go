package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
	"github.com/gaia-qa/gaiabrowser/internal/host"
	"github.com/gaia-qa/gaiabrowser/internal/metrics"
	"github.com/gaia-qa/gaiabrowser/internal/planrepo"
)

func main() {
	configPath := flag.String("config", "", "Path to the gaiabrowser config file (overrides workspace config)")
	addrOverride := flag.String("addr", "", "Optional listen address override (falls back to config)")
	noWorkspace := flag.Bool("no-workspace", false, "Disable .gaiabrowser/ workspace discovery")
	workspaceDir := flag.String("workspace-dir", "", "Explicit workspace root (skip walk-up discovery)")
	initWorkspace := flag.Bool("init-workspace", false, "Create .gaiabrowser/ template in current directory and exit")
	flag.Parse()

	if *initWorkspace {
		root := "."
		if *workspaceDir != "" {
			root = *workspaceDir
		}
		if err := config.InitWorkspace(root); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		log.Printf("created .gaiabrowser/ workspace in %s", root)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	}

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, opts)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if wsDir != "" {
		log.Printf("using workspace config from %s", wsDir)
	}
	if *addrOverride != "" {
		cfg.Host.Addr = *addrOverride
	}

	if cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}

	sessionManager := browser.NewSessionManager(cfg)
	if cfg.Browser.AutoStart {
		if err := sessionManager.Start(ctx); err != nil {
			log.Fatalf("failed to initialize Rod session manager: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; use browser_start to launch/attach later")
	}

	exec := executor.New(sessionManager, cfg.Browser)
	m := metrics.New()

	// The host's action surface never calls into the plan repository itself
	// (that's a goalrunner/spec-analyzer concern) but we still open it at
	// startup so a misconfigured db_path fails fast rather than on first use.
	if cfg.Plan.Enabled {
		repo, err := planrepo.Open(cfg.Plan.DBPath)
		if err != nil {
			log.Fatalf("failed to open plan repository: %v", err)
		}
		repo.Close()
	}

	server := host.New(cfg, sessionManager, exec, m)

	log.Printf("starting gaiabrowser host on %s", cfg.Host.Addr)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}
