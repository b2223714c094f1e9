// Command goalrunner drives a single goal-driven or exploratory test run
// against a live session without going through the HTTP host: it wires the
// same SessionManager/Executor/VLM stack in-process and prints the run's
// result as JSON. Useful for CI jobs and local debugging where spinning up
// the full HTTP service is unnecessary ceremony.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
	"github.com/gaia-qa/gaiabrowser/internal/goal"
	"github.com/gaia-qa/gaiabrowser/internal/vlm"
)

func main() {
	configPath := flag.String("config", "", "Path to the gaiabrowser config file")
	goalPath := flag.String("goal", "", "Path to a JSON-encoded goal.Goal to execute")
	startURL := flag.String("url", "", "Override the goal's start URL")
	explore := flag.Bool("explore", false, "Run the exploratory variant instead of a fixed goal")
	maxSteps := flag.Int("max-steps", 0, "Exploratory max steps (ignored for -goal runs, which use the goal's own budget)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sessionManager := browser.NewSessionManager(cfg)
	if err := sessionManager.Start(ctx); err != nil {
		log.Fatalf("failed to start browser: %v", err)
	}
	defer sessionManager.Shutdown(ctx)

	vlmClient, err := vlm.NewGeminiClient(ctx, cfg.VLM)
	if err != nil {
		log.Fatalf("failed to initialize vlm client: %v", err)
	}

	exec := executor.New(sessionManager, cfg.Browser)

	loop := goal.GoalLoop{Sessions: sessionManager, Executor: exec, VLM: vlmClient}

	if *explore {
		runExploration(ctx, sessionManager, &loop, *startURL, *maxSteps)
		return
	}

	if *goalPath == "" {
		log.Fatal("either -goal <file> or -explore is required")
	}
	runGoal(ctx, sessionManager, &loop, *goalPath, *startURL)
}

func runGoal(ctx context.Context, sessionManager *browser.SessionManager, loop *goal.GoalLoop, goalPath, startURLOverride string) {
	data, err := os.ReadFile(goalPath)
	if err != nil {
		log.Fatalf("reading goal file: %v", err)
	}
	var g goal.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		log.Fatalf("parsing goal file: %v", err)
	}
	if startURLOverride != "" {
		g.StartURL = startURLOverride
	}

	sess, err := sessionManager.CreateSession(ctx, g.StartURL)
	if err != nil {
		log.Fatalf("creating session: %v", err)
	}

	result, err := loop.Run(ctx, sess.ID, g)
	if err != nil {
		log.Fatalf("goal run failed: %v", err)
	}
	printJSON(result)
}

func runExploration(ctx context.Context, sessionManager *browser.SessionManager, loop *goal.GoalLoop, startURL string, maxSteps int) {
	if startURL == "" {
		log.Fatal("-explore requires -url")
	}

	sess, err := sessionManager.CreateSession(ctx, "")
	if err != nil {
		log.Fatalf("creating session: %v", err)
	}

	exploratory := goal.NewExploratoryLoop(*loop)
	result, err := exploratory.Explore(ctx, sess.ID, startURL, maxSteps)
	if err != nil {
		log.Fatalf("exploration failed: %v", err)
	}
	printJSON(result)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
	}
}
