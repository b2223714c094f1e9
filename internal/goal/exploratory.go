package goal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
)

// ExploratoryLoop runs the same per-step machinery as GoalLoop but without a
// fixed goal: each step asks the VLM to pick an *untested* interactive
// element, fills canonical test values by label heuristic, and records
// console errors and action failures as issues rather than treating them as
// run-ending errors.
type ExploratoryLoop struct {
	GoalLoop

	tested map[string]struct{}
}

// NewExploratoryLoop wraps a GoalLoop with untested-element tracking.
func NewExploratoryLoop(l GoalLoop) *ExploratoryLoop {
	return &ExploratoryLoop{GoalLoop: l, tested: make(map[string]struct{})}
}

// ExploreResult is an exploratory run's outcome: steps plus the issues
// surfaced along the way, independent of any single goal's pass/fail.
type ExploreResult struct {
	Steps  []StepResult
	Issues []Issue
}

// Explore drives an open-ended exploration of sessionID starting from
// startURL until maxSteps is reached, a stagnation detector fires, or the
// VLM reports nothing left to test.
func (l *ExploratoryLoop) Explore(ctx context.Context, sessionID, startURL string, maxSteps int) (*ExploreResult, error) {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	sess, ok := l.Sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("exploratory loop: unknown session %s", sessionID)
	}

	if startURL != "" {
		if _, err := l.Executor.Execute(ctx, executor.Request{SessionID: sessionID, Kind: executor.ActionNavigate, Value: startURL}); err != nil {
			return nil, fmt.Errorf("exploratory loop: navigating to start url: %w", err)
		}
	}

	tracker := newStagnationTracker()
	result := &ExploreResult{}

	for step := 1; step <= maxSteps; step++ {
		stepStart := time.Now()

		snap, screenshotB64, err := l.captureState(ctx, sess)
		if err != nil {
			tracker.observeNoDOM()
			if tracker.stopped() {
				break
			}
			continue
		}
		tracker.observeSnapshot(snap)
		if tracker.stopped() {
			break
		}

		if isLoginGate(snap) {
			if l.Intervention == nil || !l.Intervention("login gate with no reachable elements", snap.URL) {
				result.Issues = append(result.Issues, Issue{
					Severity:    SeverityWarning,
					Title:       "exploration halted at login gate",
					Description: "the URL carries a login/auth keyword and the snapshot yielded almost no interactive elements",
					URL:         snap.URL,
					FoundAt:     time.Now(),
				})
				break
			}
			continue
		}

		untested := l.untestedElements(snap)
		if len(untested) == 0 {
			break
		}

		decision := l.decide(ctx, Goal{Name: "exploration", Description: "find and test every untested interactive element on the page"}, snap, screenshotB64, nil)
		if decision.Action == "" {
			break
		}

		if decision.Value == "" {
			decision.Value = canonicalTestValue(elementLabel(snap, decision.ElementID))
		}

		tracker.observeDecision(decision, false, false)

		stepResult := l.act(ctx, sess, snap, decision, step, stepStart, tracker)
		result.Steps = append(result.Steps, stepResult)
		l.markTested(snap, decision.ElementID)

		if !stepResult.Success {
			result.Issues = append(result.Issues, Issue{
				Severity:    SeverityBug,
				Title:       "action failed during exploration: " + stepResult.ReasonCode,
				Description: stepResult.Error,
				URL:         snap.URL,
				FoundAt:     time.Now(),
			})
		}

		for _, entry := range sess.ConsoleLog.Tail(5) {
			if entry.Level == "error" {
				result.Issues = append(result.Issues, Issue{
					Severity:    SeverityBug,
					Title:       "console error after action",
					Description: entry.Text,
					URL:         snap.URL,
					FoundAt:     entry.Timestamp,
				})
			}
		}

		if tracker.stopped() {
			break
		}
	}

	return result, nil
}

// untestedElements returns the snapshot's elements not yet marked tested in
// this exploration run, identified by ref_id since ref_ids are stable
// within a DOM generation.
func (l *ExploratoryLoop) untestedElements(snap *browser.Snapshot) []browser.ElementMeta {
	var out []browser.ElementMeta
	for _, el := range snap.Elements {
		if _, done := l.tested[el.RefID]; !done {
			out = append(out, el)
		}
	}
	return out
}

func (l *ExploratoryLoop) markTested(snap *browser.Snapshot, elementID int) {
	if elementID <= 0 || elementID > len(snap.Elements) {
		return
	}
	l.tested[snap.Elements[elementID-1].RefID] = struct{}{}
}

func elementLabel(snap *browser.Snapshot, elementID int) string {
	if elementID <= 0 || elementID > len(snap.Elements) {
		return ""
	}
	el := snap.Elements[elementID-1]
	return strings.ToLower(el.Name + " " + el.Attributes["placeholder"] + " " + el.Attributes["aria-label"] + " " + el.Attributes["type"])
}

// canonicalTestValue maps a field's visible label/placeholder/aria-label to
// a stable, recognizable test value so repeated exploration runs fill the
// same thing and a reviewer can tell exploratory input from real user data
// at a glance.
func canonicalTestValue(label string) string {
	switch {
	case strings.Contains(label, "email"):
		return "test.explorer@example.com"
	case strings.Contains(label, "password"):
		return "TestPass123!"
	case strings.Contains(label, "name"):
		return "Test User"
	case strings.Contains(label, "phone") || strings.Contains(label, "tel"):
		return "010-1234-5678"
	case strings.Contains(label, "search"):
		return "test"
	default:
		return "Test input"
	}
}
