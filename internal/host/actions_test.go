package host

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
)

func TestResolveDataPathRejectsEscape(t *testing.T) {
	s := &Server{cfg: config.Config{Server: config.ServerConfig{DataRoot: "/tmp/gaiabrowser-data-root"}}}

	if _, err := s.resolveDataPath("../../etc/passwd"); err == nil {
		t.Error("expected path escaping the data root to be rejected")
	}
	if _, err := s.resolveDataPath("traces/run-1.json"); err != nil {
		t.Errorf("expected in-root path to be accepted, got %v", err)
	}
}

func TestSumAttemptDurations(t *testing.T) {
	r := &executor.Result{
		AttemptLogs: []executor.AttemptLog{
			{Duration: 100 * time.Millisecond},
			{Duration: 250 * time.Millisecond},
		},
	}
	if got := sumAttemptDurations(r); got != 350*time.Millisecond {
		t.Errorf("expected 350ms total, got %v", got)
	}
}

func TestMatchTargetPrefix(t *testing.T) {
	sess := &browser.Session{
		Tabs: []*browser.Tab{
			{ID: "t0"},
			{ID: "t1"},
		},
	}
	matches := matchTargetPrefix(sess, "", "t0")
	if len(matches) != 1 || matches[0] != "t0" {
		t.Errorf("expected single exact match on t0, got %v", matches)
	}

	noMatch := matchTargetPrefix(sess, "", "missing")
	if len(noMatch) != 0 {
		t.Errorf("expected no matches, got %v", noMatch)
	}
}

func TestPollUntilReturnsImmediatelyWhenAlreadyTrue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pollUntil(ctx, func() bool { return true }); err != nil {
		t.Errorf("expected nil error for an already-satisfied condition, got %v", err)
	}
}

func TestPollUntilTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pollUntil(ctx, func() bool { return false }); err == nil {
		t.Error("expected an error once the context deadline passed")
	}
}

func TestPollUntilEventuallyTrue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	calls := 0
	err := pollUntil(ctx, func() bool {
		calls++
		return calls >= 3
	})
	if err != nil {
		t.Errorf("expected condition to be satisfied before the deadline, got %v", err)
	}
}

func TestTabSummaries(t *testing.T) {
	sess := &browser.Session{
		Tabs: []*browser.Tab{
			{ID: "t0", URL: "https://example.com", Title: "Example"},
		},
	}
	out := tabSummaries(sess)
	if len(out) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(out))
	}
	if !strings.Contains(out[0]["url"].(string), "example.com") {
		t.Errorf("expected url in summary, got %v", out[0])
	}
}
