package goal

import (
	"testing"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
)

func TestElementRefForID(t *testing.T) {
	snap := &browser.Snapshot{Elements: []browser.ElementMeta{
		{RefID: "t0-f0-e1"},
		{RefID: "t0-f0-e2"},
	}}
	if got := elementRefForID(snap, 1); got != "t0-f0-e1" {
		t.Errorf("expected t0-f0-e1, got %q", got)
	}
	if got := elementRefForID(snap, 2); got != "t0-f0-e2" {
		t.Errorf("expected t0-f0-e2, got %q", got)
	}
	if got := elementRefForID(snap, 0); got != "" {
		t.Errorf("expected empty ref for id 0, got %q", got)
	}
	if got := elementRefForID(snap, 99); got != "" {
		t.Errorf("expected empty ref for out-of-range id, got %q", got)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                       `{"a":1}`,
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"here you go: {\"a\":1} thanks": `{"a":1}`,
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToExecutorKind(t *testing.T) {
	if _, ok := toExecutorKind(ActionNavigate); ok {
		t.Error("navigate should not map to an executor kind (handled separately)")
	}
	if kind, ok := toExecutorKind(ActionClick); !ok || string(kind) != "click" {
		t.Errorf("expected click to map to executor click, got %v/%v", kind, ok)
	}
}

func TestPushHistoryCapsAtDepth(t *testing.T) {
	var h []string
	for i := 0; i < historyDepth+3; i++ {
		h = pushHistory(h, "x")
	}
	if len(h) != historyDepth {
		t.Errorf("expected history capped at %d, got %d", historyDepth, len(h))
	}
}
