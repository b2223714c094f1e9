package browser

import "testing"

func TestScoreCandidateExactMatch(t *testing.T) {
	stale := ElementMeta{
		TagName:    "button",
		Role:       "button",
		Name:       "Submit",
		Attributes: map[string]string{"id": "submit-btn", "data-testid": "submit"},
	}
	candidate := stale
	score := ScoreCandidate(stale, candidate)
	if score < recoveryScoreThreshold {
		t.Errorf("expected exact match to clear threshold, got score %d", score)
	}
}

func TestScoreCandidateUnrelated(t *testing.T) {
	stale := ElementMeta{
		TagName:    "button",
		Role:       "button",
		Name:       "Submit",
		Attributes: map[string]string{"id": "submit-btn"},
	}
	candidate := ElementMeta{
		TagName:    "a",
		Role:       "link",
		Name:       "Help",
		Attributes: map[string]string{"id": "help-link"},
	}
	score := ScoreCandidate(stale, candidate)
	if score >= recoveryScoreThreshold {
		t.Errorf("expected unrelated elements to stay below threshold, got score %d", score)
	}
}

func TestBestRecoveryCandidate(t *testing.T) {
	stale := ElementMeta{
		TagName:    "input",
		Name:       "Email",
		Attributes: map[string]string{"name": "email"},
	}
	fresh := []ElementMeta{
		{TagName: "a", Name: "Home"},
		{TagName: "input", Name: "Email", Attributes: map[string]string{"name": "email"}},
		{TagName: "input", Name: "Password", Attributes: map[string]string{"name": "password"}},
	}

	best, score, ok := BestRecoveryCandidate(stale, fresh)
	if !ok {
		t.Fatalf("expected a recovery candidate, got none (score %d)", score)
	}
	if best.Name != "Email" {
		t.Errorf("expected Email field to be recovered, got %q", best.Name)
	}
}

func TestBestRecoveryCandidateNoneQualifies(t *testing.T) {
	stale := ElementMeta{TagName: "button", Name: "Checkout", Attributes: map[string]string{"id": "checkout"}}
	fresh := []ElementMeta{
		{TagName: "a", Name: "Home"},
		{TagName: "input", Name: "Search"},
	}

	_, _, ok := BestRecoveryCandidate(stale, fresh)
	if ok {
		t.Error("expected no candidate to qualify")
	}
}

func TestSnapshotCacheEviction(t *testing.T) {
	c := newSnapshotCache(2)
	c.put(&Snapshot{ID: "a"})
	c.put(&Snapshot{ID: "b"})
	c.put(&Snapshot{ID: "c"})

	if _, ok := c.get("a"); ok {
		t.Error("expected oldest snapshot 'a' to be evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Error("expected 'b' to remain cached")
	}
	latest, ok := c.latest()
	if !ok || latest.ID != "c" {
		t.Errorf("expected latest snapshot 'c', got %+v", latest)
	}
}
