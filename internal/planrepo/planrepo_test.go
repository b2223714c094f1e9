package planrepo

import (
	"context"
	"testing"
)

func TestSaveAndLoadPlanByURL(t *testing.T) {
	repo, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	scenarios := []Scenario{
		{ID: "TC001", Priority: "MUST", Scenario: "login succeeds with valid credentials"},
	}
	if err := repo.SavePlan(ctx, "https://example.com/app", scenarios, ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.LoadPlanByURL(ctx, "https://example.com/other-page")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "TC001" {
		t.Fatalf("expected one scenario keyed by host, got %+v", loaded)
	}
}

func TestLoadPlanFileMissingReturnsEmpty(t *testing.T) {
	repo, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	scenarios, err := repo.LoadPlanFile(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("expected no error for missing profile, got %v", err)
	}
	if len(scenarios) != 0 {
		t.Fatalf("expected empty slice, got %+v", scenarios)
	}
}

func TestSavePlanOverwritesSameProfile(t *testing.T) {
	repo, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SavePlan(ctx, "https://example.com", []Scenario{{ID: "v1"}}, ""); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := repo.SavePlan(ctx, "https://example.com", []Scenario{{ID: "v2"}}, ""); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	loaded, err := repo.LoadPlanByURL(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "v2" {
		t.Fatalf("expected overwritten scenario v2, got %+v", loaded)
	}
}

func TestProfileForContentHashFallback(t *testing.T) {
	profile, err := profileFor("", "deadbeef")
	if err != nil {
		t.Fatalf("profileFor: %v", err)
	}
	if profile != "hash_deadbeef" {
		t.Errorf("expected hash_deadbeef, got %q", profile)
	}
}
