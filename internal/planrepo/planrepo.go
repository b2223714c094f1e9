// Package planrepo is the minimal embedded-SQL-backed adapter for the
// plan-repository collaborator: it persists goal-driven test scenarios
// keyed by a profile name (typically a URL's host) and content hash, and
// reads them back without requiring a real external service. Callers that
// want a richer plan store (a real database, a remote API) can substitute
// their own implementation of the same two operations.
package planrepo

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Scenario is one persisted test scenario: a profile-scoped goal definition
// with its success assertion, mirroring what a spec analyzer produces.
type Scenario struct {
	ID         string          `json:"id"`
	Priority   string          `json:"priority"`
	Scenario   string          `json:"scenario"`
	Steps      []ScenarioStep  `json:"steps,omitempty"`
	Assertion  *Assertion      `json:"assertion,omitempty"`
}

// ScenarioStep is one free-text step description within a scenario.
type ScenarioStep struct {
	Description string `json:"description"`
}

// Assertion describes how a scenario's success is judged.
type Assertion struct {
	Description       string   `json:"description,omitempty"`
	ExpectedOutcome    string   `json:"expected_outcome,omitempty"`
	SuccessIndicators  []string `json:"success_indicators,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	profile    TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	scenarios  TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (profile)
);

CREATE INDEX IF NOT EXISTS idx_plans_url ON plans(url);
CREATE INDEX IF NOT EXISTS idx_plans_content_hash ON plans(content_hash);
`

// Repository is a SQLite-backed plan store. The zero value is not usable;
// construct one with Open.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the plans schema exists. path may be ":memory:" for tests.
func Open(path string) (*Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("planrepo: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("planrepo: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("planrepo: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("planrepo: applying schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SavePlan persists scenarios for url (or, if url is empty, under a
// content-hash-derived profile), matching the save_plan collaborator
// signature: the core only ever calls this and load_plan_file.
func (r *Repository) SavePlan(ctx context.Context, targetURL string, scenarios []Scenario, contentHash string) error {
	profile, err := profileFor(targetURL, contentHash)
	if err != nil {
		return err
	}

	data, err := json.Marshal(scenarios)
	if err != nil {
		return fmt.Errorf("planrepo: marshaling scenarios: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO plans (profile, url, content_hash, scenarios, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET url=excluded.url, content_hash=excluded.content_hash, scenarios=excluded.scenarios, updated_at=excluded.updated_at
	`, profile, targetURL, contentHash, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("planrepo: saving plan: %w", err)
	}
	return nil
}

// LoadPlanFile retrieves the scenarios last saved for profile. It returns
// an empty slice, not an error, when nothing has been saved yet — an
// unpopulated plan repository is a normal starting state, not a failure.
func (r *Repository) LoadPlanFile(ctx context.Context, profile string) ([]Scenario, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT scenarios FROM plans WHERE profile = ?`, profile).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("planrepo: loading plan %s: %w", profile, err)
	}

	var scenarios []Scenario
	if err := json.Unmarshal([]byte(raw), &scenarios); err != nil {
		return nil, fmt.Errorf("planrepo: decoding plan %s: %w", profile, err)
	}
	return scenarios, nil
}

// LoadPlanByURL is a convenience wrapper that derives the profile from a
// URL's host the same way SavePlan does.
func (r *Repository) LoadPlanByURL(ctx context.Context, targetURL string) ([]Scenario, error) {
	profile, err := profileFor(targetURL, "")
	if err != nil {
		return nil, err
	}
	return r.LoadPlanFile(ctx, profile)
}

// profileFor derives a stable profile key from a URL's host, falling back
// to a content-hash-keyed profile when no URL is available (e.g. a plan
// derived from an uploaded spec document rather than a live page).
func profileFor(targetURL, contentHash string) (string, error) {
	if targetURL != "" {
		u, err := url.Parse(targetURL)
		if err != nil {
			return "", fmt.Errorf("planrepo: parsing url: %w", err)
		}
		host := strings.ToLower(u.Hostname())
		if host != "" {
			return host, nil
		}
	}
	if contentHash != "" {
		return "hash_" + contentHash, nil
	}
	sum := md5.Sum([]byte(targetURL))
	return "plan_" + hex.EncodeToString(sum[:])[:12], nil
}
