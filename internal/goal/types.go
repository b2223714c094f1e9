// Package goal implements the VLM-driven outer control loop: it snapshots
// a session, asks a vision model for the single next action, executes it
// through the executor, and decides whether to continue, stop, or declare
// the goal achieved. It never talks to the browser directly — everything
// goes through browser.SessionManager and executor.Executor so the loop
// stays a pure orchestration layer.
package goal

import "time"

// ActionType mirrors the action verbs a decision may name. Distinct from
// executor.ActionKind because the VLM vocabulary is slightly larger
// (navigate/wait are first-class decisions here, not just executor kinds).
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionPress    ActionType = "press"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionNavigate ActionType = "navigate"
	ActionHover    ActionType = "hover"
	ActionSelect   ActionType = "select"
)

// Goal is a test objective with no embedded steps; the loop discovers the
// steps itself by repeatedly asking the VLM what to do next.
type Goal struct {
	ID          string
	Name        string
	Description string
	Priority    string // MUST/SHOULD/MAY
	Keywords    []string

	TestData          map[string]string
	SuccessCriteria    []string
	FailureCriteria    []string
	MaxSteps           int
	StartURL           string
}

// Decision is the VLM's strict-JSON reply for a single step.
type Decision struct {
	Action               ActionType `json:"action"`
	ElementID             int        `json:"element_id,omitempty"`
	Value                 string     `json:"value,omitempty"`
	Reasoning             string     `json:"reasoning"`
	Confidence            float64    `json:"confidence"`
	IsGoalAchieved        bool       `json:"is_goal_achieved"`
	GoalAchievementReason string     `json:"goal_achievement_reason,omitempty"`
}

// StepResult is the outcome of running one decision against the browser.
type StepResult struct {
	StepNumber int
	Decision   Decision
	Success    bool
	ReasonCode string
	Error      string
	DurationMs int64
}

// Result is the terminal outcome of a full goal run.
type Result struct {
	GoalID         string
	GoalName       string
	Success        bool
	Steps          []StepResult
	TotalSteps     int
	FinalReason    string
	DurationSeconds float64
}

// Severity classifies an issue an exploratory run records against an
// action failure or a captured console error.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityBug     Severity = "bug"
	SeverityCrash   Severity = "crash"
)

// Issue is one anomaly observed during an exploratory run.
type Issue struct {
	Severity    Severity
	Title       string
	Description string
	URL         string
	FoundAt     time.Time
}

// InterventionHook is invoked when the loop detects a login gate (a
// login-like URL with almost no interactive elements) rather than letting
// the loop silently spin against an auth iframe it cannot drive. It
// returns true to resume the run after the caller says the gate has been
// cleared (e.g. a human logged in out of band), false to abandon the run.
type InterventionHook func(reason, currentURL string) bool
