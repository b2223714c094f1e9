package goal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
	"github.com/gaia-qa/gaiabrowser/internal/vlm"
)

const (
	historyDepth     = 5
	maxElementRows   = 50
	defaultMaxSteps  = 20
)

var loginKeywords = []string{"login", "signin", "sign-in", "auth", "sso", "portal"}

// GoalLoop drives one Goal to completion against a single session: capture
// a snapshot, ask the VLM what to do next, execute it, repeat until the
// VLM reports the goal achieved or a stagnation detector fires.
type GoalLoop struct {
	Sessions *browser.SessionManager
	Executor *executor.Executor
	VLM      vlm.Client

	// Intervention is consulted when a login gate is detected. It may be
	// nil, in which case the loop records the gate in the result and stops rather than
	// blocking on anything resembling stdin.
	Intervention InterventionHook
}

// Run executes goal against sessionID, which must already exist (created
// via browser_start) and optionally already be on the goal's start URL.
func (l *GoalLoop) Run(ctx context.Context, sessionID string, goal Goal) (*Result, error) {
	started := time.Now()
	maxSteps := goal.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	sess, ok := l.Sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("goal loop: unknown session %s", sessionID)
	}

	tracker := newStagnationTracker()
	history := make([]string, 0, historyDepth)
	result := &Result{GoalID: goal.ID, GoalName: goal.Name}

	for step := 1; step <= maxSteps; step++ {
		stepStart := time.Now()

		snap, screenshotB64, err := l.captureState(ctx, sess)
		if err != nil {
			tracker.observeNoDOM()
			if tracker.stopped() {
				result.FinalReason = tracker.stopReason
				break
			}
			continue
		}
		tracker.observeSnapshot(snap)
		if tracker.stopped() {
			result.FinalReason = tracker.stopReason
			break
		}

		loginGate := isLoginGate(snap)
		if loginGate {
			_, hasCreds := goal.TestData["password"]
			if !hasCreds {
				resumed := true
				if l.Intervention != nil {
					resumed = l.Intervention("login required before the goal can proceed", snap.URL)
				} else {
					result.FinalReason = "login gate reached with no intervention hook wired; stopping"
					break
				}
				if !resumed {
					result.FinalReason = "login gate reached; user declined to continue"
					break
				}
				snap, screenshotB64, err = l.captureState(ctx, sess)
				if err != nil {
					result.FinalReason = "DOM unreachable after login intervention"
					break
				}
			}
		}

		decision := l.decide(ctx, goal, snap, screenshotB64, history)

		if decision.IsGoalAchieved {
			result.Success = true
			result.FinalReason = decision.GoalAchievementReason
			result.Steps = append(result.Steps, StepResult{
				StepNumber: step,
				Decision:   decision,
				Success:    true,
				DurationMs: time.Since(stepStart).Milliseconds(),
			})
			break
		}

		hasCreds := goal.TestData["password"] != ""
		tracker.observeDecision(decision, loginGate, hasCreds)
		history = pushHistory(history, decisionSignature(decision)+":"+string(decision.Action))

		stepResult := l.act(ctx, sess, snap, decision, step, stepStart, tracker)
		result.Steps = append(result.Steps, stepResult)

		if tracker.stopped() {
			result.FinalReason = tracker.stopReason
			break
		}
	}

	result.TotalSteps = len(result.Steps)
	result.DurationSeconds = time.Since(started).Seconds()
	if result.FinalReason == "" && !result.Success {
		result.FinalReason = "step budget exhausted"
	}
	return result, nil
}

// captureState snapshots the session and grabs a screenshot of the active
// tab, both inputs the VLM needs for a single decision.
func (l *GoalLoop) captureState(ctx context.Context, sess *browser.Session) (*browser.Snapshot, string, error) {
	sess.Lock()
	defer sess.Unlock()

	snap, err := l.Sessions.CaptureSnapshot(sess)
	if err != nil {
		return nil, "", err
	}

	page, err := sess.ActivePage()
	if err != nil {
		return snap, "", nil
	}
	data, err := page.Screenshot(false, nil)
	if err != nil {
		return snap, "", nil
	}
	return snap, base64.StdEncoding.EncodeToString(data), nil
}

// decide issues one VLM request and parses its strict-JSON reply. A parse
// failure synthesizes a WAIT decision with zero confidence rather than
// propagating the error, since a malformed reply is itself informative
// (the caller sees it in the decision's reasoning) and shouldn't abort the
// whole run.
func (l *GoalLoop) decide(ctx context.Context, goal Goal, snap *browser.Snapshot, screenshotB64 string, history []string) Decision {
	prompt := buildPrompt(goal, snap, history)

	raw, err := l.VLM.AnalyzeWithVision(ctx, prompt, screenshotB64)
	if err != nil {
		return Decision{Action: ActionWait, Reasoning: fmt.Sprintf("vlm request failed: %v", err)}
	}

	var decision Decision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decision); err != nil {
		return Decision{Action: ActionWait, Reasoning: fmt.Sprintf("could not parse vlm reply as JSON: %v", err)}
	}
	return decision
}

// act maps the decision's element_id to the snapshot's ref_id and runs it
// through the executor. Non-ok outcomes are recorded but do not abort the
// loop on their own; only the stagnation trackers decide that.
func (l *GoalLoop) act(ctx context.Context, sess *browser.Session, snap *browser.Snapshot, decision Decision, step int, stepStart time.Time, tracker *stagnationTracker) StepResult {
	sr := StepResult{StepNumber: step, Decision: decision}

	if decision.Action == ActionNavigate {
		sr.Success = true
		sr.DurationMs = time.Since(stepStart).Milliseconds()
		return sr
	}
	if decision.Action == ActionWait {
		time.Sleep(500 * time.Millisecond)
		sr.Success = true
		sr.DurationMs = time.Since(stepStart).Milliseconds()
		return sr
	}

	kind, ok := toExecutorKind(decision.Action)
	if !ok {
		sr.ReasonCode = "not_actionable"
		sr.Error = fmt.Sprintf("unrecognized action %q", decision.Action)
		sr.DurationMs = time.Since(stepStart).Milliseconds()
		return sr
	}

	refID := elementRefForID(snap, decision.ElementID)
	if refID == "" {
		sr.ReasonCode = "not_found"
		sr.Error = fmt.Sprintf("no element with id %d in the current snapshot", decision.ElementID)
		sr.DurationMs = time.Since(stepStart).Milliseconds()
		return sr
	}

	res, err := l.Executor.Execute(ctx, executor.Request{
		SessionID:  sess.ID,
		SnapshotID: snap.ID,
		RefID:      refID,
		Kind:       kind,
		Value:      decision.Value,
	})
	sr.DurationMs = time.Since(stepStart).Milliseconds()
	if err != nil {
		sr.ReasonCode = "unknown_error"
		sr.Error = err.Error()
		return sr
	}
	switch res.Reason {
	case executor.ReasonStaleRefRecovered:
		tracker.recordAutoRecovery(true)
	case executor.ReasonStaleSnapshot:
		tracker.recordAutoRecovery(false)
	}
	sr.Success = res.Success
	sr.ReasonCode = string(res.Reason)
	if !res.Success {
		sr.Error = res.Detail
	}
	return sr
}

func toExecutorKind(a ActionType) (executor.ActionKind, bool) {
	switch a {
	case ActionClick:
		return executor.ActionClick, true
	case ActionFill:
		return executor.ActionType, true
	case ActionPress:
		return executor.ActionPress, true
	case ActionScroll:
		return executor.ActionScroll, true
	case ActionHover:
		return executor.ActionHover, true
	case ActionSelect:
		return executor.ActionSelect, true
	default:
		return "", false
	}
}

func elementRefForID(snap *browser.Snapshot, id int) string {
	if id <= 0 || id > len(snap.Elements) {
		return ""
	}
	return snap.Elements[id-1].RefID
}

// isLoginGate flags a page that looks like an auth boundary the loop
// cannot click through: a login-ish URL yielding almost no interactive
// elements, typically a cross-origin SSO iframe the DOM walk can't enter.
func isLoginGate(snap *browser.Snapshot) bool {
	urlLower := strings.ToLower(snap.URL)
	hasKeyword := false
	for _, kw := range loginKeywords {
		if strings.Contains(urlLower, kw) {
			hasKeyword = true
			break
		}
	}
	return hasKeyword && len(snap.Elements) <= 2
}

func pushHistory(history []string, entry string) []string {
	history = append(history, entry)
	if len(history) > historyDepth {
		history = history[len(history)-historyDepth:]
	}
	return history
}

// buildPrompt renders the per-step VLM request: goal framing, the last few
// actions taken, and a compact element listing capped at maxElementRows so
// the prompt stays bounded on pages with large DOMs.
func buildPrompt(goal Goal, snap *browser.Snapshot, history []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n%s\n", goal.Name, goal.Description)
	if len(goal.SuccessCriteria) > 0 {
		fmt.Fprintf(&b, "Success criteria: %s\n", strings.Join(goal.SuccessCriteria, "; "))
	}
	if len(goal.FailureCriteria) > 0 {
		fmt.Fprintf(&b, "Failure criteria: %s\n", strings.Join(goal.FailureCriteria, "; "))
	}
	if len(goal.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(goal.Keywords, ", "))
	}
	if len(goal.TestData) > 0 {
		if data, err := json.Marshal(goal.TestData); err == nil {
			fmt.Fprintf(&b, "Test data: %s\n", string(data))
		}
	}
	if len(history) > 0 {
		fmt.Fprintf(&b, "Last actions: %s\n", strings.Join(history, " -> "))
	}

	b.WriteString("\nElements:\n")
	rows := snap.Elements
	if len(rows) > maxElementRows {
		rows = rows[:maxElementRows]
	}
	for i, el := range rows {
		fmt.Fprintf(&b, "[%d] <%s> %q role=%s type=%s placeholder=%s aria-label=%s\n",
			i+1, el.TagName, el.Name, el.Role, el.Attributes["type"], el.Attributes["placeholder"], el.Attributes["aria-label"])
	}

	b.WriteString("\nReply with strict JSON: {\"action\":..,\"element_id\":..,\"value\":..,\"reasoning\":..,\"confidence\":..,\"is_goal_achieved\":..,\"goal_achievement_reason\":..}")
	return b.String()
}

// extractJSON trims a model reply down to its outermost JSON object, in
// case the model wrapped it in a code fence or prose despite the prompt.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
