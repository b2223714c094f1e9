package executor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
)

// ActionKind enumerates the action verbs the executor understands. Every
// action is addressed by a ref_id resolved against a prior snapshot; there
// is no legacy CSS/XPath selector path.
type ActionKind string

const (
	ActionClick          ActionKind = "click"
	ActionType           ActionKind = "type"
	ActionPress          ActionKind = "press"
	ActionSelect         ActionKind = "select"
	ActionCheck          ActionKind = "check"
	ActionUncheck        ActionKind = "uncheck"
	ActionHover          ActionKind = "hover"
	ActionScroll         ActionKind = "scroll"
	ActionScrollIntoView ActionKind = "scrollIntoView"
	ActionDragAndDrop    ActionKind = "dragAndDrop"
	ActionDragSlider     ActionKind = "dragSlider"
	ActionNavigate       ActionKind = "navigate"
)

// Request describes one action to execute against a session.
type Request struct {
	SessionID  string
	TabID      string // optional scope check
	SnapshotID string // optional; defaults to the session's latest snapshot
	RefID      string
	Kind       ActionKind
	// Value carries the per-kind payload: text for ActionType/ActionSelect, a
	// key name for ActionPress, a pixel offset for ActionDragSlider, the
	// drop target's ref_id for ActionDragAndDrop, or a URL for ActionNavigate.
	Value string
}

// AttemptLog records one retry iteration within a single Execute call, so a
// caller can see what was tried before the final reason code was reached.
type AttemptLog struct {
	Attempt  int           `json:"attempt"`
	Reason   ReasonCode    `json:"reason_code"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StateChange records the before/after change flags the effectiveness
// probe observed (§3/§8). Flags that this executor does not evaluate for a
// given action kind are simply left false rather than omitted, except
// target_value_matches, which is omitted when false.
type StateChange struct {
	URLChanged              bool    `json:"url_changed"`
	DOMChanged              bool    `json:"dom_changed"`
	TargetVisibilityChanged bool    `json:"target_visibility_changed"`
	TargetValueChanged      bool    `json:"target_value_changed"`
	TargetValueMatches      bool    `json:"target_value_matches,omitempty"`
	FocusChanged            bool    `json:"focus_changed"`
	TargetFocusChanged      bool    `json:"target_focus_changed"`
	ProbeWaitMs             []int64 `json:"probe_wait_ms,omitempty"`
	ProbeScroll             string  `json:"probe_scroll,omitempty"`
}

// anyChanged reports whether at least one flag fired, used to enforce
// "effectiveness implies some change" (§8) wherever a StateChange is built.
func (sc *StateChange) anyChanged() bool {
	if sc == nil {
		return false
	}
	return sc.URLChanged || sc.DOMChanged || sc.TargetVisibilityChanged ||
		sc.TargetValueChanged || sc.TargetValueMatches || sc.FocusChanged ||
		sc.TargetFocusChanged || sc.ProbeScroll != ""
}

// Result is the outcome of an Execute call. success and effective are
// orthogonal per §3: success means the interaction was delivered without
// error, effective means the effectiveness predicate for the action kind
// was satisfied. An action can transport successfully and still be
// ineffective (reason_code=no_state_change).
type Result struct {
	Reason         ReasonCode   `json:"reason_code"`
	Detail         string       `json:"reason,omitempty"`
	Success        bool         `json:"success"`
	Effective      bool         `json:"effective"`
	RecoveredRefID string       `json:"recovered_ref_id,omitempty"`
	SnapshotID     string       `json:"snapshot_id,omitempty"`
	AttemptLogs    []AttemptLog `json:"attempt_logs"`
	StateChange    *StateChange `json:"state_change,omitempty"`
}

// Executor runs actions against sessions owned by a browser.SessionManager,
// verifying that each one produced the effect its kind predicts before
// reporting success.
type Executor struct {
	mgr *browser.SessionManager
	cfg config.BrowserConfig
}

// New constructs an Executor bound to a session manager.
func New(mgr *browser.SessionManager, cfg config.BrowserConfig) *Executor {
	return &Executor{mgr: mgr, cfg: cfg}
}

// Execute resolves req against the session's current snapshot, performs the
// action, and verifies its effect, retrying within the action's budget until
// a terminal reason code is reached.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	sess, ok := e.mgr.Get(req.SessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", req.SessionID)
	}

	sess.Lock()
	defer sess.Unlock()

	if req.Kind != ActionNavigate && req.RefID == "" {
		return &Result{Reason: ReasonRefRequired, Detail: "this action kind requires a ref_id"}, nil
	}

	budget := e.cfg.ActionBudgetDuration()
	deadline := time.Now().Add(budget)

	var logs []AttemptLog
	attempt := 0

	for {
		attempt++
		start := time.Now()
		res, err := e.attempt(ctx, sess, req)
		elapsed := time.Since(start)

		if err != nil {
			return nil, err
		}
		logs = append(logs, AttemptLog{Attempt: attempt, Reason: res.Reason, Detail: res.Detail, Duration: elapsed})
		res.AttemptLogs = logs
		log.Printf("[execute_ref_action] session=%s ref=%s kind=%s attempt=%d reason=%s", req.SessionID, req.RefID, req.Kind, attempt, res.Reason)

		if res.Reason.Terminal() {
			return res, nil
		}
		if time.Now().After(deadline) {
			res.Reason = ReasonActionTimeout
			res.AttemptLogs = logs
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
}

// attempt runs a single resolve-act-verify cycle.
func (e *Executor) attempt(ctx context.Context, sess *browser.Session, req Request) (*Result, error) {
	if req.Kind == ActionNavigate {
		return e.executeNavigate(ctx, sess, req)
	}

	snap, recoveredRef, reason, detail := e.resolveSnapshotAndRef(sess, req)
	if reason != "" {
		return &Result{Reason: reason, Detail: detail}, nil
	}

	el, ok := snap.ElementByRef(req.RefID)
	if !ok && recoveredRef == "" {
		return &Result{Reason: ReasonNotFound, Detail: "ref not present in resolved snapshot"}, nil
	}
	effectiveRef := req.RefID
	if recoveredRef != "" {
		effectiveRef = recoveredRef
		el, _ = snap.ElementByRef(recoveredRef)
	}

	if req.TabID != "" && el.TabID != "" && el.TabID != req.TabID {
		return &Result{Reason: ReasonTabScopeMismatch, Detail: fmt.Sprintf("ref belongs to tab %s, not %s", el.TabID, req.TabID)}, nil
	}

	page, err := sess.ActivePage()
	if err != nil {
		return nil, err
	}

	target, err := resolveRef(page, effectiveRef)
	if err != nil {
		return &Result{Reason: reasonFromLocatorError(err), Detail: err.Error()}, nil
	}

	if !el.Visible {
		_ = target.ScrollIntoView()
	}
	if el.Disabled {
		return &Result{Reason: ReasonNotActionable, Detail: "element is disabled"}, nil
	}

	before, err := captureElementState(target)
	if err != nil {
		return &Result{Reason: ReasonUnknownError, Detail: err.Error()}, nil
	}
	beforeURL := pageURL(page)

	submitLike := isSubmitLikeClick(req.Kind, el.Name, el.Attributes["type"])
	budget := e.cfg.ActionBudgetDuration()
	if submitLike {
		budget = e.cfg.SubmitActionBudgetDuration()
	}
	actionCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := invoke(actionCtx, page, target, req); err != nil {
		return &Result{Reason: ReasonUnknownError, Detail: err.Error()}, nil
	}

	schedule := probeSchedule(submitLike)
	sc := &StateChange{}
	effective := false
	for _, wait := range schedule {
		select {
		case <-actionCtx.Done():
		case <-time.After(wait):
		}
		sc.ProbeWaitMs = append(sc.ProbeWaitMs, wait.Milliseconds())

		after, err := captureElementState(target)
		if err != nil {
			// Element likely detached (e.g. after navigation) — treat as effective
			// for submit-like clicks, since the page itself is the new state.
			if submitLike {
				sc.URLChanged = pageURL(page) != beforeURL
				sc.DOMChanged = true
				effective = true
			}
			break
		}
		applyStateChangeFlags(sc, before, after, req.Kind)
		sc.URLChanged = pageURL(page) != beforeURL
		if stateChanged(before, after, req.Kind) || sc.URLChanged {
			effective = true
			break
		}
	}

	if !effective {
		if scrollProbe(page) {
			sc.ProbeScroll = "bottom"
			effective = true
		}
	}

	if !effective || !sc.anyChanged() {
		// anyChanged guards §8's "effectiveness implies some change" invariant:
		// an action kind whose predicate fired without tripping any flag this
		// struct tracks is reported as ineffective rather than silently ok.
		return &Result{Reason: ReasonNoStateChange, RecoveredRefID: recoveredRef, SnapshotID: snap.ID, StateChange: sc}, nil
	}

	reason := ReasonOK
	if recoveredRef != "" {
		reason = ReasonStaleRefRecovered
	}
	return &Result{Reason: reason, Success: true, Effective: true, RecoveredRefID: recoveredRef, SnapshotID: snap.ID, StateChange: sc}, nil
}

// pageURL reads the page's current URL for before/after comparison,
// returning "" on error rather than failing the whole probe.
func pageURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// applyStateChangeFlags fills the per-kind change flags a StateChange
// reports, mirroring the effectiveness predicates in stateChanged but
// exposing each contributing flag individually instead of a single bool.
func applyStateChangeFlags(sc *StateChange, before, after elementState, kind ActionKind) {
	sc.TargetValueChanged = before.value != after.value
	sc.TargetFocusChanged = before.focused != after.focused
	sc.FocusChanged = sc.TargetFocusChanged
	sc.TargetVisibilityChanged = before.visible != after.visible
	switch kind {
	case ActionType:
		sc.TargetValueMatches = after.value != ""
	case ActionCheck, ActionUncheck:
		sc.DOMChanged = before.checked != after.checked
	case ActionHover, ActionClick, ActionPress:
		sc.DOMChanged = before.disabled != after.disabled || before.checked != after.checked
	}
}

// resolveSnapshotAndRef finds the snapshot to resolve req against, attempting
// stale-ref recovery when the requested snapshot is no longer current.
func (e *Executor) resolveSnapshotAndRef(sess *browser.Session, req Request) (*browser.Snapshot, string, ReasonCode, string) {
	var snap *browser.Snapshot
	var ok bool

	if req.SnapshotID != "" {
		snap, ok = sess.Snapshot(req.SnapshotID)
		if !ok {
			return nil, "", ReasonSnapshotNotFound, fmt.Sprintf("snapshot %s not found in session cache", req.SnapshotID)
		}
	} else {
		snap, ok = sess.LatestSnapshot()
		if !ok {
			return nil, "", ReasonSnapshotNotFound, "session has no cached snapshot"
		}
	}

	if _, ok := snap.ElementByRef(req.RefID); ok {
		return snap, "", "", ""
	}

	stale, ok := sess.RegistryLookup(req.RefID)
	if !ok {
		return nil, "", ReasonStaleSnapshot, "ref is not present in the resolved snapshot and has no known fingerprint"
	}

	fresh, _, recovered, err := recoverStaleRef(e.mgr, sess, stale)
	if err != nil {
		return nil, "", ReasonUnknownError, err.Error()
	}
	if !recovered {
		return nil, "", ReasonStaleSnapshot, "no recovery candidate cleared the similarity threshold"
	}

	best, ok := findByDOMRef(stale.DOMRef, fresh.Elements)
	if !ok {
		best, _, _ = browser.BestRecoveryCandidate(stale, fresh.Elements)
	}
	return fresh, best.RefID, "", ""
}

// executeNavigate drives a navigation action directly, since it addresses a
// tab rather than a ref.
func (e *Executor) executeNavigate(ctx context.Context, sess *browser.Session, req Request) (*Result, error) {
	page, err := sess.ActivePage()
	if err != nil {
		return nil, err
	}
	if req.Value == "" {
		return &Result{Reason: ReasonInvalidInput, Detail: "navigate requires a url"}, nil
	}

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout())
	defer cancel()

	if err := page.Context(navCtx).Navigate(req.Value); err != nil {
		return &Result{Reason: ReasonUnknownError, Detail: err.Error()}, nil
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return &Result{Reason: ReasonActionTimeout, Detail: err.Error()}, nil
	}
	time.Sleep(e.cfg.Settle())
	return &Result{Reason: ReasonOK, Success: true, Effective: true, StateChange: &StateChange{URLChanged: true}}, nil
}

// elementState captures the observable properties the effectiveness
// predicates diff before and after an action.
type elementState struct {
	value    string
	checked  bool
	disabled bool
	focused  bool
	visible  bool
}

func captureElementState(el *rod.Element) (elementState, error) {
	var s elementState
	if v, err := el.Property("value"); err == nil {
		s.value = v.Str()
	}
	if v, err := el.Property("checked"); err == nil {
		s.checked = v.Bool()
	}
	if v, err := el.Property("disabled"); err == nil {
		s.disabled = v.Bool()
	}
	focused, err := el.Eval(`() => document.activeElement === this`)
	if err == nil {
		s.focused = focused.Value.Bool()
	}
	if visible, err := el.Visible(); err == nil {
		s.visible = visible
	}
	return s, nil
}

// stateChanged applies a per-kind effectiveness predicate comparing before
// and after element state.
func stateChanged(before, after elementState, kind ActionKind) bool {
	switch kind {
	case ActionType:
		return before.value != after.value
	case ActionSelect:
		return before.value != after.value
	case ActionCheck:
		return !before.checked && after.checked
	case ActionUncheck:
		return before.checked && !after.checked
	case ActionHover, ActionClick, ActionPress:
		return before.focused != after.focused || before.value != after.value || before.checked != after.checked || before.disabled != after.disabled
	default:
		return before != after
	}
}

// probeSchedule returns the post-action wait schedule: submit-like clicks
// get a single short probe since the natural effect is a navigation that
// would otherwise outlive a multi-probe schedule; everything else gets three
// increasing waits to catch slower async DOM mutations.
func probeSchedule(submitLike bool) []time.Duration {
	if submitLike {
		return []time.Duration{250 * time.Millisecond}
	}
	return []time.Duration{350 * time.Millisecond, 700 * time.Millisecond, 1500 * time.Millisecond}
}

// scrollProbe is the last-resort effectiveness check: some actions only
// produce an effect visible after the page has been scrolled (lazy-loaded
// content, infinite scroll triggers). It tries three scroll positions and
// reports whether the document's scroll height changed.
func scrollProbe(page *rod.Page) bool {
	before, err := page.Eval(`() => document.documentElement.scrollHeight`)
	if err != nil {
		return false
	}
	positions := []string{"0", "document.documentElement.scrollHeight / 2", "document.documentElement.scrollHeight"}
	for _, pos := range positions {
		_, _ = page.Eval(fmt.Sprintf(`() => window.scrollTo(0, %s)`, pos))
		time.Sleep(200 * time.Millisecond)
	}
	after, err := page.Eval(`() => document.documentElement.scrollHeight`)
	if err != nil {
		return false
	}
	return before.Value.Num() != after.Value.Num()
}

// invoke performs the actual CDP-level action for a resolved element.
func invoke(ctx context.Context, page *rod.Page, el *rod.Element, req Request) error {
	switch req.Kind {
	case ActionClick:
		return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	case ActionHover:
		return el.Context(ctx).Hover()
	case ActionType:
		if err := el.Context(ctx).SelectAllText(); err == nil {
			_ = el.Context(ctx).Input("")
		}
		return el.Context(ctx).Input(req.Value)
	case ActionPress:
		key, ok := pressKey(req.Value)
		if !ok {
			return fmt.Errorf("unsupported press key %q", req.Value)
		}
		if err := el.Context(ctx).Focus(); err != nil {
			return err
		}
		return page.Context(ctx).Keyboard.Type(key)
	case ActionSelect:
		return el.Context(ctx).Select([]string{req.Value}, true, rod.SelectorTypeText)
	case ActionCheck:
		checked, _ := el.Property("checked")
		if checked.Bool() {
			return nil
		}
		return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	case ActionUncheck:
		checked, _ := el.Property("checked")
		if !checked.Bool() {
			return nil
		}
		return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	case ActionScroll:
		dy := 400.0
		switch strings.ToLower(req.Value) {
		case "up":
			dy = -400
		case "down", "":
		default:
			if n, err := strconv.Atoi(req.Value); err == nil {
				dy = float64(n)
			}
		}
		_, err := page.Context(ctx).Eval(fmt.Sprintf(`() => window.scrollBy(0, %f)`, dy))
		return err
	case ActionScrollIntoView:
		return el.Context(ctx).ScrollIntoView()
	case ActionDragAndDrop:
		target, err := resolveRef(page, req.Value)
		if err != nil {
			return fmt.Errorf("resolving drag target: %w", err)
		}
		return dragTo(ctx, page, el, target)
	case ActionDragSlider:
		offset, err := strconv.Atoi(req.Value)
		if err != nil {
			return fmt.Errorf("dragSlider value must be an integer pixel offset: %w", err)
		}
		return dragByOffset(ctx, page, el, offset)
	default:
		return fmt.Errorf("unsupported action kind %q", req.Kind)
	}
}

// pressKey maps an action's key name to the input.Key constant go-rod's
// Keyboard needs to dispatch a real key event, as opposed to ActionType's
// SelectAllText+Input, which types text rather than pressing a key.
func pressKey(name string) (input.Key, bool) {
	switch strings.ToLower(name) {
	case "enter", "return":
		return input.Enter, true
	case "tab":
		return input.Tab, true
	case "escape", "esc":
		return input.Escape, true
	case "backspace":
		return input.Backspace, true
	case "delete":
		return input.Delete, true
	case "space":
		return input.Space, true
	case "arrowup", "up":
		return input.ArrowUp, true
	case "arrowdown", "down":
		return input.ArrowDown, true
	case "arrowleft", "left":
		return input.ArrowLeft, true
	case "arrowright", "right":
		return input.ArrowRight, true
	case "home":
		return input.Home, true
	case "end":
		return input.End, true
	case "pageup":
		return input.PageUp, true
	case "pagedown":
		return input.PageDown, true
	}
	var zero input.Key
	return zero, false
}

// elementCenter reads an element's viewport-relative center point, the
// coordinate the mouse primitives need to drag from or to.
func elementCenter(ctx context.Context, el *rod.Element) (x, y float64, err error) {
	res, err := el.Context(ctx).Eval(`() => {
		const r = this.getBoundingClientRect();
		return {x: r.x + r.width / 2, y: r.y + r.height / 2};
	}`)
	if err != nil {
		return 0, 0, err
	}
	return res.Value.Get("x").Num(), res.Value.Get("y").Num(), nil
}

// dragTo drags src to dst's center using a press-move-release mouse
// sequence, the same primitive sortable lists and reorderable widgets expect.
func dragTo(ctx context.Context, page *rod.Page, src, dst *rod.Element) error {
	sx, sy, err := elementCenter(ctx, src)
	if err != nil {
		return err
	}
	dx, dy, err := elementCenter(ctx, dst)
	if err != nil {
		return err
	}
	mouse := page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: sx, Y: sy}); err != nil {
		return err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := mouse.MoveTo(proto.Point{X: dx, Y: dy}); err != nil {
		return err
	}
	return mouse.Up(proto.InputMouseButtonLeft, 1)
}

// dragByOffset drags el horizontally by offsetX pixels, the motion a range
// slider's thumb needs rather than a drop onto another element.
func dragByOffset(ctx context.Context, page *rod.Page, el *rod.Element, offsetX int) error {
	sx, sy, err := elementCenter(ctx, el)
	if err != nil {
		return err
	}
	mouse := page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: sx, Y: sy}); err != nil {
		return err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := mouse.MoveTo(proto.Point{X: sx + float64(offsetX), Y: sy}); err != nil {
		return err
	}
	return mouse.Up(proto.InputMouseButtonLeft, 1)
}
