package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
)

// dispatch routes one decoded /execute envelope to its handler, returning
// the JSON-able result body and the HTTP status to send it with. Every
// branch returns a reason_code-carrying body per §7, even on success.
func (s *Server) dispatch(ctx context.Context, action string, params json.RawMessage) (any, int) {
	switch action {
	case "browser_start":
		return s.actionBrowserStart(ctx, params)
	case "browser_snapshot":
		return s.actionBrowserSnapshot(ctx, params)
	case "browser_act":
		return s.actionBrowserAct(ctx, params)
	case "browser_wait":
		return s.actionBrowserWait(ctx, params)
	case "browser_screenshot":
		return s.actionBrowserScreenshot(ctx, params)
	case "browser_pdf":
		return s.actionBrowserPDF(ctx, params)
	case "browser_tabs", "browser_tabs_open", "browser_tabs_focus", "browser_tabs_close":
		return s.actionBrowserTabs(ctx, action, params)
	case "browser_console_get":
		return s.actionRingBufferGet(params, ringConsole)
	case "browser_errors_get":
		return s.actionRingBufferGet(params, ringErrors)
	case "browser_requests_get":
		return s.actionRingBufferGet(params, ringRequests)
	case "browser_response_body":
		return errorBody("not_actionable", "response bodies are not retained; use browser_requests_get for summaries"), http.StatusOK
	case "browser_trace_start":
		return s.actionTraceStart(params)
	case "browser_trace_stop":
		return s.actionTraceStop(params)
	case "browser_state":
		return s.actionBrowserState(ctx, params)
	case "browser_env":
		return s.actionBrowserEnv(ctx, params)
	case "browser_close":
		return s.actionBrowserClose(params)
	default:
		return errorBody("invalid_input", fmt.Sprintf("unknown action %q", action)), http.StatusBadRequest
	}
}

type startParams struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	TabID     string `json:"tab_id"`
}

func (s *Server) actionBrowserStart(ctx context.Context, raw json.RawMessage) (any, int) {
	var p startParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}

	var sess *browser.Session
	if p.SessionID != "" {
		if existing, ok := s.mgr.Get(p.SessionID); ok {
			sess = existing
		}
	}
	if sess == nil {
		created, err := s.mgr.CreateSession(ctx, p.URL)
		if err != nil {
			return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
		}
		sess = created
		if err := s.mgr.StartScreencast(sess, s.broadcaster); err != nil {
			log.Printf("starting screencast for session %s: %v", sess.ID, err)
		}
	} else if p.URL != "" {
		if _, err := s.mgr.OpenTab(ctx, sess.ID, p.URL); err != nil {
			return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
		}
	}

	currentURL := ""
	if page, err := sess.ActivePage(); err == nil {
		if info, err := page.Info(); err == nil {
			currentURL = info.URL
		}
	}

	return map[string]any{
		"success":     true,
		"reason_code": "ok",
		"session_id":  sess.ID,
		"tab_id":      sess.ActiveTab,
		"current_url": currentURL,
	}, http.StatusOK
}

type snapshotParams struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
}

func (s *Server) actionBrowserSnapshot(ctx context.Context, raw json.RawMessage) (any, int) {
	var p snapshotParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}

	sess.Lock()
	defer sess.Unlock()

	snap, err := s.mgr.CaptureSnapshot(sess)
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	format := browser.RenderFormat(p.Format)
	rendered, err := snap.Render(format)
	if err != nil {
		rendered, _ = snap.Render(browser.FormatAI)
	}

	return map[string]any{
		"success":     true,
		"reason_code": "ok",
		"snapshot_id": snap.ID,
		"epoch":       snap.Epoch,
		"dom_hash":    snap.DOMHash,
		"snapshot":    rendered,
	}, http.StatusOK
}

type actParams struct {
	SessionID  string `json:"session_id"`
	TabID      string `json:"tab_id"`
	SnapshotID string `json:"snapshot_id"`
	RefID      string `json:"ref_id"`
	Kind       string `json:"kind"`
	Action     string `json:"action"`
	Value      string `json:"value"`
	Selector   string `json:"selector"`
}

func (s *Server) actionBrowserAct(ctx context.Context, raw json.RawMessage) (any, int) {
	var p actParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	if p.Selector != "" {
		return errorBody("legacy_selector_forbidden", "selector is not accepted; actions are addressed by ref_id"), http.StatusOK
	}

	kind := p.Kind
	if kind == "" {
		kind = p.Action
	}

	req := executor.Request{
		SessionID:  p.SessionID,
		TabID:      p.TabID,
		SnapshotID: p.SnapshotID,
		RefID:      p.RefID,
		Kind:       executor.ActionKind(kind),
		Value:      p.Value,
	}

	result, err := s.exec.Execute(ctx, req)
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}
	if s.metrics != nil {
		s.metrics.ObserveAction(kind, string(result.Reason), sumAttemptDurations(result))
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusOK // structured failure, not a transport error
	}
	return result, status
}

// waitParams covers the six wait modes browser_wait supports (§6): exactly
// one of url/load_state/ref_id/text/js/time_ms is expected per call.
type waitParams struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	LoadState string `json:"load_state"`
	Selector  string `json:"ref_id"`
	Text      string `json:"text"`
	JS        string `json:"js"`
	TimeMs    int    `json:"time_ms"`
	TimeoutMs int    `json:"timeout_ms"`
}

const defaultWaitTimeout = 30 * time.Second

// pollInterval is how often wait conditions that have no native browser
// event to block on (url, text, js, ref_id) are re-checked.
const pollInterval = 100 * time.Millisecond

func (s *Server) actionBrowserWait(ctx context.Context, raw json.RawMessage) (any, int) {
	var p waitParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	page, err := sess.ActivePage()
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var waitErr error
	switch {
	case p.TimeMs > 0:
		select {
		case <-waitCtx.Done():
			waitErr = waitCtx.Err()
		case <-time.After(time.Duration(p.TimeMs) * time.Millisecond):
		}
	case p.URL != "":
		waitErr = pollUntil(waitCtx, func() bool {
			info, err := page.Info()
			return err == nil && strings.Contains(info.URL, p.URL)
		})
	case p.Selector != "":
		waitErr = pollUntil(waitCtx, func() bool {
			els, err := page.Context(waitCtx).Elements(fmt.Sprintf(`[data-gaia-ref=%q]`, p.Selector))
			return err == nil && len(els) > 0
		})
	case p.Text != "":
		waitErr = pollUntil(waitCtx, func() bool {
			res, err := page.Context(waitCtx).Eval(`() => document.body ? document.body.innerText : ""`)
			return err == nil && strings.Contains(res.Value.Str(), p.Text)
		})
	case p.JS != "":
		waitErr = pollUntil(waitCtx, func() bool {
			res, err := page.Context(waitCtx).Eval(p.JS)
			return err == nil && res.Value.Bool()
		})
	default:
		// Covers both an explicit load_state and the no-params default: the
		// only load state rod's page surfaces directly is the load event.
		waitErr = page.Context(waitCtx).WaitLoad()
	}

	if waitErr != nil {
		return errorBody("action_timeout", waitErr.Error()), http.StatusOK
	}
	info, _ := page.Info()
	currentURL := ""
	if info != nil {
		currentURL = info.URL
	}
	return map[string]any{
		"success":     true,
		"reason_code": "ok",
		"current_url": currentURL,
	}, http.StatusOK
}

// pollUntil re-checks cond at pollInterval until it reports true or waitCtx
// is done, used for the wait modes that have no underlying browser event to
// block on.
func pollUntil(waitCtx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

type captureParams struct {
	SessionID string `json:"session_id"`
	FullPage  bool   `json:"full_page"`
	Path      string `json:"path"`
}

func (s *Server) actionBrowserScreenshot(ctx context.Context, raw json.RawMessage) (any, int) {
	var p captureParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	page, err := sess.ActivePage()
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	data, err := page.Screenshot(p.FullPage, nil)
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	if p.Path != "" {
		savedPath, err := s.resolveDataPath(p.Path)
		if err != nil {
			return errorBody("not_actionable", err.Error()), http.StatusOK
		}
		if err := writeFile(savedPath, data); err != nil {
			return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
		}
		return map[string]any{"success": true, "reason_code": "ok", "path": savedPath}, http.StatusOK
	}

	return map[string]any{
		"success":     true,
		"reason_code": "ok",
		"image_base64": encodeBase64(data),
	}, http.StatusOK
}

func (s *Server) actionBrowserPDF(ctx context.Context, raw json.RawMessage) (any, int) {
	var p captureParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	page, err := sess.ActivePage()
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	reader, err := page.PDF(nil)
	if err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}

	if p.Path == "" {
		return errorBody("invalid_input", "pdf capture requires a path"), http.StatusBadRequest
	}
	savedPath, err := s.resolveDataPath(p.Path)
	if err != nil {
		return errorBody("not_actionable", err.Error()), http.StatusOK
	}
	if err := writeReader(savedPath, reader); err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}
	return map[string]any{"success": true, "reason_code": "ok", "path": savedPath}, http.StatusOK
}

type tabsParams struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	TargetID  string `json:"target_id"`
	TabID     string `json:"tab_id"`
	Index     int    `json:"index"`
}

func (s *Server) actionBrowserTabs(ctx context.Context, action string, raw json.RawMessage) (any, int) {
	var p tabsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}

	switch action {
	case "browser_tabs_open":
		tab, err := s.mgr.OpenTab(ctx, sess.ID, p.URL)
		if err != nil {
			return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
		}
		return map[string]any{"success": true, "reason_code": "ok", "current_tab_id": tab.ID, "tabs": tabSummaries(sess)}, http.StatusOK

	case "browser_tabs_focus":
		matches := matchTargetPrefix(sess, p.TargetID, p.TabID)
		if len(matches) > 1 {
			return map[string]any{"reason_code": "ambiguous_target_id", "matches": matches}, http.StatusOK
		}
		if len(matches) == 0 {
			return errorBody("not_found", "no tab matched"), http.StatusOK
		}
		sess.ActiveTab = matches[0]
		return map[string]any{"success": true, "reason_code": "ok", "current_tab_id": sess.ActiveTab}, http.StatusOK

	case "browser_tabs_close":
		matches := matchTargetPrefix(sess, p.TargetID, p.TabID)
		if len(matches) > 1 {
			return map[string]any{"reason_code": "ambiguous_target_id", "matches": matches}, http.StatusOK
		}
		if len(matches) == 0 {
			return errorBody("not_found", "no tab matched"), http.StatusOK
		}
		if t, ok := sess.TabByID(matches[0]); ok {
			_ = t.Page.Close()
			t.Closed = true
		}
		return map[string]any{"success": true, "reason_code": "ok", "tabs": tabSummaries(sess)}, http.StatusOK

	default: // browser_tabs: list
		return map[string]any{
			"success":        true,
			"reason_code":    "ok",
			"tabs":           tabSummaries(sess),
			"current_tab_id": sess.ActiveTab,
		}, http.StatusOK
	}
}

func tabSummaries(sess *browser.Session) []map[string]any {
	out := make([]map[string]any, 0, len(sess.Tabs))
	for _, t := range sess.Tabs {
		out = append(out, map[string]any{
			"tab_id": t.ID,
			"url":    t.URL,
			"title":  t.Title,
			"closed": t.Closed,
		})
	}
	return out
}

// matchTargetPrefix resolves targetId/tab_id as a prefix match across the
// session's tabs, surfacing every match so the caller can detect ambiguity
// (§8 "Ambiguous target prefix").
func matchTargetPrefix(sess *browser.Session, targetID, tabID string) []string {
	needle := targetID
	if needle == "" {
		needle = tabID
	}
	if needle == "" {
		return nil
	}
	var matches []string
	for _, t := range sess.Tabs {
		if t.Closed {
			continue
		}
		if t.ID == needle || strings.HasPrefix(string(t.TargetID), needle) {
			matches = append(matches, t.ID)
		}
	}
	return matches
}

type ringBufferKind int

const (
	ringConsole ringBufferKind = iota
	ringErrors
	ringRequests
)

type ringParams struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

func (s *Server) actionRingBufferGet(raw json.RawMessage, kind ringBufferKind) (any, int) {
	var p ringParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	var entries any
	switch kind {
	case ringConsole:
		entries = sess.ConsoleLog.Tail(limit)
	case ringErrors:
		entries = sess.ErrorLog.Tail(limit)
	case ringRequests:
		entries = sess.NetworkLog.Tail(limit)
	}

	return map[string]any{"success": true, "reason_code": "ok", "entries": entries}, http.StatusOK
}

type traceParams struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

func (s *Server) actionTraceStart(raw json.RawMessage) (any, int) {
	var p traceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	if sess.Recorder == nil {
		return errorBody("not_actionable", "session has no recorder configured"), http.StatusOK
	}
	if err := sess.Recorder.Start(sess.ID); err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}
	return map[string]any{"success": true, "reason_code": "ok", "active": true}, http.StatusOK
}

func (s *Server) actionTraceStop(raw json.RawMessage) (any, int) {
	var p traceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	if sess.Recorder == nil {
		return errorBody("not_actionable", "session has no recorder configured"), http.StatusOK
	}
	if err := sess.Recorder.Close(); err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}
	return map[string]any{"success": true, "reason_code": "ok", "active": false}, http.StatusOK
}

type stateParams struct {
	SessionID string            `json:"session_id"`
	Op        string            `json:"op"`
	Values    map[string]string `json:"values"`
}

func (s *Server) actionBrowserState(ctx context.Context, raw json.RawMessage) (any, int) {
	var p stateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	sess, ok := s.mgr.Get(p.SessionID)
	if !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}

	switch p.Op {
	case "set":
		for k, v := range p.Values {
			sess.StoreCSSValue(k, v)
		}
		return map[string]any{"success": true, "reason_code": "ok"}, http.StatusOK
	case "get":
		out := map[string]string{}
		for k := range p.Values {
			if v, ok := sess.CSSValue(k); ok {
				out[k] = v
			}
		}
		return map[string]any{"success": true, "reason_code": "ok", "values": out}, http.StatusOK
	case "clear":
		return map[string]any{"success": true, "reason_code": "ok"}, http.StatusOK
	default:
		return errorBody("invalid_input", "op must be one of get, set, clear"), http.StatusBadRequest
	}
}

type envParams struct {
	SessionID string `json:"session_id"`
	Op        string `json:"op"`
}

func (s *Server) actionBrowserEnv(ctx context.Context, raw json.RawMessage) (any, int) {
	var p envParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	if _, ok := s.mgr.Get(p.SessionID); !ok {
		return errorBody("snapshot_not_found", "unknown session_id"), http.StatusNotFound
	}
	return map[string]any{
		"success":     true,
		"reason_code": "ok",
		"headless":    s.cfg.Browser.IsHeadless(),
		"auto_start":  s.cfg.Browser.AutoStart,
		"plan_store":  s.cfg.Plan.Enabled,
	}, http.StatusOK
}

type closeParams struct {
	SessionID string `json:"session_id"`
}

func (s *Server) actionBrowserClose(raw json.RawMessage) (any, int) {
	var p closeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorBody("invalid_input", err.Error()), http.StatusBadRequest
	}
	if err := s.mgr.CloseSession(p.SessionID); err != nil {
		return errorBody("unknown_error", err.Error()), http.StatusInternalServerError
	}
	return map[string]any{"success": true, "reason_code": "ok"}, http.StatusOK
}

// resolveDataPath restricts requested paths to the server's configured data
// root (§6 "Persistent storage").
func (s *Server) resolveDataPath(requested string) (string, error) {
	root, err := filepath.Abs(s.cfg.Server.DataRoot)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(root, requested)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) && abs != root {
		return "", fmt.Errorf("path %q escapes data root", requested)
	}
	return abs, nil
}

func sumAttemptDurations(r *executor.Result) time.Duration {
	var total time.Duration
	for _, a := range r.AttemptLogs {
		total += a.Duration
	}
	return total
}
