package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/correlation"
	"github.com/gaia-qa/gaiabrowser/internal/recorder"
)

// ConsoleEntry is one captured console API call.
type ConsoleEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
}

// NetworkEntry is one captured request/response pair summary.
type NetworkEntry struct {
	Timestamp       time.Time          `json:"timestamp"`
	TabID           string             `json:"tab_id"`
	Method          string             `json:"method"`
	URL             string             `json:"url"`
	Status          int                `json:"status,omitempty"`
	CorrelationKeys []correlation.Key  `json:"correlation_keys,omitempty"`
}

// ErrorEntry is one captured uncaught page error.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Message   string    `json:"message"`
}

// DialogEntry records a native dialog (alert/confirm/prompt/beforeunload)
// the page raised, along with how it was resolved.
type DialogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Accepted  bool      `json:"accepted"`
}

// ArmedDialog captures a dialog awaiting an explicit accept/dismiss decision.
// A dialog left un-armed blocks page JS until resolved, so every open dialog
// is surfaced here rather than auto-dismissed.
type ArmedDialog struct {
	TabID   string
	Type    string
	Message string
	resolve func(accept bool, promptText string)
}

// Tab is one browser tab (CDP target) belonging to a session.
type Tab struct {
	ID       string
	TargetID proto.TargetTargetID
	Page     *rod.Page
	URL      string
	Title    string
	Closed   bool
}

// Session is one logical browsing context: an ordered set of tabs sharing a
// cookie jar, plus the observability state accumulated while driving them.
// All mutation goes through the session mutex: the HTTP transport allows
// concurrent requests to interleave, but only one action may touch a
// session's browser state at a time.
type Session struct {
	ID         string
	mu         sync.Mutex
	Tabs       []*Tab
	ActiveTab  string
	CreatedAt  time.Time
	LastActive time.Time
	Status     string

	registry    *ElementRegistry
	snapshots   *snapshotCache
	ConsoleLog  *RingBuffer[ConsoleEntry]
	NetworkLog  *RingBuffer[NetworkEntry]
	ErrorLog    *RingBuffer[ErrorEntry]
	DialogLog   *RingBuffer[DialogEntry]
	armedDialog *ArmedDialog
	Recorder    *recorder.Recorder
	cssValues   map[string]string
}

// Lock acquires the session's single-writer mutex. Callers must Unlock.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// ActivePage returns the rod.Page for the session's active tab.
func (s *Session) ActivePage() (*rod.Page, error) {
	for _, t := range s.Tabs {
		if t.ID == s.ActiveTab && !t.Closed {
			return t.Page, nil
		}
	}
	return nil, fmt.Errorf("no active tab for session %s", s.ID)
}

// TabByID returns the tab with the given id, if open.
func (s *Session) TabByID(id string) (*Tab, bool) {
	for _, t := range s.Tabs {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// ArmDialog records a dialog event awaiting resolution.
func (s *Session) ArmDialog(d *ArmedDialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armedDialog = d
}

// PendingDialog returns the armed dialog, or nil if none.
func (s *Session) PendingDialog() *ArmedDialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armedDialog
}

// ResolveDialog accepts or dismisses the armed dialog, if any.
func (s *Session) ResolveDialog(accept bool, promptText string) error {
	s.mu.Lock()
	d := s.armedDialog
	s.armedDialog = nil
	s.mu.Unlock()

	if d == nil {
		return fmt.Errorf("no dialog is currently armed")
	}
	d.resolve(accept, promptText)
	s.DialogLog.Push(DialogEntry{
		Timestamp: time.Now(),
		TabID:     d.TabID,
		Type:      d.Type,
		Message:   d.Message,
		Accepted:  accept,
	})
	return nil
}

// StoreCSSValue stores value under key in the session's key/value store,
// which the browser_state action reads and writes.
func (s *Session) StoreCSSValue(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cssValues == nil {
		s.cssValues = map[string]string{}
	}
	s.cssValues[key] = value
}

// CSSValue returns a previously stored CSS property value.
func (s *Session) CSSValue(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cssValues[key]
	return v, ok
}

// CacheSnapshot stores a freshly captured snapshot under a fresh id.
func (s *Session) CacheSnapshot(snap *Snapshot, epoch int64) string {
	snap.ID = fmt.Sprintf("%s:%d:%s", s.ID, epoch, snap.DOMHash[:12])
	snap.Epoch = epoch
	s.snapshots.put(snap)
	return snap.ID
}

// Snapshot returns a cached snapshot by id.
func (s *Session) Snapshot(id string) (*Snapshot, bool) {
	return s.snapshots.get(id)
}

// LatestSnapshot returns the most recently cached snapshot, if any.
func (s *Session) LatestSnapshot() (*Snapshot, bool) {
	return s.snapshots.latest()
}

// RegistryLookup returns the last known fingerprint recorded for a ref_id,
// even if that ref no longer appears in the session's latest snapshot. The
// executor uses this to score stale-ref recovery candidates.
func (s *Session) RegistryLookup(ref string) (ElementMeta, bool) {
	return s.registry.Get(ref)
}

// snapshotCache is a bounded, epoch-ordered cache of a session's recent
// snapshots. When full, the oldest snapshot is evicted.
type snapshotCache struct {
	mu    sync.Mutex
	cap   int
	byID  map[string]*Snapshot
	order []string // ids, oldest first
}

func newSnapshotCache(capacity int) *snapshotCache {
	if capacity <= 0 {
		capacity = 20
	}
	return &snapshotCache{cap: capacity, byID: map[string]*Snapshot{}}
}

func (c *snapshotCache) put(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID[snap.ID] = snap
	c.order = append(c.order, snap.ID)
	for len(c.order) > c.cap {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.byID, evict)
	}
}

func (c *snapshotCache) get(id string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	return s, ok
}

func (c *snapshotCache) latest() (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return nil, false
	}
	return c.byID[c.order[len(c.order)-1]], true
}

// SessionManager owns the single browser connection and the set of live
// sessions multiplexed over it.
type SessionManager struct {
	cfg        config.Config
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*Session
	controlURL string
	epochSeq   int64
}

// NewSessionManager constructs a manager that has not yet connected to Chrome.
func NewSessionManager(cfg config.Config) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sessions: map[string]*Session{},
	}
}

// Start connects to an existing Chrome instance via DebuggerURL or, when
// DebuggerURL is empty, launches a local one, passing each Launch entry as
// an extra launcher flag. Stealth patches are applied per page in
// CreateSession, not here.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	controlURL := m.cfg.Browser.DebuggerURL
	if controlURL == "" {
		l := launcher.New().
			Headless(m.cfg.Browser.IsHeadless()).
			Set("disable-blink-features", "AutomationControlled")
		for _, arg := range m.cfg.Browser.Launch {
			l = l.Set(launcher.Flag(arg))
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connecting to browser at %s: %w", controlURL, err)
	}

	m.browser = browser
	m.controlURL = controlURL
	return nil
}

// ControlURL returns the CDP endpoint currently in use.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected reports whether a browser connection is established.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes every open tab and disconnects from the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		for _, t := range sess.Tabs {
			if !t.Closed && t.Page != nil {
				_ = t.Page.Close()
			}
		}
		if sess.Recorder != nil {
			_ = sess.Recorder.Close()
		}
	}

	if m.browser != nil {
		return m.browser.Close()
	}
	return nil
}

// List returns metadata for every live session.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Get returns a session by id.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// CreateSession opens a new incognito browsing context with one tab
// navigated to startURL, and wires up its observability streams.
func (m *SessionManager) CreateSession(ctx context.Context, startURL string) (*Session, error) {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()

	if browser == nil {
		return nil, fmt.Errorf("browser is not started")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("opening incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}

	if m.cfg.Browser.UseStealth() {
		if err := stealth.Inject(page); err != nil {
			log.Printf("session: stealth injection failed: %v", err)
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  m.cfg.Browser.GetViewportWidth(),
		Height: m.cfg.Browser.GetViewportHeight(),
	}); err != nil {
		log.Printf("session: setting viewport failed: %v", err)
	}

	sessionID := uuid.NewString()
	tabID := "t0"

	sess := &Session{
		ID:         sessionID,
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
		Status:     "active",
		registry:   newElementRegistry(),
		snapshots:  newSnapshotCache(m.cfg.Browser.GetSnapshotCacheSize()),
		ConsoleLog: NewRingBuffer[ConsoleEntry](m.cfg.Browser.GetRingBufferCap()),
		NetworkLog: NewRingBuffer[NetworkEntry](m.cfg.Browser.GetRingBufferCap()),
		ErrorLog:   NewRingBuffer[ErrorEntry](m.cfg.Browser.GetRingBufferCap()),
		DialogLog:  NewRingBuffer[DialogEntry](m.cfg.Browser.GetRingBufferCap()),
		ActiveTab:  tabID,
		Tabs: []*Tab{{
			ID:       tabID,
			TargetID: page.TargetID,
			Page:     page,
		}},
	}

	m.attachEventStreams(sess, sess.Tabs[0])

	if startURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.NavigationTimeout())
		defer cancel()
		if err := page.Context(navCtx).Navigate(startURL); err != nil {
			log.Printf("session %s: initial navigation failed: %v", sessionID, err)
		} else {
			_ = page.Context(navCtx).WaitLoad()
		}
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	return sess, nil
}

// CloseSession closes every tab in a session and removes it from the manager.
func (m *SessionManager) CloseSession(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	sess.Lock()
	defer sess.Unlock()
	for _, t := range sess.Tabs {
		if !t.Closed {
			_ = t.Page.Close()
			t.Closed = true
		}
	}
	if sess.Recorder != nil {
		_ = sess.Recorder.Close()
	}
	return nil
}

// OpenTab opens a new tab within an existing session's incognito context.
func (m *SessionManager) OpenTab(ctx context.Context, sessionID, url string) (*Tab, error) {
	sess, ok := m.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	existing, err := sess.ActivePage()
	if err != nil {
		return nil, err
	}

	page, err := existing.Browser().Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	sess.Lock()
	tabID := fmt.Sprintf("t%d", len(sess.Tabs))
	tab := &Tab{ID: tabID, TargetID: page.TargetID, Page: page}
	sess.Tabs = append(sess.Tabs, tab)
	sess.ActiveTab = tabID
	sess.Unlock()

	m.attachEventStreams(sess, tab)

	if url != "" {
		navCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.NavigationTimeout())
		defer cancel()
		if err := page.Context(navCtx).Navigate(url); err != nil {
			return tab, fmt.Errorf("navigating new tab: %w", err)
		}
	}

	return tab, nil
}

// CaptureSnapshot runs the DOM walk against a session's active tab and caches
// the result, returning it for immediate use.
func (m *SessionManager) CaptureSnapshot(sess *Session) (*Snapshot, error) {
	page, err := sess.ActivePage()
	if err != nil {
		return nil, err
	}

	snap, err := captureSnapshot(page, sess.ActiveTab, m.cfg.Browser.GetSnapshotElementCap())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.epochSeq++
	epoch := m.epochSeq
	m.mu.Unlock()

	sess.CacheSnapshot(snap, epoch)
	sess.registry.RegisterBatch(snap.Elements)
	return snap, nil
}

// attachEventStreams wires console/network/error/dialog listeners for one
// tab into the session's ring buffers.
func (m *SessionManager) attachEventStreams(sess *Session, tab *Tab) {
	page := tab.Page

	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		sess.ConsoleLog.Push(ConsoleEntry{
			Timestamp: time.Now(),
			TabID:     tab.ID,
			Level:     string(e.Type),
			Text:      stringifyConsoleArgs(e.Args),
		})
	}, func(e *proto.NetworkRequestWillBeSent) {
		var keys []correlation.Key
		for name, val := range e.Request.Headers {
			keys = append(keys, correlation.FromHeader(name, fmt.Sprint(val))...)
		}
		sess.NetworkLog.Push(NetworkEntry{
			Timestamp:       time.Now(),
			TabID:           tab.ID,
			Method:          e.Request.Method,
			URL:             e.Request.URL,
			CorrelationKeys: keys,
		})
	}, func(e *proto.RuntimeExceptionThrown) {
		sess.ErrorLog.Push(ErrorEntry{
			Timestamp: time.Now(),
			TabID:     tab.ID,
			Message:   e.ExceptionDetails.Text,
		})
	}, func(e *proto.PageJavascriptDialogOpening) {
		sess.ArmDialog(&ArmedDialog{
			TabID:   tab.ID,
			Type:    string(e.Type),
			Message: e.Message,
			resolve: func(accept bool, promptText string) {
				_ = proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText}.Call(page)
			},
		})
	})()
}

// stringifyConsoleArgs renders console.log-style arguments as a single line.
func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a.Value.Val() != nil {
			raw, _ := json.Marshal(a.Value.Val())
			parts = append(parts, string(raw))
		} else if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// persistSessionsPath returns the configured session-store path, creating
// its parent directory if necessary.
func (m *SessionManager) persistSessionsPath() (string, error) {
	path := m.cfg.Browser.SessionStore
	if path == "" {
		return "", fmt.Errorf("browser.session_store is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating session store directory: %w", err)
	}
	return path, nil
}
