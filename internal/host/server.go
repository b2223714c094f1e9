// Package host implements the external HTTP/WebSocket interface (§6): a
// JSON-over-HTTP POST /execute endpoint dispatching the browser_* action
// surface, a /ws/screencast broadcast endpoint, and /healthz + /metrics.
package host

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
	"github.com/gaia-qa/gaiabrowser/internal/config"
	"github.com/gaia-qa/gaiabrowser/internal/executor"
	"github.com/gaia-qa/gaiabrowser/internal/metrics"
)

// Server is the browser host's external interface, wiring the HTTP router to
// the SessionManager, Executor, and screencast broadcaster.
type Server struct {
	cfg         config.Config
	mgr         *browser.SessionManager
	exec        *executor.Executor
	broadcaster *browser.Broadcaster
	metrics     *metrics.Metrics
	router      chi.Router
	startTime   time.Time
	upgrader    websocket.Upgrader
}

// New constructs a Server and builds its route table.
func New(cfg config.Config, mgr *browser.SessionManager, exec *executor.Executor, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:         cfg,
		mgr:         mgr,
		exec:        exec,
		broadcaster: browser.NewBroadcaster(cfg.Host.ScreencastSubscriberBuffer),
		metrics:     m,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

// Broadcaster exposes the screencast broadcaster so callers (e.g.
// SessionManager.StartScreencast) can publish into it.
func (s *Server) Broadcaster() *browser.Broadcaster { return s.broadcaster }

// ServeHTTP lets a Server be used directly with httptest.NewServer or any
// other http.Handler consumer, without requiring ListenAndServe's lifecycle.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/execute", s.handleExecute)
	r.Get("/ws/screencast", s.handleScreencastWS)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	return r
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled or
// the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Host.Addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime_ms":    time.Since(s.startTime).Milliseconds(),
		"connected":    s.mgr.IsConnected(),
		"session_count": len(s.mgr.List()),
	})
}

// executeEnvelope is the request body for POST /execute (§6 "Transport").
type executeEnvelope struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var env executeEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_input", err.Error()))
		return
	}

	result, status := s.dispatch(r.Context(), env.Action, env.Params)
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("writing response: %v", err)
	}
}

func errorBody(reasonCode, message string) map[string]any {
	return map[string]any{
		"success":     false,
		"effective":   false,
		"reason_code": reasonCode,
		"reason":      message,
	}
}
