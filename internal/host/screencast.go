package host

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// screencastFrameMessage is the wire shape broadcast to every /ws/screencast
// subscriber (§6 "Transport").
type screencastFrameMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Frame     string `json:"frame"`
	Timestamp int64  `json:"timestamp"`
}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 45 * time.Second
)

// handleScreencastWS upgrades the connection and relays broadcast frames
// until the client disconnects. Every client message, "get_current_frame"
// included, is treated as a ping: it extends the read deadline and is
// otherwise ignored, so no keyframe is sent on request.
func (s *Server) handleScreencastWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.broadcaster.Subscribe()
	defer unsubscribe()
	if s.metrics != nil {
		s.metrics.ScreencastSubscribers.Inc()
		defer s.metrics.ScreencastSubscribers.Dec()
	}

	done := make(chan struct{})
	go s.readScreencastClient(conn, done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			msg := screencastFrameMessage{
				Type:      "screencast_frame",
				SessionID: frame.SessionID,
				Frame:     frame.Data,
				Timestamp: frame.Timestamp,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readScreencastClient drains inbound messages on the subscriber connection.
// The protocol has nothing meaningful for the client to request beyond a
// keyframe nudge and pings, so anything it sends just resets the read
// deadline; the function exists to keep the connection's read side pumped
// so Close/disconnect is detected promptly.
func (s *Server) readScreencastClient(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
