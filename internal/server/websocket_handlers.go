package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Progress streams are read-only; any origin may watch
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocketMessage is one frame of a job progress stream.
type WebSocketMessage struct {
	Type  string    `json:"type"` // "snapshot" or "error"
	Job   *jobs.Job `json:"job,omitempty"`
	Error string    `json:"error,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// jobStreamHandler pushes a job snapshot whenever its progress or status
// changes and closes the connection after the terminal snapshot.
func (s *Server) jobStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "job_id", id, "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("Job stream opened", "job_id", id, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readUntilClosed(conn, cancel)

	s.streamJob(ctx, conn, job)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(wsWriteWait))
}

// readUntilClosed drains client frames so control messages are processed,
// and cancels the stream once the client goes away.
func (s *Server) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

func (s *Server) streamJob(ctx context.Context, conn *websocket.Conn, job jobs.Job) {
	if !s.sendSnapshot(conn, job) || job.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	lastPing := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := s.store.Snapshot(ctx, job.ID)
		if err != nil {
			s.sendWebSocketError(conn, err.Error())
			return
		}
		if next.Status != job.Status || next.CompletedCount != job.CompletedCount {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !s.sendSnapshot(conn, next) {
				return
			}
			job = next
		}
		if job.Status.Terminal() {
			return
		}
		if time.Since(lastPing) >= wsPingPeriod {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			lastPing = time.Now()
		}
	}
}

// sendSnapshot writes a snapshot frame and reports whether it was delivered.
func (s *Server) sendSnapshot(conn WebSocketConnWriter, job jobs.Job) bool {
	return s.sendWebSocketMessage(conn, WebSocketMessage{Type: "snapshot", Job: &job})
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "error", Error: message})
}

func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", "error", err)
		return false
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return false
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}
