package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/deskpilot/deskpilot/pkg/events"
	"github.com/deskpilot/deskpilot/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientMessage is what viewers send over the socket.
type clientMessage struct {
	Message string `json:"message"`
}

// handleWebSocket attaches a viewer to a session's live event stream and
// accepts user messages over the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "session_id", id, "error", err)
		return
	}

	log := slog.With("session_id", id, "remote", conn.RemoteAddr().String())
	log.Info("Viewer connected")

	sub := s.broker.Attach(id)
	go s.writePump(conn, sub, log)
	s.readPump(conn, sub, id, log)
}

// writePump forwards broker events to the socket and keeps the connection
// alive with pings. It closes the connection when the subscription ends.
func (s *Server) writePump(conn *websocket.Conn, sub *events.Subscription, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Viewer write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes user messages from the socket and submits them to the
// session's loop. Returning detaches the subscription, which in turn stops
// the write pump.
func (s *Server) readPump(conn *websocket.Conn, sub *events.Subscription, sessionID string, log *slog.Logger) {
	defer func() {
		sub.Detach()
		conn.Close()
		log.Info("Viewer disconnected")
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Viewer read failed", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.Message) == "" {
			log.Warn("Ignoring malformed client message")
			continue
		}

		if !s.registry.Submit(sessionID, msg.Message) {
			s.broker.Publish(sessionID, events.Error("session is busy, message dropped"))
		}
	}
}
