package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bothive/internal/events"
)

const socketWriteWait = 10 * time.Second

// handleStatusSocket streams status transitions for all of the caller's bots.
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.bus.SubscribeStatus(uid)
	defer cancel()

	closed := watchClose(conn)
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-ch:
			if !ok {
				// Replaced by a newer connection for the same user.
				return
			}
			if err := writeSocketJSON(conn, msg); err != nil {
				return
			}
		}
	}
}

// handleLogSocket replays the bot's recent log history, then streams live
// records as they are captured.
func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	bot, ok := s.authorizedBot(w, uid, r.PathValue("id"))
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before the replay so no record falls between history and the
	// live feed; duplicates are preferable to gaps.
	ch, cancel := s.bus.SubscribeLogs(bot.ID)
	defer cancel()

	history, err := s.store.GetBotLogs(bot.ID, s.logHistory)
	if err != nil {
		slog.Debug("failed to load log history", "bot_id", bot.ID, "error", err)
	}
	// Stored newest first; replay oldest first.
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		msg := events.LogMessage{Level: rec.Level, Message: rec.Message, Source: "history"}
		if err := writeSocketJSON(conn, msg); err != nil {
			return
		}
	}

	closed := watchClose(conn)
	for {
		select {
		case <-closed:
			return
		case msg := <-ch:
			if err := writeSocketJSON(conn, msg); err != nil {
				return
			}
		}
	}
}

func writeSocketJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(v)
}

// watchClose drains reads so the peer's close frame is noticed.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
