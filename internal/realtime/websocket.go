// ABOUTME: Websocket transport for the realtime hub
// ABOUTME: Handles upgrades, room join/leave requests, and the outbound write pump

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/nexuschat/nexus/internal/identity"
)

// wsRequest is a client-to-server control message.
type wsRequest struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// WebSocketHandler upgrades HTTP requests and binds each connection to the hub.
type WebSocketHandler struct {
	hub    *Hub
	logger *slog.Logger
}

// NewWebSocketHandler creates a websocket handler for the given hub.
func NewWebSocketHandler(hub *Hub, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:    hub,
		logger: logger.With("component", "realtime"),
	}
}

// ServeHTTP implements http.Handler for websocket upgrade. The caller's
// identity comes from the request context; every connection auto-joins the
// user's personal room and announces updated presence.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"missing identity"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("websocket close failed", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.register(userID)
	defer func() {
		h.hub.unregister(c)
		h.hub.broadcastPresence()
	}()
	h.hub.broadcastPresence()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Outbound pump: hub events -> websocket.
	go func() {
		defer cancel()
		for {
			var event Event
			select {
			case <-c.done:
				return
			case event = <-c.send:
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("event marshal failed", "event", event.Name, "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("websocket write failed", "error", err, "user_id", userID)
				return
			}
		}
	}()

	// Inbound loop: room management requests from the client.
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.logger.Debug("ignoring malformed client message", "user_id", userID)
			continue
		}

		switch req.Type {
		case "joinGroup":
			if req.GroupID != "" {
				h.hub.join(c, GroupRoom(req.GroupID))
			}
		case "leaveGroup":
			if req.GroupID != "" {
				h.hub.leave(c, GroupRoom(req.GroupID))
			}
		case "joinStudyChat":
			if req.GroupID != "" && req.Topic != "" {
				h.hub.join(c, StudyRoom(req.GroupID, req.Topic))
			}
		case "leaveStudyChat":
			if req.GroupID != "" && req.Topic != "" {
				h.hub.leave(c, StudyRoom(req.GroupID, req.Topic))
			}
		case "getOnlineUsers":
			h.hub.broadcastPresence()
		}
	}
}
