package collaboration

import (
	"context"
	"log"
	"net/http"

	"collab-engine/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin once the frontend's deploy origin is fixed
		return true
	},
}

// WebSocketHandler upgrades connections into session rooms.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleSessionConnection upgrades an HTTP request into a connection bound
// to one session room. `user_id` and `color` query parameters trigger an
// immediate join; without them the client is a spectator until it sends
// collaboration:join.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := mux.Vars(r)["id"]

	userID := r.URL.Query().Get("user_id")
	color := r.URL.Query().Get("color")

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("session.id", sessionID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	// The session must exist before we upgrade, so a bad session ID fails
	// as a plain HTTP 404 instead of an upgraded-then-closed socket.
	if _, err := h.hub.engine.GetSession(sessionID); err != nil {
		middleware.AddSpanError(ctx, err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	client := newClient(h.hub, conn, sessionID)
	h.hub.register <- client

	// Join before the pumps start: readPump reads and rewrites userID, so
	// the write here must be ordered ahead of the read goroutine. Outbound
	// frames just buffer in send until writePump drains them.
	if userID != "" {
		if err := client.join(userID, color); err != nil {
			middleware.AddSpanError(ctx, err)
			client.sendError(err)
		}
	}

	go client.writePump()
	// The request context dies when this handler returns, but the
	// connection outlives it. Keep the trace linkage without the cancel.
	go client.readPump(context.WithoutCancel(ctx))

	log.Printf("✓ WebSocket connection established for session %s (connection: %s, user: %s)",
		sessionID, client.id, userID)
}
