package api

import (
	"net/http"
)

// HandleSessionWebSocket upgrades the connection into a session room.
func (h *Handler) HandleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleSessionConnection(w, r)
}
