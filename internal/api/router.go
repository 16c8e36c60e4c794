package api

import (
	"net/http"

	"collab-engine/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware order matters: tracing first so the recovery middleware can
	// record panics in the request span.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Session lifecycle
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.DestroySession).Methods("DELETE")

	// Membership
	api.HandleFunc("/sessions/{id}/join", h.JoinSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/leave", h.LeaveSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/users", h.GetActiveUsers).Methods("GET")
	api.HandleFunc("/sessions/{id}/stats", h.GetStats).Methods("GET")

	// Editing
	api.HandleFunc("/sessions/{id}/changes", h.ApplyChange).Methods("POST")
	api.HandleFunc("/sessions/{id}/undo", h.Undo).Methods("POST")
	api.HandleFunc("/sessions/{id}/redo", h.Redo).Methods("POST")

	// Presence
	api.HandleFunc("/sessions/{id}/presence", h.UpdatePresence).Methods("PATCH")
	api.HandleFunc("/sessions/{id}/typing", h.SetTyping).Methods("PATCH")

	// Comments
	api.HandleFunc("/sessions/{id}/comments", h.AddComment).Methods("POST")
	api.HandleFunc("/comments/{id}/replies", h.ReplyToComment).Methods("POST")

	// Read-only views
	api.HandleFunc("/sessions/{id}/snapshot", h.GetSnapshot).Methods("GET")
	api.HandleFunc("/sessions/{id}/export", h.ExportChanges).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// WebSocket route
	r.HandleFunc("/ws/sessions/{id}", h.HandleSessionWebSocket)

	return r
}
