package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"collab-engine/internal/engine"
	"collab-engine/internal/models"
	"collab-engine/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler serves the REST mirror of the engine API. Every mutating endpoint
// calls the same engine operation the WebSocket layer does and fans the
// result out through the same hub, so socket clients see REST-originated
// events.
type Handler struct {
	engine    SessionEngine
	hub       Broadcaster
	wsHandler *collaboration.WebSocketHandler
}

func NewHandler(engine SessionEngine, hub Broadcaster, wsHandler *collaboration.WebSocketHandler) *Handler {
	return &Handler{
		engine:    engine,
		hub:       hub,
		wsHandler: wsHandler,
	}
}

// writeJSON sends a success response carrying the engine's return value.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine error kinds onto HTTP statuses. Anything that is
// not an engine error is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		code = engineErr.Code
		switch engineErr {
		case engine.ErrSessionNotFound:
			status = http.StatusNotFound
		case engine.ErrSessionFull, engine.ErrInvalidOperation, engine.ErrCommentsDisabled:
			status = http.StatusBadRequest
		}
	}

	writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}

// Session lifecycle

type createSessionRequest struct {
	DocumentID      string   `json:"documentId"`
	CreatedBy       string   `json:"createdBy"`
	Title           string   `json:"title"`
	MaxParticipants int      `json:"maxParticipants"`
	AllowComments   *bool    `json:"allowComments"`
	AllowTracking   *bool    `json:"allowTracking"`
	Permissions     []string `json:"permissions"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Comments and tracking default on unless the creator turns them off.
	allowComments := true
	if req.AllowComments != nil {
		allowComments = *req.AllowComments
	}
	allowTracking := true
	if req.AllowTracking != nil {
		allowTracking = *req.AllowTracking
	}

	session := h.engine.CreateSession(engine.CreateSessionParams{
		DocumentID:      req.DocumentID,
		CreatedBy:       req.CreatedBy,
		Title:           req.Title,
		MaxParticipants: req.MaxParticipants,
		AllowComments:   allowComments,
		AllowTracking:   allowTracking,
		Permissions:     req.Permissions,
	})

	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) DestroySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.DestroySession(id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Membership

type joinRequest struct {
	UserID string `json:"userId"`
	Color  string `json:"color"`
}

func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, activeUsers, err := h.engine.Join(id, req.UserID, req.Color)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventUserJoined, collaboration.UserEventPayload{
		UserID:      req.UserID,
		ActiveUsers: activeUsers,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"session":     session,
		"activeUsers": activeUsers,
	})
}

type leaveRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	activeUsers, err := h.engine.Leave(id, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventUserLeft, collaboration.UserEventPayload{
		UserID:      req.UserID,
		ActiveUsers: activeUsers,
	})

	writeJSON(w, http.StatusOK, map[string]any{"activeUsers": activeUsers})
}

func (h *Handler) GetActiveUsers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	users, err := h.engine.ActiveUsers(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"activeUsers": users})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stats, err := h.engine.Stats(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Editing

type applyChangeRequest struct {
	UserID     string               `json:"userId"`
	DocumentID string               `json:"documentId"`
	Operation  models.OperationType `json:"operation"`
	Position   int                  `json:"position"`
	Content    string               `json:"content"`
}

func (h *Handler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req applyChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	change, err := h.engine.ApplyChange(id, req.UserID, req.DocumentID, req.Operation, req.Position, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventDocumentChanged, collaboration.ChangeEventPayload{
		Change: change,
		UserID: req.UserID,
	})

	writeJSON(w, http.StatusCreated, change)
}

type undoRedoRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req undoRedoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	change, err := h.engine.Undo(id, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventDocumentUndone, collaboration.ChangeEventPayload{
		Change: change,
		UserID: req.UserID,
	})

	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req undoRedoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	change, err := h.engine.Redo(id, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventDocumentRedone, collaboration.ChangeEventPayload{
		Change: change,
		UserID: req.UserID,
	})

	writeJSON(w, http.StatusOK, change)
}

// Presence

type presenceRequest struct {
	UserID    string                 `json:"userId"`
	Cursor    models.CursorPosition  `json:"cursor"`
	Selection *models.SelectionRange `json:"selection"`
}

func (h *Handler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	participant, err := h.engine.UpdatePresence(id, req.UserID, req.Cursor, req.Selection)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventPresenceChanged, collaboration.PresenceEventPayload{
		UserID:   req.UserID,
		Presence: participant,
	})

	writeJSON(w, http.StatusOK, participant)
}

type typingRequest struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	participant, err := h.engine.SetTyping(id, req.UserID, req.IsTyping)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventUserTyping, collaboration.TypingEventPayload{
		UserID:   req.UserID,
		IsTyping: participant.IsTyping,
	})

	writeJSON(w, http.StatusOK, participant)
}

// Comments

type commentRequest struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	comment, err := h.engine.AddComment(id, req.DocumentID, req.UserID, req.Position, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(id, collaboration.EventCommentAdded, collaboration.CommentEventPayload{Comment: comment})

	writeJSON(w, http.StatusCreated, comment)
}

type replyRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

func (h *Handler) ReplyToComment(w http.ResponseWriter, r *http.Request) {
	commentID := mux.Vars(r)["id"]

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply, sessionID, err := h.engine.ReplyToComment(commentID, req.UserID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(sessionID, collaboration.EventCommentReplied, collaboration.ReplyEventPayload{
		CommentID: commentID,
		Reply:     reply,
	})

	writeJSON(w, http.StatusCreated, reply)
}

// Read-only views

// GetSnapshot serves the change log as of a point in time. `timestamp`
// accepts RFC3339 or unix milliseconds; absent means now.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	asOf := time.Now()
	if ts := r.URL.Query().Get("timestamp"); ts != "" {
		parsed, err := parseTimestamp(ts)
		if err != nil {
			http.Error(w, "invalid timestamp: "+err.Error(), http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	changes, err := h.engine.Snapshot(id, asOf)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asOf":    asOf,
		"changes": changes,
		"text":    models.ReplayChanges(changes),
	})
}

func (h *Handler) ExportChanges(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := r.URL.Query().Get("userId")

	changes, err := h.engine.ExportChanges(id, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"userId":    userID,
		"changes":   changes,
		"count":     len(changes),
	})
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}
