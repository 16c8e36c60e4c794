package collaboration

import (
	"encoding/json"
	"fmt"

	"collab-engine/internal/models"
)

// Wire protocol: every frame is a JSON envelope {event, data}. Origin is the
// node ID of the server that produced an outbound frame; it only matters to
// the Redis relay, which uses it to drop its own frames coming back around.
type Envelope struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// Inbound events (client -> engine).
const (
	EventJoin         = "collaboration:join"
	EventLeave        = "collaboration:leave"
	EventChange       = "document:change"
	EventUndo         = "document:undo"
	EventRedo         = "document:redo"
	EventPresence     = "presence:update"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
	EventCommentAdd   = "comment:add"
	EventCommentReply = "comment:reply"
)

// Outbound events (engine -> room, or error -> origin connection only).
const (
	EventUserJoined       = "user:joined"
	EventUserLeft         = "user:left"
	EventUserDisconnected = "user:disconnected"
	EventDocumentChanged  = "document:changed"
	EventDocumentUndone   = "document:undone"
	EventDocumentRedone   = "document:redone"
	EventPresenceChanged  = "presence:changed"
	EventUserTyping       = "user:typing"
	EventCommentAdded     = "comment:added"
	EventCommentReplied   = "comment:reply"
	EventError            = "error"
)

// Inbound payloads.

type JoinPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Color     string `json:"color"`
}

type LeavePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ChangePayload struct {
	SessionID  string               `json:"sessionId"`
	UserID     string               `json:"userId"`
	DocumentID string               `json:"documentId"`
	Operation  models.OperationType `json:"operation"`
	Position   int                  `json:"position"`
	Content    string               `json:"content"`
}

type UndoRedoPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type PresencePayload struct {
	SessionID string                 `json:"sessionId"`
	UserID    string                 `json:"userId"`
	Cursor    models.CursorPosition  `json:"cursor"`
	Selection *models.SelectionRange `json:"selection"`
}

type TypingPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type CommentPayload struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
}

type ReplyPayload struct {
	SessionID string `json:"sessionId"`
	CommentID string `json:"commentId"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
}

// Outbound payloads.

type UserEventPayload struct {
	UserID      string               `json:"userId"`
	ActiveUsers []models.Participant `json:"activeUsers"`
}

type ChangeEventPayload struct {
	Change models.Change `json:"change"`
	UserID string        `json:"userId"`
}

type PresenceEventPayload struct {
	UserID   string             `json:"userId"`
	Presence models.Participant `json:"presence"`
}

type TypingEventPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type CommentEventPayload struct {
	Comment models.Comment `json:"comment"`
}

type ReplyEventPayload struct {
	CommentID string       `json:"commentId"`
	Reply     models.Reply `json:"reply"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeEvent marshals an envelope for the wire.
func EncodeEvent(event, origin string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw, Origin: origin})
}
