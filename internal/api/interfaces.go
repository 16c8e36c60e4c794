package api

import (
	"time"

	"collab-engine/internal/engine"
	"collab-engine/internal/models"
)

/*
CONSUMER-DRIVEN INTERFACES

This package is the consumer of the engine and the hub, so the interfaces it
needs live here, not with the implementations. The handlers declare exactly
the methods they call; swapping the engine or the hub (or mocking either in
tests) never touches this package's callers.
*/

// SessionEngine is what the REST handlers need from the engine registry.
type SessionEngine interface {
	CreateSession(p engine.CreateSessionParams) models.Session
	DestroySession(sessionID string) error
	Join(sessionID, userID, color string) (models.Session, []models.Participant, error)
	Leave(sessionID, userID string) ([]models.Participant, error)
	ActiveUsers(sessionID string) ([]models.Participant, error)
	Stats(sessionID string) (models.SessionStats, error)
	ApplyChange(sessionID, userID, documentID string, op models.OperationType, position int, content string) (models.Change, error)
	Undo(sessionID, userID string) (models.Change, error)
	Redo(sessionID, userID string) (models.Change, error)
	Snapshot(sessionID string, asOf time.Time) ([]models.Change, error)
	ExportChanges(sessionID, userID string) ([]models.Change, error)
	UpdatePresence(sessionID, userID string, cursor models.CursorPosition, selection *models.SelectionRange) (models.Participant, error)
	SetTyping(sessionID, userID string, isTyping bool) (models.Participant, error)
	AddComment(sessionID, documentID, userID string, position int, content string) (models.Comment, error)
	ReplyToComment(commentID, userID, content string) (models.Reply, string, error)
}

// Broadcaster is what the REST handlers need from the fan-out hub: REST
// mutations produce the same room events socket clients would.
type Broadcaster interface {
	Broadcast(sessionID, event string, data any)
}
