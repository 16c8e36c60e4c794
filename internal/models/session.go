package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxParticipants caps session membership when the creator does not
// supply a limit.
const DefaultMaxParticipants = 50

// Session describes one collaborative editing context for a single document.
// The engine owns everything inside it: the change log, participants,
// undo/redo stacks, and comments all live and die with the session.
type Session struct {
	ID              string    `json:"sessionId"`
	DocumentID      string    `json:"documentId"`
	Title           string    `json:"title"`
	MaxParticipants int       `json:"maxParticipants"`
	AllowComments   bool      `json:"allowComments"`
	AllowTracking   bool      `json:"allowTracking"`
	Permissions     []string  `json:"permissions"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewSession stamps a fresh session with a UUID and creation time.
func NewSession(documentID, createdBy, title string, maxParticipants int, allowComments, allowTracking bool, permissions []string) Session {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return Session{
		ID:              uuid.NewString(),
		DocumentID:      documentID,
		Title:           title,
		MaxParticipants: maxParticipants,
		AllowComments:   allowComments,
		AllowTracking:   allowTracking,
		Permissions:     permissions,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now(),
	}
}

// Participant is one active member of a session. Cursor, selection and typing
// state are ephemeral presence data: mutated in place, never recorded in the
// change log, gone when the session is destroyed.
type Participant struct {
	UserID    string          `json:"userId"`
	Color     string          `json:"color"`
	Cursor    CursorPosition  `json:"cursor"`
	Selection *SelectionRange `json:"selection"`
	IsTyping  bool            `json:"isTyping"`
	JoinedAt  time.Time       `json:"joinedAt"`
}

// CursorPosition is a caret location in the rendered document.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is an optional highlighted span between two cursor positions.
type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// SessionStats is the point-in-time summary served by the stats endpoint.
type SessionStats struct {
	ParticipantCount int       `json:"participantCount"`
	ChangeCount      int       `json:"changeCount"`
	CommentCount     int       `json:"commentCount"`
	CreatedAt        time.Time `json:"createdAt"`
}
