package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Comment is anchored to a document offset captured at creation time. The
// anchor is a snapshot: later edits shift the document underneath it and the
// engine does not re-anchor (known limitation, inherited from the product).
type Comment struct {
	ID         string    `json:"commentId"`
	DocumentID string    `json:"documentId"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Replies    []Reply   `json:"replies"`
}

// Reply is a single-level response to a comment. Replies cannot themselves
// be replied to.
type Reply struct {
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewComment stamps a comment with a KSUID so comment IDs sort by creation
// time, same as the rest of our time-ordered identifiers.
func NewComment(sessionID, documentID, userID string, position int, content string) Comment {
	return Comment{
		ID:         ksuid.New().String(),
		DocumentID: documentID,
		SessionID:  sessionID,
		UserID:     userID,
		Position:   position,
		Content:    content,
		CreatedAt:  time.Now(),
		Replies:    []Reply{},
	}
}
