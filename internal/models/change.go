package models

import "time"

// OperationType is the kind of edit a change applies to the document text.
type OperationType string

const (
	OpInsert OperationType = "insert"
	OpDelete OperationType = "delete"
)

// Valid reports whether the operation type is one the engine knows how to
// apply and invert.
func (op OperationType) Valid() bool {
	return op == OpInsert || op == OpDelete
}

// Change is a single edit in a session's append-only change log.
//
// Sequence is assigned by the engine at apply time, never by the client, and
// totally orders the log: replaying a session's changes in sequence order from
// the empty document reconstructs the current text.
//
// For a delete, Content carries the deleted substring so the inverse insert
// can be reconstructed later.
type Change struct {
	Sequence   int64         `json:"sequence"`
	UserID     string        `json:"userId"`
	DocumentID string        `json:"documentId"`
	Operation  OperationType `json:"operation"`
	Position   int           `json:"position"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Inverse returns the change that undoes c at the same position:
// insert(pos, text) <-> delete(pos, text). Sequence and Timestamp are zeroed;
// the engine stamps them when the inverse is applied as a new change.
func (c Change) Inverse() Change {
	inv := Change{
		UserID:     c.UserID,
		DocumentID: c.DocumentID,
		Position:   c.Position,
		Content:    c.Content,
	}
	switch c.Operation {
	case OpInsert:
		inv.Operation = OpDelete
	case OpDelete:
		inv.Operation = OpInsert
	}
	return inv
}

// ReplayChanges reconstructs document text by applying changes in slice order
// to an empty document. Positions are rune offsets and are clamped to the
// current bounds so a malformed offset never panics.
func ReplayChanges(changes []Change) string {
	var runes []rune
	for _, c := range changes {
		pos := c.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(runes) {
			pos = len(runes)
		}

		switch c.Operation {
		case OpInsert:
			insertion := []rune(c.Content)
			rest := append([]rune{}, runes[pos:]...)
			runes = append(append(runes[:pos], insertion...), rest...)
		case OpDelete:
			end := pos + len([]rune(c.Content))
			if end > len(runes) {
				end = len(runes)
			}
			runes = append(runes[:pos], runes[end:]...)
		}
	}
	return string(runes)
}
