package engine

// Error is one of the engine's fixed failure kinds. Every failure is local
// and synchronous: the offending call fails, the session keeps serving
// everyone else, and nothing is retried.
//
// Callers match with errors.Is against the sentinel values below; the code
// string is what transports put on the wire.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrSessionNotFound     = &Error{Code: "SESSION_NOT_FOUND", Message: "collaboration session not found"}
	ErrSessionFull         = &Error{Code: "SESSION_FULL", Message: "session has reached its participant limit"}
	ErrParticipantNotFound = &Error{Code: "PARTICIPANT_NOT_FOUND", Message: "user is not a participant of this session"}
	ErrInvalidOperation    = &Error{Code: "INVALID_OPERATION", Message: "operation must be insert or delete"}
	ErrCommentsDisabled    = &Error{Code: "COMMENTS_DISABLED", Message: "comments are disabled for this session"}
	ErrCommentNotFound     = &Error{Code: "COMMENT_NOT_FOUND", Message: "comment not found"}
	ErrNothingToUndo       = &Error{Code: "NOTHING_TO_UNDO", Message: "no changes to undo for this user"}
	ErrNothingToRedo       = &Error{Code: "NOTHING_TO_REDO", Message: "no changes to redo for this user"}
)
