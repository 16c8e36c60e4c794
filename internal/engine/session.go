package engine

import (
	"sort"
	"sync"
	"time"

	"collab-engine/internal/models"
)

/*
SERIALIZATION DOMAIN

Each session owns exactly one mutex, and that mutex owns everything the
session contains: the change log, the sequence counter, the participant map,
the per-user undo/redo stacks, and the comment threads.

Key invariant: every mutating call against the same session runs to
completion before the next one begins, no matter which connection issued it.
That single guarantee is what makes sequence assignment and undo/redo
consistent without a conflict-resolution algorithm. Different sessions never
share state, so they proceed fully in parallel.

Reads copy a consistent view under the same lock and release it before
returning, so callers never hold engine state.
*/

// undoEntry pairs an applied change with its precomputed inverse.
type undoEntry struct {
	change  models.Change
	inverse models.Change
}

// session is the engine-internal state behind one models.Session. Nothing
// outside this package ever touches it directly.
type session struct {
	mu sync.Mutex

	info models.Session

	seq     int64
	changes []models.Change

	participants map[string]*models.Participant

	undo map[string][]undoEntry
	redo map[string][]undoEntry

	comments    []*models.Comment
	commentByID map[string]*models.Comment
}

func newSession(info models.Session) *session {
	return &session{
		info:         info,
		participants: make(map[string]*models.Participant),
		undo:         make(map[string][]undoEntry),
		redo:         make(map[string][]undoEntry),
		commentByID:  make(map[string]*models.Comment),
	}
}

// join adds or refreshes a participant. Re-joining with the same userId
// replaces the prior entry in place: color and timestamp update, the count
// does not. The capacity check deliberately runs after the membership check
// so a member of a full session can still re-join.
func (s *session) join(userID, color string) (models.Session, []models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.participants[userID]; ok {
		existing.Color = color
		existing.JoinedAt = time.Now()
		return s.info, s.activeUsersLocked(), nil
	}

	if len(s.participants) >= s.info.MaxParticipants {
		return models.Session{}, nil, ErrSessionFull
	}

	s.participants[userID] = &models.Participant{
		UserID:   userID,
		Color:    color,
		JoinedAt: time.Now(),
	}

	return s.info, s.activeUsersLocked(), nil
}

// leave removes a participant. Leaving twice, or never having joined, is a
// no-op: disconnect races must be tolerated.
func (s *session) leave(userID string) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.participants, userID)
	return s.activeUsersLocked()
}

func (s *session) activeUsers() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUsersLocked()
}

// activeUsersLocked copies the participant set, ordered by join time so
// broadcast payloads are stable.
func (s *session) activeUsersLocked() []models.Participant {
	users := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		users = append(users, *p)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].JoinedAt.Before(users[j].JoinedAt)
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

func (s *session) stats() models.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.SessionStats{
		ParticipantCount: len(s.participants),
		ChangeCount:      len(s.changes),
		CommentCount:     len(s.comments),
		CreatedAt:        s.info.CreatedAt,
	}
}

// stampLocked assigns the next sequence number and appends to the change log.
// Must hold s.mu. This is the only place sequence numbers come from.
func (s *session) stampLocked(c models.Change) models.Change {
	s.seq++
	c.Sequence = s.seq
	c.Timestamp = time.Now()
	s.changes = append(s.changes, c)
	return c
}

// applyChange validates, stamps and logs a new edit, records its inverse on
// the user's undo stack, and clears that user's redo stack. Other users'
// stacks are never touched.
func (s *session) applyChange(userID, documentID string, op models.OperationType, position int, content string) (models.Change, error) {
	if !op.Valid() {
		return models.Change{}, ErrInvalidOperation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	change := s.stampLocked(models.Change{
		UserID:     userID,
		DocumentID: documentID,
		Operation:  op,
		Position:   position,
		Content:    content,
	})

	s.undo[userID] = append(s.undo[userID], undoEntry{change: change, inverse: change.Inverse()})
	s.redo[userID] = nil

	return change, nil
}

// undoChange pops the user's most recent change and applies its inverse as a
// brand new change, so the undo itself gets a fresh sequence number and is
// visible to every participant. The original lands on the redo stack.
//
// The inverse replays against the current document, not a transformed one:
// undo is only guaranteed correct when nobody else edited in between.
func (s *session) undoChange(userID string) (models.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.undo[userID]
	if len(stack) == 0 {
		return models.Change{}, ErrNothingToUndo
	}

	entry := stack[len(stack)-1]
	s.undo[userID] = stack[:len(stack)-1]

	applied := s.stampLocked(entry.inverse)
	s.redo[userID] = append(s.redo[userID], entry)

	return applied, nil
}

// redoChange re-applies the most recently undone change as a new change and
// moves the entry back onto the undo stack. Symmetric to undoChange.
func (s *session) redoChange(userID string) (models.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.redo[userID]
	if len(stack) == 0 {
		return models.Change{}, ErrNothingToRedo
	}

	entry := stack[len(stack)-1]
	s.redo[userID] = stack[:len(stack)-1]

	applied := s.stampLocked(entry.change)
	s.undo[userID] = append(s.undo[userID], entry)

	return applied, nil
}

// snapshot returns every change with timestamp <= asOf, in sequence order.
// The change log is append-only and stamped monotonically, so a prefix scan
// is enough.
func (s *session) snapshot(asOf time.Time) []models.Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Change, 0, len(s.changes))
	for _, c := range s.changes {
		if c.Timestamp.After(asOf) {
			break
		}
		out = append(out, c)
	}
	return out
}

// export returns the change log, optionally filtered to one user, in
// sequence order.
func (s *session) export(userID string) []models.Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Change, 0, len(s.changes))
	for _, c := range s.changes {
		if userID != "" && c.UserID != userID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// updatePresence overwrites the participant's cursor and selection in place.
// Presence is ephemeral: never logged, never persisted.
func (s *session) updatePresence(userID string, cursor models.CursorPosition, selection *models.SelectionRange) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}

	p.Cursor = cursor
	p.Selection = selection
	return *p, nil
}

// setTyping flips the participant's typing flag. Fire-and-forget state used
// purely for fan-out.
func (s *session) setTyping(userID string, isTyping bool) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}

	p.IsTyping = isTyping
	return *p, nil
}

// addComment appends a comment thread anchored at the given offset.
func (s *session) addComment(documentID, userID string, position int, content string) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.info.AllowComments {
		return models.Comment{}, ErrCommentsDisabled
	}

	comment := models.NewComment(s.info.ID, documentID, userID, position, content)
	c := comment
	s.comments = append(s.comments, &c)
	s.commentByID[c.ID] = &c

	return comment, nil
}

// commentSnapshot returns a deep copy of one comment thread.
func (s *session) commentSnapshot(commentID string) (models.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.commentByID[commentID]
	if !ok {
		return models.Comment{}, false
	}
	snapshot := *comment
	snapshot.Replies = append([]models.Reply{}, comment.Replies...)
	return snapshot, true
}

// replyToComment appends one reply to an existing thread. Single level only.
// Returns the reply and a snapshot of the updated parent.
func (s *session) replyToComment(commentID, userID, content string) (models.Reply, models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.commentByID[commentID]
	if !ok {
		return models.Reply{}, models.Comment{}, ErrCommentNotFound
	}

	reply := models.Reply{
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	comment.Replies = append(comment.Replies, reply)

	parent := *comment
	parent.Replies = append([]models.Reply{}, comment.Replies...)
	return reply, parent, nil
}
