package engine

import (
	"log"
	"sync"
	"time"

	"collab-engine/internal/models"
)

// Archiver receives stamped changes and comments after they have been applied
// to a session. Submissions must never block the caller; the engine treats
// archiving as a fire-and-forget side effect.
type Archiver interface {
	ArchiveChange(sessionID string, change models.Change)
	ArchiveComment(comment models.Comment)
	ArchiveReply(parent models.Comment, reply models.Reply)
}

// Registry owns every live session and is the single process-wide entry
// point into the engine. The sessionId -> session table is the only state
// shared across serialization domains, so it carries its own RWMutex;
// everything inside a session belongs to that session's lock alone.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	// commentID -> owning sessionID, so replies can be routed without the
	// caller knowing which session a comment lives in.
	cmu            sync.RWMutex
	commentSession map[string]string

	defaultMaxParticipants int

	archive Archiver
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultMaxParticipants int) *Registry {
	if defaultMaxParticipants <= 0 {
		defaultMaxParticipants = models.DefaultMaxParticipants
	}
	return &Registry{
		sessions:               make(map[string]*session),
		commentSession:         make(map[string]string),
		defaultMaxParticipants: defaultMaxParticipants,
	}
}

// SetArchiver attaches the optional persistence boundary. With no archiver
// the engine runs memory-only.
func (r *Registry) SetArchiver(a Archiver) {
	r.archive = a
}

// CreateSessionParams carries the host-supplied session settings.
type CreateSessionParams struct {
	DocumentID      string
	CreatedBy       string
	Title           string
	MaxParticipants int
	AllowComments   bool
	AllowTracking   bool
	Permissions     []string
}

// CreateSession always succeeds and assigns a fresh session ID.
func (r *Registry) CreateSession(p CreateSessionParams) models.Session {
	max := p.MaxParticipants
	if max <= 0 {
		max = r.defaultMaxParticipants
	}
	info := models.NewSession(p.DocumentID, p.CreatedBy, p.Title, max, p.AllowComments, p.AllowTracking, p.Permissions)

	r.mu.Lock()
	r.sessions[info.ID] = newSession(info)
	r.mu.Unlock()

	log.Printf("  Session %s created for document %s by %s", info.ID, info.DocumentID, info.CreatedBy)
	return info
}

// DestroySession removes the session and everything it owns: change log,
// participants, undo/redo stacks, comments.
func (r *Registry) DestroySession(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	// Drop the session's comments from the routing index.
	s.mu.Lock()
	ids := make([]string, 0, len(s.commentByID))
	for id := range s.commentByID {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	r.cmu.Lock()
	for _, id := range ids {
		delete(r.commentSession, id)
	}
	r.cmu.Unlock()

	log.Printf("  Session %s destroyed", sessionID)
	return nil
}

// lookup resolves a session or fails with ErrSessionNotFound.
func (r *Registry) lookup(sessionID string) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetSession returns the session's settings.
func (r *Registry) GetSession(sessionID string) (models.Session, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, nil
}

// Join adds userID to the session, or refreshes the existing entry when the
// user is already a member. Returns the session settings and the resulting
// participant list for fan-out.
func (r *Registry) Join(sessionID, userID, color string) (models.Session, []models.Participant, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Session{}, nil, err
	}
	return s.join(userID, color)
}

// Leave removes userID from the session. Removing an absent user is a no-op;
// only an unknown session is an error. Returns the remaining participants.
func (r *Registry) Leave(sessionID, userID string) ([]models.Participant, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.leave(userID), nil
}

// ActiveUsers returns the current participant list.
func (r *Registry) ActiveUsers(sessionID string) ([]models.Participant, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.activeUsers(), nil
}

// Stats returns the session's point-in-time counters.
func (r *Registry) Stats(sessionID string) (models.SessionStats, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.SessionStats{}, err
	}
	return s.stats(), nil
}

// ApplyChange stamps and logs a new edit, maintains the user's undo/redo
// stacks, and hands the stamped change to the archiver.
func (r *Registry) ApplyChange(sessionID, userID, documentID string, op models.OperationType, position int, content string) (models.Change, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Change{}, err
	}

	change, err := s.applyChange(userID, documentID, op, position, content)
	if err != nil {
		return models.Change{}, err
	}

	if r.archive != nil {
		r.archive.ArchiveChange(sessionID, change)
	}
	return change, nil
}

// Undo applies the inverse of the user's most recent change as a new change.
func (r *Registry) Undo(sessionID, userID string) (models.Change, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Change{}, err
	}

	change, err := s.undoChange(userID)
	if err != nil {
		return models.Change{}, err
	}

	if r.archive != nil {
		r.archive.ArchiveChange(sessionID, change)
	}
	return change, nil
}

// Redo re-applies the user's most recently undone change as a new change.
func (r *Registry) Redo(sessionID, userID string) (models.Change, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Change{}, err
	}

	change, err := s.redoChange(userID)
	if err != nil {
		return models.Change{}, err
	}

	if r.archive != nil {
		r.archive.ArchiveChange(sessionID, change)
	}
	return change, nil
}

// Snapshot returns every change stamped at or before asOf, in sequence order.
// Replaying the result from the empty document yields the text as of that
// time.
func (r *Registry) Snapshot(sessionID string, asOf time.Time) ([]models.Change, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(asOf), nil
}

// ExportChanges returns the change log in sequence order, optionally
// filtered to one user. Read-only audit capability.
func (r *Registry) ExportChanges(sessionID, userID string) ([]models.Change, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.export(userID), nil
}

// UpdatePresence overwrites the user's cursor and selection.
func (r *Registry) UpdatePresence(sessionID, userID string, cursor models.CursorPosition, selection *models.SelectionRange) (models.Participant, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	return s.updatePresence(userID, cursor, selection)
}

// SetTyping flips the user's typing indicator.
func (r *Registry) SetTyping(sessionID, userID string, isTyping bool) (models.Participant, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	return s.setTyping(userID, isTyping)
}

// AddComment appends a comment thread to the session's document.
func (r *Registry) AddComment(sessionID, documentID, userID string, position int, content string) (models.Comment, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Comment{}, err
	}

	comment, err := s.addComment(documentID, userID, position, content)
	if err != nil {
		return models.Comment{}, err
	}

	// A destroy can race this call after lookup: its index cleanup would run
	// before the insert below and the entry would never be removed. Holding
	// the index lock across the liveness re-check means either the destroy's
	// cleanup sees this entry, or this call sees the session gone and skips
	// the insert. Lock order is cmu before mu, as in lookupComment.
	r.cmu.Lock()
	r.mu.RLock()
	_, alive := r.sessions[sessionID]
	r.mu.RUnlock()
	if alive {
		r.commentSession[comment.ID] = sessionID
	}
	r.cmu.Unlock()

	if !alive {
		return models.Comment{}, ErrSessionNotFound
	}

	if r.archive != nil {
		r.archive.ArchiveComment(comment)
	}
	return comment, nil
}

// lookupComment resolves a comment snapshot and its owning session ID.
func (r *Registry) lookupComment(commentID string) (string, models.Comment, error) {
	r.cmu.RLock()
	sessionID, ok := r.commentSession[commentID]
	r.cmu.RUnlock()
	if !ok {
		return "", models.Comment{}, ErrCommentNotFound
	}

	s, err := r.lookup(sessionID)
	if err != nil {
		return "", models.Comment{}, ErrCommentNotFound
	}

	comment, ok := s.commentSnapshot(commentID)
	if !ok {
		return "", models.Comment{}, ErrCommentNotFound
	}
	return sessionID, comment, nil
}

// ReplyToComment appends one reply to an existing comment in whichever
// session owns it. Returns the reply and the owning session ID so callers
// can fan out to the right room.
func (r *Registry) ReplyToComment(commentID, userID, content string) (models.Reply, string, error) {
	r.cmu.RLock()
	sessionID, ok := r.commentSession[commentID]
	r.cmu.RUnlock()
	if !ok {
		return models.Reply{}, "", ErrCommentNotFound
	}

	s, err := r.lookup(sessionID)
	if err != nil {
		// Session destroyed between index lookup and resolution.
		return models.Reply{}, "", ErrCommentNotFound
	}

	reply, parent, err := s.replyToComment(commentID, userID, content)
	if err != nil {
		return models.Reply{}, "", err
	}

	if r.archive != nil {
		r.archive.ArchiveReply(parent, reply)
	}
	return reply, sessionID, nil
}
