package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddComment_Gating(t *testing.T) {
	r := newTestRegistry(t)

	noComments := createTestSession(t, r, 10, false)
	_, err := r.AddComment(noComments.ID, "doc-1", "alice", 0, "hi")
	assert.ErrorIs(t, err, ErrCommentsDisabled)

	withComments := createTestSession(t, r, 10, true)
	comment, err := r.AddComment(withComments.ID, "doc-1", "alice", 4, "typo here")
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)
	assert.Equal(t, withComments.ID, comment.SessionID)
	assert.Equal(t, 4, comment.Position)
	assert.Empty(t, comment.Replies)

	stats, err := r.Stats(withComments.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommentCount)

	_, err = r.AddComment("missing", "doc-1", "alice", 0, "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReplyToComment(t *testing.T) {
	r := newTestRegistry(t)
	session := createTestSession(t, r, 10, true)

	comment, err := r.AddComment(session.ID, "doc-1", "alice", 0, "thoughts?")
	require.NoError(t, err)

	reply, sessionID, err := r.ReplyToComment(comment.ID, "bob", "agreed")
	require.NoError(t, err)
	assert.Equal(t, session.ID, sessionID)
	assert.Equal(t, "bob", reply.UserID)
	assert.Equal(t, "agreed", reply.Content)

	// A second reply preserves the first.
	_, _, err = r.ReplyToComment(comment.ID, "carol", "disagree")
	require.NoError(t, err)

	_, parent, err := r.lookupComment(comment.ID)
	require.NoError(t, err)
	require.Len(t, parent.Replies, 2)
	assert.Equal(t, "bob", parent.Replies[0].UserID)
	assert.Equal(t, "carol", parent.Replies[1].UserID)
}

// A destroy racing AddComment must never leave a stale entry in the
// comment routing index, whichever side wins.
func TestAddComment_RacingDestroyLeavesNoIndexEntry(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 200; i++ {
		session := createTestSession(t, r, 10, true)

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Either outcome is fine; only the index state matters.
			_, _ = r.AddComment(session.ID, "doc-1", "alice", 0, "racer")
		}()

		require.NoError(t, r.DestroySession(session.ID))
		<-done

		r.cmu.RLock()
		leaked := len(r.commentSession)
		r.cmu.RUnlock()
		require.Zero(t, leaked, "comment index entry survived destroy")
	}
}

func TestReplyToComment_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	createTestSession(t, r, 10, true)

	_, _, err := r.ReplyToComment("no-such-comment", "bob", "hello?")
	assert.ErrorIs(t, err, ErrCommentNotFound)
}
