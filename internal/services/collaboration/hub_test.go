package collaboration

import (
	"encoding/json"
	"testing"
	"time"

	"collab-engine/internal/engine"
	"collab-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

func newTestHub(t *testing.T) (*Hub, *engine.Registry, models.Session) {
	t.Helper()

	registry := engine.NewRegistry(models.DefaultMaxParticipants)
	session := registry.CreateSession(engine.CreateSessionParams{
		DocumentID:    "doc-1",
		CreatedBy:     "creator",
		Title:         "hub test",
		AllowComments: true,
	})

	hub := NewHub(registry)
	hub.Start()
	t.Cleanup(hub.Shutdown)

	return hub, registry, session
}

// addTestClient registers a connection with no real socket behind it; the
// pumps are never started, so frames pile up in the send buffer.
func addTestClient(t *testing.T, hub *Hub, sessionID string, buffer int) *Client {
	t.Helper()

	client := &Client{
		id:        "test-" + time.Now().Format("150405.000000000"),
		sessionID: sessionID,
		send:      make(chan []byte, buffer),
		hub:       hub,
	}
	hub.register <- client

	require.Eventually(t, func() bool {
		return hub.RoomSize(sessionID) > 0
	}, time.Second, time.Millisecond)

	return client
}

func recvFrame(t *testing.T, client *Client) Envelope {
	t.Helper()

	select {
	case frame, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Envelope{}
	}
}

func TestHub_BroadcastReachesRoom(t *testing.T) {
	hub, _, session := newTestHub(t)

	a := addTestClient(t, hub, session.ID, 16)
	b := addTestClient(t, hub, session.ID, 16)

	hub.Broadcast(session.ID, EventUserTyping, TypingEventPayload{UserID: "alice", IsTyping: true})

	for _, client := range []*Client{a, b} {
		env := recvFrame(t, client)
		assert.Equal(t, EventUserTyping, env.Event)
		assert.Equal(t, hub.NodeID(), env.Origin)

		var payload TypingEventPayload
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "alice", payload.UserID)
		assert.True(t, payload.IsTyping)
	}
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	hub, _, session := newTestHub(t)

	sender := addTestClient(t, hub, session.ID, 16)
	other := addTestClient(t, hub, session.ID, 16)

	hub.BroadcastEvent(session.ID, EventPresenceChanged, PresenceEventPayload{UserID: "alice"}, sender)

	env := recvFrame(t, other)
	assert.Equal(t, EventPresenceChanged, env.Event)

	select {
	case <-sender.send:
		t.Fatal("sender must not receive its own frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	hub, registry, session := newTestHub(t)
	otherSession := registry.CreateSession(engine.CreateSessionParams{DocumentID: "doc-2", CreatedBy: "creator"})

	a := addTestClient(t, hub, session.ID, 16)
	b := addTestClient(t, hub, otherSession.ID, 16)

	hub.Broadcast(session.ID, EventUserTyping, TypingEventPayload{UserID: "alice", IsTyping: true})

	recvFrame(t, a)
	select {
	case <-b.send:
		t.Fatal("frame leaked into another session's room")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowConsumerIsEvicted(t *testing.T) {
	hub, _, session := newTestHub(t)

	slow := addTestClient(t, hub, session.ID, 1)
	_ = slow

	// First frame fills the buffer, second one trips the eviction.
	hub.Broadcast(session.ID, EventUserTyping, TypingEventPayload{UserID: "a"})
	hub.Broadcast(session.ID, EventUserTyping, TypingEventPayload{UserID: "b"})

	assert.Eventually(t, func() bool {
		return hub.RoomSize(session.ID) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_DisconnectAnnouncesDeparture(t *testing.T) {
	hub, registry, session := newTestHub(t)

	_, _, err := registry.Join(session.ID, "alice", "#ff0000")
	require.NoError(t, err)
	_, _, err = registry.Join(session.ID, "bob", "#00ff00")
	require.NoError(t, err)

	leaving := addTestClient(t, hub, session.ID, 16)
	leaving.userID = "alice"
	watcher := addTestClient(t, hub, session.ID, 16)
	watcher.userID = "bob"

	// Transport drop: the read pump pushes the client into unregister.
	hub.unregister <- leaving

	env := recvFrame(t, watcher)
	assert.Equal(t, EventUserDisconnected, env.Event)

	var payload UserEventPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "alice", payload.UserID)
	require.Len(t, payload.ActiveUsers, 1)
	assert.Equal(t, "bob", payload.ActiveUsers[0].UserID)

	users, err := registry.ActiveUsers(session.ID)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
