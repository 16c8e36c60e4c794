package collaboration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSocketServer(t *testing.T) (*httptest.Server, *Hub, string) {
	t.Helper()

	hub, _, session := newTestHub(t)
	wsHandler := NewWebSocketHandler(hub)

	router := mux.NewRouter()
	router.HandleFunc("/ws/sessions/{id}", wsHandler.HandleSessionConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, hub, session.ID
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + sessionID + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

// A `?user_id=` connection joins the session before its pumps run, so the
// membership write is ordered ahead of everything the read pump does and the
// first frame the socket delivers is its own user:joined.
func TestWebSocket_QueryParamJoin(t *testing.T) {
	srv, hub, sessionID := newTestSocketServer(t)

	conn := dialSession(t, srv, sessionID, "?user_id=alice&color=red")

	env := readEnvelope(t, conn)
	assert.Equal(t, EventUserJoined, env.Event)
	assert.Equal(t, hub.NodeID(), env.Origin)

	var payload UserEventPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "alice", payload.UserID)
	require.Len(t, payload.ActiveUsers, 1)
	assert.Equal(t, "red", payload.ActiveUsers[0].Color)

	users, err := hub.engine.ActiveUsers(sessionID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].UserID)
}

// A join sent as a frame after connecting works the same as the query form.
func TestWebSocket_FrameJoin(t *testing.T) {
	srv, hub, sessionID := newTestSocketServer(t)

	conn := dialSession(t, srv, sessionID, "")

	join, err := json.Marshal(Envelope{
		Event: EventJoin,
		Data:  json.RawMessage(`{"userId":"bob","color":"blue"}`),
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	env := readEnvelope(t, conn)
	assert.Equal(t, EventUserJoined, env.Event)

	var payload UserEventPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "bob", payload.UserID)

	require.Eventually(t, func() bool {
		users, err := hub.engine.ActiveUsers(sessionID)
		return err == nil && len(users) == 1
	}, time.Second, 5*time.Millisecond)
}

// An unknown session fails as a plain 404 before any upgrade happens.
func TestWebSocket_UnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestSocketServer(t)

	resp, err := http.Get(srv.URL + "/ws/sessions/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Disconnecting a joined socket announces the departure to the rest of the
// room through the engine.
func TestWebSocket_DisconnectLeavesSession(t *testing.T) {
	srv, hub, sessionID := newTestSocketServer(t)

	conn := dialSession(t, srv, sessionID, "?user_id=alice&color=red")
	env := readEnvelope(t, conn)
	require.Equal(t, EventUserJoined, env.Event)

	conn.Close()

	require.Eventually(t, func() bool {
		users, err := hub.engine.ActiveUsers(sessionID)
		return err == nil && len(users) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
