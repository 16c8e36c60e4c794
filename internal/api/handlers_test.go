package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"collab-engine/internal/engine"
	"collab-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

// recordingBroadcaster captures fan-out events so tests can assert REST
// mutations produce room events without a running hub.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(sessionID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) captured() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.events...)
}

func newTestServer(t *testing.T) (http.Handler, *engine.Registry, *recordingBroadcaster) {
	t.Helper()

	registry := engine.NewRegistry(models.DefaultMaxParticipants)
	broadcaster := &recordingBroadcaster{}
	handler := NewHandler(registry, broadcaster, nil)
	return SetupRoutes(handler), registry, broadcaster
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createSessionViaAPI(t *testing.T, router http.Handler, allowComments bool) models.Session {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]any{
		"documentId":    "doc-1",
		"createdBy":     "creator",
		"title":         "REST test",
		"allowComments": allowComments,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.ID)
	return session
}

func TestRESTFlow_JoinEditSnapshot(t *testing.T) {
	router, _, broadcaster := newTestServer(t)
	session := createSessionViaAPI(t, router, true)
	base := "/api/sessions/" + session.ID

	rec := doJSON(t, router, http.MethodPost, base+"/join", map[string]any{
		"userId": "alice", "color": "#ff0000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, base+"/changes", map[string]any{
		"userId": "alice", "documentId": "doc-1", "operation": "insert", "position": 0, "content": "Hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var change models.Change
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &change))
	assert.Equal(t, int64(1), change.Sequence)

	rec = doJSON(t, router, http.MethodPost, base+"/changes", map[string]any{
		"userId": "alice", "documentId": "doc-1", "operation": "insert", "position": 5, "content": " World",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, base+"/snapshot", nil)
	snap := httptest.NewRecorder()
	router.ServeHTTP(snap, req)
	require.Equal(t, http.StatusOK, snap.Code)

	var body struct {
		Changes []models.Change `json:"changes"`
		Text    string          `json:"text"`
	}
	require.NoError(t, json.Unmarshal(snap.Body.Bytes(), &body))
	assert.Len(t, body.Changes, 2)
	assert.Equal(t, "Hello World", body.Text)

	// Every REST mutation produced a room event.
	assert.Equal(t, []string{"user:joined", "document:changed", "document:changed"}, broadcaster.captured())
}

func TestRESTFlow_UndoRedo(t *testing.T) {
	router, _, _ := newTestServer(t)
	session := createSessionViaAPI(t, router, true)
	base := "/api/sessions/" + session.ID

	rec := doJSON(t, router, http.MethodPost, base+"/changes", map[string]any{
		"userId": "alice", "documentId": "doc-1", "operation": "insert", "position": 0, "content": "Hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, base+"/undo", map[string]any{"userId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var change models.Change
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &change))
	assert.Equal(t, models.OpDelete, change.Operation)

	rec = doJSON(t, router, http.MethodPost, base+"/redo", map[string]any{"userId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Nothing left to redo.
	rec = doJSON(t, router, http.MethodPost, base+"/redo", map[string]any{"userId": "alice"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRESTFlow_Comments(t *testing.T) {
	router, _, _ := newTestServer(t)
	session := createSessionViaAPI(t, router, true)
	base := "/api/sessions/" + session.ID

	rec := doJSON(t, router, http.MethodPost, base+"/comments", map[string]any{
		"userId": "alice", "documentId": "doc-1", "position": 3, "content": "typo",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var comment models.Comment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comment))

	rec = doJSON(t, router, http.MethodPost, "/api/comments/"+comment.ID+"/replies", map[string]any{
		"userId": "bob", "content": "fixed",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var reply models.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "bob", reply.UserID)
}

func TestREST_ErrorStatusMapping(t *testing.T) {
	router, registry, _ := newTestServer(t)

	open := createSessionViaAPI(t, router, true)
	gated := createSessionViaAPI(t, router, false)

	full := registry.CreateSession(engine.CreateSessionParams{
		DocumentID: "doc-1", CreatedBy: "creator", MaxParticipants: 1, AllowComments: true,
	})
	_, _, err := registry.Join(full.ID, "alice", "#ff0000")
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "unknown session is 404", method: http.MethodGet,
			path: "/api/sessions/missing/stats", wantStatus: http.StatusNotFound,
		},
		{
			name: "full session is 400", method: http.MethodPost,
			path: "/api/sessions/" + full.ID + "/join",
			body: map[string]any{"userId": "bob", "color": "#00ff00"}, wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid operation is 400", method: http.MethodPost,
			path: "/api/sessions/" + open.ID + "/changes",
			body: map[string]any{"userId": "alice", "documentId": "doc-1", "operation": "replace"}, wantStatus: http.StatusBadRequest,
		},
		{
			name: "comments disabled is 400", method: http.MethodPost,
			path: "/api/sessions/" + gated.ID + "/comments",
			body: map[string]any{"userId": "alice", "documentId": "doc-1", "content": "hi"}, wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown comment is 500", method: http.MethodPost,
			path: "/api/comments/no-such-comment/replies",
			body: map[string]any{"userId": "alice", "content": "hi"}, wantStatus: http.StatusInternalServerError,
		},
		{
			name: "nothing to undo is 500", method: http.MethodPost,
			path: "/api/sessions/" + open.ID + "/undo",
			body: map[string]any{"userId": "nobody"}, wantStatus: http.StatusInternalServerError,
		},
		{
			name: "presence for non-member is 500", method: http.MethodPatch,
			path: "/api/sessions/" + open.ID + "/presence",
			body: map[string]any{"userId": "ghost"}, wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var payload struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload.Code)
		})
	}
}

func TestREST_ExportFilter(t *testing.T) {
	router, registry, _ := newTestServer(t)
	session := createSessionViaAPI(t, router, true)

	for i, user := range []string{"alice", "bob", "alice"} {
		_, err := registry.ApplyChange(session.ID, user, "doc-1", models.OpInsert, i, "x")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sessions/%s/export?userId=alice", session.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Changes []models.Change `json:"changes"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	for _, c := range body.Changes {
		assert.Equal(t, "alice", c.UserID)
	}
}
