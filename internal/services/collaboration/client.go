package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"collab-engine/internal/engine"
	"collab-engine/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

// Client is one WebSocket connection bound to a session room. userID is set
// once the connection has joined through the engine; a connection that never
// joined produces no membership events when it drops.
type Client struct {
	id        string
	sessionID string
	userID    string
	color     string

	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Guards send against a write racing the hub closing the channel.
	sendMu sync.Mutex
	closed bool
}

// trySend queues a frame without blocking. Returns false when the buffer is
// full or the connection is already closed.
func (c *Client) trySend(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound channel exactly once. Only the hub calls
// this.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func newClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		id:        ksuid.New().String(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       hub,
	}
}

// sendError reports an engine failure to this connection only. Errors are
// never broadcast.
func (c *Client) sendError(err error) {
	payload := ErrorPayload{Code: "INTERNAL", Message: err.Error()}
	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		payload.Code = engineErr.Code
		payload.Message = engineErr.Message
	}

	frame, encErr := EncodeEvent(EventError, c.hub.nodeID, payload)
	if encErr != nil {
		return
	}

	// Best effort; a full buffer means the hub will drop this connection
	// on its next frame anyway.
	c.trySend(frame)
}

// readPump reads frames from the socket and dispatches them into the engine.
// One goroutine per connection.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on connection %s: %v", c.id, err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.sendError(errors.New("malformed frame"))
			continue
		}

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.HandleEvent",
			attribute.String("event", env.Event),
			attribute.String("session.id", c.sessionID),
			attribute.String("connection.id", c.id),
		)

		if err := c.handleEvent(env); err != nil {
			middleware.AddSpanError(msgCtx, err)
			c.sendError(err)
		}

		span.End()
	}
}

// handleEvent routes one inbound event through the engine and fans the
// result out to the room. The serialization contract lives in the engine;
// this is pure dispatch.
func (c *Client) handleEvent(env Envelope) error {
	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return c.join(p.UserID, p.Color)

	case EventLeave:
		var p LeavePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		activeUsers, err := c.hub.engine.Leave(c.sessionID, p.UserID)
		if err != nil {
			return err
		}
		if p.UserID == c.userID {
			c.userID = ""
		}
		c.hub.BroadcastEvent(c.sessionID, EventUserLeft, UserEventPayload{
			UserID:      p.UserID,
			ActiveUsers: activeUsers,
		}, nil)
		return nil

	case EventChange:
		var p ChangePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		change, err := c.hub.engine.ApplyChange(c.sessionID, p.UserID, p.DocumentID, p.Operation, p.Position, p.Content)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventDocumentChanged, ChangeEventPayload{
			Change: change,
			UserID: p.UserID,
		}, nil)
		return nil

	case EventUndo:
		var p UndoRedoPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		change, err := c.hub.engine.Undo(c.sessionID, p.UserID)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventDocumentUndone, ChangeEventPayload{
			Change: change,
			UserID: p.UserID,
		}, nil)
		return nil

	case EventRedo:
		var p UndoRedoPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		change, err := c.hub.engine.Redo(c.sessionID, p.UserID)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventDocumentRedone, ChangeEventPayload{
			Change: change,
			UserID: p.UserID,
		}, nil)
		return nil

	case EventPresence:
		var p PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		participant, err := c.hub.engine.UpdatePresence(c.sessionID, p.UserID, p.Cursor, p.Selection)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventPresenceChanged, PresenceEventPayload{
			UserID:   p.UserID,
			Presence: participant,
		}, c)
		return nil

	case EventTypingStart, EventTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		isTyping := env.Event == EventTypingStart
		if _, err := c.hub.engine.SetTyping(c.sessionID, p.UserID, isTyping); err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventUserTyping, TypingEventPayload{
			UserID:   p.UserID,
			IsTyping: isTyping,
		}, c)
		return nil

	case EventCommentAdd:
		var p CommentPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		comment, err := c.hub.engine.AddComment(c.sessionID, p.DocumentID, p.UserID, p.Position, p.Content)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(c.sessionID, EventCommentAdded, CommentEventPayload{Comment: comment}, nil)
		return nil

	case EventCommentReply:
		var p ReplyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		reply, sessionID, err := c.hub.engine.ReplyToComment(p.CommentID, p.UserID, p.Content)
		if err != nil {
			return err
		}
		c.hub.BroadcastEvent(sessionID, EventCommentReplied, ReplyEventPayload{
			CommentID: p.CommentID,
			Reply:     reply,
		}, nil)
		return nil

	default:
		return errors.New("unknown event: " + env.Event)
	}
}

// join runs the engine join for this connection and announces the user to
// the room. Re-joining with the same user just refreshes color and
// timestamp.
func (c *Client) join(userID, color string) error {
	_, activeUsers, err := c.hub.engine.Join(c.sessionID, userID, color)
	if err != nil {
		return err
	}

	c.userID = userID
	c.color = color

	c.hub.BroadcastEvent(c.sessionID, EventUserJoined, UserEventPayload{
		UserID:      userID,
		ActiveUsers: activeUsers,
	}, nil)
	return nil
}

// writePump writes queued frames to the socket and keeps the connection
// alive with pings. Separate goroutine so a slow reader on the peer side
// never blocks the hub.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
